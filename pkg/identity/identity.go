// Package identity issues and checks server identity certificates.
//
// A certificate is a JWT whose claims carry the server's subject, its
// signature algorithm and its public key. The token is signed with the
// matching private key through a jwt.SigningMethod backed by a
// primitive.Signer, so post-quantum schemes such as ML-DSA work the same
// way as Ed25519. During the handshake the server also signs the
// transcript hash, which ties the certificate to the live session.
package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sara-star-quant/hybrid-kex/internal/constants"
	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
	"github.com/sara-star-quant/hybrid-kex/pkg/primitive"
)

// DefaultValidity is the certificate lifetime used when none is given.
const DefaultValidity = 24 * time.Hour

// Claims is the certificate body.
type Claims struct {
	Algorithm primitive.AlgorithmID `json:"sig_alg"`
	PublicKey []byte                `json:"pub"`
	jwt.RegisteredClaims
}

// Identity is a server's signing key and the certificate for it.
type Identity struct {
	signer primitive.Signer
	key    *primitive.KeyMaterial
	cert   string
	claims *Claims
}

// New generates a key pair with signer and issues a certificate for
// subject valid from now for validity.
func New(signer primitive.Signer, subject string, validity time.Duration, now time.Time) (*Identity, error) {
	if subject == "" {
		return nil, fmt.Errorf("empty subject: %w", qerrors.ErrInvalidCertificate)
	}
	if validity <= 0 {
		validity = DefaultValidity
	}

	key, err := signer.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	claims := &Claims{
		Algorithm: signer.ID(),
		PublicKey: key.PublicKey,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    constants.ProtocolName,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
	}
	cert, err := jwt.NewWithClaims(methodFor(signer), claims).SignedString(key.PrivateKey)
	if err != nil {
		key.Erase()
		return nil, fmt.Errorf("sign certificate: %w", err)
	}

	return &Identity{signer: signer, key: key, cert: cert, claims: claims}, nil
}

// Certificate returns the encoded certificate.
func (id *Identity) Certificate() string { return id.cert }

// Subject returns the certified subject.
func (id *Identity) Subject() string { return id.claims.Subject }

// Algorithm returns the signature algorithm.
func (id *Identity) Algorithm() primitive.AlgorithmID { return id.signer.ID() }

// PublicKey returns the certified public key.
func (id *Identity) PublicKey() []byte { return id.key.PublicKey }

// NotAfter returns the certificate expiry.
func (id *Identity) NotAfter() time.Time { return id.claims.ExpiresAt.Time }

// Peer describes this identity the way a verifying client sees it.
func (id *Identity) Peer() *Peer {
	return &Peer{
		Subject:   id.claims.Subject,
		Algorithm: id.signer.ID(),
		PublicKey: id.key.PublicKey,
		ValidFrom: id.claims.NotBefore.Time,
		ValidTo:   id.claims.ExpiresAt.Time,
	}
}

// SignTranscript signs a handshake transcript hash.
func (id *Identity) SignTranscript(transcriptHash []byte) ([]byte, error) {
	if id.key.Erased() {
		return nil, qerrors.ErrKeysDestroyed
	}
	return id.signer.Sign(transcriptMessage(transcriptHash), id.key.PrivateKey)
}

// Destroy erases the private key. A nil identity is a no-op.
func (id *Identity) Destroy() {
	if id == nil {
		return
	}
	id.key.Erase()
}

func transcriptMessage(transcriptHash []byte) []byte {
	msg := make([]byte, 0, len(constants.LabelTranscriptSignature)+1+len(transcriptHash))
	msg = append(msg, constants.LabelTranscriptSignature...)
	msg = append(msg, 0)
	return append(msg, transcriptHash...)
}
