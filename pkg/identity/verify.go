package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sara-star-quant/hybrid-kex/internal/constants"
	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
	"github.com/sara-star-quant/hybrid-kex/pkg/crypto"
	"github.com/sara-star-quant/hybrid-kex/pkg/primitive"
)

// Peer is what a client learns from a verified server certificate.
type Peer struct {
	Subject   string                `json:"subject"`
	Algorithm primitive.AlgorithmID `json:"algorithm"`
	PublicKey []byte                `json:"-"`
	ValidFrom time.Time             `json:"valid_from"`
	ValidTo   time.Time             `json:"valid_to"`
}

// Verifier checks certificates and transcript signatures.
type Verifier struct {
	Registry *primitive.Registry
	// TrustedKey pins the server's public key when set.
	TrustedKey []byte
	// Subject, when set, must match the certificate subject.
	Subject string
	Now     func() time.Time
}

// Verify parses cert, checks its validity window and pin, and then checks
// that signature covers transcriptHash under the certified key.
func (v *Verifier) Verify(cert string, signature, transcriptHash []byte) (*Peer, error) {
	reg := v.Registry
	if reg == nil {
		reg = primitive.Default()
	}
	now := v.Now
	if now == nil {
		now = time.Now
	}

	var signer primitive.Signer
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(registerMethods(reg)),
		jwt.WithTimeFunc(now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(constants.ProtocolName),
	}
	if v.Subject != "" {
		opts = append(opts, jwt.WithSubject(v.Subject))
	}

	_, err := jwt.ParseWithClaims(cert, claims, func(token *jwt.Token) (any, error) {
		alg, _ := token.Header["alg"].(string)
		s, err := reg.Signer(primitive.AlgorithmID(alg))
		if err != nil {
			return nil, err
		}
		if claims.Algorithm != s.ID() {
			return nil, fmt.Errorf("header alg %s, claims alg %s", alg, claims.Algorithm)
		}
		if len(v.TrustedKey) > 0 && !crypto.ConstantTimeCompare(v.TrustedKey, claims.PublicKey) {
			return nil, errors.New("public key does not match the pinned key")
		}
		signer = s
		return claims.PublicKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("server certificate: %v: %w", err, qerrors.ErrInvalidCertificate)
	}

	if !signer.Verify(transcriptMessage(transcriptHash), signature, claims.PublicKey) {
		return nil, fmt.Errorf("transcript signature by %s: %w", claims.Subject, qerrors.ErrInvalidSignature)
	}

	peer := &Peer{
		Subject:   claims.Subject,
		Algorithm: claims.Algorithm,
		PublicKey: claims.PublicKey,
	}
	if claims.NotBefore != nil {
		peer.ValidFrom = claims.NotBefore.Time
	}
	if claims.ExpiresAt != nil {
		peer.ValidTo = claims.ExpiresAt.Time
	}
	return peer, nil
}

// registerMethods makes every signer in reg parseable and returns their
// algorithm names.
func registerMethods(reg *primitive.Registry) []string {
	var algs []string
	for _, id := range reg.IDs() {
		s, err := reg.Signer(id)
		if err != nil {
			continue
		}
		algs = append(algs, methodFor(s).Alg())
	}
	return algs
}
