package primitive

import (
	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/ed25519"
	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"

	"github.com/sara-star-quant/hybrid-kex/pkg/crypto"

	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
)

// circlSigner adapts a circl sign.Scheme.
type circlSigner struct {
	id     AlgorithmID
	class  Class
	scheme sign.Scheme
}

// NewCirclSigner wraps scheme as a signature primitive registered under id.
func NewCirclSigner(id AlgorithmID, class Class, scheme sign.Scheme) Signer {
	return &circlSigner{id: id, class: class, scheme: scheme}
}

func circlSigners() []Signer {
	return []Signer{
		NewCirclSigner(Ed25519, Classical, ed25519.Scheme()),
		NewCirclSigner(MLDSA44, PostQuantum, mldsa44.Scheme()),
		NewCirclSigner(MLDSA65, PostQuantum, mldsa65.Scheme()),
		NewCirclSigner(MLDSA87, PostQuantum, mldsa87.Scheme()),
	}
}

func (s *circlSigner) ID() AlgorithmID { return s.id }
func (s *circlSigner) Class() Class    { return s.class }

func (s *circlSigner) Sizes() KeySizes {
	return KeySizes{
		Public:                s.scheme.PublicKeySize(),
		Private:               s.scheme.PrivateKeySize(),
		CiphertextOrSignature: s.scheme.SignatureSize(),
	}
}

func (s *circlSigner) GenerateKeyPair() (*KeyMaterial, error) {
	op := string(s.id) + ".GenerateKeyPair"

	seed, err := crypto.SecureRandomBytes(s.scheme.SeedSize())
	if err != nil {
		return nil, qerrors.NewCryptoError(op, qerrors.ErrKeyGenerationFailed)
	}
	defer crypto.Zeroize(seed)

	pk, sk := s.scheme.DeriveKey(seed)
	pub, err := pk.MarshalBinary()
	if err != nil {
		return nil, qerrors.NewCryptoError(op, err)
	}
	priv, err := sk.MarshalBinary()
	if err != nil {
		return nil, qerrors.NewCryptoError(op, err)
	}
	return &KeyMaterial{PublicKey: pub, PrivateKey: priv, Algorithm: s.id, Size: len(pub)}, nil
}

func (s *circlSigner) Sign(message, privateKey []byte) ([]byte, error) {
	if err := checkSize(s.id, "private key", len(privateKey), s.scheme.PrivateKeySize(), qerrors.ErrInvalidPrivateKeySize); err != nil {
		return nil, err
	}
	sk, err := s.scheme.UnmarshalBinaryPrivateKey(privateKey)
	if err != nil {
		return nil, qerrors.NewCryptoError(string(s.id)+".Sign", qerrors.ErrSigningFailed)
	}
	return s.scheme.Sign(sk, message, nil), nil
}

func (s *circlSigner) Verify(message, signature, publicKey []byte) bool {
	if len(publicKey) != s.scheme.PublicKeySize() || len(signature) != s.scheme.SignatureSize() {
		return false
	}
	pk, err := s.scheme.UnmarshalBinaryPublicKey(publicKey)
	if err != nil {
		return false
	}
	return s.scheme.Verify(pk, message, signature, nil)
}
