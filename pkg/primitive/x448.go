package primitive

import (
	"github.com/cloudflare/circl/dh/x448"

	"github.com/sara-star-quant/hybrid-kex/pkg/crypto"

	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
)

// x448Agreement is X448 (RFC 7748) from circl. crypto/ecdh has no Curve448.
type x448Agreement struct{}

// NewX448 returns the X448 key agreement.
func NewX448() KeyAgreement { return x448Agreement{} }

func (x448Agreement) ID() AlgorithmID { return X448 }
func (x448Agreement) Class() Class    { return Classical }
func (x448Agreement) Sizes() KeySizes {
	return KeySizes{Public: x448.Size, Private: x448.Size, SharedSecret: x448.Size}
}

func (x448Agreement) GenerateKeyPair() (*KeyMaterial, error) {
	var secret, public x448.Key
	if err := crypto.SecureRandom(secret[:]); err != nil {
		return nil, qerrors.NewCryptoError("X448.GenerateKeyPair", qerrors.ErrKeyGenerationFailed)
	}
	x448.KeyGen(&public, &secret)

	km := &KeyMaterial{
		PublicKey:  append([]byte(nil), public[:]...),
		PrivateKey: append([]byte(nil), secret[:]...),
		Algorithm:  X448,
		Size:       x448.Size,
	}
	crypto.Zeroize(secret[:])
	return km, nil
}

func (x448Agreement) DeriveSharedSecret(privateKey, peerPublic []byte) ([]byte, error) {
	if err := checkSize(X448, "public key", len(peerPublic), x448.Size, qerrors.ErrInvalidPublicKeySize); err != nil {
		return nil, err
	}
	if err := checkSize(X448, "private key", len(privateKey), x448.Size, qerrors.ErrInvalidPrivateKeySize); err != nil {
		return nil, err
	}

	var secret, public, shared x448.Key
	copy(secret[:], privateKey)
	copy(public[:], peerPublic)
	defer crypto.Zeroize(secret[:])

	// Shared reports false for low-order peer points.
	if !x448.Shared(&shared, &secret, &public) {
		return nil, qerrors.NewCryptoError("X448", qerrors.ErrKeyAgreementFailed)
	}
	out := append([]byte(nil), shared[:]...)
	crypto.Zeroize(shared[:])
	return out, nil
}
