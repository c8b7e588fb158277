package primitive

import (
	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/frodo/frodo640shake"
	"github.com/cloudflare/circl/kem/kyber/kyber1024"
	"github.com/cloudflare/circl/kem/kyber/kyber512"
	"github.com/cloudflare/circl/kem/kyber/kyber768"
	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"
	"github.com/cloudflare/circl/kem/mlkem/mlkem512"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"

	"github.com/sara-star-quant/hybrid-kex/pkg/crypto"

	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
)

// circlKEM adapts a circl kem.Scheme. Key generation and encapsulation are
// driven from crypto.Reader through the scheme's deterministic entry points.
type circlKEM struct {
	id     AlgorithmID
	scheme kem.Scheme
}

// NewCirclKEM wraps scheme as a post-quantum KEM registered under id.
func NewCirclKEM(id AlgorithmID, scheme kem.Scheme) KEM {
	return &circlKEM{id: id, scheme: scheme}
}

func circlKEMs() []KEM {
	return []KEM{
		NewCirclKEM(Kyber512, kyber512.Scheme()),
		NewCirclKEM(Kyber768, kyber768.Scheme()),
		NewCirclKEM(Kyber1024, kyber1024.Scheme()),
		NewCirclKEM(MLKEM512, mlkem512.Scheme()),
		NewCirclKEM(MLKEM768, mlkem768.Scheme()),
		NewCirclKEM(MLKEM1024, mlkem1024.Scheme()),
		NewCirclKEM(FrodoKEM640SHAKE, frodo640shake.Scheme()),
	}
}

func (k *circlKEM) ID() AlgorithmID { return k.id }
func (k *circlKEM) Class() Class    { return PostQuantum }

func (k *circlKEM) Sizes() KeySizes {
	return KeySizes{
		Public:                k.scheme.PublicKeySize(),
		Private:               k.scheme.PrivateKeySize(),
		CiphertextOrSignature: k.scheme.CiphertextSize(),
		SharedSecret:          k.scheme.SharedKeySize(),
	}
}

func (k *circlKEM) GenerateKeyPair() (*KeyMaterial, error) {
	op := string(k.id) + ".GenerateKeyPair"

	seed, err := crypto.SecureRandomBytes(k.scheme.SeedSize())
	if err != nil {
		return nil, qerrors.NewCryptoError(op, qerrors.ErrKeyGenerationFailed)
	}
	defer crypto.Zeroize(seed)

	pk, sk := k.scheme.DeriveKeyPair(seed)
	pub, err := pk.MarshalBinary()
	if err != nil {
		return nil, qerrors.NewCryptoError(op, err)
	}
	priv, err := sk.MarshalBinary()
	if err != nil {
		return nil, qerrors.NewCryptoError(op, err)
	}
	return &KeyMaterial{PublicKey: pub, PrivateKey: priv, Algorithm: k.id, Size: len(pub)}, nil
}

func (k *circlKEM) Encapsulate(peerPublic []byte) ([]byte, []byte, error) {
	if err := checkSize(k.id, "public key", len(peerPublic), k.scheme.PublicKeySize(), qerrors.ErrInvalidPublicKeySize); err != nil {
		return nil, nil, err
	}
	op := string(k.id) + ".Encapsulate"

	pk, err := k.scheme.UnmarshalBinaryPublicKey(peerPublic)
	if err != nil {
		return nil, nil, qerrors.NewCryptoError(op, qerrors.ErrInvalidPublicKeySize)
	}
	seed, err := crypto.SecureRandomBytes(k.scheme.EncapsulationSeedSize())
	if err != nil {
		return nil, nil, qerrors.NewCryptoError(op, qerrors.ErrEncapsulationFailed)
	}
	defer crypto.Zeroize(seed)

	ct, ss, err := k.scheme.EncapsulateDeterministically(pk, seed)
	if err != nil {
		return nil, nil, qerrors.NewCryptoError(op, qerrors.ErrEncapsulationFailed)
	}
	return ct, ss, nil
}

func (k *circlKEM) Decapsulate(ciphertext, privateKey []byte) ([]byte, error) {
	if err := checkSize(k.id, "ciphertext", len(ciphertext), k.scheme.CiphertextSize(), qerrors.ErrInvalidCiphertextSize); err != nil {
		return nil, err
	}
	if err := checkSize(k.id, "private key", len(privateKey), k.scheme.PrivateKeySize(), qerrors.ErrInvalidPrivateKeySize); err != nil {
		return nil, err
	}
	op := string(k.id) + ".Decapsulate"

	sk, err := k.scheme.UnmarshalBinaryPrivateKey(privateKey)
	if err != nil {
		return nil, qerrors.NewCryptoError(op, qerrors.ErrInvalidPrivateKeySize)
	}
	ss, err := k.scheme.Decapsulate(sk, ciphertext)
	if err != nil {
		return nil, qerrors.NewCryptoError(op, qerrors.ErrDecapsulationFailed)
	}
	return ss, nil
}
