// Package primitive defines the capability contract every key-exchange and
// signature algorithm satisfies, and a registry that resolves algorithm
// identifiers to concrete implementations.
//
// The handshake never branches on algorithm names. It asks the registry for a
// KEM, KeyAgreement or Signer and drives it through the interface, so adding
// an algorithm is a registration, not a code change in the protocol.
//
// Algorithms without a real implementation are never simulated: looking them
// up fails with ErrUnsupportedAlgorithm.
package primitive

import (
	"fmt"

	"github.com/sara-star-quant/hybrid-kex/pkg/crypto"

	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
)

// AlgorithmID names a concrete primitive.
type AlgorithmID string

// Classical key exchange
const (
	X25519   AlgorithmID = "X25519"
	X448     AlgorithmID = "X448"
	ECDHP256 AlgorithmID = "ECDH-P256"
	ECDHP384 AlgorithmID = "ECDH-P384"
	RSA2048  AlgorithmID = "RSA-2048"
)

// Post-quantum KEMs
const (
	Kyber512         AlgorithmID = "Kyber512"
	Kyber768         AlgorithmID = "Kyber768"
	Kyber1024        AlgorithmID = "Kyber1024"
	MLKEM512         AlgorithmID = "ML-KEM-512"
	MLKEM768         AlgorithmID = "ML-KEM-768"
	MLKEM1024        AlgorithmID = "ML-KEM-1024"
	FrodoKEM640SHAKE AlgorithmID = "FrodoKEM-640-SHAKE"
	NTRUHPS2048509   AlgorithmID = "NTRU-HPS-2048-509"
	NTRUHPS2048677   AlgorithmID = "NTRU-HPS-2048-677"
	LightSaberKEM    AlgorithmID = "LightSaber-KEM"
	SaberKEM         AlgorithmID = "Saber-KEM"
	FireSaberKEM     AlgorithmID = "FireSaber-KEM"
)

// Signatures
const (
	Ed25519 AlgorithmID = "Ed25519"
	MLDSA44 AlgorithmID = "ML-DSA-44"
	MLDSA65 AlgorithmID = "ML-DSA-65"
	MLDSA87 AlgorithmID = "ML-DSA-87"
)

// Class separates classical from post-quantum primitives.
type Class int

const (
	Classical Class = iota
	PostQuantum
)

func (c Class) String() string {
	if c == PostQuantum {
		return "post-quantum"
	}
	return "classical"
}

// Capability is what a primitive can be used for.
type Capability int

const (
	CapabilityKEM Capability = iota
	CapabilityKeyAgreement
	CapabilitySignature
)

func (c Capability) String() string {
	switch c {
	case CapabilityKEM:
		return "kem"
	case CapabilityKeyAgreement:
		return "key-agreement"
	case CapabilitySignature:
		return "signature"
	default:
		return "unknown"
	}
}

// KeySizes are the fixed encoded lengths for one algorithm. For a KEM,
// CiphertextOrSignature is the ciphertext length; for a signature scheme it
// is the signature length; for a key agreement it is zero.
type KeySizes struct {
	Public                int `json:"public"`
	Private               int `json:"private"`
	CiphertextOrSignature int `json:"ciphertext_or_signature"`
	SharedSecret          int `json:"shared_secret"`
}

// KeyMaterial is one generated keypair. The private half is owned by the
// party that generated it and must be erased after use.
type KeyMaterial struct {
	PublicKey  []byte
	PrivateKey []byte
	Algorithm  AlgorithmID
	Size       int
}

// Erase zeroizes the private key in place.
func (km *KeyMaterial) Erase() {
	if km == nil {
		return
	}
	crypto.Zeroize(km.PrivateKey)
}

// Erased reports whether the private key holds no material.
func (km *KeyMaterial) Erased() bool {
	return km == nil || crypto.IsZero(km.PrivateKey)
}

// Primitive is the part every algorithm shares.
type Primitive interface {
	ID() AlgorithmID
	Class() Class
	Sizes() KeySizes
}

// KEM is a key encapsulation mechanism. The responder generates the keypair,
// the initiator encapsulates against its public key.
type KEM interface {
	Primitive
	GenerateKeyPair() (*KeyMaterial, error)
	Encapsulate(peerPublic []byte) (ciphertext, sharedSecret []byte, err error)
	Decapsulate(ciphertext, privateKey []byte) ([]byte, error)
}

// KeyAgreement is a Diffie-Hellman style exchange where both sides generate
// a keypair and derive the same secret from their own private key and the
// peer's public key.
type KeyAgreement interface {
	Primitive
	GenerateKeyPair() (*KeyMaterial, error)
	DeriveSharedSecret(privateKey, peerPublic []byte) ([]byte, error)
}

// Signer produces and checks signatures.
type Signer interface {
	Primitive
	GenerateKeyPair() (*KeyMaterial, error)
	Sign(message, privateKey []byte) ([]byte, error)
	Verify(message, signature, publicKey []byte) bool
}

// CapabilityOf reports how p can be used.
func CapabilityOf(p Primitive) Capability {
	switch p.(type) {
	case KEM:
		return CapabilityKEM
	case KeyAgreement:
		return CapabilityKeyAgreement
	default:
		return CapabilitySignature
	}
}

func checkSize(id AlgorithmID, what string, got, want int, sentinel error) error {
	if got != want {
		return qerrors.NewCryptoError(string(id), fmt.Errorf("%s is %d bytes, want %d: %w", what, got, want, sentinel))
	}
	return nil
}
