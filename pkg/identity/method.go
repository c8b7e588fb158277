package identity

import (
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sara-star-quant/hybrid-kex/pkg/primitive"
)

// SigningMethod adapts a primitive.Signer to jwt.SigningMethod. Keys are
// raw encodings: the private key for Sign, the public key for Verify.
type SigningMethod struct {
	signer primitive.Signer
}

var registered sync.Map // AlgorithmID -> *SigningMethod

// methodFor returns the method for signer, registering it with the jwt
// package on first use so that tokens naming it can be parsed.
func methodFor(signer primitive.Signer) *SigningMethod {
	if m, ok := registered.Load(signer.ID()); ok {
		return m.(*SigningMethod)
	}
	m := &SigningMethod{signer: signer}
	actual, loaded := registered.LoadOrStore(signer.ID(), m)
	if !loaded {
		jwt.RegisterSigningMethod(m.Alg(), func() jwt.SigningMethod { return m })
	}
	return actual.(*SigningMethod)
}

// Alg returns the algorithm id, which is also the JWT "alg" header.
func (m *SigningMethod) Alg() string {
	return string(m.signer.ID())
}

func (m *SigningMethod) Sign(signingString string, key any) ([]byte, error) {
	priv, ok := key.([]byte)
	if !ok {
		return nil, fmt.Errorf("%s sign: %w", m.Alg(), jwt.ErrInvalidKeyType)
	}
	return m.signer.Sign([]byte(signingString), priv)
}

func (m *SigningMethod) Verify(signingString string, sig []byte, key any) error {
	pub, ok := key.([]byte)
	if !ok {
		return fmt.Errorf("%s verify: %w", m.Alg(), jwt.ErrInvalidKeyType)
	}
	if !m.signer.Verify([]byte(signingString), sig, pub) {
		return jwt.ErrSignatureInvalid
	}
	return nil
}
