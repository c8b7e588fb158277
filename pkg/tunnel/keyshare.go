package tunnel

import (
	"fmt"

	"github.com/sara-star-quant/hybrid-kex/pkg/crypto"
	"github.com/sara-star-quant/hybrid-kex/pkg/negotiation"
	"github.com/sara-star-quant/hybrid-kex/pkg/primitive"
	"github.com/sara-star-quant/hybrid-kex/pkg/protocol"

	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
)

// share is the ephemeral state for one negotiated primitive.
type share struct {
	sel    negotiation.Selection
	ka     primitive.KeyAgreement
	kem    primitive.KEM
	sizes  primitive.KeySizes
	local  *primitive.KeyMaterial
	secret []byte
}

// keyShares runs the per-primitive exchange. The server generates a keypair
// for every primitive. For a key agreement the client generates its own and
// both derive; for a KEM the client encapsulates and the server
// decapsulates.
type keyShares struct {
	shares []*share
}

func newKeyShares(reg *primitive.Registry, cfg *negotiation.Configuration) (*keyShares, error) {
	ks := &keyShares{shares: make([]*share, 0, len(cfg.Selections))}
	for _, sel := range cfg.Selections {
		p, err := reg.Lookup(sel.Algorithm)
		if err != nil {
			return nil, err
		}
		s := &share{sel: sel, sizes: p.Sizes()}
		switch v := p.(type) {
		case primitive.KEM:
			s.kem = v
		case primitive.KeyAgreement:
			s.ka = v
		default:
			return nil, fmt.Errorf("%s cannot exchange keys: %w", sel.Algorithm, qerrors.ErrWrongCapability)
		}
		ks.shares = append(ks.shares, s)
	}
	return ks, nil
}

// serverShares generates the server's ephemeral keypairs.
func (ks *keyShares) serverShares() (*protocol.KeyShare, error) {
	msg := &protocol.KeyShare{Shares: make([]protocol.KeyShareEntry, 0, len(ks.shares))}
	for _, s := range ks.shares {
		var (
			km  *primitive.KeyMaterial
			err error
		)
		if s.kem != nil {
			km, err = s.kem.GenerateKeyPair()
		} else {
			km, err = s.ka.GenerateKeyPair()
		}
		if err != nil {
			return nil, err
		}
		s.local = km
		msg.Shares = append(msg.Shares, protocol.KeyShareEntry{Algorithm: s.sel.Algorithm, PublicKey: km.PublicKey})
	}
	return msg, nil
}

// clientShares answers the server's shares and computes every secret on
// the client side. Client private keys are erased as soon as their secret
// exists.
func (ks *keyShares) clientShares(server *protocol.KeyShare) (*protocol.KeyShare, error) {
	if err := ks.match(server); err != nil {
		return nil, err
	}
	msg := &protocol.KeyShare{Shares: make([]protocol.KeyShareEntry, 0, len(ks.shares))}
	for i, s := range ks.shares {
		entry := server.Shares[i]
		if len(entry.PublicKey) == 0 {
			return nil, fmt.Errorf("server share for %s has no public key: %w", s.sel.Algorithm, qerrors.ErrMalformedMessage)
		}
		if err := s.checkPublicKey(entry.PublicKey); err != nil {
			return nil, err
		}

		if s.kem != nil {
			ct, ss, err := s.kem.Encapsulate(entry.PublicKey)
			if err != nil {
				return nil, err
			}
			s.secret = ss
			msg.Shares = append(msg.Shares, protocol.KeyShareEntry{Algorithm: s.sel.Algorithm, Ciphertext: ct})
			continue
		}

		km, err := s.ka.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		s.local = km
		ss, err := s.ka.DeriveSharedSecret(km.PrivateKey, entry.PublicKey)
		km.Erase()
		if err != nil {
			return nil, err
		}
		s.secret = ss
		msg.Shares = append(msg.Shares, protocol.KeyShareEntry{Algorithm: s.sel.Algorithm, PublicKey: km.PublicKey})
	}
	return msg, nil
}

// complete computes every secret on the server side from the client's
// answer and erases the server's private keys.
func (ks *keyShares) complete(client *protocol.KeyShare) error {
	if err := ks.match(client); err != nil {
		return err
	}
	for i, s := range ks.shares {
		entry := client.Shares[i]

		var (
			ss  []byte
			err error
		)
		if s.kem != nil {
			if len(entry.Ciphertext) == 0 {
				return fmt.Errorf("client share for %s has no ciphertext: %w", s.sel.Algorithm, qerrors.ErrMalformedMessage)
			}
			if len(entry.Ciphertext) != s.sizes.CiphertextOrSignature {
				return qerrors.NewCryptoError(string(s.sel.Algorithm)+".Decapsulate", qerrors.ErrInvalidCiphertextSize)
			}
			ss, err = s.kem.Decapsulate(entry.Ciphertext, s.local.PrivateKey)
		} else {
			if len(entry.PublicKey) == 0 {
				return fmt.Errorf("client share for %s has no public key: %w", s.sel.Algorithm, qerrors.ErrMalformedMessage)
			}
			if err := s.checkPublicKey(entry.PublicKey); err != nil {
				return err
			}
			ss, err = s.ka.DeriveSharedSecret(s.local.PrivateKey, entry.PublicKey)
		}
		s.local.Erase()
		if err != nil {
			return err
		}
		s.secret = ss
	}
	return nil
}

// match checks that msg has one entry per primitive, in order.
func (ks *keyShares) match(msg *protocol.KeyShare) error {
	if len(msg.Shares) != len(ks.shares) {
		return fmt.Errorf("%d key shares for %d primitives: %w", len(msg.Shares), len(ks.shares), qerrors.ErrMalformedMessage)
	}
	for i, s := range ks.shares {
		if got := msg.Shares[i].Algorithm; got != s.sel.Algorithm {
			return fmt.Errorf("key share %d is %s, want %s: %w", i, got, s.sel.Algorithm, qerrors.ErrMalformedMessage)
		}
	}
	return nil
}

func (s *share) checkPublicKey(pub []byte) error {
	if len(pub) != s.sizes.Public {
		return qerrors.NewCryptoError(string(s.sel.Algorithm), fmt.Errorf("public key is %d bytes, want %d: %w",
			len(pub), s.sizes.Public, qerrors.ErrInvalidPublicKeySize))
	}
	return nil
}

// secrets returns the shared secrets in configuration order.
func (ks *keyShares) secrets() [][]byte {
	out := make([][]byte, 0, len(ks.shares))
	for _, s := range ks.shares {
		out = append(out, s.secret)
	}
	return out
}

// erase zeroizes every private key and secret still held.
func (ks *keyShares) erase() {
	if ks == nil {
		return
	}
	for _, s := range ks.shares {
		s.local.Erase()
		crypto.Zeroize(s.secret)
		s.secret = nil
	}
}
