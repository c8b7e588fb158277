package tunnel

import (
	"sync/atomic"

	"github.com/sara-star-quant/hybrid-kex/internal/constants"
	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
	"github.com/sara-star-quant/hybrid-kex/pkg/crypto"
)

// SessionKeys is the opaque record protection state derived by one
// handshake. It never exposes key bytes; callers seal and open through it.
type SessionKeys struct {
	suite     constants.CipherSuite
	send      *crypto.AEAD
	recv      *crypto.AEAD
	destroyed atomic.Bool
}

// newSessionKeys builds the send and receive ciphers for role from block.
// block is zeroized before returning.
func newSessionKeys(block *crypto.KeyBlock, suite constants.CipherSuite, role Role) (*SessionKeys, error) {
	defer block.Zeroize()

	sendKey, sendIV := block.ClientWriteKey, block.ClientWriteIV
	recvKey, recvIV := block.ServerWriteKey, block.ServerWriteIV
	if role == RoleResponder {
		sendKey, sendIV, recvKey, recvIV = recvKey, recvIV, sendKey, sendIV
	}

	send, err := crypto.NewAEAD(suite, sendKey, sendIV)
	if err != nil {
		return nil, err
	}
	recv, err := crypto.NewAEAD(suite, recvKey, recvIV)
	if err != nil {
		send.Destroy()
		return nil, err
	}
	return &SessionKeys{suite: suite, send: send, recv: recv}, nil
}

// Suite returns the negotiated cipher suite.
func (k *SessionKeys) Suite() constants.CipherSuite {
	return k.suite
}

// Seal protects plaintext under the next send sequence number.
func (k *SessionKeys) Seal(plaintext, additionalData []byte) ([]byte, uint64, error) {
	if k.destroyed.Load() {
		return nil, 0, qerrors.ErrKeysDestroyed
	}
	return k.send.Seal(plaintext, additionalData)
}

// Open authenticates and decrypts the record with sequence number seq.
func (k *SessionKeys) Open(seq uint64, ciphertext, additionalData []byte) ([]byte, error) {
	if k.destroyed.Load() {
		return nil, qerrors.ErrKeysDestroyed
	}
	return k.recv.Open(seq, ciphertext, additionalData)
}

// Destroy erases both directions. It is safe to call more than once.
func (k *SessionKeys) Destroy() {
	if k == nil || k.destroyed.Swap(true) {
		return
	}
	k.send.Destroy()
	k.recv.Destroy()
}

// Destroyed reports whether Destroy has run.
func (k *SessionKeys) Destroyed() bool {
	return k == nil || k.destroyed.Load()
}
