// aead.go implements record protection for post-handshake messages.
//
// Supported suites:
//   - TLS_AES_256_GCM_SHA384 and TLS_AES_128_GCM_SHA256 (crypto/aes + GCM)
//   - TLS_CHACHA20_POLY1305_SHA256 (golang.org/x/crypto/chacha20poly1305)
//
// Nonces follow the TLS 1.3 construction: the 64-bit record sequence number,
// left-padded to 12 bytes, XORed with the write IV. Each direction keeps its
// own counter, so a (key, nonce) pair is never reused and records must be
// opened in the order they were sealed.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/sara-star-quant/hybrid-kex/internal/constants"
	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
)

// AEAD is one direction of record protection.
type AEAD struct {
	cipher cipher.AEAD
	suite  constants.CipherSuite
	iv     []byte

	mu     sync.Mutex
	seq    uint64
	maxSeq uint64
}

// NewAEAD creates a record cipher for suite. The key and iv are copied.
func NewAEAD(suite constants.CipherSuite, key, iv []byte) (*AEAD, error) {
	if !suite.IsSupported() {
		return nil, qerrors.NewCryptoError("NewAEAD", qerrors.ErrUnsupportedCipherSuite)
	}
	if len(key) != suite.KeySize() || len(iv) != constants.IVSize {
		return nil, qerrors.NewCryptoError("NewAEAD", qerrors.ErrInvalidKeyLength)
	}

	var (
		aeadCipher cipher.AEAD
		err        error
	)
	switch suite {
	case constants.CipherSuiteAES256GCMSHA384, constants.CipherSuiteAES128GCMSHA256:
		block, berr := aes.NewCipher(key)
		if berr != nil {
			return nil, qerrors.NewCryptoError("NewAEAD", berr)
		}
		aeadCipher, err = cipher.NewGCM(block)
	case constants.CipherSuiteChaCha20Poly1305SHA256:
		aeadCipher, err = chacha20poly1305.New(key)
	}
	if err != nil {
		return nil, qerrors.NewCryptoError("NewAEAD", err)
	}

	return &AEAD{
		cipher: aeadCipher,
		suite:  suite,
		iv:     append([]byte(nil), iv...),
		maxSeq: constants.MaxRecordsBeforeRekey,
	}, nil
}

// Seal encrypts plaintext under the next sequence number and returns the
// sequence number used.
func (a *AEAD) Seal(plaintext, additionalData []byte) ([]byte, uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.seq >= a.maxSeq {
		return nil, 0, qerrors.ErrSequenceExhausted
	}
	seq := a.seq
	a.seq++

	return a.cipher.Seal(nil, a.nonce(seq), plaintext, additionalData), seq, nil
}

// Open decrypts the next record. seq must equal the expected sequence number;
// a mismatch is reported as an authentication failure without advancing.
func (a *AEAD) Open(seq uint64, ciphertext, additionalData []byte) ([]byte, error) {
	if len(ciphertext) < a.cipher.Overhead() {
		return nil, qerrors.ErrCiphertextTooShort
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if seq != a.seq {
		return nil, qerrors.ErrAuthenticationFailed
	}
	plaintext, err := a.cipher.Open(nil, a.nonce(seq), ciphertext, additionalData)
	if err != nil {
		return nil, qerrors.ErrAuthenticationFailed
	}
	a.seq++
	return plaintext, nil
}

func (a *AEAD) nonce(seq uint64) []byte {
	nonce := make([]byte, constants.IVSize)
	binary.BigEndian.PutUint64(nonce[constants.IVSize-8:], seq)
	for i := range nonce {
		nonce[i] ^= a.iv[i]
	}
	return nonce
}

// Sequence returns the next sequence number.
func (a *AEAD) Sequence() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seq
}

// Suite returns the cipher suite identifier.
func (a *AEAD) Suite() constants.CipherSuite {
	return a.suite
}

// Overhead returns the authentication tag size.
func (a *AEAD) Overhead() int {
	return a.cipher.Overhead()
}

// Destroy erases the IV. The cipher's expanded key schedule is owned by the
// standard library and is released with the AEAD.
func (a *AEAD) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	Zeroize(a.iv)
	a.seq = a.maxSeq
}
