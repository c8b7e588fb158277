// kdf.go implements the hybrid key schedule.
//
// The per-primitive shared secrets are concatenated in negotiated order and
// run through HKDF-SHA384:
//
//	prk    = HKDF-Extract(salt = "TLS 1.3 Hybrid Key Schedule", ikm = ss_classical || ss_pq1 || ss_pq2)
//	master = HKDF-Expand(prk, "hybrid-" || mode || transcript_hash, 48)
//
// The record keys then come from a second expansion of the master secret,
// one label per key:
//
//	client_write_key = HKDF-Expand(master, "client write key", key_len)
//	server_write_key = HKDF-Expand(master, "server write key", key_len)
//	client_write_iv  = HKDF-Expand(master, "client write iv", 12)
//	server_write_iv  = HKDF-Expand(master, "server write iv", 12)
//
// Changing the order of the secrets changes every derived byte, so both
// peers must concatenate in the same fixed order.
package crypto

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"hash"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/sara-star-quant/hybrid-kex/internal/constants"
	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
)

func newHash() hash.Hash { return sha512.New384() }

// CombineSecrets concatenates secrets in the given order into a fresh buffer.
// The caller owns the result and must Zeroize it after use.
func CombineSecrets(secrets [][]byte) ([]byte, error) {
	if len(secrets) == 0 {
		return nil, qerrors.NewCryptoError("CombineSecrets", qerrors.ErrNoSharedSecretMaterial)
	}
	total := 0
	for _, s := range secrets {
		if len(s) == 0 {
			return nil, qerrors.NewCryptoError("CombineSecrets", qerrors.ErrNoSharedSecretMaterial)
		}
		total += len(s)
	}

	combined := make([]byte, 0, total)
	for _, s := range secrets {
		combined = append(combined, s...)
	}
	return combined, nil
}

// DeriveMasterSecret runs HKDF-SHA384 over the combined secret and binds the
// result to the exchange mode and the transcript hash.
func DeriveMasterSecret(combined []byte, mode string, transcriptHash []byte) ([]byte, error) {
	if len(combined) == 0 {
		return nil, qerrors.NewCryptoError("DeriveMasterSecret", qerrors.ErrNoSharedSecretMaterial)
	}

	info := make([]byte, 0, len(constants.HybridInfoPrefix)+len(mode)+len(transcriptHash))
	info = append(info, constants.HybridInfoPrefix...)
	info = append(info, mode...)
	info = append(info, transcriptHash...)

	prk := hkdf.Extract(newHash, combined, []byte(constants.HybridKeyScheduleSalt))
	defer Zeroize(prk)

	master := make([]byte, constants.MasterSecretSize)
	if _, err := io.ReadFull(hkdf.Expand(newHash, prk, info), master); err != nil {
		return nil, qerrors.NewCryptoError("DeriveMasterSecret", err)
	}
	return master, nil
}

// ExpandLabel derives length bytes from secret under a single label.
func ExpandLabel(secret []byte, label string, length int) ([]byte, error) {
	if length <= 0 || length > 255*constants.MasterSecretSize {
		return nil, qerrors.NewCryptoError("ExpandLabel", qerrors.ErrInvalidKeyLength)
	}
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.Expand(newHash, secret, []byte(label)), out); err != nil {
		return nil, qerrors.NewCryptoError("ExpandLabel", err)
	}
	return out, nil
}

// KeyBlock holds the record protection material derived from a master secret.
type KeyBlock struct {
	ClientWriteKey []byte
	ServerWriteKey []byte
	ClientWriteIV  []byte
	ServerWriteIV  []byte
}

// DeriveKeyBlock derives the four record protection values from master.
func DeriveKeyBlock(master []byte, keyLen int) (*KeyBlock, error) {
	if len(master) != constants.MasterSecretSize {
		return nil, qerrors.NewCryptoError("DeriveKeyBlock", qerrors.ErrInvalidKeyLength)
	}
	if keyLen != 16 && keyLen != 32 {
		return nil, qerrors.NewCryptoError("DeriveKeyBlock", qerrors.ErrInvalidKeyLength)
	}

	kb := &KeyBlock{}
	var err error
	steps := []struct {
		dst    *[]byte
		label  string
		length int
	}{
		{&kb.ClientWriteKey, constants.LabelClientWriteKey, keyLen},
		{&kb.ServerWriteKey, constants.LabelServerWriteKey, keyLen},
		{&kb.ClientWriteIV, constants.LabelClientWriteIV, constants.IVSize},
		{&kb.ServerWriteIV, constants.LabelServerWriteIV, constants.IVSize},
	}
	for _, step := range steps {
		if *step.dst, err = ExpandLabel(master, step.label, step.length); err != nil {
			kb.Zeroize()
			return nil, err
		}
	}
	return kb, nil
}

// Zeroize erases all key material in the block.
func (kb *KeyBlock) Zeroize() {
	if kb == nil {
		return
	}
	ZeroizeMultiple(kb.ClientWriteKey, kb.ServerWriteKey, kb.ClientWriteIV, kb.ServerWriteIV)
}

// FinishedKey derives the HMAC key for one side's Finished message.
func FinishedKey(master []byte, label string) ([]byte, error) {
	return ExpandLabel(master, label, constants.VerifyDataSize)
}

// VerifyData computes HMAC-SHA384(finishedKey, transcriptHash).
func VerifyData(finishedKey, transcriptHash []byte) []byte {
	mac := hmac.New(newHash, finishedKey)
	mac.Write(transcriptHash)
	return mac.Sum(nil)
}

// TranscriptHash computes a SHA3-384 hash over length-prefixed components.
//
// Length prefixes are 4-byte big-endian integers so that moving bytes from
// one component to the next changes the hash.
func TranscriptHash(components ...[]byte) []byte {
	h := sha3.New384()
	lenBuf := make([]byte, 4)

	binary.BigEndian.PutUint32(lenBuf, uint32(len(components)))
	h.Write(lenBuf)

	for _, component := range components {
		binary.BigEndian.PutUint32(lenBuf, uint32(len(component)))
		h.Write(lenBuf)
		h.Write(component)
	}

	return h.Sum(nil)
}
