package crypto_test

import (
	"bytes"
	stdhkdf "crypto/hkdf"
	"crypto/sha512"
	"testing"

	"github.com/sara-star-quant/hybrid-kex/internal/constants"
	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
	"github.com/sara-star-quant/hybrid-kex/pkg/crypto"
)

// --- Random Tests ---

func TestSecureRandomBytes(t *testing.T) {
	for _, size := range []int{16, 32, 64} {
		buf, err := crypto.SecureRandomBytes(size)
		if err != nil {
			t.Fatalf("SecureRandomBytes(%d) failed: %v", size, err)
		}
		if len(buf) != size {
			t.Errorf("SecureRandomBytes(%d) returned %d bytes", size, len(buf))
		}
		if crypto.IsZero(buf) {
			t.Errorf("SecureRandomBytes(%d) returned all zeros", size)
		}
	}
}

func TestConstantTimeCompare(t *testing.T) {
	a := []byte("hello world")
	if !crypto.ConstantTimeCompare(a, []byte("hello world")) {
		t.Error("Equal slices should compare equal")
	}
	if crypto.ConstantTimeCompare(a, []byte("hello worle")) {
		t.Error("Different slices should not compare equal")
	}
	if crypto.ConstantTimeCompare(a, []byte("hello")) {
		t.Error("Different length slices should not compare equal")
	}
}

func TestZeroizeErasesAliases(t *testing.T) {
	secret := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	alias := secret[2:6]

	crypto.Zeroize(secret)

	if !crypto.IsZero(secret) || !crypto.IsZero(alias) {
		t.Errorf("Zeroize left data behind: %v %v", secret, alias)
	}
}

// --- Combiner Tests ---

func secrets3() [][]byte {
	return [][]byte{
		bytes.Repeat([]byte{0x11}, 32),
		bytes.Repeat([]byte{0x22}, 32),
		bytes.Repeat([]byte{0x33}, 32),
	}
}

func TestCombineSecretsOrder(t *testing.T) {
	combined, err := crypto.CombineSecrets(secrets3())
	if err != nil {
		t.Fatalf("CombineSecrets failed: %v", err)
	}
	if len(combined) != 96 {
		t.Fatalf("combined length = %d, want 96", len(combined))
	}
	if combined[0] != 0x11 || combined[32] != 0x22 || combined[64] != 0x33 {
		t.Error("secrets were not concatenated in order")
	}
}

func TestCombineSecretsEmpty(t *testing.T) {
	if _, err := crypto.CombineSecrets(nil); !qerrors.Is(err, qerrors.ErrNoSharedSecretMaterial) {
		t.Errorf("CombineSecrets(nil) error = %v, want ErrNoSharedSecretMaterial", err)
	}
	if _, err := crypto.CombineSecrets([][]byte{{1}, {}}); !qerrors.Is(err, qerrors.ErrNoSharedSecretMaterial) {
		t.Errorf("CombineSecrets with empty member error = %v, want ErrNoSharedSecretMaterial", err)
	}
	if _, err := crypto.DeriveMasterSecret(nil, "classical", nil); !qerrors.Is(err, qerrors.ErrNoSharedSecretMaterial) {
		t.Errorf("DeriveMasterSecret(nil) error = %v, want ErrNoSharedSecretMaterial", err)
	}
}

func TestDeriveMasterSecretMatchesHKDF(t *testing.T) {
	combined, _ := crypto.CombineSecrets(secrets3())
	th := crypto.TranscriptHash([]byte("client hello"), []byte("server hello"))

	master, err := crypto.DeriveMasterSecret(combined, "triple_hybrid", th)
	if err != nil {
		t.Fatalf("DeriveMasterSecret failed: %v", err)
	}
	if len(master) != constants.MasterSecretSize {
		t.Fatalf("master length = %d, want %d", len(master), constants.MasterSecretSize)
	}

	want, err := stdhkdf.Key(sha512.New384, combined, []byte(constants.HybridKeyScheduleSalt),
		constants.HybridInfoPrefix+"triple_hybrid"+string(th), constants.MasterSecretSize)
	if err != nil {
		t.Fatalf("reference HKDF failed: %v", err)
	}
	if !bytes.Equal(master, want) {
		t.Error("master secret does not match HKDF-SHA384 reference")
	}
}

func TestDeriveMasterSecretDeterministicOrdering(t *testing.T) {
	th := crypto.TranscriptHash([]byte("transcript"))

	a, _ := crypto.CombineSecrets(secrets3())
	b, _ := crypto.CombineSecrets(secrets3())
	ma, _ := crypto.DeriveMasterSecret(a, "triple_hybrid", th)
	mb, _ := crypto.DeriveMasterSecret(b, "triple_hybrid", th)
	if !bytes.Equal(ma, mb) {
		t.Fatal("same secrets in same order produced different master secrets")
	}

	s := secrets3()
	s[1], s[2] = s[2], s[1]
	swapped, _ := crypto.CombineSecrets(s)
	ms, _ := crypto.DeriveMasterSecret(swapped, "triple_hybrid", th)
	if bytes.Equal(ma, ms) {
		t.Error("swapping secret order did not change the master secret")
	}

	other, _ := crypto.DeriveMasterSecret(a, "dual_hybrid", th)
	if bytes.Equal(ma, other) {
		t.Error("mode is not bound into the master secret")
	}
	rebound, _ := crypto.DeriveMasterSecret(a, "triple_hybrid", crypto.TranscriptHash([]byte("other")))
	if bytes.Equal(ma, rebound) {
		t.Error("transcript hash is not bound into the master secret")
	}
}

func TestDeriveKeyBlock(t *testing.T) {
	master := bytes.Repeat([]byte{0x5a}, constants.MasterSecretSize)

	for _, keyLen := range []int{16, 32} {
		kb, err := crypto.DeriveKeyBlock(master, keyLen)
		if err != nil {
			t.Fatalf("DeriveKeyBlock(%d) failed: %v", keyLen, err)
		}
		if len(kb.ClientWriteKey) != keyLen || len(kb.ServerWriteKey) != keyLen {
			t.Errorf("key lengths = %d/%d, want %d", len(kb.ClientWriteKey), len(kb.ServerWriteKey), keyLen)
		}
		if len(kb.ClientWriteIV) != constants.IVSize || len(kb.ServerWriteIV) != constants.IVSize {
			t.Errorf("iv lengths = %d/%d", len(kb.ClientWriteIV), len(kb.ServerWriteIV))
		}
		if bytes.Equal(kb.ClientWriteKey, kb.ServerWriteKey) {
			t.Error("client and server write keys must differ")
		}

		kb.Zeroize()
		if !crypto.IsZero(kb.ClientWriteKey) || !crypto.IsZero(kb.ServerWriteIV) {
			t.Error("Zeroize left key material behind")
		}
	}

	if _, err := crypto.DeriveKeyBlock(master[:10], 32); err == nil {
		t.Error("short master secret should be rejected")
	}
	if _, err := crypto.DeriveKeyBlock(master, 24); err == nil {
		t.Error("unsupported key length should be rejected")
	}
}

func TestVerifyData(t *testing.T) {
	master := bytes.Repeat([]byte{0x01}, constants.MasterSecretSize)
	th := crypto.TranscriptHash([]byte("a"), []byte("b"))

	ck, _ := crypto.FinishedKey(master, constants.LabelClientFinished)
	sk, _ := crypto.FinishedKey(master, constants.LabelServerFinished)

	cv := crypto.VerifyData(ck, th)
	sv := crypto.VerifyData(sk, th)
	if len(cv) != constants.VerifyDataSize {
		t.Fatalf("verify data length = %d", len(cv))
	}
	if bytes.Equal(cv, sv) {
		t.Error("client and server verify data must differ")
	}
	if !bytes.Equal(cv, crypto.VerifyData(ck, th)) {
		t.Error("verify data is not deterministic")
	}
}

func TestTranscriptHashBoundaries(t *testing.T) {
	a := crypto.TranscriptHash([]byte("ab"), []byte("c"))
	b := crypto.TranscriptHash([]byte("a"), []byte("bc"))
	if bytes.Equal(a, b) {
		t.Error("moving bytes across components must change the hash")
	}
	if len(a) != constants.TranscriptHashSize {
		t.Errorf("hash length = %d, want %d", len(a), constants.TranscriptHashSize)
	}
}

// --- AEAD Tests ---

func newAEADPair(t *testing.T, suite constants.CipherSuite) (*crypto.AEAD, *crypto.AEAD) {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, suite.KeySize())
	iv := bytes.Repeat([]byte{0x07}, constants.IVSize)
	sealer, err := crypto.NewAEAD(suite, key, iv)
	if err != nil {
		t.Fatalf("NewAEAD(%v) failed: %v", suite, err)
	}
	opener, err := crypto.NewAEAD(suite, key, iv)
	if err != nil {
		t.Fatalf("NewAEAD(%v) failed: %v", suite, err)
	}
	return sealer, opener
}

func TestAEADRoundTrip(t *testing.T) {
	for _, suite := range constants.DefaultCipherSuites {
		t.Run(suite.String(), func(t *testing.T) {
			sealer, opener := newAEADPair(t, suite)
			ad := []byte("record")

			for i := 0; i < 3; i++ {
				msg := []byte{byte(i), 'h', 'i'}
				ct, seq, err := sealer.Seal(msg, ad)
				if err != nil {
					t.Fatalf("Seal failed: %v", err)
				}
				if seq != uint64(i) {
					t.Errorf("seq = %d, want %d", seq, i)
				}
				pt, err := opener.Open(seq, ct, ad)
				if err != nil {
					t.Fatalf("Open failed: %v", err)
				}
				if !bytes.Equal(pt, msg) {
					t.Errorf("plaintext = %x, want %x", pt, msg)
				}
			}
		})
	}
}

func TestAEADRejectsTamperingAndReplay(t *testing.T) {
	sealer, opener := newAEADPair(t, constants.CipherSuiteAES256GCMSHA384)

	ct, seq, _ := sealer.Seal([]byte("payload"), nil)
	tampered := append([]byte(nil), ct...)
	tampered[0] ^= 0xff
	if _, err := opener.Open(seq, tampered, nil); !qerrors.Is(err, qerrors.ErrAuthenticationFailed) {
		t.Errorf("tampered record error = %v", err)
	}
	if _, err := opener.Open(seq, ct, nil); err != nil {
		t.Fatalf("Open of genuine record failed after tamper attempt: %v", err)
	}
	if _, err := opener.Open(seq, ct, nil); !qerrors.Is(err, qerrors.ErrAuthenticationFailed) {
		t.Errorf("replayed record error = %v", err)
	}
	if _, err := opener.Open(1, []byte{1, 2}, nil); !qerrors.Is(err, qerrors.ErrCiphertextTooShort) {
		t.Errorf("short record error = %v", err)
	}
}

func TestAEADInvalidParameters(t *testing.T) {
	iv := make([]byte, constants.IVSize)
	if _, err := crypto.NewAEAD(constants.CipherSuiteAES256GCMSHA384, make([]byte, 16), iv); err == nil {
		t.Error("wrong key size should be rejected")
	}
	if _, err := crypto.NewAEAD(constants.CipherSuite(0x9999), make([]byte, 32), iv); !qerrors.Is(err, qerrors.ErrUnsupportedCipherSuite) {
		t.Errorf("unknown suite error = %v", err)
	}
}

func TestAEADDestroy(t *testing.T) {
	sealer, _ := newAEADPair(t, constants.CipherSuiteChaCha20Poly1305SHA256)
	sealer.Destroy()
	if _, _, err := sealer.Seal([]byte("x"), nil); !qerrors.Is(err, qerrors.ErrSequenceExhausted) {
		t.Errorf("Seal after Destroy error = %v", err)
	}
}
