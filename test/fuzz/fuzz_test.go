// Package fuzz provides fuzz tests for the parsers that handle untrusted
// network input.
//
// Run fuzz tests with:
//
//	go test -fuzz=FuzzReadFrame -fuzztime=30s ./test/fuzz/
//	go test -fuzz=FuzzDecodeClientHello -fuzztime=30s ./test/fuzz/
//	go test -fuzz=FuzzServerHandshake -fuzztime=30s ./test/fuzz/
//	go test -fuzz=FuzzAEADOpen -fuzztime=30s ./test/fuzz/
//
// Run all fuzz tests sequentially:
//
//	go test -fuzz=Fuzz -fuzztime=10s ./test/fuzz/
package fuzz

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/sara-star-quant/hybrid-kex/internal/constants"
	"github.com/sara-star-quant/hybrid-kex/pkg/crypto"
	"github.com/sara-star-quant/hybrid-kex/pkg/negotiation"
	"github.com/sara-star-quant/hybrid-kex/pkg/primitive"
	"github.com/sara-star-quant/hybrid-kex/pkg/protocol"
	"github.com/sara-star-quant/hybrid-kex/pkg/tunnel"
)

var dualPolicy = negotiation.Policy{Mode: negotiation.DualHybrid, Classical: primitive.X25519, PQ1: primitive.MLKEM768}

func validClientHello(t testing.TB) []byte {
	t.Helper()
	body, err := protocol.NewCodec().Marshal(protocol.MessageTypeClientHello, protocol.SenderClient, &protocol.ClientHello{
		ProtocolVersion: constants.ProtocolVersion,
		Random:          crypto.MustSecureRandomBytes(constants.RandomSize),
		CipherSuites:    protocol.CipherSuiteNames(constants.DefaultCipherSuites),
		SupportedGroups: []primitive.AlgorithmID{primitive.X25519, primitive.MLKEM768},
		RequestedMode:   negotiation.DualHybrid,
	})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func frame(body []byte) []byte {
	out := make([]byte, constants.FrameHeaderSize+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	copy(out[constants.FrameHeaderSize:], body)
	return out
}

// FuzzReadFrame fuzzes the length-prefixed frame reader.
func FuzzReadFrame(f *testing.F) {
	f.Add(frame([]byte(`{"type":"record"}`)))
	f.Add([]byte{0, 0, 0, 0})
	f.Add([]byte{0xff, 0xff, 0xff, 0xff, 'x'})
	f.Add([]byte{0, 0})

	codec := protocol.NewCodec(protocol.WithMaxFrameSize(constants.MinMaxFrameSize))
	f.Fuzz(func(t *testing.T, data []byte) {
		body, err := codec.ReadFrame(bytes.NewReader(data))
		if err != nil {
			return
		}
		if len(body) == 0 || len(body) > codec.MaxFrameSize() {
			t.Errorf("accepted a %d byte frame", len(body))
		}
	})
}

// FuzzUnmarshalEnvelope fuzzes envelope parsing and validation.
func FuzzUnmarshalEnvelope(f *testing.F) {
	f.Add(validClientHello(f))
	f.Add([]byte(`{"type":"alert","sender":"server","payload":{"code":"x"}}`))
	f.Add([]byte(`{}`))
	f.Add([]byte{0xff, 0xfe})

	codec := protocol.NewCodec()
	f.Fuzz(func(t *testing.T, data []byte) {
		env, err := codec.Unmarshal(data)
		if err != nil {
			return
		}
		if err := env.Validate(); err != nil {
			t.Errorf("Unmarshal returned an invalid envelope: %v", err)
		}
	})
}

// FuzzDecodeClientHello fuzzes ClientHello decoding and validation.
func FuzzDecodeClientHello(f *testing.F) {
	f.Add(validClientHello(f))
	f.Add([]byte(`{"type":"client_hello","sender":"client","payload":{"random":"AA=="}}`))
	f.Add([]byte(`{"type":"client_hello","sender":"client","payload":{"requested_mode":"quad"}}`))

	codec := protocol.NewCodec()
	f.Fuzz(func(t *testing.T, data []byte) {
		env, err := codec.Unmarshal(data)
		if err != nil {
			return
		}
		var ch protocol.ClientHello
		if err := protocol.DecodePayload(env, protocol.MessageTypeClientHello, &ch); err != nil {
			return
		}
		if len(ch.Random) != constants.RandomSize || len(ch.SupportedGroups) == 0 {
			t.Errorf("invalid hello accepted: %+v", ch)
		}
	})
}

// FuzzDecodeAppMessage fuzzes the plaintext of application records.
func FuzzDecodeAppMessage(f *testing.F) {
	seed, _ := protocol.EncodeAppMessage(&protocol.AppMessage{Type: protocol.AppEcho, Data: "hello"})
	f.Add(seed)
	f.Add([]byte(`{"type":""}`))
	f.Add([]byte(`null`))

	f.Fuzz(func(t *testing.T, data []byte) {
		m, err := protocol.DecodeAppMessage(data)
		if err != nil {
			return
		}
		if err := m.Validate(); err != nil {
			t.Errorf("decoded an invalid message: %v", err)
		}
	})
}

// FuzzParseMode fuzzes mode name parsing.
func FuzzParseMode(f *testing.F) {
	for _, m := range negotiation.Modes() {
		f.Add(m.String())
	}
	f.Add("")
	f.Fuzz(func(t *testing.T, s string) {
		m, err := negotiation.ParseMode(s)
		if err != nil {
			return
		}
		if m.String() != s {
			t.Errorf("ParseMode(%q) = %v", s, m)
		}
	})
}

type scriptedConn struct {
	io.Reader
}

func (scriptedConn) Write(p []byte) (int, error) { return len(p), nil }

// FuzzServerHandshake feeds arbitrary bytes to the responder. It must fail
// cleanly, never panic or hang.
func FuzzServerHandshake(f *testing.F) {
	f.Add(frame(validClientHello(f)))
	f.Add(frame([]byte(`{"type":"finished","sender":"client","payload":{}}`)))
	f.Add([]byte{0, 0, 0, 1, '{'})

	f.Fuzz(func(t *testing.T, data []byte) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		res, err := tunnel.ServerHandshake(ctx, scriptedConn{bytes.NewReader(data)}, tunnel.Config{Policy: dualPolicy})
		if err == nil {
			t.Fatal("handshake completed against scripted input")
		}
		if res != nil && res.Keys != nil {
			t.Error("failed handshake returned keys")
		}
	})
}

// FuzzAEADOpen fuzzes record decryption for every suite.
func FuzzAEADOpen(f *testing.F) {
	for _, cs := range constants.DefaultCipherSuites {
		key := crypto.MustSecureRandomBytes(cs.KeySize())
		iv := crypto.MustSecureRandomBytes(constants.IVSize)
		sealer, _ := crypto.NewAEAD(cs, key, iv)
		ct, _, _ := sealer.Seal([]byte("fuzz seed"), []byte("session"))
		f.Add(uint16(cs), key, iv, uint64(0), ct)
	}
	f.Add(uint16(constants.CipherSuiteAES256GCMSHA384), make([]byte, 32), make([]byte, 12), uint64(1), []byte{})

	f.Fuzz(func(t *testing.T, suite uint16, key, iv []byte, seq uint64, ct []byte) {
		aead, err := crypto.NewAEAD(constants.CipherSuite(suite), key, iv)
		if err != nil {
			return
		}
		defer aead.Destroy()
		// Must not panic; the error is expected for almost every input.
		_, _ = aead.Open(seq, ct, []byte("session"))
	})
}

// FuzzKEMDecapsulate checks that malformed ciphertexts are rejected by
// size or produce a secret of the advertised length.
func FuzzKEMDecapsulate(f *testing.F) {
	kem, err := primitive.Default().KEM(primitive.MLKEM768)
	if err != nil {
		f.Fatal(err)
	}
	kp, err := kem.GenerateKeyPair()
	if err != nil {
		f.Fatal(err)
	}
	ct, _, _ := kem.Encapsulate(kp.PublicKey)
	f.Add(ct)
	f.Add([]byte{})
	f.Add(make([]byte, kem.Sizes().CiphertextOrSignature))

	f.Fuzz(func(t *testing.T, data []byte) {
		ss, err := kem.Decapsulate(data, kp.PrivateKey)
		if err != nil {
			return
		}
		if len(ss) != kem.Sizes().SharedSecret {
			t.Errorf("shared secret is %d bytes", len(ss))
		}
	})
}

// FuzzKeyAgreementPeerPublic fuzzes peer public keys for each key agreement.
func FuzzKeyAgreementPeerPublic(f *testing.F) {
	ids := []primitive.AlgorithmID{primitive.X25519, primitive.X448, primitive.ECDHP256, primitive.ECDHP384}
	for i, id := range ids {
		ka, _ := primitive.Default().KeyAgreement(id)
		kp, _ := ka.GenerateKeyPair()
		f.Add(uint8(i), kp.PublicKey)
	}
	f.Add(uint8(0), make([]byte, 32))

	f.Fuzz(func(t *testing.T, which uint8, peer []byte) {
		ka, err := primitive.Default().KeyAgreement(ids[int(which)%len(ids)])
		if err != nil {
			t.Fatal(err)
		}
		kp, err := ka.GenerateKeyPair()
		if err != nil {
			t.Fatal(err)
		}
		ss, err := ka.DeriveSharedSecret(kp.PrivateKey, peer)
		if err != nil {
			return
		}
		if len(ss) != ka.Sizes().SharedSecret || crypto.IsZero(ss) {
			t.Errorf("%s accepted a peer key and derived %x", ka.ID(), ss)
		}
	})
}

// FuzzCombineAndDerive checks the key schedule accepts any non-empty secret
// material and rejects empty parts.
func FuzzCombineAndDerive(f *testing.F) {
	f.Add([]byte("classical"), []byte("post-quantum"), "dual_hybrid")
	f.Add([]byte{}, []byte("x"), "pq_only")

	f.Fuzz(func(t *testing.T, a, b []byte, mode string) {
		combined, err := crypto.CombineSecrets([][]byte{a, b})
		if len(a) == 0 || len(b) == 0 {
			if err == nil {
				t.Fatal("empty secret accepted")
			}
			return
		}
		if err != nil {
			t.Fatal(err)
		}
		master, err := crypto.DeriveMasterSecret(combined, mode, crypto.TranscriptHash(a, b))
		if err != nil {
			t.Fatal(err)
		}
		if len(master) != constants.MasterSecretSize {
			t.Errorf("master secret is %d bytes", len(master))
		}
	})
}
