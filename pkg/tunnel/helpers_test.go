package tunnel

import (
	"context"
	"crypto/sha256"
	"net"
	"sync"
	"testing"

	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
	"github.com/sara-star-quant/hybrid-kex/pkg/crypto"
	"github.com/sara-star-quant/hybrid-kex/pkg/negotiation"
	"github.com/sara-star-quant/hybrid-kex/pkg/primitive"
)

// testNTRU stands in for NTRU-HPS-2048-509 with the real sizes. The private
// key embeds the public key and the ciphertext carries the secret masked by
// a hash of the public key. It has no security and exists only so a third
// KEM can take part in a triple hybrid handshake.
type testNTRU struct{}

func (testNTRU) ID() primitive.AlgorithmID { return primitive.NTRUHPS2048509 }
func (testNTRU) Class() primitive.Class    { return primitive.PostQuantum }
func (testNTRU) Sizes() primitive.KeySizes {
	return primitive.KeySizes{Public: 699, Private: 935, CiphertextOrSignature: 699, SharedSecret: 32}
}

func (n testNTRU) GenerateKeyPair() (*primitive.KeyMaterial, error) {
	sz := n.Sizes()
	priv, err := crypto.SecureRandomBytes(sz.Private)
	if err != nil {
		return nil, err
	}
	pub := append([]byte(nil), priv[:sz.Public]...)
	return &primitive.KeyMaterial{PublicKey: pub, PrivateKey: priv, Algorithm: n.ID(), Size: sz.Public}, nil
}

func (n testNTRU) Encapsulate(peerPublic []byte) ([]byte, []byte, error) {
	sz := n.Sizes()
	if len(peerPublic) != sz.Public {
		return nil, nil, qerrors.ErrInvalidPublicKeySize
	}
	ss, err := crypto.SecureRandomBytes(sz.SharedSecret)
	if err != nil {
		return nil, nil, err
	}
	ct, err := crypto.SecureRandomBytes(sz.CiphertextOrSignature)
	if err != nil {
		return nil, nil, err
	}
	mask := sha256.Sum256(peerPublic)
	for i := range ss {
		ct[i] = ss[i] ^ mask[i]
	}
	return ct, ss, nil
}

func (n testNTRU) Decapsulate(ciphertext, privateKey []byte) ([]byte, error) {
	sz := n.Sizes()
	if len(ciphertext) != sz.CiphertextOrSignature {
		return nil, qerrors.ErrInvalidCiphertextSize
	}
	if len(privateKey) != sz.Private {
		return nil, qerrors.ErrInvalidPrivateKeySize
	}
	mask := sha256.Sum256(privateKey[:sz.Public])
	ss := make([]byte, sz.SharedSecret)
	for i := range ss {
		ss[i] = ciphertext[i] ^ mask[i]
	}
	return ss, nil
}

// recorder keeps every keypair and a copy of every secret a wrapped
// primitive produces.
type recorder struct {
	mu      sync.Mutex
	keys    []*primitive.KeyMaterial
	secrets [][]byte
}

func (r *recorder) key(km *primitive.KeyMaterial) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, km)
}

func (r *recorder) secret(ss []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.secrets = append(r.secrets, append([]byte(nil), ss...))
}

func (r *recorder) allErased(t *testing.T, name string) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		t.Fatalf("%s: no keys recorded", name)
	}
	for i, km := range r.keys {
		if !km.Erased() {
			t.Errorf("%s: private key %d not erased", name, i)
		}
	}
}

func (r *recorder) lastSecret() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.secrets) == 0 {
		return nil
	}
	return r.secrets[len(r.secrets)-1]
}

type recordingKEM struct {
	primitive.KEM
	rec *recorder
}

func (k recordingKEM) GenerateKeyPair() (*primitive.KeyMaterial, error) {
	km, err := k.KEM.GenerateKeyPair()
	if err == nil {
		k.rec.key(km)
	}
	return km, err
}

func (k recordingKEM) Encapsulate(peerPublic []byte) ([]byte, []byte, error) {
	ct, ss, err := k.KEM.Encapsulate(peerPublic)
	if err == nil {
		k.rec.secret(ss)
	}
	return ct, ss, err
}

func (k recordingKEM) Decapsulate(ciphertext, privateKey []byte) ([]byte, error) {
	ss, err := k.KEM.Decapsulate(ciphertext, privateKey)
	if err == nil {
		k.rec.secret(ss)
	}
	return ss, err
}

type recordingKA struct {
	primitive.KeyAgreement
	rec *recorder
}

func (a recordingKA) GenerateKeyPair() (*primitive.KeyMaterial, error) {
	km, err := a.KeyAgreement.GenerateKeyPair()
	if err == nil {
		a.rec.key(km)
	}
	return km, err
}

func (a recordingKA) DeriveSharedSecret(privateKey, peerPublic []byte) ([]byte, error) {
	ss, err := a.KeyAgreement.DeriveSharedSecret(privateKey, peerPublic)
	if err == nil {
		a.rec.secret(ss)
	}
	return ss, err
}

// truncatingKA hands out public keys one byte short.
type truncatingKA struct {
	primitive.KeyAgreement
}

func (a truncatingKA) GenerateKeyPair() (*primitive.KeyMaterial, error) {
	km, err := a.KeyAgreement.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	km.PublicKey = km.PublicKey[:len(km.PublicKey)-1]
	return km, nil
}

// recordedTriple is a registry for X25519, ML-KEM-768 and the NTRU stand-in,
// each wrapped in a recorder.
type recordedTriple struct {
	reg    *primitive.Registry
	x25519 *recorder
	mlkem  *recorder
	ntru   *recorder
}

func newRecordedTriple(t *testing.T) *recordedTriple {
	t.Helper()
	base := primitive.Default()
	x, err := base.KeyAgreement(primitive.X25519)
	if err != nil {
		t.Fatalf("X25519: %v", err)
	}
	ml, err := base.KEM(primitive.MLKEM768)
	if err != nil {
		t.Fatalf("ML-KEM-768: %v", err)
	}

	rt := &recordedTriple{reg: primitive.NewRegistry(), x25519: &recorder{}, mlkem: &recorder{}, ntru: &recorder{}}
	for _, p := range []primitive.Primitive{
		recordingKA{KeyAgreement: x, rec: rt.x25519},
		recordingKEM{KEM: ml, rec: rt.mlkem},
		recordingKEM{KEM: testNTRU{}, rec: rt.ntru},
	} {
		if err := rt.reg.Register(p); err != nil {
			t.Fatalf("Register %s: %v", p.ID(), err)
		}
	}
	return rt
}

func dualPolicy(pq primitive.AlgorithmID) negotiation.Policy {
	return negotiation.Policy{Mode: negotiation.DualHybrid, Classical: primitive.X25519, PQ1: pq}
}

func triplePolicy() negotiation.Policy {
	return negotiation.Policy{
		Mode:      negotiation.TripleHybrid,
		Classical: primitive.X25519,
		PQ1:       primitive.MLKEM768,
		PQ2:       primitive.NTRUHPS2048509,
	}
}

type handshakeOutcome struct {
	res *Result
	err error
}

// runHandshake runs both roles over net.Pipe and waits for both.
func runHandshake(t *testing.T, client, server Config) (cres *Result, cerr error, sres *Result, serr error) {
	t.Helper()
	cc, sc := net.Pipe()
	defer cc.Close()
	defer sc.Close()

	done := make(chan handshakeOutcome, 1)
	go func() {
		res, err := ServerHandshake(context.Background(), sc, server)
		if err != nil {
			sc.Close()
		}
		done <- handshakeOutcome{res, err}
	}()

	cres, cerr = ClientHandshake(context.Background(), cc, client)
	if cerr != nil {
		cc.Close()
	}
	out := <-done
	return cres, cerr, out.res, out.err
}

// establish runs a successful dual hybrid handshake and returns both
// results.
func establish(t *testing.T) (client, server *Result) {
	t.Helper()
	cfg := Config{Policy: dualPolicy(primitive.MLKEM768)}
	cres, cerr, sres, serr := runHandshake(t, cfg, cfg)
	if cerr != nil || serr != nil {
		t.Fatalf("handshake: client %v, server %v", cerr, serr)
	}
	return cres, sres
}
