package negotiation_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/sara-star-quant/hybrid-kex/internal/constants"
	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
	"github.com/sara-star-quant/hybrid-kex/pkg/negotiation"
	"github.com/sara-star-quant/hybrid-kex/pkg/primitive"
)

func ids(s ...string) []primitive.AlgorithmID {
	out := make([]primitive.AlgorithmID, len(s))
	for i, v := range s {
		out[i] = primitive.AlgorithmID(v)
	}
	return out
}

func TestNegotiateClassicalOnlyPicksClassical(t *testing.T) {
	policy := negotiation.Policy{Mode: negotiation.ClassicalOnly, Classical: primitive.X25519}

	cfg, err := negotiation.Negotiate(policy, ids("X25519", "Kyber768"))
	if err != nil {
		t.Fatalf("Negotiate failed: %v", err)
	}
	if got := cfg.AlgorithmNames(); !reflect.DeepEqual(got, []string{"X25519"}) {
		t.Errorf("algorithms = %v, want [X25519]", got)
	}
	if cfg.GroupName() != "X25519" {
		t.Errorf("GroupName = %q", cfg.GroupName())
	}
}

func TestNegotiateDualHybridMissingPQ(t *testing.T) {
	policy := negotiation.Policy{Mode: negotiation.DualHybrid, Classical: primitive.X25519, PQ1: primitive.Kyber768}

	cfg, err := negotiation.Negotiate(policy, ids("X25519"))
	if !qerrors.Is(err, qerrors.ErrNoCompatibleConfiguration) {
		t.Fatalf("error = %v, want ErrNoCompatibleConfiguration", err)
	}
	if cfg != nil {
		t.Error("failed negotiation must not return a configuration")
	}
}

func TestNegotiateTripleHybridNeverDowngrades(t *testing.T) {
	policy := negotiation.Policy{
		Mode:      negotiation.TripleHybrid,
		Classical: primitive.X25519,
		PQ1:       primitive.Kyber768,
		PQ2:       primitive.MLKEM1024,
	}

	_, err := negotiation.Negotiate(policy, ids("X25519", "Kyber768"))
	if !qerrors.Is(err, qerrors.ErrNoCompatibleConfiguration) {
		t.Fatalf("error = %v, want ErrNoCompatibleConfiguration", err)
	}
	if qerrors.CategoryOf(err) != qerrors.CategoryNegotiation {
		t.Errorf("category = %v, want negotiation", qerrors.CategoryOf(err))
	}
}

func TestNegotiateOrderIgnoresOfferOrder(t *testing.T) {
	policy := negotiation.Policy{
		Mode:      negotiation.TripleHybrid,
		Classical: primitive.ECDHP256,
		PQ1:       primitive.Kyber768,
		PQ2:       primitive.NTRUHPS2048509,
	}

	cfg, err := negotiation.Negotiate(policy, ids("NTRU-HPS-2048-509", "Kyber768", "Kyber1024", "ECDH-P256"))
	if err != nil {
		t.Fatalf("Negotiate failed: %v", err)
	}
	want := []negotiation.Selection{
		{Algorithm: primitive.ECDHP256, Role: negotiation.RoleClassical},
		{Algorithm: primitive.Kyber768, Role: negotiation.RolePrimaryPQ},
		{Algorithm: primitive.NTRUHPS2048509, Role: negotiation.RoleSecondaryPQ},
	}
	if !reflect.DeepEqual(cfg.Selections, want) {
		t.Errorf("selections = %+v, want %+v", cfg.Selections, want)
	}
	if cfg.GroupName() != "triple_hybrid_ECDH-P256_Kyber768_NTRU-HPS-2048-509" {
		t.Errorf("GroupName = %q", cfg.GroupName())
	}
}

func TestPolicyValidate(t *testing.T) {
	reg := primitive.Default()

	tests := []struct {
		name    string
		policy  negotiation.Policy
		wantErr error
	}{
		{"classical ok", negotiation.Policy{Mode: negotiation.ClassicalOnly, Classical: primitive.X25519}, nil},
		{"pq only ok", negotiation.Policy{Mode: negotiation.PostQuantumOnly, PQ1: primitive.MLKEM768}, nil},
		{"dual ok", negotiation.Policy{Mode: negotiation.DualHybrid, Classical: primitive.X448, PQ1: primitive.Kyber1024}, nil},
		{"triple ok", negotiation.Policy{Mode: negotiation.TripleHybrid, Classical: primitive.ECDHP384, PQ1: primitive.Kyber768, PQ2: primitive.FrodoKEM640SHAKE}, nil},
		{"missing pq1", negotiation.Policy{Mode: negotiation.DualHybrid, Classical: primitive.X25519}, qerrors.ErrInvalidPolicy},
		{"extra pq2", negotiation.Policy{Mode: negotiation.DualHybrid, Classical: primitive.X25519, PQ1: primitive.Kyber768, PQ2: primitive.Kyber512}, qerrors.ErrInvalidPolicy},
		{"pq in classical slot", negotiation.Policy{Mode: negotiation.ClassicalOnly, Classical: primitive.Kyber768}, qerrors.ErrInvalidPolicy},
		{"classical in pq slot", negotiation.Policy{Mode: negotiation.PostQuantumOnly, PQ1: primitive.X25519}, qerrors.ErrInvalidPolicy},
		{"signature in pq slot", negotiation.Policy{Mode: negotiation.PostQuantumOnly, PQ1: primitive.MLDSA65}, qerrors.ErrInvalidPolicy},
		{"duplicate pq", negotiation.Policy{Mode: negotiation.TripleHybrid, Classical: primitive.X25519, PQ1: primitive.Kyber768, PQ2: primitive.Kyber768}, qerrors.ErrInvalidPolicy},
		{"unavailable", negotiation.Policy{Mode: negotiation.TripleHybrid, Classical: primitive.X25519, PQ1: primitive.Kyber768, PQ2: primitive.NTRUHPS2048509}, qerrors.ErrUnsupportedAlgorithm},
		{"bad mode", negotiation.Policy{Mode: negotiation.Mode(9)}, qerrors.ErrInvalidPolicy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate(reg)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if !qerrors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPolicyOffer(t *testing.T) {
	policy := negotiation.Policy{Mode: negotiation.DualHybrid, Classical: primitive.X25519, PQ1: primitive.Kyber768}

	offer := policy.Offer(primitive.Default(), primitive.Kyber768, primitive.MLKEM768, primitive.NTRUHPS2048509)
	want := ids("X25519", "Kyber768", "ML-KEM-768")
	if !reflect.DeepEqual(offer, want) {
		t.Errorf("Offer = %v, want %v", offer, want)
	}
}

func TestConfigurationVerify(t *testing.T) {
	offered := ids("X25519", "Kyber768", "ML-KEM-1024")

	good, _ := negotiation.FromAlgorithms(negotiation.DualHybrid, ids("X25519", "Kyber768"))
	if err := good.Verify(offered); err != nil {
		t.Errorf("Verify(good) = %v", err)
	}

	notOffered, _ := negotiation.FromAlgorithms(negotiation.DualHybrid, ids("X448", "Kyber768"))
	if err := notOffered.Verify(offered); !qerrors.Is(err, qerrors.ErrNoCompatibleConfiguration) {
		t.Errorf("Verify(not offered) = %v", err)
	}

	if _, err := negotiation.FromAlgorithms(negotiation.TripleHybrid, ids("X25519")); !qerrors.Is(err, qerrors.ErrMalformedMessage) {
		t.Errorf("FromAlgorithms with wrong arity = %v", err)
	}

	swapped := &negotiation.Configuration{Mode: negotiation.DualHybrid, Selections: []negotiation.Selection{
		{Algorithm: primitive.Kyber768, Role: negotiation.RolePrimaryPQ},
		{Algorithm: primitive.X25519, Role: negotiation.RoleClassical},
	}}
	if err := swapped.Verify(offered); !qerrors.Is(err, qerrors.ErrMalformedMessage) {
		t.Errorf("Verify(swapped roles) = %v", err)
	}
}

func TestSelectCipherSuite(t *testing.T) {
	server := constants.DefaultCipherSuites
	cs, err := negotiation.SelectCipherSuite(server, []constants.CipherSuite{constants.CipherSuiteAES128GCMSHA256, constants.CipherSuiteChaCha20Poly1305SHA256})
	if err != nil {
		t.Fatalf("SelectCipherSuite failed: %v", err)
	}
	if cs != constants.CipherSuiteChaCha20Poly1305SHA256 {
		t.Errorf("selected %v, want server preference ChaCha20", cs)
	}

	if _, err := negotiation.SelectCipherSuite(server, nil); !qerrors.Is(err, qerrors.ErrNoCompatibleConfiguration) {
		t.Errorf("empty offer error = %v", err)
	}
}

func TestModeText(t *testing.T) {
	data, err := json.Marshal(struct {
		Mode negotiation.Mode `json:"mode"`
	}{negotiation.TripleHybrid})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"mode":"triple_hybrid"}` {
		t.Errorf("Marshal = %s", data)
	}

	var m negotiation.Mode
	if err := json.Unmarshal([]byte(`"pq_only"`), &m); err != nil || m != negotiation.PostQuantumOnly {
		t.Errorf("Unmarshal(pq_only) = %v, %v", m, err)
	}
	if _, err := negotiation.ParseMode("quadruple_hybrid"); !qerrors.Is(err, qerrors.ErrInvalidPolicy) {
		t.Errorf("ParseMode(unknown) = %v", err)
	}
}
