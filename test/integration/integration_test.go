package integration

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sara-star-quant/hybrid-kex/internal/constants"
	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
	"github.com/sara-star-quant/hybrid-kex/pkg/identity"
	"github.com/sara-star-quant/hybrid-kex/pkg/negotiation"
	"github.com/sara-star-quant/hybrid-kex/pkg/primitive"
	"github.com/sara-star-quant/hybrid-kex/pkg/tunnel"
)

var dualPolicy = negotiation.Policy{Mode: negotiation.DualHybrid, Classical: primitive.X25519, PQ1: primitive.MLKEM768}

// startServer serves cfg on a loopback port until the test ends.
func startServer(t *testing.T, cfg tunnel.ServerConfig) (*tunnel.Server, string) {
	t.Helper()
	srv, err := tunnel.NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return srv, ln.Addr().String()
}

func serverConfig(policy negotiation.Policy) tunnel.ServerConfig {
	cfg := tunnel.DefaultServerConfig()
	cfg.Handshake.Policy = policy
	return cfg
}

func dial(t *testing.T, addr string, cfg tunnel.Config) *tunnel.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := tunnel.Dial(ctx, "tcp", addr, cfg)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// eventually polls cond, since server-side counters update after the
// client has its response.
func eventually(t *testing.T, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Errorf(format, args...)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandshakeEveryMode(t *testing.T) {
	policies := []negotiation.Policy{
		{Mode: negotiation.ClassicalOnly, Classical: primitive.ECDHP256},
		{Mode: negotiation.PostQuantumOnly, PQ1: primitive.Kyber1024},
		dualPolicy,
		{Mode: negotiation.TripleHybrid, Classical: primitive.X448, PQ1: primitive.MLKEM1024, PQ2: primitive.FrodoKEM640SHAKE},
	}
	for _, policy := range policies {
		t.Run(policy.Mode.String(), func(t *testing.T) {
			_, addr := startServer(t, serverConfig(policy))
			client := dial(t, addr, tunnel.Config{Policy: policy})

			res := client.Result()
			if !res.Success || res.Mode != policy.Mode {
				t.Fatalf("result %+v", res.Summary())
			}
			if len(res.Algorithms) != len(policy.Required()) {
				t.Errorf("algorithms %v", res.Algorithms)
			}

			reply, err := client.Echo(context.Background(), "across "+policy.Mode.String())
			if err != nil {
				t.Fatalf("Echo: %v", err)
			}
			if reply != "across "+policy.Mode.String() {
				t.Errorf("echo %q", reply)
			}
		})
	}
}

func TestApplicationMessages(t *testing.T) {
	_, addr := startServer(t, serverConfig(dualPolicy))
	client := dial(t, addr, tunnel.Config{Policy: dualPolicy})
	ctx := context.Background()

	if _, err := client.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	info, err := client.CryptoInfo(ctx)
	if err != nil {
		t.Fatalf("CryptoInfo: %v", err)
	}
	if info.Session.ID != client.Session().ID {
		t.Errorf("server session %s, client %s", info.Session.ID, client.Session().ID)
	}
	if info.Server.Mode != "dual_hybrid" || info.Handshake.GroupName != client.Result().GroupName {
		t.Errorf("crypto info %+v", info)
	}
	if info.Server.ActiveSessions != 1 {
		t.Errorf("active sessions %d", info.Server.ActiveSessions)
	}
}

func TestLargeEcho(t *testing.T) {
	_, addr := startServer(t, serverConfig(dualPolicy))
	client := dial(t, addr, tunnel.Config{Policy: dualPolicy})

	payload := strings.Repeat("0123456789abcdef", 16<<10)
	reply, err := client.Echo(context.Background(), payload)
	if err != nil {
		t.Fatalf("Echo: %v", err)
	}
	if reply != payload {
		t.Errorf("echo of %d bytes came back as %d bytes", len(payload), len(reply))
	}
}

func TestConcurrentClients(t *testing.T) {
	srv, addr := startServer(t, serverConfig(dualPolicy))

	const clients = 8
	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()
			client, err := tunnel.Dial(ctx, "tcp", addr, tunnel.Config{Policy: dualPolicy})
			if err != nil {
				errs <- err
				return
			}
			defer client.Close()
			for j := 0; j < 5; j++ {
				msg := fmt.Sprintf("client %d message %d", i, j)
				reply, err := client.Echo(ctx, msg)
				if err != nil {
					errs <- err
					return
				}
				if reply != msg {
					errs <- fmt.Errorf("got %q, want %q", reply, msg)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	eventually(t, func() bool {
		stats := srv.Stats()
		return stats.BytesReceived > 0 && stats.BytesSent > 0
	}, "no traffic counted: %+v", srv.Stats())
}

func TestSessionStatistics(t *testing.T) {
	srv, addr := startServer(t, serverConfig(dualPolicy))
	client := dial(t, addr, tunnel.Config{Policy: dualPolicy})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := client.Echo(ctx, "count me"); err != nil {
			t.Fatal(err)
		}
	}

	cs := client.Session().Stats()
	if cs.RecordsSent != 3 || cs.RecordsReceived != 3 {
		t.Errorf("client records sent %d received %d", cs.RecordsSent, cs.RecordsReceived)
	}

	eventually(t, func() bool {
		stats := srv.Stats()
		return stats.ActiveSessions == 1 && stats.BytesReceived == cs.BytesSent && stats.BytesSent == cs.BytesReceived
	}, "server %+v, client sent %d received %d", srv.Stats(), cs.BytesSent, cs.BytesReceived)
}

func TestRekey(t *testing.T) {
	srv, addr := startServer(t, serverConfig(dualPolicy))
	client := dial(t, addr, tunnel.Config{Policy: dualPolicy})
	ctx := context.Background()

	before := client.Result()
	res, err := client.Rekey(ctx)
	if err != nil {
		t.Fatalf("Rekey: %v", err)
	}
	if res.SessionID != before.SessionID {
		t.Errorf("rekey changed the session id: %s -> %s", before.SessionID, res.SessionID)
	}
	if string(res.TranscriptHash) == string(before.TranscriptHash) {
		t.Error("rekey reused the transcript")
	}
	if _, err := client.Echo(ctx, "after rekey"); err != nil {
		t.Fatalf("Echo after rekey: %v", err)
	}
	eventually(t, func() bool { return srv.Stats().Rekeys == 1 }, "server rekeys %d", srv.Stats().Rekeys)
}

func TestDifferentCipherSuites(t *testing.T) {
	suites := []constants.CipherSuite{
		constants.CipherSuiteAES256GCMSHA384,
		constants.CipherSuiteChaCha20Poly1305SHA256,
		constants.CipherSuiteAES128GCMSHA256,
	}
	for _, cs := range suites {
		t.Run(cs.String(), func(t *testing.T) {
			_, addr := startServer(t, serverConfig(dualPolicy))
			client := dial(t, addr, tunnel.Config{Policy: dualPolicy, CipherSuites: []constants.CipherSuite{cs}})

			if got := client.Result().CipherSuite; got != cs {
				t.Errorf("negotiated %v", got)
			}
			if _, err := client.Echo(context.Background(), "suite check"); err != nil {
				t.Fatalf("Echo: %v", err)
			}
		})
	}
}

func TestIncompatiblePolicies(t *testing.T) {
	srv, addr := startServer(t, serverConfig(dualPolicy))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client := negotiation.Policy{Mode: negotiation.DualHybrid, Classical: primitive.X25519, PQ1: primitive.Kyber768}
	_, err := tunnel.Dial(ctx, "tcp", addr, tunnel.Config{Policy: client})
	if !errors.Is(err, qerrors.ErrNoCompatibleConfiguration) {
		t.Fatalf("got %v, want no compatible configuration", err)
	}
	if st := srv.Stats(); st.ActiveSessions != 0 {
		t.Errorf("failed negotiation registered %d sessions", st.ActiveSessions)
	}
}

func TestServerIdentityPinning(t *testing.T) {
	signer, err := primitive.Default().Signer(primitive.MLDSA65)
	if err != nil {
		t.Fatal(err)
	}
	id, err := identity.New(signer, "kex.test", identity.DefaultValidity, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	defer id.Destroy()

	cfg := serverConfig(dualPolicy)
	cfg.Handshake.Identity = id
	_, addr := startServer(t, cfg)

	client := dial(t, addr, tunnel.Config{Policy: dualPolicy, TrustedKey: id.PublicKey(), ServerName: "kex.test"})
	peer := client.Result().ServerIdentity
	if peer == nil || peer.Subject != "kex.test" {
		t.Fatalf("server identity %+v", peer)
	}

	wrong := append([]byte(nil), id.PublicKey()...)
	wrong[0] ^= 0xff
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = tunnel.Dial(ctx, "tcp", addr, tunnel.Config{Policy: dualPolicy, TrustedKey: wrong})
	if !errors.Is(err, qerrors.ErrInvalidCertificate) {
		t.Errorf("wrong pin: got %v", err)
	}
}

func TestIdleSessionClosed(t *testing.T) {
	cfg := serverConfig(dualPolicy)
	cfg.IdleTimeout = 200 * time.Millisecond
	srv, addr := startServer(t, cfg)
	client := dial(t, addr, tunnel.Config{Policy: dualPolicy})

	if _, err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for srv.Stats().ActiveSessions != 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle session was not closed")
		}
		time.Sleep(50 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx); err == nil {
		t.Error("ping succeeded on an idled-out session")
	}
}
