// Package hybridkex negotiates and runs hybrid key exchanges that combine a
// classical key agreement with one or two post-quantum KEMs.
//
// A client and server each hold a policy naming an exchange mode
// (classical, pq_only, dual_hybrid or triple_hybrid) and the algorithm for
// every slot the mode uses. Negotiation is all-or-nothing: either every
// required algorithm is shared, or the handshake fails with
// ErrNoCompatibleConfiguration. The per-algorithm secrets are concatenated in
// classical, primary PQ, secondary PQ order and run through HKDF-SHA384,
// bound to the mode and the SHA3-384 transcript hash.
//
// # Quick Start
//
// To serve and connect:
//
//	import "github.com/sara-star-quant/hybrid-kex/pkg/tunnel"
//
//	policy := negotiation.Policy{
//		Mode:      negotiation.DualHybrid,
//		Classical: primitive.X25519,
//		PQ1:       primitive.MLKEM768,
//	}
//
//	cfg := tunnel.DefaultServerConfig()
//	cfg.Handshake.Policy = policy
//	srv, _ := tunnel.NewServer(cfg)
//	go srv.ListenAndServe(ctx, ":8443")
//
//	client, _ := tunnel.Dial(ctx, "tcp", "localhost:8443", tunnel.Config{Policy: policy})
//	defer client.Close()
//	fmt.Println(client.Result().Summary().GroupName) // hybrid_X25519_ML-KEM-768
//	reply, _ := client.Echo(ctx, "hello")
//
// # Package Structure
//
//   - pkg/primitive: capability interfaces and the algorithm registry (circl, crypto/ecdh)
//   - pkg/negotiation: modes, policies and all-or-nothing negotiation
//   - pkg/crypto: HKDF key schedule, transcript hash, AEAD record protection
//   - pkg/identity: JWT server certificates signed with ML-DSA or Ed25519
//   - pkg/protocol: JSON envelopes and length-prefixed framing
//   - pkg/tunnel: handshake state machine, sessions, server and client
//   - pkg/metrics: zap logging, prometheus metrics, tracing, health checks
//   - internal/config: YAML, .env and environment configuration
//   - cmd/hybrid-kex: command line server, client, demo and benchmark
//
// # Testing
//
//	go test ./...                                     # All tests
//	go test -fuzz=FuzzServerHandshake ./test/fuzz/    # Fuzz tests
//	go test -bench=. ./test/benchmark                 # Benchmarks
//
// # References
//
//   - NIST FIPS 203: Module-Lattice-Based Key-Encapsulation Mechanism Standard
//   - NIST FIPS 204: Module-Lattice-Based Digital Signature Standard
//   - RFC 5869: HMAC-based Extract-and-Expand Key Derivation Function
//   - RFC 7748: Elliptic Curves for Security
//   - RFC 8446: The Transport Layer Security Protocol Version 1.3
package hybridkex
