// Package metrics provides observability for hybrid key exchange servers
// and clients.
//
// # Overview
//
//   - Logger: leveled structured logging on zap, text or JSON.
//   - Collector: prometheus metrics for handshakes, sessions and rekeys,
//     each in its own registry.
//   - Tracer: a small span interface with no-op, in-memory and
//     OpenTelemetry implementations.
//   - HandshakeObserver: a tunnel.Observer that feeds all three.
//   - HealthCheck and Server: /metrics, /health, /healthz and /readyz.
//
// # Wiring
//
//	collector := metrics.NewCollector("", metrics.Labels{"instance": "node-1"})
//	obs := metrics.NewHandshakeObserver(metrics.ObserverConfig{
//		Collector: collector,
//		Tracer:    metrics.NewOTelTracer(""),
//		Logger:    metrics.NewLogger(metrics.WithFormat(metrics.FormatJSON)),
//	})
//
//	cfg := tunnel.DefaultServerConfig()
//	cfg.Handshake.Observer = obs
//	srv, err := tunnel.NewServer(cfg)
//
//	health := metrics.NewHealthCheck(srv.Stats, version.String())
//	go metrics.NewServer(collector, health).ListenAndServe(ctx, ":9090")
//
// # Metrics
//
// All names carry the collector namespace, "hybridkex" by default:
//
//	handshakes_total{mode,result}
//	handshake_duration_seconds{mode}
//	handshake_errors_total{kind}
//	sessions_active
//	session_bytes_total{direction}
//	session_records_total{direction}
//	rekeys_total{result}
//	frames_rejected_total
//	connections_rejected_total
//
// # Logging
//
// The global logger is used when no logger is configured:
//
//	metrics.SetLogger(metrics.NewLogger(metrics.WithLevel(metrics.LevelDebug)))
//	metrics.Info("listening", metrics.Fields{"addr": addr})
//
// Loggers derived with With or Named share the level of their parent, so
// SetLevel on the root changes all of them.
package metrics
