package metrics

import (
	"context"
	"sync"
	"time"

	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
	"github.com/sara-star-quant/hybrid-kex/pkg/tunnel"
)

// HandshakeObserver records tunnel events as prometheus metrics, spans and
// log entries.
type HandshakeObserver struct {
	collector *Collector
	tracer    Tracer
	logger    *Logger

	sessions sync.Map // *tunnel.Session -> SpanEnder
}

var _ tunnel.Observer = (*HandshakeObserver)(nil)

// ObserverConfig configures a HandshakeObserver. Nil fields fall back to
// the package globals.
type ObserverConfig struct {
	Collector *Collector
	Tracer    Tracer
	Logger    *Logger
}

// NewHandshakeObserver creates an observer.
func NewHandshakeObserver(cfg ObserverConfig) *HandshakeObserver {
	if cfg.Collector == nil {
		cfg.Collector = Global()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = GetTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = GetLogger()
	}
	return &HandshakeObserver{
		collector: cfg.Collector,
		tracer:    cfg.Tracer,
		logger:    cfg.Logger.Named("tunnel"),
	}
}

// Logger returns the observer's logger.
func (o *HandshakeObserver) Logger() *Logger {
	return o.logger
}

// OnHandshakeStart opens a handshake span. The returned function records
// the outcome.
func (o *HandshakeObserver) OnHandshakeStart(ctx context.Context, role tunnel.Role) (context.Context, func(*tunnel.Result, error)) {
	name, kind := SpanHandshakeInitiator, SpanKindClient
	if role == tunnel.RoleResponder {
		name, kind = SpanHandshakeResponder, SpanKindServer
	}

	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, name,
		WithSpanKind(kind),
		WithAttributes(SpanAttributes{Role: role.String()}.ToMap()))
	o.logger.Debug("handshake started", Fields{"role": role.String()})

	return ctx, func(res *tunnel.Result, err error) {
		d := time.Since(start)
		mode := "unknown"
		if res != nil {
			mode = res.Mode.String()
			if res.HandshakeDuration > 0 {
				d = res.HandshakeDuration
			}
		}

		if err != nil {
			kind := qerrors.KindOf(err)
			o.collector.HandshakeFailed(mode, kind.String(), d)
			o.logger.Warn("handshake failed", Fields{
				"role":     role.String(),
				"mode":     mode,
				"kind":     kind.String(),
				"duration": d,
				"error":    err,
			})
		} else {
			o.collector.HandshakeCompleted(mode, d)
			o.logger.Info("handshake completed", resultFields(res, d))
		}
		endSpan(err)
	}
}

func resultFields(res *tunnel.Result, d time.Duration) Fields {
	f := Fields{
		"role":       res.Role.String(),
		"mode":       res.Mode.String(),
		"session_id": res.SessionID,
		"algorithms": res.Algorithms,
		"duration":   d,
	}
	if res.GroupName != "" {
		f["group"] = res.GroupName
	}
	if res.CipherSuite.IsSupported() {
		f["cipher_suite"] = res.CipherSuite.String()
	}
	if res.ServerIdentity != nil {
		f["server_identity"] = res.ServerIdentity.Subject
	}
	return f
}

// OnSessionStart counts an established session.
func (o *HandshakeObserver) OnSessionStart(s *tunnel.Session) {
	o.collector.SessionStarted()
	res := s.Result()
	_, end := o.tracer.StartSpan(context.Background(), SpanSession, WithAttributes(SpanAttributes{
		SessionID:   s.ID,
		Role:        s.Role.String(),
		Mode:        res.Mode.String(),
		GroupName:   res.GroupName,
		CipherSuite: res.CipherSuite.String(),
		Algorithms:  res.Algorithms,
	}.ToMap()))
	o.sessions.Store(s, end)
	o.logger.Info("session started", Fields{
		"session_id": s.ID,
		"role":       s.Role.String(),
		"peer":       s.PeerAddress,
	})
}

// OnSessionEnd records a closed session and its traffic.
func (o *HandshakeObserver) OnSessionEnd(s *tunnel.Session, err error) {
	o.collector.SessionEnded()
	if end, ok := o.sessions.LoadAndDelete(s); ok {
		end.(SpanEnder)(err)
	}
	st := s.Stats()
	fields := Fields{
		"session_id":     st.ID,
		"bytes_sent":     st.BytesSent,
		"bytes_received": st.BytesReceived,
		"rekeys":         st.Rekeys,
	}
	if err != nil {
		fields["error"] = err
		o.logger.Warn("session ended", fields)
		return
	}
	o.logger.Info("session ended", fields)
}

// OnRecord counts record traffic.
func (o *HandshakeObserver) OnRecord(direction tunnel.Direction, n int) {
	o.collector.RecordTraffic(string(direction), n)
}

// OnRekey records a rekey outcome.
func (o *HandshakeObserver) OnRekey(s *tunnel.Session, err error) {
	o.collector.RecordRekey(err)
	if err != nil {
		o.logger.Error("rekey failed", Fields{"session_id": s.ID, "error": err})
		return
	}
	o.logger.Info("rekey completed", Fields{"session_id": s.ID, "rekeys": s.Rekeys.Load()})
}

// OnProtocolError counts a rejected frame.
func (o *HandshakeObserver) OnProtocolError(err error) {
	o.collector.FrameRejected()
	o.logger.Warn("frame rejected", Fields{"kind": qerrors.KindOf(err).String(), "error": err})
}

// OnConnectionRejected counts a refused connection.
func (o *HandshakeObserver) OnConnectionRejected(remote string, reason error) {
	o.collector.ConnectionRejected()
	o.logger.Warn("connection rejected", Fields{"remote": remote, "reason": reason})
}
