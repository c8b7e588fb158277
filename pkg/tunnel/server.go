package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sara-star-quant/hybrid-kex/internal/constants"
	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
	"github.com/sara-star-quant/hybrid-kex/pkg/identity"
	"github.com/sara-star-quant/hybrid-kex/pkg/protocol"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Handshake is used for every accepted connection and every rekey.
	Handshake Config

	// MaxConnections caps concurrent connections. 0 means no limit.
	MaxConnections int

	// IdleTimeout closes sessions with no traffic for this long.
	IdleTimeout time.Duration

	// ReapInterval is how often idle sessions are swept. Defaults to a
	// quarter of IdleTimeout.
	ReapInterval time.Duration

	// WriteTimeout bounds each record write.
	WriteTimeout time.Duration

	RateLimit RateLimitConfig
}

// DefaultServerConfig returns a server configuration for policy defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Handshake: Config{
			HandshakeTimeout: constants.DefaultHandshakeTimeout,
			MaxFrameSize:     constants.DefaultMaxFrameSize,
		},
		MaxConnections: constants.DefaultMaxConnections,
		IdleTimeout:    constants.DefaultIdleTimeout,
		WriteTimeout:   constants.DefaultClientTimeout,
	}
}

// Server accepts connections, runs the responder handshake and serves
// application messages on the resulting sessions.
type Server struct {
	cfg      ServerConfig
	registry *SessionRegistry
	observer Observer

	conns            *ConnLimiter
	ipLimiter        *IPRateLimiter
	handshakeLimiter *HandshakeLimiter

	wg sync.WaitGroup
}

// NewServer validates cfg and creates a server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.Handshake.Policy.Validate(cfg.Handshake.registry()); err != nil {
		return nil, err
	}
	if len(cfg.Handshake.CipherSuites) > 0 {
		for _, cs := range cfg.Handshake.CipherSuites {
			if !cs.IsSupported() {
				return nil, fmt.Errorf("cipher suite %v: %w", cs, qerrors.ErrUnsupportedCipherSuite)
			}
		}
	}
	if cfg.ReapInterval <= 0 && cfg.IdleTimeout > 0 {
		cfg.ReapInterval = cfg.IdleTimeout / 4
	}

	s := &Server{
		cfg:      cfg,
		registry: NewSessionRegistry(cfg.Handshake.Now),
		observer: observerOrNop(cfg.Handshake.Observer),
		conns:    NewConnLimiter(cfg.MaxConnections),
	}
	if cfg.RateLimit.MaxConnectionsPerIP > 0 {
		s.ipLimiter = NewIPRateLimiter(cfg.RateLimit.MaxConnectionsPerIP)
	}
	if cfg.RateLimit.HandshakeRateLimit > 0 {
		s.handshakeLimiter = NewHandshakeLimiter(cfg.RateLimit.HandshakeRateLimit, cfg.RateLimit.HandshakeBurst, cfg.Handshake.Now)
	}
	return s, nil
}

// Registry returns the live session registry.
func (s *Server) Registry() *SessionRegistry {
	return s.registry
}

// Stats returns aggregate session statistics.
func (s *Server) Stats() RegistryStats {
	return s.registry.Stats()
}

// ListenAndServe listens on the TCP address addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %w", qerrors.ErrTransport, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends, then closes every session
// and waits for connection handlers to return. It returns nil on shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	go s.registry.Run(ctx, s.cfg.ReapInterval, s.cfg.IdleTimeout)

	var err error
	for {
		conn, aerr := ln.Accept()
		if aerr != nil {
			if ctx.Err() == nil && !errors.Is(aerr, net.ErrClosed) {
				err = fmt.Errorf("%w: %w", qerrors.ErrTransport, aerr)
			}
			break
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.ServeConn(ctx, conn)
		}()
	}

	cancel()
	s.registry.CloseAll()
	s.wg.Wait()
	return err
}

// ServeConn runs one connection to completion: admission, handshake and the
// session loop. conn is always closed.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	remote := extractRemoteIP(conn)

	if !s.conns.TryAcquire() {
		return s.reject(conn, remote, "server at max connections")
	}
	defer s.conns.Release()

	if s.ipLimiter != nil {
		if !s.ipLimiter.Acquire(remote) {
			return s.reject(conn, remote, "too many connections from "+remote)
		}
		conn = &rateLimitedConn{Conn: conn, limiter: s.ipLimiter, ip: remote}
	}
	defer conn.Close()

	if !s.handshakeLimiter.Allow() {
		return s.reject(conn, remote, "handshake rate limit exceeded")
	}

	res, err := ServerHandshake(ctx, conn, s.cfg.Handshake)
	if err != nil {
		return err
	}

	sess, err := NewSession(res, conn.RemoteAddr().String(), conn, s.cfg.Handshake.Now)
	if err != nil {
		res.Keys.Destroy()
		return err
	}
	if err := s.registry.Add(sess); err != nil {
		_ = sess.Close()
		return err
	}
	s.observer.OnSessionStart(sess)

	err = s.serveSession(ctx, sess, conn)

	s.registry.Remove(sess.ID)
	_ = sess.Close()
	s.observer.OnSessionEnd(sess, err)
	return err
}

func (s *Server) reject(conn net.Conn, remote, reason string) error {
	err := fmt.Errorf("%s: %w", reason, qerrors.ErrConnectionRejected)
	s.observer.OnConnectionRejected(remote, err)
	_ = conn.Close()
	return err
}

// serveSession answers application messages until the peer closes, the
// session idles out or an error ends it.
func (s *Server) serveSession(ctx context.Context, sess *Session, conn net.Conn) error {
	t, err := NewTransport(sess, conn, s.cfg.Handshake)
	if err != nil {
		return err
	}
	t.WriteTimeout = s.cfg.WriteTimeout
	stop := watchContext(ctx, t.Conn())
	defer stop()

	for {
		if s.cfg.IdleTimeout > 0 {
			_ = t.Conn().SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		msg, err := t.Receive()
		switch {
		case err == nil:
		case isClosed(err), isTimeout(err), sess.State() == SessionStateClosed:
			return nil
		default:
			if qerrors.KindOf(err) != qerrors.KindTransport {
				t.SendAlert(err)
			}
			return err
		}

		if msg.SessionID != "" && msg.SessionID != sess.ID {
			if err := s.sendError(t, "session id mismatch"); err != nil {
				return err
			}
			continue
		}

		done, err := s.handle(ctx, t, msg)
		if err != nil || done {
			return err
		}
	}
}

// handle answers one message. done reports that the session should end.
func (s *Server) handle(ctx context.Context, t *Transport, msg *protocol.AppMessage) (done bool, err error) {
	switch msg.Type {
	case protocol.AppPing:
		return false, t.Send(&protocol.AppMessage{Type: protocol.AppPong, Data: msg.Data})
	case protocol.AppEcho:
		return false, t.Send(&protocol.AppMessage{Type: protocol.AppEchoResponse, Data: msg.Data})
	case protocol.AppCryptoInfo:
		body, err := json.Marshal(s.cryptoInfo(t.Session()))
		if err != nil {
			return false, err
		}
		return false, t.Send(&protocol.AppMessage{Type: protocol.AppCryptoInfoResponse, Body: body})
	case protocol.AppRekey:
		return false, s.rekey(ctx, t)
	case protocol.AppClose:
		return true, nil
	default:
		return false, s.sendError(t, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (s *Server) sendError(t *Transport, message string) error {
	return t.Send(&protocol.AppMessage{Type: protocol.AppError, Message: message})
}

// rekey accepts the request under the current keys, runs a fresh handshake
// for the same session id and confirms under the new keys. Any failure
// ends the session.
func (s *Server) rekey(ctx context.Context, t *Transport) (err error) {
	sess := t.Session()
	if err := sess.BeginRekey(); err != nil {
		return s.sendError(t, err.Error())
	}
	defer func() { s.observer.OnRekey(sess, err) }()

	if err := t.Send(&protocol.AppMessage{Type: protocol.AppRekeyResponse, Status: protocol.RekeyAccepted}); err != nil {
		return err
	}

	cfg := s.cfg.Handshake
	cfg.SessionID = sess.ID
	t.ClearDeadlines()
	res, err := ServerHandshake(ctx, t.Conn(), cfg)
	if err != nil {
		return err
	}
	if err := sess.SwapKeys(res); err != nil {
		res.Keys.Destroy()
		return err
	}

	body, err := json.Marshal(RekeySummary{Algorithms: res.Algorithms, Duration: res.HandshakeDuration.Seconds()})
	if err != nil {
		return err
	}
	return t.Send(&protocol.AppMessage{Type: protocol.AppRekeyResponse, Status: protocol.RekeyComplete, Body: body})
}

// RekeySummary is the body of a completed rekey_response.
type RekeySummary struct {
	Algorithms []string `json:"algorithms"`
	Duration   float64  `json:"duration"`
}

// CryptoInfo is the body of a crypto_info_response.
type CryptoInfo struct {
	Session   SessionStats `json:"session_info"`
	Handshake Summary      `json:"handshake"`
	Server    ServerInfo   `json:"server_config"`
}

// ServerInfo describes the server's policy.
type ServerInfo struct {
	Mode           string         `json:"exchange_type"`
	Algorithms     []string       `json:"algorithms"`
	CipherSuites   []string       `json:"cipher_suites"`
	MaxFrameSize   int            `json:"max_frame_size"`
	ActiveSessions int            `json:"active_sessions"`
	Identity       *identity.Peer `json:"identity,omitempty"`
}

func (s *Server) cryptoInfo(sess *Session) *CryptoInfo {
	hs := s.cfg.Handshake
	algs := make([]string, 0, 3)
	for _, sel := range hs.Policy.Required() {
		algs = append(algs, string(sel.Algorithm))
	}
	info := &CryptoInfo{
		Session:   sess.Stats(),
		Handshake: sess.Result().Summary(),
		Server: ServerInfo{
			Mode:           hs.Policy.Mode.String(),
			Algorithms:     algs,
			CipherSuites:   protocol.CipherSuiteNames(hs.suites()),
			MaxFrameSize:   hs.codec().MaxFrameSize(),
			ActiveSessions: s.registry.Len(),
		},
	}
	if hs.Identity != nil {
		info.Server.Identity = hs.Identity.Peer()
	}
	return info
}
