// Package tunnel implements the encrypted data transport layer.
//
// This file (transport.go) provides:
//   - Sealed application messages carried as record envelopes
//   - Byte accounting per session
//   - Best-effort alerts and context-driven deadlines
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sara-star-quant/hybrid-kex/internal/constants"
	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
	"github.com/sara-star-quant/hybrid-kex/pkg/protocol"
)

// Transport carries application messages for one session over one
// connection. Sends are serialized; Receive must be called from a single
// goroutine.
type Transport struct {
	session  *Session
	conn     net.Conn
	codec    *protocol.Codec
	sender   protocol.Sender
	observer Observer
	now      func() time.Time

	// WriteTimeout bounds each frame write when positive.
	WriteTimeout time.Duration

	writeMu sync.Mutex
}

// NewTransport binds session to conn.
func NewTransport(session *Session, conn net.Conn, cfg Config) (*Transport, error) {
	if session.State() == SessionStateClosed {
		return nil, qerrors.ErrSessionClosed
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Transport{
		session:  session,
		conn:     conn,
		codec:    cfg.codec(),
		sender:   session.Role.sender(),
		observer: observerOrNop(cfg.Observer),
		now:      now,
	}, nil
}

// Session returns the bound session.
func (t *Transport) Session() *Session {
	return t.session
}

// Conn returns the underlying connection.
func (t *Transport) Conn() net.Conn {
	return t.conn
}

// Send seals m and writes it as a record.
func (t *Transport) Send(m *protocol.AppMessage) error {
	if m.SessionID == "" {
		m.SessionID = t.session.ID
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = t.now()
	}
	pt, err := protocol.EncodeAppMessage(m)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	rec, err := t.session.Seal(pt)
	if err != nil {
		return err
	}
	if t.WriteTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.WriteTimeout))
	}
	body, err := t.codec.WriteMessage(t.conn, protocol.MessageTypeRecord, t.sender, rec)
	if err != nil {
		return err
	}
	n := constants.FrameHeaderSize + len(body)
	t.session.BytesSent.Add(uint64(n))
	t.observer.OnRecord(DirectionSent, n)
	return nil
}

// Receive reads and opens the next record. A peer alert is returned as an
// error.
func (t *Transport) Receive() (*protocol.AppMessage, error) {
	env, body, err := t.codec.ReadMessage(t.conn)
	if err != nil {
		t.recordProtocolError(err)
		return nil, err
	}
	n := constants.FrameHeaderSize + len(body)
	t.session.BytesReceived.Add(uint64(n))
	t.observer.OnRecord(DirectionReceived, n)

	if env.Sender != t.sender.Peer() {
		err := fmt.Errorf("%s from %s: %w", env.Type, env.Sender, qerrors.ErrUnexpectedMessage)
		t.recordProtocolError(err)
		return nil, err
	}
	var rec protocol.Record
	if err := protocol.DecodePayload(env, protocol.MessageTypeRecord, &rec); err != nil {
		t.recordProtocolError(err)
		return nil, err
	}
	pt, err := t.session.Open(&rec)
	if err != nil {
		t.recordProtocolError(err)
		return nil, err
	}
	msg, err := protocol.DecodeAppMessage(pt)
	if err != nil {
		t.recordProtocolError(err)
		return nil, err
	}
	return msg, nil
}

// SendAlert tells the peer about a fatal error. It gives up after a short
// write deadline.
func (t *Transport) SendAlert(cause error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(alertWriteTimeout))
	_, _ = t.codec.WriteMessage(t.conn, protocol.MessageTypeAlert, t.sender, protocol.NewAlert(cause))
}

// ClearDeadlines removes read and write deadlines before a handshake reuses
// the connection.
func (t *Transport) ClearDeadlines() {
	clearDeadlines(t.conn)
}

// Close closes the session and the connection.
func (t *Transport) Close() error {
	return t.session.Close()
}

func (t *Transport) recordProtocolError(err error) {
	if isProtocolError(err) {
		t.observer.OnProtocolError(err)
	}
}

// isProtocolError reports whether err is the peer misbehaving rather than
// the connection going away or the peer reporting an error of its own.
func isProtocolError(err error) bool {
	var alerted *protocol.AlertError
	if err == nil || errors.As(err, &alerted) {
		return false
	}
	return qerrors.CategoryOf(err) == qerrors.CategoryProtocol
}

// isClosed reports whether err means the peer went away cleanly.
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// isTimeout reports whether err is a deadline expiring.
func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// watchContext forces rw's deadline into the past when ctx ends, so
// blocked reads and writes return. stop reports false if that already
// happened, and then waits for the deadline to be set.
func watchContext(ctx context.Context, rw any) (stop func() bool) {
	dl, ok := rw.(interface{ SetDeadline(time.Time) error })
	if !ok {
		return func() bool { return ctx.Err() == nil }
	}
	fired := make(chan struct{})
	stopFunc := context.AfterFunc(ctx, func() {
		_ = dl.SetDeadline(time.Now())
		close(fired)
	})
	return func() bool {
		if stopFunc() {
			return true
		}
		<-fired
		return false
	}
}

// clearDeadlines removes any read and write deadline from rw.
func clearDeadlines(rw any) {
	if dl, ok := rw.(interface{ SetDeadline(time.Time) error }); ok {
		_ = dl.SetDeadline(time.Time{})
	}
}

// extractRemoteIP extracts the IP address from a connection.
func extractRemoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err == nil {
		return host
	}
	return addr.String()
}

// rateLimitedConn releases its per-IP slot on close.
type rateLimitedConn struct {
	net.Conn
	limiter   *IPRateLimiter
	ip        string
	closeOnce sync.Once
}

func (c *rateLimitedConn) Close() error {
	err := c.Conn.Close()
	c.closeOnce.Do(func() {
		c.limiter.Release(c.ip)
	})
	return err
}
