package tunnel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
	"github.com/sara-star-quant/hybrid-kex/pkg/protocol"
)

// Client is the initiator side of an established session. Requests are
// serialized; each waits for its response.
type Client struct {
	cfg       Config
	transport *Transport
	observer  Observer

	mu sync.Mutex
}

// Dial connects to addr and completes the handshake.
func Dial(ctx context.Context, network, addr string, cfg Config) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", qerrors.ErrTransport, err)
	}
	c, err := NewClient(ctx, conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// NewClient runs the initiator handshake over conn. On failure the caller
// still owns conn.
func NewClient(ctx context.Context, conn net.Conn, cfg Config) (*Client, error) {
	res, err := ClientHandshake(ctx, conn, cfg)
	if err != nil {
		return nil, err
	}
	sess, err := NewSession(res, conn.RemoteAddr().String(), conn, cfg.Now)
	if err != nil {
		res.Keys.Destroy()
		return nil, err
	}
	t, err := NewTransport(sess, conn, cfg)
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	obs := observerOrNop(cfg.Observer)
	obs.OnSessionStart(sess)
	return &Client{cfg: cfg, transport: t, observer: obs}, nil
}

// Session returns the client's session.
func (c *Client) Session() *Session {
	return c.transport.Session()
}

// Result returns the handshake behind the current keys.
func (c *Client) Result() *Result {
	return c.Session().Result()
}

// Ping measures one request round trip.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := c.roundTrip(ctx, &protocol.AppMessage{Type: protocol.AppPing}, protocol.AppPong); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Echo sends data and returns what the server echoed.
func (c *Client) Echo(ctx context.Context, data string) (string, error) {
	resp, err := c.roundTrip(ctx, &protocol.AppMessage{Type: protocol.AppEcho, Data: data}, protocol.AppEchoResponse)
	if err != nil {
		return "", err
	}
	return resp.Data, nil
}

// CryptoInfo asks the server to describe the session.
func (c *Client) CryptoInfo(ctx context.Context) (*CryptoInfo, error) {
	resp, err := c.roundTrip(ctx, &protocol.AppMessage{Type: protocol.AppCryptoInfo}, protocol.AppCryptoInfoResponse)
	if err != nil {
		return nil, err
	}
	var info CryptoInfo
	if err := resp.DecodeBody(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Send writes an arbitrary application message and returns the reply.
func (c *Client) Send(ctx context.Context, m *protocol.AppMessage) (*protocol.AppMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stop := watchContext(ctx, c.transport.Conn())
	defer stop()
	if err := c.transport.Send(m); err != nil {
		return nil, err
	}
	return c.transport.Receive()
}

func (c *Client) roundTrip(ctx context.Context, m *protocol.AppMessage, want protocol.AppType) (*protocol.AppMessage, error) {
	resp, err := c.Send(ctx, m)
	if err != nil {
		return nil, err
	}
	switch resp.Type {
	case want:
		return resp, nil
	case protocol.AppError:
		return nil, fmt.Errorf("server error: %s: %w", resp.Message, qerrors.ErrUnexpectedMessage)
	default:
		return nil, fmt.Errorf("got %s, want %s: %w", resp.Type, want, qerrors.ErrUnexpectedMessage)
	}
}

// Rekey runs a fresh handshake over the connection and replaces the
// session keys. If it fails the session is closed.
func (c *Client) Rekey(ctx context.Context) (res *Result, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.transport.Session()
	if err := sess.BeginRekey(); err != nil {
		return nil, err
	}
	defer func() {
		c.observer.OnRekey(sess, err)
		if err != nil {
			_ = c.transport.Close()
		}
	}()

	stop := watchContext(ctx, c.transport.Conn())
	defer stop()

	if err := c.transport.Send(&protocol.AppMessage{Type: protocol.AppRekey}); err != nil {
		return nil, err
	}
	resp, err := c.transport.Receive()
	if err != nil {
		return nil, err
	}
	if resp.Type != protocol.AppRekeyResponse || resp.Status != protocol.RekeyAccepted {
		return nil, fmt.Errorf("rekey refused: %s %s: %w", resp.Type, resp.Message, qerrors.ErrUnexpectedMessage)
	}

	cfg := c.cfg
	cfg.SessionID = sess.ID
	res, err = ClientHandshake(ctx, c.transport.Conn(), cfg)
	if err != nil {
		return res, err
	}
	if err := sess.SwapKeys(res); err != nil {
		res.Keys.Destroy()
		return res, err
	}

	resp, err = c.transport.Receive()
	if err != nil {
		return res, err
	}
	if resp.Type != protocol.AppRekeyResponse || resp.Status != protocol.RekeyComplete {
		return res, fmt.Errorf("rekey not confirmed: %s %s: %w", resp.Type, resp.Status, qerrors.ErrUnexpectedMessage)
	}
	return res, nil
}

// Close tells the server the session is over and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.transport.Session()
	if sess.State() == SessionStateClosed {
		return nil
	}
	c.transport.WriteTimeout = alertWriteTimeout
	_ = c.transport.Send(&protocol.AppMessage{Type: protocol.AppClose})
	err := c.transport.Close()
	c.observer.OnSessionEnd(sess, nil)
	return err
}
