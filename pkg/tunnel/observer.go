package tunnel

import "context"

// Direction labels record traffic.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Observer provides hooks for handshake and session lifecycle, metrics and
// tracing. Implementations should be lightweight; callbacks run on the
// connection's goroutine.
type Observer interface {
	OnHandshakeStart(ctx context.Context, role Role) (context.Context, func(*Result, error))
	OnSessionStart(session *Session)
	OnSessionEnd(session *Session, err error)
	OnRecord(direction Direction, n int)
	OnRekey(session *Session, err error)
	OnProtocolError(err error)
	OnConnectionRejected(remote string, reason error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnHandshakeStart(ctx context.Context, _ Role) (context.Context, func(*Result, error)) {
	return ctx, func(*Result, error) {}
}
func (NopObserver) OnSessionStart(*Session) {}
func (NopObserver) OnSessionEnd(*Session, error) {}
func (NopObserver) OnRecord(Direction, int) {}
func (NopObserver) OnRekey(*Session, error) {}
func (NopObserver) OnProtocolError(error) {}
func (NopObserver) OnConnectionRejected(string, error) {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return NopObserver{}
	}
	return o
}
