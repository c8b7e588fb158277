// codec.go implements framing and envelope encoding.
//
// Wire Format:
//
//	+--------+---------------------------+
//	| Length | Envelope (UTF-8 JSON)     |
//	| 4B BE  | Length bytes              |
//	+--------+---------------------------+
//
// A zero length, a length above the configured maximum, invalid UTF-8 or
// invalid JSON is a malformed message. A failed read or write, including
// EOF mid-frame, is a transport error.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/sara-star-quant/hybrid-kex/internal/constants"
	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
)

// Codec reads and writes frames and envelopes.
type Codec struct {
	maxFrameSize int
	now          func() time.Time
	pool         *BufferPool
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithMaxFrameSize sets the largest accepted frame body.
func WithMaxFrameSize(n int) CodecOption {
	return func(c *Codec) {
		if n > 0 {
			c.maxFrameSize = n
		}
	}
}

// WithClock sets the clock used for envelope timestamps.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec creates a codec with the default 1 MiB frame limit.
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{
		maxFrameSize: constants.DefaultMaxFrameSize,
		now:          time.Now,
		pool:         globalBufferPool,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxFrameSize returns the frame body limit.
func (c *Codec) MaxFrameSize() int {
	return c.maxFrameSize
}

// Marshal wraps payload in an envelope and returns the frame body.
func (c *Codec) Marshal(t MessageType, sender Sender, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	body, err := json.Marshal(&Envelope{
		Type:      t,
		Sender:    sender,
		Timestamp: c.now().UTC(),
		Payload:   raw,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", t, err)
	}
	if len(body) > c.maxFrameSize {
		return nil, fmt.Errorf("%s is %d bytes, limit %d: %w", t, len(body), c.maxFrameSize, qerrors.ErrFrameTooLarge)
	}
	return body, nil
}

// Unmarshal parses and validates a frame body.
func (c *Codec) Unmarshal(body []byte) (*Envelope, error) {
	if !utf8.Valid(body) {
		return nil, qerrors.NewProtocolError("framing", fmt.Errorf("frame is not UTF-8: %w", qerrors.ErrMalformedMessage))
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, qerrors.NewProtocolError("framing", fmt.Errorf("%v: %w", err, qerrors.ErrMalformedMessage))
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// WriteFrame writes the length prefix and body in a single Write.
func (c *Codec) WriteFrame(w io.Writer, body []byte) error {
	if len(body) == 0 {
		return fmt.Errorf("empty frame: %w", qerrors.ErrMalformedMessage)
	}
	if len(body) > c.maxFrameSize {
		return fmt.Errorf("frame is %d bytes, limit %d: %w", len(body), c.maxFrameSize, qerrors.ErrFrameTooLarge)
	}

	buf := c.pool.Get(constants.FrameHeaderSize + len(body))
	defer c.pool.Put(buf)

	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[constants.FrameHeaderSize:], body)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w: %w", qerrors.ErrTransport, err)
	}
	return nil
}

// ReadFrame reads one frame body. The length is checked before the body
// is allocated.
func (c *Codec) ReadFrame(r io.Reader) ([]byte, error) {
	var header [constants.FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w: %w", qerrors.ErrTransport, err)
	}

	n := binary.BigEndian.Uint32(header[:])
	if n == 0 {
		return nil, qerrors.NewProtocolError("framing", fmt.Errorf("zero-length frame: %w", qerrors.ErrMalformedMessage))
	}
	if uint64(n) > uint64(c.maxFrameSize) {
		return nil, qerrors.NewProtocolError("framing", fmt.Errorf("frame is %d bytes, limit %d: %w", n, c.maxFrameSize, qerrors.ErrFrameTooLarge))
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w: %w", qerrors.ErrTransport, err)
	}
	return body, nil
}

// WriteMessage marshals payload, writes it as one frame and returns the
// body for the transcript.
func (c *Codec) WriteMessage(w io.Writer, t MessageType, sender Sender, payload any) ([]byte, error) {
	body, err := c.Marshal(t, sender, payload)
	if err != nil {
		return nil, err
	}
	if err := c.WriteFrame(w, body); err != nil {
		return nil, err
	}
	return body, nil
}

// ReadMessage reads one frame and parses its envelope. The raw body is
// returned for the transcript.
func (c *Codec) ReadMessage(r io.Reader) (*Envelope, []byte, error) {
	body, err := c.ReadFrame(r)
	if err != nil {
		return nil, nil, err
	}
	env, err := c.Unmarshal(body)
	if err != nil {
		return nil, nil, err
	}
	return env, body, nil
}

// Validator is implemented by every payload type.
type Validator interface {
	Validate() error
}

// DecodePayload decodes env's payload into v after checking the type. An
// alert in place of the expected message is returned as the error it
// carries.
func DecodePayload(env *Envelope, want MessageType, v Validator) error {
	if env.Type == MessageTypeAlert && want != MessageTypeAlert {
		var alert Alert
		if err := json.Unmarshal(env.Payload, &alert); err != nil {
			return qerrors.NewProtocolError("alert", fmt.Errorf("%v: %w", err, qerrors.ErrMalformedMessage))
		}
		return alert.Err()
	}
	if env.Type != want {
		return fmt.Errorf("got %s, want %s: %w", env.Type, want, qerrors.ErrUnexpectedMessage)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return qerrors.NewProtocolError(string(want), fmt.Errorf("%v: %w", err, qerrors.ErrMalformedMessage))
	}
	return v.Validate()
}
