package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
)

// AppType names an application message carried inside a Record.
type AppType string

const (
	AppPing               AppType = "ping"
	AppPong               AppType = "pong"
	AppEcho               AppType = "echo"
	AppEchoResponse       AppType = "echo_response"
	AppCryptoInfo         AppType = "crypto_info"
	AppCryptoInfoResponse AppType = "crypto_info_response"
	AppRekey              AppType = "rekey"
	AppRekeyResponse      AppType = "rekey_response"
	AppError              AppType = "error"
	AppClose              AppType = "close"
)

// Rekey response statuses.
const (
	RekeyAccepted = "accepted"
	RekeyComplete = "complete"
)

// AppMessage is the plaintext of a Record.
type AppMessage struct {
	Type      AppType         `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Data      string          `json:"data,omitempty"`
	Status    string          `json:"status,omitempty"`
	Message   string          `json:"message,omitempty"`
	Body      json.RawMessage `json:"body,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Validate checks an AppMessage.
func (m *AppMessage) Validate() error {
	if m.Type == "" {
		return malformed("app", "message without type")
	}
	return nil
}

// DecodeBody decodes the message body into v.
func (m *AppMessage) DecodeBody(v any) error {
	if len(m.Body) == 0 {
		return fmt.Errorf("%s without body: %w", m.Type, qerrors.ErrMalformedMessage)
	}
	if err := json.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("%s body: %v: %w", m.Type, err, qerrors.ErrMalformedMessage)
	}
	return nil
}

// EncodeAppMessage marshals m for sealing.
func EncodeAppMessage(m *AppMessage) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// DecodeAppMessage parses an opened record.
func DecodeAppMessage(plaintext []byte) (*AppMessage, error) {
	var m AppMessage
	if err := json.Unmarshal(plaintext, &m); err != nil {
		return nil, fmt.Errorf("app message: %v: %w", err, qerrors.ErrMalformedMessage)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
