// messages.go defines the handshake and record messages.
//
// Handshake flow:
//
//	Client                                 Server
//	    |                                      |
//	    | -------- ClientHello --------------> |
//	    | <------- ServerHello --------------- |
//	    | <------- KeyShare (public keys) ---- |
//	    | -------- KeyShare (pub / ct) ------> |
//	    | <------- Finished ------------------ |
//	    | -------- Finished -----------------> |
//	    |                                      |
//	    |    ===== Records (AEAD) =====        |
//
// Byte fields are base64 in JSON.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sara-star-quant/hybrid-kex/internal/constants"
	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
	"github.com/sara-star-quant/hybrid-kex/pkg/negotiation"
	"github.com/sara-star-quant/hybrid-kex/pkg/primitive"
)

// MessageType names the payload carried by an Envelope.
type MessageType string

const (
	MessageTypeClientHello MessageType = "client_hello"
	MessageTypeServerHello MessageType = "server_hello"
	MessageTypeKeyShare    MessageType = "key_share"
	MessageTypeFinished    MessageType = "finished"
	MessageTypeAlert       MessageType = "alert"
	MessageTypeRecord      MessageType = "record"
)

// IsHandshake reports whether t belongs to the handshake flow.
func (t MessageType) IsHandshake() bool {
	switch t {
	case MessageTypeClientHello, MessageTypeServerHello, MessageTypeKeyShare, MessageTypeFinished:
		return true
	}
	return false
}

// Sender identifies which peer produced a message.
type Sender string

const (
	SenderClient Sender = "client"
	SenderServer Sender = "server"
)

// Peer returns the other side.
func (s Sender) Peer() Sender {
	if s == SenderClient {
		return SenderServer
	}
	return SenderClient
}

// Envelope is the JSON object carried in every frame.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Sender    Sender          `json:"sender"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Validate checks the envelope header fields.
func (e *Envelope) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("envelope without type: %w", qerrors.ErrMalformedMessage)
	}
	if e.Sender != SenderClient && e.Sender != SenderServer {
		return fmt.Errorf("envelope sender %q: %w", e.Sender, qerrors.ErrMalformedMessage)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s envelope without payload: %w", e.Type, qerrors.ErrMalformedMessage)
	}
	return nil
}

// ClientHello opens the handshake.
type ClientHello struct {
	ProtocolVersion string                  `json:"protocol_version"`
	Random          []byte                  `json:"random"`
	CipherSuites    []string                `json:"cipher_suites"`
	SupportedGroups []primitive.AlgorithmID `json:"supported_groups"`
	RequestedMode   negotiation.Mode        `json:"requested_mode"`
	Extensions      map[string]string       `json:"extensions,omitempty"`
}

// Validate checks a ClientHello.
func (m *ClientHello) Validate() error {
	if m.ProtocolVersion == "" {
		return malformed("client_hello", "missing protocol_version")
	}
	if len(m.Random) != constants.RandomSize {
		return malformed("client_hello", fmt.Sprintf("random is %d bytes", len(m.Random)))
	}
	if len(m.CipherSuites) == 0 {
		return malformed("client_hello", "no cipher suites")
	}
	if len(m.SupportedGroups) == 0 {
		return malformed("client_hello", "no supported groups")
	}
	for _, g := range m.SupportedGroups {
		if g == "" {
			return malformed("client_hello", "empty group name")
		}
	}
	return nil
}

// ServerHello carries the server's negotiation decision.
type ServerHello struct {
	ProtocolVersion string                  `json:"protocol_version"`
	Random          []byte                  `json:"random"`
	SelectedGroup   string                  `json:"selected_group"`
	CipherSuite     string                  `json:"cipher_suite"`
	Mode            negotiation.Mode        `json:"mode"`
	Algorithms      []primitive.AlgorithmID `json:"algorithms"`
	SessionID       string                  `json:"session_id"`
}

// Validate checks a ServerHello.
func (m *ServerHello) Validate() error {
	if m.ProtocolVersion == "" {
		return malformed("server_hello", "missing protocol_version")
	}
	if len(m.Random) != constants.RandomSize {
		return malformed("server_hello", fmt.Sprintf("random is %d bytes", len(m.Random)))
	}
	if len(m.Algorithms) == 0 || m.SelectedGroup == "" {
		return malformed("server_hello", "no selected group")
	}
	if m.CipherSuite == "" {
		return malformed("server_hello", "no cipher suite")
	}
	if len(m.SessionID) != 2*constants.SessionIDSize {
		return malformed("server_hello", fmt.Sprintf("session id %q", m.SessionID))
	}
	return nil
}

// KeyShareEntry is one primitive's share. Exactly one of PublicKey and
// Ciphertext is set.
type KeyShareEntry struct {
	Algorithm  primitive.AlgorithmID `json:"algorithm"`
	PublicKey  []byte                `json:"public_key,omitempty"`
	Ciphertext []byte                `json:"ciphertext,omitempty"`
}

// KeyShare carries one entry per negotiated primitive, in configuration
// order.
type KeyShare struct {
	Shares []KeyShareEntry `json:"shares"`
}

// Validate checks the structure of a KeyShare. Sizes are checked against
// the negotiated primitives by the handshake.
func (m *KeyShare) Validate() error {
	if len(m.Shares) == 0 {
		return malformed("key_share", "no shares")
	}
	for i, s := range m.Shares {
		if s.Algorithm == "" {
			return malformed("key_share", fmt.Sprintf("share %d has no algorithm", i))
		}
		if (len(s.PublicKey) == 0) == (len(s.Ciphertext) == 0) {
			return malformed("key_share", fmt.Sprintf("share %d (%s) needs exactly one of public_key and ciphertext", i, s.Algorithm))
		}
	}
	return nil
}

// Finished confirms key agreement. The server's Finished may also carry an
// identity certificate and a signature over the transcript hash.
type Finished struct {
	VerifyData  []byte `json:"verify_data"`
	Certificate string `json:"certificate,omitempty"`
	Signature   []byte `json:"signature,omitempty"`
}

// Validate checks a Finished.
func (m *Finished) Validate() error {
	if len(m.VerifyData) != constants.VerifyDataSize {
		return malformed("finished", fmt.Sprintf("verify_data is %d bytes", len(m.VerifyData)))
	}
	if (m.Certificate == "") != (len(m.Signature) == 0) {
		return malformed("finished", "certificate and signature must be sent together")
	}
	return nil
}

// Alert reports a fatal handshake or session error to the peer. Code is an
// error kind name such as "no_compatible_configuration".
type Alert struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

// MaxAlertDescription caps Alert.Description.
const MaxAlertDescription = 256

// Validate checks an Alert.
func (m *Alert) Validate() error {
	if m.Code == "" {
		return malformed("alert", "missing code")
	}
	if len(m.Description) > MaxAlertDescription {
		return malformed("alert", "description too long")
	}
	return nil
}

// Err converts a received alert into an error that classifies the same
// way as the sender's.
func (m *Alert) Err() error {
	return &AlertError{Code: m.Code, Description: m.Description}
}

// AlertError is an alert received from the peer.
type AlertError struct {
	Code        string
	Description string
}

func (e *AlertError) Error() string {
	return fmt.Sprintf("peer alert %s: %s", e.Code, e.Description)
}

// Unwrap returns the sentinel for the alert's kind.
func (e *AlertError) Unwrap() error {
	return qerrors.ParseKind(e.Code).Sentinel()
}

// NewAlert builds the alert for err.
func NewAlert(err error) *Alert {
	desc := err.Error()
	if len(desc) > MaxAlertDescription {
		desc = desc[:MaxAlertDescription]
	}
	return &Alert{Code: qerrors.KindOf(err).String(), Description: desc}
}

// Record is an AEAD-sealed application message.
type Record struct {
	Seq        uint64 `json:"seq"`
	Ciphertext []byte `json:"ciphertext"`
}

// Validate checks a Record.
func (m *Record) Validate() error {
	if len(m.Ciphertext) < constants.AEADTagSize {
		return malformed("record", fmt.Sprintf("ciphertext is %d bytes", len(m.Ciphertext)))
	}
	return nil
}

func malformed(msg, detail string) error {
	return &qerrors.ProtocolError{Phase: msg, Err: fmt.Errorf("%s: %w", detail, qerrors.ErrMalformedMessage)}
}
