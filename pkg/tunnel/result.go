package tunnel

import (
	"time"

	"github.com/sara-star-quant/hybrid-kex/internal/constants"
	"github.com/sara-star-quant/hybrid-kex/pkg/identity"
	"github.com/sara-star-quant/hybrid-kex/pkg/negotiation"
	"github.com/sara-star-quant/hybrid-kex/pkg/primitive"
)

// Result describes a finished handshake. A failed handshake still returns a
// Result with Success false, along with the error.
type Result struct {
	Success           bool
	Role              Role
	Mode              negotiation.Mode
	Configuration     *negotiation.Configuration
	Algorithms        []string
	GroupName         string
	CipherSuite       constants.CipherSuite
	HandshakeDuration time.Duration
	SharedSecretSize  int
	MessageCount      int
	SessionID         string
	KeySizes          map[string]primitive.KeySizes
	ServerIdentity    *identity.Peer
	TranscriptHash    []byte
	Transcript        []TranscriptEntry

	// Keys is nil unless Success is true.
	Keys *SessionKeys
}

// Summary is the JSON form of a Result.
type Summary struct {
	Success           bool                          `json:"success"`
	ExchangeType      string                        `json:"exchange_type"`
	Algorithms        []string                      `json:"algorithms"`
	GroupName         string                        `json:"group_name,omitempty"`
	CipherSuite       string                        `json:"cipher_suite,omitempty"`
	HandshakeDuration float64                       `json:"handshake_duration"`
	SharedSecretSize  int                           `json:"shared_secret_size"`
	MessageCount      int                           `json:"message_count"`
	SessionID         string                        `json:"session_id,omitempty"`
	KeySizes          map[string]primitive.KeySizes `json:"key_sizes,omitempty"`
	ServerIdentity    *identity.Peer                `json:"server_identity,omitempty"`
}

// Summary renders r for logs and the crypto_info message.
func (r *Result) Summary() Summary {
	s := Summary{
		Success:           r.Success,
		ExchangeType:      r.Mode.String(),
		Algorithms:        r.Algorithms,
		GroupName:         r.GroupName,
		HandshakeDuration: r.HandshakeDuration.Seconds(),
		SharedSecretSize:  r.SharedSecretSize,
		MessageCount:      r.MessageCount,
		SessionID:         r.SessionID,
		KeySizes:          r.KeySizes,
		ServerIdentity:    r.ServerIdentity,
	}
	if r.CipherSuite.IsSupported() {
		s.CipherSuite = r.CipherSuite.String()
	}
	if s.Algorithms == nil {
		s.Algorithms = []string{}
	}
	return s
}
