// Package tunnel runs the hybrid key exchange handshake and carries
// encrypted application messages over the resulting session.
//
// The tunnel provides:
//   - Negotiation of a classical, post-quantum, dual or triple hybrid mode
//   - Transcript-bound key derivation with HKDF-SHA384
//   - Authenticated records using AES-GCM or ChaCha20-Poly1305
//   - Optional server identity certificates
//   - Rekeying by a fresh handshake over the established connection
package tunnel

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sara-star-quant/hybrid-kex/internal/constants"
	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
	"github.com/sara-star-quant/hybrid-kex/pkg/negotiation"
	"github.com/sara-star-quant/hybrid-kex/pkg/protocol"
)

// SessionState represents the current state of a session.
type SessionState int32

const (
	// SessionStateEstablished indicates the session is ready for data
	SessionStateEstablished SessionState = iota

	// SessionStateRekeying indicates a rekey handshake is in progress
	SessionStateRekeying

	// SessionStateClosed indicates the session has been terminated
	SessionStateClosed
)

// String returns a human-readable name for the session state.
func (s SessionState) String() string {
	switch s {
	case SessionStateEstablished:
		return "Established"
	case SessionStateRekeying:
		return "Rekeying"
	case SessionStateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Session is an established tunnel. Its keys may be replaced by a rekey;
// everything else is fixed at creation.
type Session struct {
	// ID is the server-assigned session identifier.
	ID string

	Role        Role
	PeerAddress string

	EstablishedAt time.Time

	state        atomic.Int32
	keys         atomic.Pointer[SessionKeys]
	result       atomic.Pointer[Result]
	lastActivity atomic.Int64
	now          func() time.Time

	// Statistics
	BytesSent       atomic.Uint64
	BytesReceived   atomic.Uint64
	RecordsSent     atomic.Uint64
	RecordsReceived atomic.Uint64
	Rekeys          atomic.Uint64

	closeOnce sync.Once
	closer    io.Closer
}

// NewSession wraps a successful handshake result. closer, if not nil, is
// closed with the session.
func NewSession(res *Result, peerAddress string, closer io.Closer, now func() time.Time) (*Session, error) {
	if res == nil || !res.Success || res.Keys == nil {
		return nil, qerrors.ErrInvalidState
	}
	if now == nil {
		now = time.Now
	}
	s := &Session{
		ID:            res.SessionID,
		Role:          res.Role,
		PeerAddress:   peerAddress,
		EstablishedAt: now(),
		now:           now,
		closer:        closer,
	}
	s.keys.Store(res.Keys)
	s.result.Store(res)
	s.Touch()
	return s, nil
}

// State returns the current session state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Keys returns the current session keys.
func (s *Session) Keys() *SessionKeys {
	return s.keys.Load()
}

// Result returns the handshake that produced the current keys.
func (s *Session) Result() *Result {
	return s.result.Load()
}

// Mode returns the negotiated mode.
func (s *Session) Mode() negotiation.Mode {
	return s.Result().Mode
}

// CipherSuite returns the negotiated record cipher.
func (s *Session) CipherSuite() constants.CipherSuite {
	return s.Result().CipherSuite
}

// Seal encrypts an application message into a record. The session id is
// the additional data.
func (s *Session) Seal(plaintext []byte) (*protocol.Record, error) {
	if s.State() == SessionStateClosed {
		return nil, qerrors.ErrSessionClosed
	}
	ct, seq, err := s.keys.Load().Seal(plaintext, []byte(s.ID))
	if err != nil {
		return nil, err
	}
	s.RecordsSent.Add(1)
	s.Touch()
	return &protocol.Record{Seq: seq, Ciphertext: ct}, nil
}

// Open authenticates and decrypts a record from the peer.
func (s *Session) Open(rec *protocol.Record) ([]byte, error) {
	if s.State() == SessionStateClosed {
		return nil, qerrors.ErrSessionClosed
	}
	pt, err := s.keys.Load().Open(rec.Seq, rec.Ciphertext, []byte(s.ID))
	if err != nil {
		return nil, err
	}
	s.RecordsReceived.Add(1)
	s.Touch()
	return pt, nil
}

// BeginRekey marks the session as rekeying. Only one rekey may run at a
// time.
func (s *Session) BeginRekey() error {
	if s.state.CompareAndSwap(int32(SessionStateEstablished), int32(SessionStateRekeying)) {
		return nil
	}
	if s.State() == SessionStateClosed {
		return qerrors.ErrSessionClosed
	}
	return qerrors.ErrRekeyInProgress
}

// SwapKeys installs the keys from a completed rekey handshake and destroys
// the previous keys. The result must carry this session's id. The session
// owns res.Keys only when SwapKeys returns nil; on error they are left to the
// caller.
func (s *Session) SwapKeys(res *Result) error {
	if res == nil || !res.Success || res.Keys == nil {
		return qerrors.ErrInvalidState
	}
	if res.Keys.Destroyed() {
		return qerrors.ErrKeysDestroyed
	}
	if res.SessionID != s.ID {
		return qerrors.ErrSessionNotFound
	}
	if !s.state.CompareAndSwap(int32(SessionStateRekeying), int32(SessionStateEstablished)) {
		if s.State() == SessionStateClosed {
			return qerrors.ErrSessionClosed
		}
		return qerrors.ErrInvalidState
	}

	old := s.keys.Swap(res.Keys)
	s.result.Store(res)
	old.Destroy()
	// Close may have run between the state change and the swap and only
	// destroyed the old keys.
	if s.State() == SessionStateClosed {
		res.Keys.Destroy()
		return qerrors.ErrSessionClosed
	}
	s.Rekeys.Add(1)
	s.Touch()
	return nil
}

// Touch records activity now.
func (s *Session) Touch() {
	s.lastActivity.Store(s.now().UnixNano())
}

// LastActivity returns the time of the last record or rekey.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// IdleFor returns how long the session has been inactive as of now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity())
}

// Close destroys the keys and closes the underlying connection. It is safe
// to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.state.Store(int32(SessionStateClosed))
		s.keys.Load().Destroy()
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}

// SessionStats is a point-in-time view of a session.
type SessionStats struct {
	ID              string    `json:"session_id"`
	Role            string    `json:"role"`
	State           string    `json:"state"`
	PeerAddress     string    `json:"peer_address,omitempty"`
	Mode            string    `json:"exchange_type"`
	Algorithms      []string  `json:"algorithms"`
	CipherSuite     string    `json:"cipher_suite"`
	EstablishedAt   time.Time `json:"established_at"`
	LastActivity    time.Time `json:"last_activity"`
	BytesSent       uint64    `json:"bytes_sent"`
	BytesReceived   uint64    `json:"bytes_received"`
	RecordsSent     uint64    `json:"records_sent"`
	RecordsReceived uint64    `json:"records_received"`
	Rekeys          uint64    `json:"rekeys"`
}

// Stats returns a snapshot of the session.
func (s *Session) Stats() SessionStats {
	res := s.Result()
	return SessionStats{
		ID:              s.ID,
		Role:            s.Role.String(),
		State:           s.State().String(),
		PeerAddress:     s.PeerAddress,
		Mode:            res.Mode.String(),
		Algorithms:      res.Algorithms,
		CipherSuite:     res.CipherSuite.String(),
		EstablishedAt:   s.EstablishedAt,
		LastActivity:    s.LastActivity(),
		BytesSent:       s.BytesSent.Load(),
		BytesReceived:   s.BytesReceived.Load(),
		RecordsSent:     s.RecordsSent.Load(),
		RecordsReceived: s.RecordsReceived.Load(),
		Rekeys:          s.Rekeys.Load(),
	}
}
