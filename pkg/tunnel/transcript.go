package tunnel

import (
	"time"

	"github.com/sara-star-quant/hybrid-kex/pkg/crypto"
	"github.com/sara-star-quant/hybrid-kex/pkg/protocol"
)

// TranscriptEntry records one handshake message.
type TranscriptEntry struct {
	Type      protocol.MessageType `json:"type"`
	Sender    protocol.Sender      `json:"sender"`
	Timestamp time.Time            `json:"timestamp"`
	Size      int                  `json:"size"`
}

// Transcript is the append-only log of a handshake. It keeps the raw frame
// bodies so that both peers hash exactly the bytes that crossed the wire.
type Transcript struct {
	entries []TranscriptEntry
	frames  [][]byte
}

// Append adds a message. body must be the frame body as sent or received.
func (t *Transcript) Append(typ protocol.MessageType, sender protocol.Sender, at time.Time, body []byte) {
	t.entries = append(t.entries, TranscriptEntry{Type: typ, Sender: sender, Timestamp: at, Size: len(body)})
	t.frames = append(t.frames, body)
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	return len(t.entries)
}

// Entries returns a copy of the log.
func (t *Transcript) Entries() []TranscriptEntry {
	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Hash returns the SHA3-384 hash over every frame so far.
func (t *Transcript) Hash() []byte {
	return crypto.TranscriptHash(t.frames...)
}

// Reset drops the frames but keeps the entries for reporting.
func (t *Transcript) Reset() {
	t.frames = nil
}
