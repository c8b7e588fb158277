// Package constants defines protocol constants, key schedule labels and
// cipher suites for the hybrid key-exchange handshake.
package constants

import "time"

// Protocol version and identification
const (
	// ProtocolVersion is carried in every Hello message
	ProtocolVersion = "TLS 1.3"

	// ProtocolName identifies the implementation in logs, spans and CLI output
	ProtocolName = "hybrid-kex"

	// RandomSize is the size of the Hello random nonce in bytes
	RandomSize = 32

	// SessionIDSize is the size of session identifiers in bytes
	SessionIDSize = 16
)

// Key schedule (HKDF-SHA384)
const (
	// HybridKeyScheduleSalt is the HKDF-Extract salt for the combined secret
	HybridKeyScheduleSalt = "TLS 1.3 Hybrid Key Schedule"

	// HybridInfoPrefix prefixes the exchange mode in the HKDF-Expand info
	HybridInfoPrefix = "hybrid-"

	// MasterSecretSize is the size of the derived master secret in bytes
	MasterSecretSize = 48

	// TranscriptHashSize is the size of the SHA3-384 transcript hash
	TranscriptHashSize = 48

	// VerifyDataSize is the size of Finished verify data (HMAC-SHA384)
	VerifyDataSize = 48

	// IVSize is the size of each write IV
	IVSize = 12

	LabelClientWriteKey = "client write key"
	LabelServerWriteKey = "server write key"
	LabelClientWriteIV  = "client write iv"
	LabelServerWriteIV  = "server write iv"
	LabelClientFinished = "client finished"
	LabelServerFinished = "server finished"

	// LabelTranscriptSignature is the context string for identity signatures
	LabelTranscriptSignature = "hybrid-kex server transcript signature"
)

// Framing and timeouts
const (
	// DefaultMaxFrameSize bounds a single length-prefixed frame
	DefaultMaxFrameSize = 1 << 20

	// MinMaxFrameSize is the smallest configurable frame limit
	MinMaxFrameSize = 4 << 10

	// FrameHeaderSize is the big-endian length prefix
	FrameHeaderSize = 4

	DefaultHandshakeTimeout = 30 * time.Second
	DefaultClientTimeout    = 10 * time.Second
	DefaultIdleTimeout      = 5 * time.Minute
	DefaultReapInterval     = 30 * time.Second
	DefaultMaxConnections   = 10
)

// Record protection
const (
	// AEADTagSize is the authentication tag size for every supported suite
	AEADTagSize = 16

	// MaxRecordsBeforeRekey caps the sequence number for one set of keys
	MaxRecordsBeforeRekey = 1 << 32
)

// CipherSuite identifiers
type CipherSuite uint16

const (
	CipherSuiteAES256GCMSHA384        CipherSuite = 0x1302
	CipherSuiteChaCha20Poly1305SHA256 CipherSuite = 0x1303
	CipherSuiteAES128GCMSHA256        CipherSuite = 0x1301
)

// DefaultCipherSuites is the offer and preference order.
var DefaultCipherSuites = []CipherSuite{
	CipherSuiteAES256GCMSHA384,
	CipherSuiteChaCha20Poly1305SHA256,
	CipherSuiteAES128GCMSHA256,
}

// String returns the IANA name of the cipher suite
func (cs CipherSuite) String() string {
	switch cs {
	case CipherSuiteAES256GCMSHA384:
		return "TLS_AES_256_GCM_SHA384"
	case CipherSuiteChaCha20Poly1305SHA256:
		return "TLS_CHACHA20_POLY1305_SHA256"
	case CipherSuiteAES128GCMSHA256:
		return "TLS_AES_128_GCM_SHA256"
	default:
		return "Unknown"
	}
}

// IsSupported returns true if the cipher suite is supported
func (cs CipherSuite) IsSupported() bool {
	return cs.KeySize() != 0
}

// KeySize returns the write key length for the suite, or 0 if unknown.
func (cs CipherSuite) KeySize() int {
	switch cs {
	case CipherSuiteAES256GCMSHA384, CipherSuiteChaCha20Poly1305SHA256:
		return 32
	case CipherSuiteAES128GCMSHA256:
		return 16
	default:
		return 0
	}
}

// ParseCipherSuite looks up a suite by its IANA name.
func ParseCipherSuite(name string) (CipherSuite, bool) {
	for _, cs := range DefaultCipherSuites {
		if cs.String() == name {
			return cs, true
		}
	}
	return 0, false
}
