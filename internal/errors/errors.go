// Package errors defines the error vocabulary of the hybrid key-exchange core.
// Every failure a caller can observe maps to exactly one Kind, and every Kind
// belongs to a Category so callers can tell a negotiation mismatch from a
// network failure from a broken crypto backend.
package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

// Sentinel errors for primitive operations
var (
	// ErrUnsupportedAlgorithm indicates the algorithm has no usable implementation
	ErrUnsupportedAlgorithm = errors.New("primitive: unsupported algorithm")

	// ErrInvalidPublicKeySize indicates a public key length does not match the algorithm
	ErrInvalidPublicKeySize = errors.New("primitive: invalid public key size")

	// ErrInvalidPrivateKeySize indicates a private key length does not match the algorithm
	ErrInvalidPrivateKeySize = errors.New("primitive: invalid private key size")

	// ErrInvalidCiphertextSize indicates a KEM ciphertext length does not match the algorithm
	ErrInvalidCiphertextSize = errors.New("primitive: invalid ciphertext size")

	// ErrKeyGenerationFailed indicates that key generation failed
	ErrKeyGenerationFailed = errors.New("primitive: key generation failed")

	// ErrEncapsulationFailed indicates that KEM encapsulation failed
	ErrEncapsulationFailed = errors.New("primitive: encapsulation failed")

	// ErrDecapsulationFailed indicates that KEM decapsulation failed
	ErrDecapsulationFailed = errors.New("primitive: decapsulation failed")

	// ErrKeyAgreementFailed indicates a Diffie-Hellman style exchange failed
	ErrKeyAgreementFailed = errors.New("primitive: key agreement failed")

	// ErrSigningFailed indicates that a signature could not be produced
	ErrSigningFailed = errors.New("primitive: signing failed")

	// ErrWrongCapability indicates the algorithm exists but not with the requested capability
	ErrWrongCapability = errors.New("primitive: algorithm does not provide requested capability")

	// ErrDuplicateAlgorithm indicates an algorithm was registered twice
	ErrDuplicateAlgorithm = errors.New("primitive: algorithm already registered")
)

// Sentinel errors for negotiation and key derivation
var (
	// ErrNoCompatibleConfiguration indicates the peers share no acceptable configuration
	ErrNoCompatibleConfiguration = errors.New("negotiation: no compatible configuration")

	// ErrInvalidPolicy indicates the local negotiation policy is inconsistent
	ErrInvalidPolicy = errors.New("negotiation: invalid policy")

	// ErrUnsupportedVersion indicates an unsupported protocol version
	ErrUnsupportedVersion = errors.New("negotiation: unsupported protocol version")

	// ErrUnsupportedCipherSuite indicates an unknown cipher suite
	ErrUnsupportedCipherSuite = errors.New("negotiation: unsupported cipher suite")

	// ErrNoSharedSecretMaterial indicates the combiner received no secrets
	ErrNoSharedSecretMaterial = errors.New("kdf: no shared secret material")

	// ErrInvalidKeyLength indicates a requested derived key length is unusable
	ErrInvalidKeyLength = errors.New("kdf: invalid key length")
)

// Sentinel errors for wire and transport
var (
	// ErrMalformedMessage indicates a frame or payload could not be parsed
	ErrMalformedMessage = errors.New("protocol: malformed message")

	// ErrFrameTooLarge indicates a length prefix exceeds the configured maximum
	ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

	// ErrUnexpectedMessage indicates a message type arrived out of sequence
	ErrUnexpectedMessage = errors.New("protocol: unexpected message")

	// ErrTransport indicates the underlying connection failed
	ErrTransport = errors.New("transport: connection failed")

	// ErrHandshakeTimeout indicates the handshake deadline elapsed
	ErrHandshakeTimeout = errors.New("transport: handshake timed out")

	// ErrConnectionClosed indicates the connection has been closed
	ErrConnectionClosed = errors.New("transport: connection closed")

	// ErrConnectionRejected indicates a limiter refused the connection
	ErrConnectionRejected = errors.New("transport: connection rejected")
)

// Sentinel errors for peer authentication and record protection
var (
	// ErrVerifyDataMismatch indicates a Finished message did not match the transcript
	ErrVerifyDataMismatch = errors.New("handshake: finished verify data mismatch")

	// ErrInvalidSignature indicates a transcript signature did not verify
	ErrInvalidSignature = errors.New("handshake: invalid signature")

	// ErrInvalidCertificate indicates the peer certificate is malformed, expired or untrusted
	ErrInvalidCertificate = errors.New("handshake: invalid certificate")

	// ErrIdentityRequired indicates the peer did not present a required identity
	ErrIdentityRequired = errors.New("handshake: peer identity required")

	// ErrAuthenticationFailed indicates AEAD authentication/decryption failed
	ErrAuthenticationFailed = errors.New("aead: authentication failed")

	// ErrCiphertextTooShort indicates ciphertext is too short to be valid
	ErrCiphertextTooShort = errors.New("aead: ciphertext too short")

	// ErrSequenceExhausted indicates the record sequence space is exhausted for the current keys
	ErrSequenceExhausted = errors.New("aead: sequence space exhausted, rekey required")
)

// Sentinel errors for state and sessions
var (
	// ErrInvalidState indicates an illegal handshake state transition
	ErrInvalidState = errors.New("handshake: invalid state")

	// ErrSessionNotFound indicates no session is registered under the id
	ErrSessionNotFound = errors.New("session: not found")

	// ErrSessionExists indicates a session id is already registered
	ErrSessionExists = errors.New("session: already registered")

	// ErrSessionClosed indicates the session has been closed
	ErrSessionClosed = errors.New("session: closed")

	// ErrKeysDestroyed indicates session keys were used after being destroyed
	ErrKeysDestroyed = errors.New("session: keys destroyed")

	// ErrRekeyInProgress indicates a rekey operation is already running
	ErrRekeyInProgress = errors.New("session: rekey already in progress")
)

// Kind is the caller-facing classification of a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnsupportedAlgorithm
	KindInvalidPublicKeySize
	KindNoCompatibleConfiguration
	KindNoSharedSecretMaterial
	KindTransport
	KindMalformedMessage
	KindAuthentication
	KindInternal
)

var kindNames = map[Kind]string{
	KindUnknown:                   "unknown",
	KindUnsupportedAlgorithm:      "unsupported_algorithm",
	KindInvalidPublicKeySize:      "invalid_public_key_size",
	KindNoCompatibleConfiguration: "no_compatible_configuration",
	KindNoSharedSecretMaterial:    "no_shared_secret_material",
	KindTransport:                 "transport_error",
	KindMalformedMessage:          "malformed_message",
	KindAuthentication:            "authentication_failed",
	KindInternal:                  "internal_error",
}

// String returns the wire name of the kind. Alerts carry this name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String. Unknown names map to KindUnknown.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return KindUnknown
}

// Sentinel returns the canonical sentinel for a kind, used when a peer
// reports a failure through an alert.
func (k Kind) Sentinel() error {
	switch k {
	case KindUnsupportedAlgorithm:
		return ErrUnsupportedAlgorithm
	case KindInvalidPublicKeySize:
		return ErrInvalidPublicKeySize
	case KindNoCompatibleConfiguration:
		return ErrNoCompatibleConfiguration
	case KindNoSharedSecretMaterial:
		return ErrNoSharedSecretMaterial
	case KindTransport:
		return ErrTransport
	case KindMalformedMessage:
		return ErrMalformedMessage
	case KindAuthentication:
		return ErrVerifyDataMismatch
	default:
		return ErrUnexpectedMessage
	}
}

// Category groups kinds by likely cause.
type Category int

const (
	CategoryNone Category = iota
	// CategoryNegotiation is a configuration mismatch between peers.
	CategoryNegotiation
	// CategoryTransport is a network failure.
	CategoryTransport
	// CategoryPrimitive is a missing or broken crypto backend.
	CategoryPrimitive
	// CategoryProtocol is a misbehaving or unauthenticated peer.
	CategoryProtocol
)

func (c Category) String() string {
	switch c {
	case CategoryNegotiation:
		return "negotiation"
	case CategoryTransport:
		return "transport"
	case CategoryPrimitive:
		return "primitive"
	case CategoryProtocol:
		return "protocol"
	default:
		return "none"
	}
}

// Category returns the category a kind belongs to.
func (k Kind) Category() Category {
	switch k {
	case KindNoCompatibleConfiguration:
		return CategoryNegotiation
	case KindTransport:
		return CategoryTransport
	case KindUnsupportedAlgorithm, KindNoSharedSecretMaterial, KindInternal:
		return CategoryPrimitive
	case KindInvalidPublicKeySize, KindMalformedMessage, KindAuthentication:
		return CategoryProtocol
	default:
		return CategoryNone
	}
}

// kindTable is checked in order; the first match wins.
var kindTable = []struct {
	target error
	kind   Kind
}{
	{ErrUnsupportedAlgorithm, KindUnsupportedAlgorithm},
	{ErrWrongCapability, KindUnsupportedAlgorithm},
	{ErrInvalidPublicKeySize, KindInvalidPublicKeySize},
	{ErrNoCompatibleConfiguration, KindNoCompatibleConfiguration},
	{ErrUnsupportedVersion, KindNoCompatibleConfiguration},
	{ErrUnsupportedCipherSuite, KindNoCompatibleConfiguration},
	{ErrInvalidPolicy, KindNoCompatibleConfiguration},
	{ErrNoSharedSecretMaterial, KindNoSharedSecretMaterial},
	{ErrMalformedMessage, KindMalformedMessage},
	{ErrFrameTooLarge, KindMalformedMessage},
	{ErrUnexpectedMessage, KindMalformedMessage},
	{ErrInvalidCiphertextSize, KindMalformedMessage},
	{ErrVerifyDataMismatch, KindAuthentication},
	{ErrInvalidSignature, KindAuthentication},
	{ErrInvalidCertificate, KindAuthentication},
	{ErrIdentityRequired, KindAuthentication},
	{ErrAuthenticationFailed, KindAuthentication},
	{ErrCiphertextTooShort, KindMalformedMessage},
	{ErrTransport, KindTransport},
	{ErrHandshakeTimeout, KindTransport},
	{ErrConnectionClosed, KindTransport},
	{ErrConnectionRejected, KindTransport},
	{ErrSessionClosed, KindTransport},
	{io.EOF, KindTransport},
	{io.ErrUnexpectedEOF, KindTransport},
	{io.ErrClosedPipe, KindTransport},
	{net.ErrClosed, KindTransport},
	{os.ErrDeadlineExceeded, KindTransport},
	{context.DeadlineExceeded, KindTransport},
	{context.Canceled, KindTransport},
}

// KindOf classifies err. A nil error is KindUnknown; an error that matches
// nothing in the vocabulary is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var herr *HandshakeError
	if errors.As(err, &herr) && herr.Kind != KindUnknown {
		return herr.Kind
	}
	for _, entry := range kindTable {
		if errors.Is(err, entry.target) {
			return entry.kind
		}
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return KindTransport
	}
	return KindInternal
}

// CategoryOf is shorthand for KindOf(err).Category().
func CategoryOf(err error) Category {
	return KindOf(err).Category()
}

// CryptoError wraps a cryptographic error with additional context
type CryptoError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// NewCryptoError creates a new CryptoError
func NewCryptoError(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

// ProtocolError wraps a protocol error with additional context
type ProtocolError struct {
	Phase string // Protocol phase (e.g., "handshake", "framing")
	Err   error  // Underlying error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s: %v", e.Phase, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NewProtocolError creates a new ProtocolError
func NewProtocolError(phase string, err error) *ProtocolError {
	return &ProtocolError{Phase: phase, Err: err}
}

// HandshakeError is returned by a failed handshake. State names the state
// the handshake was in when it failed.
type HandshakeError struct {
	State string
	Kind  Kind
	Err   error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake failed in %s (%s): %v", e.State, e.Kind, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// NewHandshakeError wraps err and records its kind.
func NewHandshakeError(state string, err error) *HandshakeError {
	return &HandshakeError{State: state, Kind: KindOf(err), Err: err}
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
