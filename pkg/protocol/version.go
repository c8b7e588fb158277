// Package protocol defines the wire protocol for hybrid-kex.
//
// Every message is one frame: a 4-byte big-endian length followed by that
// many bytes of UTF-8 JSON. The JSON is an Envelope whose payload carries
// the handshake or record message named by its type.
package protocol

import (
	"fmt"

	"github.com/sara-star-quant/hybrid-kex/internal/constants"
	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
)

// Current is the protocol version this build speaks.
const Current = constants.ProtocolVersion

// ProtocolID is the protocol identifier used for domain separation.
const ProtocolID = constants.ProtocolName

// CheckVersion rejects any version other than Current.
func CheckVersion(v string) error {
	if v != Current {
		return fmt.Errorf("peer speaks %q, want %q: %w", v, Current, qerrors.ErrUnsupportedVersion)
	}
	return nil
}
