package protocol

import "github.com/sara-star-quant/hybrid-kex/internal/constants"

// SupportedCipherSuites returns the record protection suites in preference
// order.
func SupportedCipherSuites() []constants.CipherSuite {
	out := make([]constants.CipherSuite, len(constants.DefaultCipherSuites))
	copy(out, constants.DefaultCipherSuites)
	return out
}

// PreferredCipherSuite is the first entry of SupportedCipherSuites.
func PreferredCipherSuite() constants.CipherSuite {
	return constants.CipherSuiteAES256GCMSHA384
}

// CipherSuiteNames renders suites by IANA name for a ClientHello.
func CipherSuiteNames(suites []constants.CipherSuite) []string {
	out := make([]string, 0, len(suites))
	for _, cs := range suites {
		if cs.IsSupported() {
			out = append(out, cs.String())
		}
	}
	return out
}

// ParseCipherSuites maps IANA names back to suites. Names this build does
// not know are skipped so that a peer may offer suites we cannot run.
func ParseCipherSuites(names []string) []constants.CipherSuite {
	out := make([]constants.CipherSuite, 0, len(names))
	for _, name := range names {
		if cs, ok := constants.ParseCipherSuite(name); ok {
			out = append(out, cs)
		}
	}
	return out
}
