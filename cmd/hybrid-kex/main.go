// Command hybrid-kex runs hybrid classical and post-quantum key exchange
// servers and clients, and demonstrates or benchmarks the handshake.
package main

import (
	"os"

	pkgversion "github.com/sara-star-quant/hybrid-kex/pkg/version"
)

// Build-time variables (set via -ldflags)
var (
	version   = ""        // Set via -ldflags "-X main.version=x.y.z"
	buildTime = "unknown" // Set via -ldflags "-X main.buildTime=..."
	gitCommit = "unknown" // Set via -ldflags "-X main.gitCommit=..."
)

func getVersion() string {
	if version != "" {
		return version
	}
	return pkgversion.String()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
