//go:build windows

package cli

import (
	"os"
)

// shutdownSignals stop a serve loop or abort a run in progress. Windows has
// no SIGTERM.
var shutdownSignals = []os.Signal{os.Interrupt}
