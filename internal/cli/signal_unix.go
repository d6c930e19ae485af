//go:build !windows

package cli

import (
	"os"
	"syscall"
)

// shutdownSignals stop a serve loop or abort a run in progress.
var shutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
