// Package debug provides env-gated diagnostic logging to stderr.
// Set SURGO_DEBUG=1 to enable. Nothing here is part of the public API;
// the library's configurable Logger sink is layered on top by the root
// package.
package debug

import (
	"fmt"
	"os"
	"sync"
	"time"
)

var (
	enabled  = os.Getenv("SURGO_DEBUG") == "1" || os.Getenv("SURGO_DEBUG") == "true"
	logMutex sync.Mutex
)

// Enabled returns true if debug logging is active.
func Enabled() bool {
	return enabled
}

// SetEnabled overrides the env-derived setting. Used by tests and by the
// CLI's --debug flag.
func SetEnabled(on bool) {
	logMutex.Lock()
	defer logMutex.Unlock()
	enabled = on
}

// Logf writes a timestamped line to stderr when debug logging is enabled.
// Never log tokens or credentials through this.
func Logf(format string, args ...interface{}) {
	if !enabled {
		return
	}
	logMutex.Lock()
	defer logMutex.Unlock()
	ts := time.Now().Format("15:04:05.000")
	fmt.Fprintf(os.Stderr, "[surgo "+ts+"] "+format+"\n", args...)
}
