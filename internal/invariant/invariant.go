// Package invariant reports broken internal invariants: a buffer in two
// queues at once, freeing memory that is not live, and the like. Builds with
// the voutdebug tag panic so tests catch the bug at its source; release
// builds log the violation and carry on.
package invariant

import (
	"fmt"

	"github.com/lanikai/vout/internal/logging"
)

var log = logging.DefaultLogger.WithTag("invariant")

// Violated reports a broken invariant.
func Violated(format string, a ...interface{}) {
	msg := fmt.Sprintf(format, a...)
	if debug {
		panic("invariant violated: " + msg)
	}
	log.Log(logging.Error, 1, "invariant violated: %s", msg)
}

// Check calls Violated when cond is false.
func Check(cond bool, format string, a ...interface{}) {
	if !cond {
		Violated(format, a...)
	}
}

// Debug reports whether violations panic.
func Debug() bool {
	return debug
}
