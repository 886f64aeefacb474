package logging

import (
	"os"
)

// Fatalf eases migrations away from the standard 'log' package.
// Prefer the explicitly leveled API, e.g. log.Error().
func (log *Logger) Fatalf(format string, v ...interface{}) {
	log.Log(Error, 1, format, v...)
	os.Exit(1)
}
