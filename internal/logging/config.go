package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

const envVar = "LOGLEVEL"

var (
	tagLevelsMu sync.RWMutex
	tagLevels   []struct {
		tag   string
		level Level
	}
)

func init() {
	if err := Configure(os.Getenv(envVar)); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", envVar, err)
	}
}

// Configure parses comma-separated "tag=level" directives. A directive without
// "tag=" sets the default level. Invalid directives are skipped and reported
// in the returned error; valid ones are applied regardless.
//
// Directives only affect loggers derived after the call, except for the
// default level, which applies to every unpinned logger immediately.
func Configure(directives string) error {
	var bad []string
	for _, d := range strings.Split(directives, ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		v := strings.SplitN(d, "=", 2)
		level, err := parseLevel(v[len(v)-1])
		if err != nil {
			bad = append(bad, fmt.Sprintf("'%s': %s", d, err))
			continue
		}
		if len(v) == 1 {
			SetDefaultLevel(level)
			continue
		}
		tagLevelsMu.Lock()
		tagLevels = append(tagLevels, struct {
			tag   string
			level Level
		}{v[0], level})
		tagLevelsMu.Unlock()
	}
	if len(bad) > 0 {
		return fmt.Errorf("invalid directives: %s", strings.Join(bad, ", "))
	}
	return nil
}

func lookupTagLevel(tag string) (Level, bool) {
	tagLevelsMu.RLock()
	defer tagLevelsMu.RUnlock()

	// Later directives win.
	for i := len(tagLevels) - 1; i >= 0; i-- {
		if tagLevels[i].tag == tag {
			return tagLevels[i].level, true
		}
	}
	return 0, false
}
