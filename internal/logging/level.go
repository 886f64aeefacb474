package logging

import (
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"
)

// Logging level. Higher values indicate more verbosity; levels above Debug
// are numeric trace levels.
type Level int

const (
	Error Level = iota - 2
	Warn
	Info
	Debug

	MaxLevel Level = 9
)

// Default level can be changed by environment variable.
var defaultLevel = Info

type levelName struct {
	level  Level
	name   string
	letter byte
	color  *color.Color
}

var levelNames = []levelName{
	{Error, "Error", 'E', errorColor},
	{Warn, "Warn", 'W', warnColor},
	{Info, "Info", 'I', infoColor},
	{Debug, "Debug", 'D', debugColor},
}

// ParseLevel converts a level name or its first letter ("error", "w", ...),
// "trace" for the most verbose level, or a number from -2 to 9.
func ParseLevel(s string) (Level, error) {
	return parseLevel(s)
}

func parseLevel(s string) (Level, error) {
	for _, n := range levelNames {
		if strings.EqualFold(s, n.name) || (len(s) == 1 && strings.ToUpper(s)[0] == n.letter) {
			return n.level, nil
		}
	}
	if strings.EqualFold(s, "trace") || strings.EqualFold(s, "t") {
		return MaxLevel, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Errorf("invalid logging level %q", s)
	}
	if level := Level(n); level >= Error && level <= MaxLevel {
		return level, nil
	}
	return 0, errors.Errorf("logging level %d out of range", n)
}

func (l Level) lookup() (levelName, bool) {
	for _, n := range levelNames {
		if n.level == l {
			return n, true
		}
	}
	return levelName{}, false
}

func (l Level) String() string {
	if n, ok := l.lookup(); ok {
		return n.name
	}
	return strconv.Itoa(int(l))
}

func (l Level) letter() byte {
	if n, ok := l.lookup(); ok {
		return n.letter
	}
	return byte('0' + l)
}

func (l Level) color() *color.Color {
	if n, ok := l.lookup(); ok {
		return n.color
	}
	return traceColor
}
