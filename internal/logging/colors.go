package logging

import "github.com/fatih/color"

// Colors are disabled automatically when stderr is not a terminal, or when
// NO_COLOR is set.
var (
	timestampColor = color.New(color.FgWhite)

	errorColor = color.New(color.FgRed, color.Bold)
	warnColor  = color.New(color.FgRed)
	infoColor  = color.New(color.Reset)
	debugColor = color.New(color.FgGreen)
	traceColor = color.New(color.FgYellow)
)
