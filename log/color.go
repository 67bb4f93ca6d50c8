package log

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	debugColor = color.New(color.FgBlue)
	infoColor  = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed)
	fatalColor = color.New(color.FgMagenta)
)

// levelColor returns the *color.Color used to paint a line at level l.
func levelColor(l LogLevel) *color.Color {
	switch l {
	case Debug:
		return debugColor
	case Info:
		return infoColor
	case Warn:
		return warnColor
	case Error:
		return errorColor
	case Fatal:
		return fatalColor
	default:
		return color.New()
	}
}

// isTerminal reports whether stdout is an interactive terminal, so
// file-backed or piped output never gets raw escape codes.
func isTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
