package logger

import (
	"fmt"
	"log"

	"github.com/mgutz/ansi"
)

var (
	colorTrace = ansi.ColorCode("cyan+d")
	colorDebug = ansi.ColorCode("white+d")
	colorInfo  = ansi.ColorCode("green")
	colorWarn  = ansi.ColorCode("yellow")
	colorError = ansi.ColorCode("red+b")
	colorReset = ansi.ColorCode("reset")
)

// ColorLogger the default ILogger implementation. Writes to the
// standard logger, optionally with ANSI colors per level.
type ColorLogger struct {
	Verbose bool
	Level   int
	Prefix  string
	Color   bool
}

func (l *ColorLogger) Trace(format string, args ...interface{}) {
	if !l.Verbose {
		return
	}
	l.output(colorTrace, format, args...)
}

func (l *ColorLogger) Debug(format string, args ...interface{}) {
	if LevelProvider(l) > LOG_LEVEL_ALL {
		return
	}
	l.output(colorDebug, format, args...)
}

func (l *ColorLogger) Info(format string, args ...interface{}) {
	if LevelProvider(l) > LOG_LEVEL_INFO {
		return
	}
	l.output(colorInfo, format, args...)
}

func (l *ColorLogger) Warn(format string, args ...interface{}) {
	if LevelProvider(l) > LOG_LEVEL_WARN {
		return
	}
	l.output(colorWarn, format, args...)
}

func (l *ColorLogger) Error(format string, args ...interface{}) {
	l.output(colorError, format, args...)
}

func (l *ColorLogger) GetLevel() int {
	return l.Level
}

func (l *ColorLogger) output(color string, format string, args ...interface{}) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	if l.Color {
		log.Print(color, l.Prefix, msg, colorReset)
	} else {
		log.Print(l.Prefix, msg)
	}
}
