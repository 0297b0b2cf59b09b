package logger

// ILogger is the logging interface shared by the client, the worker and
// the transport layer. Packages keep their own instance so prefixes and
// levels can differ per component.
type ILogger interface {
	Trace(format string, args ...interface{})
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	GetLevel() int
}

const LOG_LEVEL_ALL int = 0
const LOG_LEVEL_INFO int = 1
const LOG_LEVEL_WARN int = 2
const LOG_LEVEL_NONE int = 3

// LevelProvider allows a host application to override the level of all
// loggers it hands out without touching each instance.
var LevelProvider = func(logger ILogger) int {
	return logger.GetLevel()
}

// Func Function wrapper that supports lazy evaluation of expensive log
// arguments. The message is only rendered if the level is enabled.
type Func func() string

func (f Func) String() string {
	return f()
}

// NewFunc Create the function wrapper for func() string
func NewFunc(f Func) Func {
	return f
}

// NewFormatFunc Create the function wrapper that is compatible with fmt.Sprintf
func NewFormatFunc(f func(msg string, arg ...interface{}) string, msg string, args ...interface{}) Func {
	return func() string {
		return f(msg, args...)
	}
}

// SafeString helper that truncates over-long messages.
func SafeString(msg string, sz int) string {
	if len(msg) < sz+1 {
		return msg
	}
	return msg[:sz] + "..."
}
