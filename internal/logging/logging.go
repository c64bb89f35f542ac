// Package logging provides the global leveled logger.
// Use dot import to access L_info, L_warn, etc. directly.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// Log levels
const (
	LevelError = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

var (
	logger *log.Logger
	mu     sync.Mutex
)

// Config holds logging configuration
type Config struct {
	Level      int
	TimeFormat string
	ShowCaller bool
	Output     io.Writer
}

// DefaultConfig returns the defaults used when Init was never called.
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelWarn,
		TimeFormat: "15:04:05",
		Output:     os.Stderr,
	}
}

// Init (re)configures the global logger.
func Init(cfg *Config) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	l := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		TimeFormat:      cfg.TimeFormat,
		ReportCaller:    cfg.ShowCaller,
		CallerOffset:    2, // logMsg -> L_* -> caller
		Prefix:          "foxtrot",
	})
	l.SetLevel(toCharmLevel(cfg.Level))

	mu.Lock()
	logger = l
	mu.Unlock()
}

func get() *log.Logger {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l != nil {
		return l
	}

	Init(nil)
	mu.Lock()
	defer mu.Unlock()
	return logger
}

func toCharmLevel(level int) log.Level {
	switch level {
	case LevelDebug:
		return log.DebugLevel
	case LevelInfo:
		return log.InfoLevel
	case LevelWarn:
		return log.WarnLevel
	}
	return log.ErrorLevel
}

// ParseLevel maps a level name to one of the Level constants.
func ParseLevel(name string) (int, error) {
	switch strings.ToLower(name) {
	case "debug", "trace":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

// SetLevel changes the log level at runtime
func SetLevel(level int) {
	get().SetLevel(toCharmLevel(level))
}

// hasFmtVerb reports whether s contains a printf verb.
func hasFmtVerb(s string) bool {
	for i := 0; i < len(s)-1; i++ {
		if s[i] == '%' {
			next := s[i+1]
			if next != '%' && strings.ContainsRune("vsdtfgeopqxXbcUT+#", rune(next)) {
				return true
			}
		}
	}
	return false
}

// logMsg accepts three shapes:
//   - logMsg(level, "message")
//   - logMsg(level, "value is %d", 42)
//   - logMsg(level, "connected", "key", val, ...)
func logMsg(level log.Level, msg string, args ...interface{}) {
	l := get()

	var keyvals []interface{}
	if len(args) > 0 {
		if hasFmtVerb(msg) {
			msg = fmt.Sprintf(msg, args...)
		} else {
			keyvals = args
		}
	}

	switch level {
	case log.DebugLevel:
		l.Debug(msg, keyvals...)
	case log.InfoLevel:
		l.Info(msg, keyvals...)
	case log.WarnLevel:
		l.Warn(msg, keyvals...)
	default:
		l.Error(msg, keyvals...)
	}
}

// L_debug logs at debug level
func L_debug(msg string, args ...interface{}) {
	logMsg(log.DebugLevel, msg, args...)
}

// L_info logs at info level
func L_info(msg string, args ...interface{}) {
	logMsg(log.InfoLevel, msg, args...)
}

// L_warn logs at warn level
func L_warn(msg string, args ...interface{}) {
	logMsg(log.WarnLevel, msg, args...)
}

// L_error logs at error level
func L_error(msg string, args ...interface{}) {
	logMsg(log.ErrorLevel, msg, args...)
}
