package logx

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	currentLevel atomic.Int32

	outMu sync.Mutex
	out   io.Writer = os.Stderr
)

func init() {
	currentLevel.Store(int32(LevelInfo))
}

func ParseLevel(v string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level %q (expected debug|info|warn|error)", v)
	}
}

func SetLevel(v string) error {
	lvl, err := ParseLevel(v)
	if err != nil {
		return err
	}
	currentLevel.Store(int32(lvl))
	return nil
}

// Configure resolves log level from flags and env.
// Precedence: --log-level > --verbose > VERITAS_LOG_LEVEL > default(info).
func Configure(flagLevel string, verbose bool) error {
	if strings.TrimSpace(flagLevel) != "" {
		return SetLevel(flagLevel)
	}
	if verbose {
		return SetLevel("debug")
	}
	if env := strings.TrimSpace(os.Getenv("VERITAS_LOG_LEVEL")); env != "" {
		return SetLevel(env)
	}
	return SetLevel("info")
}

// SetOutput redirects all log lines to w and returns the previous sink.
func SetOutput(w io.Writer) io.Writer {
	outMu.Lock()
	defer outMu.Unlock()
	prev := out
	out = w
	return prev
}

func levelEnabled(l Level) bool {
	return l >= Level(currentLevel.Load())
}

func IsDebug() bool {
	return levelEnabled(LevelDebug)
}

func logf(l Level, label, component, fields, format string, args ...any) {
	if !levelEnabled(l) {
		return
	}
	ts := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	msg := fmt.Sprintf(format, args...)

	var sb strings.Builder
	sb.WriteString(ts)
	sb.WriteString(" [")
	sb.WriteString(label)
	sb.WriteString("] ")
	if component != "" {
		sb.WriteString(component)
		sb.WriteString(": ")
	}
	sb.WriteString(msg)
	sb.WriteString(fields)
	sb.WriteByte('\n')

	outMu.Lock()
	defer outMu.Unlock()
	io.WriteString(out, sb.String())
}

func Debugf(format string, args ...any) { logf(LevelDebug, "DEBUG", "", "", format, args...) }
func Infof(format string, args ...any)  { logf(LevelInfo, "INFO", "", "", format, args...) }
func Warnf(format string, args ...any)  { logf(LevelWarn, "WARN", "", "", format, args...) }
func Errorf(format string, args ...any) { logf(LevelError, "ERROR", "", "", format, args...) }

// Logger prefixes every line with a component name, e.g. "relay" or "nonce",
// and appends any key=value fields attached with With.
type Logger struct {
	component string
	fields    string
}

// Named returns a Logger for the given component.
func Named(component string) Logger {
	return Logger{component: component}
}

// With returns a copy of l that appends key=value to every line. Empty
// values are dropped so callers need not guard optional fields.
func (l Logger) With(key, value string) Logger {
	if value == "" {
		return l
	}
	if strings.ContainsAny(value, " \t\"") {
		value = strconv.Quote(value)
	}
	l.fields += " " + key + "=" + value
	return l
}

func (l Logger) Debugf(format string, args ...any) {
	logf(LevelDebug, "DEBUG", l.component, l.fields, format, args...)
}

func (l Logger) Infof(format string, args ...any) {
	logf(LevelInfo, "INFO", l.component, l.fields, format, args...)
}

func (l Logger) Warnf(format string, args ...any) {
	logf(LevelWarn, "WARN", l.component, l.fields, format, args...)
}

func (l Logger) Errorf(format string, args ...any) {
	logf(LevelError, "ERROR", l.component, l.fields, format, args...)
}
