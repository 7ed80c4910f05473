package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"
)

// Level represents a logging severity.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug, nil
	case "info", "":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	default:
		return Level(0), fmt.Errorf("unsupported log level %q", s)
	}
}

// Format controls how log entries are rendered.
type Format int

const (
	Text Format = iota
	JSON
)

// ParseFormat converts a string to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return JSON, nil
	case "text", "":
		return Text, nil
	default:
		return Format(0), fmt.Errorf("unsupported log format %q", s)
	}
}

// Field is a structured key/value attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// Logger defines leveled structured logging operations.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger = New(Info, Text, io.Discard)
)

// Default returns the process-wide logger. It discards output until
// SetDefault installs a real one.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger; nil is ignored.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

type fieldLogger struct {
	level  Level
	format Format
	fields []Field
	out    *log.Logger
}

// New constructs a Logger with the given level, format, and output writer.
func New(level Level, format Format, out io.Writer) Logger {
	flags := log.LstdFlags | log.Lmicroseconds
	if format == JSON {
		flags = 0
	}
	return &fieldLogger{level: level, format: format, out: log.New(out, "", flags)}
}

func (l *fieldLogger) With(fields ...Field) Logger {
	child := *l
	child.fields = append(append(make([]Field, 0, len(l.fields)+len(fields)), l.fields...), fields...)
	return &child
}

func (l *fieldLogger) Debug(msg string, fields ...Field) { l.emit(Debug, msg, fields) }
func (l *fieldLogger) Info(msg string, fields ...Field)  { l.emit(Info, msg, fields) }
func (l *fieldLogger) Warn(msg string, fields ...Field)  { l.emit(Warn, msg, fields) }
func (l *fieldLogger) Error(msg string, fields ...Field) { l.emit(Error, msg, fields) }

func (l *fieldLogger) emit(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	all := append(append(make([]Field, 0, len(l.fields)+len(fields)), l.fields...), fields...)
	if l.format == JSON {
		l.out.Print(renderJSON(level, msg, all))
		return
	}
	l.out.Print(renderText(level, msg, all))
}

func renderText(level Level, msg string, fields []Field) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", level, msg)
	for _, f := range fields {
		if f.Key == "" {
			continue
		}
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	return b.String()
}

func renderJSON(level Level, msg string, fields []Field) string {
	payload := make(map[string]any, len(fields)+3)
	for _, f := range fields {
		if f.Key == "" {
			continue
		}
		if err, ok := f.Value.(error); ok {
			payload[f.Key] = err.Error()
			continue
		}
		payload[f.Key] = f.Value
	}
	payload["time"] = time.Now().Format(time.RFC3339Nano)
	payload["level"] = level.String()
	payload["msg"] = msg
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"level":"ERROR","msg":"marshal log payload failed: %v"}`, err)
	}
	return string(data)
}
