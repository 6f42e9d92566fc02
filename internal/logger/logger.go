package logger

import "strings"

// Logger is the logging interface every evlog component takes. Fields are
// key/value pairs.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, err error, fields ...interface{})
}

// Closeable is implemented by loggers holding resources.
type Closeable interface {
	Close() error
}

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel parses "debug", "info", "warn" or "error". Empty means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, wrapLoggerErr("parse level", ErrInvalidLevel, nil, s)
	}
}

// NoOpLogger discards everything. Components use it when given a nil Logger.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, ...interface{})        {}
func (NoOpLogger) Info(string, ...interface{})         {}
func (NoOpLogger) Warn(string, ...interface{})         {}
func (NoOpLogger) Error(string, error, ...interface{}) {}

var _ Logger = NoOpLogger{}

// With returns a Logger that prepends fields to every entry.
func With(lg Logger, fields ...interface{}) Logger {
	if lg == nil {
		return NoOpLogger{}
	}
	if _, ok := lg.(NoOpLogger); ok || len(fields) == 0 {
		return lg
	}
	if fl, ok := lg.(*fieldLogger); ok {
		return &fieldLogger{next: fl.next, fields: concat(fl.fields, fields)}
	}
	return &fieldLogger{next: lg, fields: fields}
}

type fieldLogger struct {
	next   Logger
	fields []interface{}
}

func concat(a, b []interface{}) []interface{} {
	out := make([]interface{}, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func (l *fieldLogger) Debug(msg string, fields ...interface{}) {
	l.next.Debug(msg, concat(l.fields, fields)...)
}

func (l *fieldLogger) Info(msg string, fields ...interface{}) {
	l.next.Info(msg, concat(l.fields, fields)...)
}

func (l *fieldLogger) Warn(msg string, fields ...interface{}) {
	l.next.Warn(msg, concat(l.fields, fields)...)
}

func (l *fieldLogger) Error(msg string, err error, fields ...interface{}) {
	l.next.Error(msg, err, concat(l.fields, fields)...)
}

func (l *fieldLogger) Close() error {
	if c, ok := l.next.(Closeable); ok {
		return c.Close()
	}
	return nil
}
