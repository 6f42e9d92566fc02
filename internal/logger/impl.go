package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/julianstephens/go-utils/helpers"
	goulog "github.com/julianstephens/go-utils/logger"
)

// ConsoleLogger writes single-line entries, errors to err and everything else to out.
type ConsoleLogger struct {
	minLevel Level
	out      io.Writer
	err      io.Writer
}

// NewConsoleLogger creates a logger writing to stdout/stderr. Unknown levels
// fall back to info.
func NewConsoleLogger(level string) Logger {
	lvl, _ := ParseLevel(level)
	return &ConsoleLogger{
		minLevel: lvl,
		out:      os.Stdout,
		err:      os.Stderr,
	}
}

func (cl *ConsoleLogger) Debug(msg string, fields ...interface{}) {
	cl.log(LevelDebug, msg, fields...)
}

func (cl *ConsoleLogger) Info(msg string, fields ...interface{}) {
	cl.log(LevelInfo, msg, fields...)
}

func (cl *ConsoleLogger) Warn(msg string, fields ...interface{}) {
	cl.log(LevelWarn, msg, fields...)
}

func (cl *ConsoleLogger) Error(msg string, err error, fields ...interface{}) {
	cl.log(LevelError, msg, append([]interface{}{"error", err}, fields...)...)
}

func (cl *ConsoleLogger) log(level Level, msg string, fields ...interface{}) {
	if level < cl.minLevel {
		return
	}

	var b strings.Builder
	b.WriteString("[")
	b.WriteString(time.Now().Format("2006-01-02T15:04:05.000Z07:00"))
	b.WriteString("] ")
	b.WriteString(strings.ToUpper(level.String()))
	b.WriteString(": ")
	b.WriteString(msg)
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&b, " %v=%v", fields[i], fields[i+1])
	}
	b.WriteString("\n")

	w := cl.out
	if level == LevelError {
		w = cl.err
	}
	_, _ = io.WriteString(w, b.String())
}

// FileOptions configures NewFileLogger.
type FileOptions struct {
	Dir        string // created if missing
	FileName   string
	MaxSizeMB  int
	MaxBackups int // 0 keeps every rotated file
	MaxAgeDays int // 0 keeps rotated files forever
	Level      string
}

// FileLogger writes JSON entries to a rotating file through go-utils/logger.
type FileLogger struct {
	underlying *goulog.Logger
	minLevel   Level
	filePath   string
}

// NewFileLogger creates a rotating file logger. Rotated files are compressed.
func NewFileLogger(opts FileOptions) (Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if err := helpers.Ensure(opts.Dir, true); err != nil {
		return nil, wrapLoggerErr("create file logger", ErrLogCreate, err, opts.Dir)
	}

	logPath := filepath.Join(opts.Dir, opts.FileName)
	underlying := goulog.New()
	if err := underlying.SetFileOutputWithConfig(rotationConfig(opts, logPath)); err != nil {
		return nil, wrapLoggerErr("create file logger", ErrLogCreate, err, logPath)
	}

	return &FileLogger{
		underlying: underlying,
		minLevel:   lvl,
		filePath:   logPath,
	}, nil
}

// rotationConfig maps FileOptions onto go-utils, where a nil limit is
// unbounded and a zero MaxAge is rejected.
func rotationConfig(opts FileOptions, path string) goulog.FileRotationConfig {
	cfg := goulog.FileRotationConfig{
		Filename: path,
		MaxSize:  opts.MaxSizeMB,
		Compress: true,
	}
	if opts.MaxBackups > 0 {
		backups := opts.MaxBackups
		cfg.MaxBackups = &backups
	}
	if opts.MaxAgeDays > 0 {
		age := opts.MaxAgeDays
		cfg.MaxAge = &age
	}
	return cfg
}

// Path returns the active log file.
func (fl *FileLogger) Path() string {
	return fl.filePath
}

func (fl *FileLogger) Debug(msg string, fields ...interface{}) {
	if fl.minLevel > LevelDebug {
		return
	}
	if len(fields) > 0 {
		fl.underlying.WithFields(fieldsToMap(fields)).Debug(msg)
		return
	}
	fl.underlying.Debug(msg)
}

func (fl *FileLogger) Info(msg string, fields ...interface{}) {
	if fl.minLevel > LevelInfo {
		return
	}
	if len(fields) > 0 {
		fl.underlying.WithFields(fieldsToMap(fields)).Info(msg)
		return
	}
	fl.underlying.Info(msg)
}

func (fl *FileLogger) Warn(msg string, fields ...interface{}) {
	if fl.minLevel > LevelWarn {
		return
	}
	if len(fields) > 0 {
		fl.underlying.WithFields(fieldsToMap(fields)).Warn(msg)
		return
	}
	fl.underlying.Warn(msg)
}

func (fl *FileLogger) Error(msg string, err error, fields ...interface{}) {
	allFields := append([]interface{}{"error", err}, fields...)
	fl.underlying.WithFields(fieldsToMap(allFields)).Error(msg)
}

// Close is a no-op; go-utils/logger flushes on every write.
func (fl *FileLogger) Close() error {
	return nil
}

// fieldsToMap converts key/value pairs to a map. Errors are stored as strings
// so they survive JSON encoding.
func fieldsToMap(fields []interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		v := fields[i+1]
		if err, ok := v.(error); ok && err != nil {
			v = err.Error()
		}
		result[fmt.Sprintf("%v", fields[i])] = v
	}
	return result
}

// MultiLogger fans every entry out to several loggers.
type MultiLogger struct {
	loggers []Logger
}

func NewMultiLogger(loggers ...Logger) Logger {
	return &MultiLogger{loggers: loggers}
}

func (ml *MultiLogger) Debug(msg string, fields ...interface{}) {
	for _, lg := range ml.loggers {
		lg.Debug(msg, fields...)
	}
}

func (ml *MultiLogger) Info(msg string, fields ...interface{}) {
	for _, lg := range ml.loggers {
		lg.Info(msg, fields...)
	}
}

func (ml *MultiLogger) Warn(msg string, fields ...interface{}) {
	for _, lg := range ml.loggers {
		lg.Warn(msg, fields...)
	}
}

func (ml *MultiLogger) Error(msg string, err error, fields ...interface{}) {
	for _, lg := range ml.loggers {
		lg.Error(msg, err, fields...)
	}
}

// Close closes every Closeable logger and reports the last failure.
func (ml *MultiLogger) Close() error {
	var lastErr error
	for _, lg := range ml.loggers {
		if c, ok := lg.(Closeable); ok {
			if err := c.Close(); err != nil {
				lastErr = err
			}
		}
	}
	if lastErr != nil {
		return wrapLoggerErr("close multi logger", ErrLogClose, lastErr, "")
	}
	return nil
}
