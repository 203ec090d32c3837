// Package logger provides the leveled logging utility used by every pipeline stage.
// Records are written to standard output and, while a stage is running, also to that
// stage's own log file (see OpenStageLog).
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LevelSilent suppresses every record, including errors.
const LevelSilent = zapcore.FatalLevel + 1

var (
	mu     sync.RWMutex
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	stdout zapcore.Core
	sugar  *zap.SugaredLogger
)

func init() {
	stdout = zapcore.NewCore(newEncoder(), zapcore.Lock(os.Stdout), level)
	sugar = zap.New(stdout).Sugar()
}

// newEncoder renders "time - LEVEL - message" lines.
func newEncoder() zapcore.Encoder {
	return zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " - ",
	})
}

// SetLogLevel sets the global log level.
// Valid values are "DEBUG", "INFO", "WARN", "ERROR", "FATAL" and "SILENT" (case-insensitive).
// An invalid value falls back to INFO and a warning is printed to standard output.
func SetLogLevel(lvl string) {
	switch strings.ToUpper(lvl) {
	case "DEBUG":
		level.SetLevel(zapcore.DebugLevel)
	case "INFO":
		level.SetLevel(zapcore.InfoLevel)
	case "WARN":
		level.SetLevel(zapcore.WarnLevel)
	case "ERROR":
		level.SetLevel(zapcore.ErrorLevel)
	case "FATAL":
		level.SetLevel(zapcore.FatalLevel)
	case "SILENT":
		level.SetLevel(LevelSilent)
	default:
		fmt.Printf("Unknown log level '%s' specified. Defaulting to INFO level.\n", lvl)
		level.SetLevel(zapcore.InfoLevel)
	}
}

// Level returns the current global level.
func Level() zapcore.Level {
	return level.Level()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// OpenStageLog starts teeing every record to <dir>/<name>.log in addition to standard output.
// The file is opened in append mode.
// The returned function restores the previous logger and closes the file.
func OpenStageLog(dir, name string) (func() error, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, name+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open stage log %s: %w", path, err)
	}
	fileCore := zapcore.NewCore(newEncoder(), zapcore.AddSync(f), level)

	mu.Lock()
	prev := sugar
	sugar = zap.New(zapcore.NewTee(stdout, fileCore)).Sugar()
	mu.Unlock()

	return func() error {
		mu.Lock()
		sugar = prev
		mu.Unlock()
		_ = fileCore.Sync()
		return f.Close()
	}, nil
}

// Debugf formats and outputs a DEBUG level log message.
func Debugf(format string, v ...interface{}) {
	current().Debugf(format, v...)
}

// Infof formats and outputs an INFO level log message.
func Infof(format string, v ...interface{}) {
	current().Infof(format, v...)
}

// Warnf formats and outputs a WARN level log message.
func Warnf(format string, v ...interface{}) {
	current().Warnf(format, v...)
}

// Errorf formats and outputs an ERROR level log message.
func Errorf(format string, v ...interface{}) {
	current().Errorf(format, v...)
}

// Fatalf outputs a FATAL level log message and terminates the process with exit code 1.
func Fatalf(format string, v ...interface{}) {
	current().Fatalf(format, v...)
}

// Sync flushes buffered records.
func Sync() {
	_ = current().Sync()
}
