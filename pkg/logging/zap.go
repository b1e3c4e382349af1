package logging

import (
	"context"
	"os"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds configuration for the zap logger
type Config struct {
	// Path is the log file path, empty logs to stderr
	Path string
	// Format is the output format (json or text)
	Format Format
	// Level is the minimum log level
	Level Level
	// MaxSize is the maximum size in bytes before rotation (0 = no rotation)
	MaxSize int64
	// MaxBackups is the maximum number of backup files to keep
	MaxBackups int
}

// ZapLogger implements Logger on top of zap
type ZapLogger struct {
	zl   *zap.Logger
	file *RotatingFile
}

// NewZapLogger creates a logger writing to cfg.Path, or to stderr
func NewZapLogger(cfg Config) (*ZapLogger, error) {
	var sink zapcore.WriteSyncer
	var file *RotatingFile
	if cfg.Path != "" {
		f, err := OpenRotatingFile(cfg.Path, cfg.MaxSize, cfg.MaxBackups)
		if err != nil {
			return nil, err
		}
		sink, file = f, f
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(newEncoder(cfg.Format), sink, zapLevel(cfg.Level))
	return &ZapLogger{
		zl:   zap.New(core, zap.AddStacktrace(zapcore.ErrorLevel)),
		file: file,
	}, nil
}

// NewZapLoggerWith wraps an existing zap core, mostly for tests
func NewZapLoggerWith(core zapcore.Core) *ZapLogger {
	return &ZapLogger{zl: zap.New(core)}
}

func newEncoder(format Format) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.MessageKey = "message"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.CapitalLevelEncoder

	if format == FormatJSON {
		return zapcore.NewJSONEncoder(ec)
	}
	return zapcore.NewConsoleEncoder(ec)
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// toZap converts fields in a stable key order
func toZap(fields Fields) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(fields))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

// Debug logs a debug message
func (l *ZapLogger) Debug(ctx context.Context, msg string, fields Fields) {
	l.zl.Debug(msg, toZap(fields)...)
}

// Info logs an info message
func (l *ZapLogger) Info(ctx context.Context, msg string, fields Fields) {
	l.zl.Info(msg, toZap(fields)...)
}

// Warn logs a warning message
func (l *ZapLogger) Warn(ctx context.Context, msg string, fields Fields) {
	l.zl.Warn(msg, toZap(fields)...)
}

// Error logs an error message
func (l *ZapLogger) Error(ctx context.Context, msg string, err error, fields Fields) {
	zf := toZap(fields)
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	l.zl.Error(msg, zf...)
}

// WithFields returns a logger with additional fields
func (l *ZapLogger) WithFields(fields Fields) Logger {
	return &ZapLogger{zl: l.zl.With(toZap(fields)...), file: l.file}
}

// Close flushes the logger and closes its file
func (l *ZapLogger) Close() error {
	_ = l.zl.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
