// Package logger wraps go.uber.org/zap behind the small structured
// logging facade shared by every openworkd package.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingConfig selects the level, encoding, and destination of a Logger.
type LoggingConfig struct {
	Level      string // debug, info, warn, error
	Format     string // json for machines, console or text for humans
	OutputPath string // stdout, stderr, or a file path opened for append
}

// Logger is a leveled structured logger. Child loggers created through
// WithFields share the parent's core and attach their fields to every entry.
type Logger struct {
	zap *zap.Logger
}

var (
	global     *Logger
	globalOnce sync.Once
)

// Default returns the process-wide logger, building it on first use at info
// level. Output format follows the environment: JSON under Kubernetes or
// when OPENWORK_ENV names a production deployment, console otherwise.
func Default() *Logger {
	globalOnce.Do(func() {
		l, err := NewLogger(LoggingConfig{
			Level:      "info",
			Format:     defaultFormat(),
			OutputPath: "stdout",
		})
		if err != nil {
			l = &Logger{zap: zap.Must(zap.NewProduction())}
		}
		global = l
	})
	return global
}

// SetDefault replaces the process-wide logger. Spends the once so a later
// Default call cannot rebuild over the configured logger.
func SetDefault(l *Logger) {
	globalOnce.Do(func() {})
	global = l
}

// NewLogger builds a Logger from cfg. An unknown level falls back to info
// rather than failing startup; an unwritable OutputPath is an error.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	sink, err := openSink(cfg.OutputPath)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(newEncoder(cfg.Format), sink, level)
	z := zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	return &Logger{zap: z}, nil
}

// newEncoder maps a format name to its encoder. "console" and "text" are
// aliases for the colored human-readable encoding; everything else is JSON.
func newEncoder(format string) zapcore.Encoder {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder

	switch format {
	case "console", "text":
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(enc)
	default:
		enc.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(enc)
	}
}

func openSink(path string) (zapcore.WriteSyncer, error) {
	switch path {
	case "", "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	default:
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		return zapcore.AddSync(f), nil
	}
}

func defaultFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	switch os.Getenv("OPENWORK_ENV") {
	case "production", "prod":
		return "json"
	}
	return "console"
}

// Sync flushes buffered entries. Call it before the process exits.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// WithFields returns a child logger that adds the given fields to every
// entry it writes.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...)}
}

// Debug logs msg at debug level.
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.zap.Debug(msg, fields...)
}

// Info logs msg at info level.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zap.Info(msg, fields...)
}

// Warn logs msg at warn level.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.zap.Warn(msg, fields...)
}

// Error logs msg at error level.
func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.zap.Error(msg, fields...)
}

// Fatal logs msg at fatal level and then exits the process.
func (l *Logger) Fatal(msg string, fields ...zap.Field) {
	l.zap.Fatal(msg, fields...)
}
