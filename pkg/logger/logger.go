package logger

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration
type Config struct {
	Level       string // debug, info, warn, error; also accepts environment names
	ServiceName string
	Development bool
}

// Logger wraps zap with key-value structured logging
type Logger struct {
	sugar *zap.SugaredLogger
}

var (
	global *Logger
	mu     sync.RWMutex
)

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug", "development":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init initializes the global logger
func Init(cfg *Config) error {
	if cfg == nil {
		cfg = &Config{Level: "info"}
	}

	var zapCfg zap.Config
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	base, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	if cfg.ServiceName != "" {
		base = base.With(zap.String("service", cfg.ServiceName))
	}

	mu.Lock()
	global = &Logger{sugar: base.Sugar()}
	mu.Unlock()

	return nil
}

// Get returns the global logger, initializing a no-frills default if
// Init was never called.
func Get() *Logger {
	mu.RLock()
	l := global
	mu.RUnlock()

	if l != nil {
		return l
	}

	_ = Init(&Config{Level: "info"})

	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Sync flushes buffered log entries
func Sync() error {
	mu.RLock()
	l := global
	mu.RUnlock()

	if l == nil {
		return nil
	}
	return l.sugar.Sync()
}

// With returns a child logger with the given key-value pairs attached
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(keysAndValues...)}
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.sugar.Fatalw(msg, keysAndValues...)
}

// traceFields extracts the active trace/span ids, if any
func traceFields(ctx context.Context) []interface{} {
	span := trace.SpanFromContext(ctx)
	sc := span.SpanContext()
	if !sc.IsValid() {
		return nil
	}
	return []interface{}{
		"trace_id", sc.TraceID().String(),
		"span_id", sc.SpanID().String(),
	}
}

func (l *Logger) InfoContext(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, append(traceFields(ctx), keysAndValues...)...)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, append(traceFields(ctx), keysAndValues...)...)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(traceFields(ctx), keysAndValues...)...)
}
