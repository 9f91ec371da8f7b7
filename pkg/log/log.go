// Package log provides the structured logger used across the router.
//
// It wraps go.uber.org/zap behind a small interface so call sites never
// depend on zap's concrete types, and can render output through
// github.com/jsternberg/zap-logfmt for compact, greppable lines or as JSON.
package log

import (
	"context"
	"fmt"
	"os"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a logging severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Config configures a Logger built with NewZapLogger.
type Config struct {
	// Format is "json" or "logfmt" (default).
	Format string `env:"ROUTER_LOG_FORMAT" env-default:"logfmt"`
	Level  Level  `env:"ROUTER_LOG_LEVEL" env-default:"info"`
}

// Logger is the logging interface every router component depends on.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)

	// WithKV returns a child logger with an additional key-value pair
	// attached to every subsequent log line.
	WithKV(key string, value any) Logger
	// GetAllKV returns the accumulated key-value pairs as a flat slice.
	GetAllKV() []any

	// WithName returns a child logger scoped to a named subsystem, joined
	// with the parent's name by ".", e.g. "rpc-node.dispatch".
	WithName(name string) Logger
	// Name returns this logger's dotted subsystem name.
	Name() string

	// AddCallerSkip returns a logger that skips n extra stack frames when
	// reporting the caller, for use inside thin wrapper functions.
	AddCallerSkip(n int) Logger
}

var _ Logger = &zapLogger{}

type zapLogger struct {
	sugar *zap.SugaredLogger
	name  string
	kv    []any
}

// NewZapLogger builds a Logger backed by zap, writing to ws in the
// configured format and level.
func NewZapLogger(cfg Config, ws zapcore.WriteSyncer) Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoder = zaplogfmt.NewEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(ws), zap.NewAtomicLevelAt(cfg.Level.zapLevel()))
	return &zapLogger{sugar: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).Sugar()}
}

// New builds the default production logger: logfmt encoding at Info level to stdout.
func New() Logger {
	return NewZapLogger(Config{Format: "logfmt", Level: LevelInfo}, zapcore.AddSync(os.Stdout))
}

// NewNop returns a logger that discards everything, useful in tests.
func NewNop() Logger {
	return &zapLogger{sugar: zap.NewNop().Sugar()}
}

func (l *zapLogger) log(level Level, msg string, kv []any) {
	all := append(append([]any{}, l.kv...), kv...)
	switch level {
	case LevelDebug:
		l.sugar.Debugw(msg, all...)
	case LevelWarn:
		l.sugar.Warnw(msg, all...)
	case LevelError:
		l.sugar.Errorw(msg, all...)
	default:
		l.sugar.Infow(msg, all...)
	}
}

func (l *zapLogger) Debug(msg string, kv ...any) { l.log(LevelDebug, msg, kv) }
func (l *zapLogger) Info(msg string, kv ...any)  { l.log(LevelInfo, msg, kv) }
func (l *zapLogger) Warn(msg string, kv ...any)  { l.log(LevelWarn, msg, kv) }
func (l *zapLogger) Error(msg string, kv ...any) { l.log(LevelError, msg, kv) }

func (l *zapLogger) WithKV(key string, value any) Logger {
	return &zapLogger{sugar: l.sugar, name: l.name, kv: append([]any{key, value}, l.kv...)}
}

func (l *zapLogger) GetAllKV() []any {
	out := make([]any, len(l.kv))
	copy(out, l.kv)
	return out
}

func (l *zapLogger) WithName(name string) Logger {
	newName := name
	if l.name != "" {
		newName = fmt.Sprintf("%s.%s", l.name, name)
	}
	return &zapLogger{sugar: l.sugar.Named(name), name: newName, kv: l.kv}
}

func (l *zapLogger) Name() string {
	return l.name
}

func (l *zapLogger) AddCallerSkip(n int) Logger {
	return &zapLogger{sugar: l.sugar.Desugar().WithOptions(zap.AddCallerSkip(n)).Sugar(), name: l.name, kv: l.kv}
}

type contextKey struct{}

// IntoContext attaches a Logger to ctx for FromContext to retrieve later.
func IntoContext(ctx context.Context, lg Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, lg)
}

// FromContext returns the Logger attached to ctx, or a no-op logger if none was set.
func FromContext(ctx context.Context) Logger {
	if lg, ok := ctx.Value(contextKey{}).(Logger); ok {
		return lg
	}
	return NewNop()
}
