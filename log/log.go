// Package log wires the zap logger used by the validation packages.
//
// Loggers travel inside a context.Context so that a validation run can tag
// every entry with its run identifier without threading a logger through
// every call.
package log

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type loggerContextKey string

const loggerKey loggerContextKey = "logger"

// New builds a console logger writing to stderr at the given level.
// Accepted levels are debug, info, warn and error.
func New(level string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Sampling = nil
	return cfg.Build()
}

// ParseLevel converts a textual level into a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// CtxWith returns a new context, based on ctx, that embeds logger.
func CtxWith(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		panic("nil context")
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromCtx returns the logger embedded in ctx, or the global zap logger.
// It never returns nil.
func FromCtx(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
			return logger
		}
	}
	return zap.L()
}

// WithFields returns a context whose logger carries the additional fields.
// For convenience it also returns the logger itself.
func WithFields(ctx context.Context, fields ...zap.Field) (context.Context, *zap.Logger) {
	logger := FromCtx(ctx).With(fields...)
	return CtxWith(ctx, logger), logger
}
