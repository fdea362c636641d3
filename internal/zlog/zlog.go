// Package zlog provides the structured logger used across every component
// of the node. It wraps zap.SugaredLogger behind a small interface so
// components can be handed a logger without depending on zap directly,
// mirroring the teacher's log.Logger wrapper convention.
package zlog

import (
	"go.uber.org/zap"
)

// Logger is the structured, leveled logger handed to every component.
// Calls follow the slog-style key/value convention: Info("message", "key", value, ...).
type Logger interface {
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
	With(kv ...interface{}) Logger
	Sync() error
}

type zapLogger struct {
	l *zap.SugaredLogger
}

// New returns a production JSON logger.
func New() (Logger, error) {
	base, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &zapLogger{l: base.Sugar()}, nil
}

// NewDevelopment returns a human-readable console logger, for local runs.
func NewDevelopment() (Logger, error) {
	base, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return &zapLogger{l: base.Sugar()}, nil
}

// NewNoOp returns a logger that discards everything, for tests.
func NewNoOp() Logger {
	return &zapLogger{l: zap.NewNop().Sugar()}
}

func (z *zapLogger) Debug(msg string, kv ...interface{}) { z.l.Debugw(msg, kv...) }
func (z *zapLogger) Info(msg string, kv ...interface{})  { z.l.Infow(msg, kv...) }
func (z *zapLogger) Warn(msg string, kv ...interface{})  { z.l.Warnw(msg, kv...) }
func (z *zapLogger) Error(msg string, kv ...interface{}) { z.l.Errorw(msg, kv...) }

func (z *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{l: z.l.With(kv...)}
}

func (z *zapLogger) Sync() error { return z.l.Sync() }
