// Package logging provides the Logger interface every long-lived
// component accepts at construction time, the way
// golang.zx2c4.com/wireguard/device passes a *Logger into Device and
// Peer instead of reaching for a package-level global. The interface
// shape is the teacher's; the engine underneath is go.uber.org/zap.
package logging

import (
	"go.uber.org/zap"
)

const (
	LevelSilent = iota
	LevelError
	LevelInfo
	LevelDebug
)

// Logger is accepted by every component that needs to report state
// transitions. Never call a package-level logger from inside the core:
// construct one here and pass it down, mirroring the teacher's Device.log.
type Logger interface {
	Debugw(msg string, kv ...interface{})
	Infow(msg string, kv ...interface{})
	Errorw(msg string, kv ...interface{})
	With(kv ...interface{}) Logger
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// New builds a Logger at the given level, prefixed for the named
// component (mirrors NewLogger(level, prepend) in device/logger.go).
func New(level int, component string) Logger {
	cfg := zap.NewProductionConfig()
	switch {
	case level >= LevelDebug:
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case level >= LevelInfo:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case level >= LevelError:
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.FatalLevel + 1)
	}
	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return &zapLogger{sugar: logger.Sugar().With("component", component)}
}

func (l *zapLogger) Debugw(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l *zapLogger) Infow(msg string, kv ...interface{})  { l.sugar.Infow(msg, kv...) }
func (l *zapLogger) Errorw(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }

func (l *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{sugar: l.sugar.With(kv...)}
}

// Nop returns a Logger that discards everything, for tests.
func Nop() Logger { return &zapLogger{sugar: zap.NewNop().Sugar()} }
