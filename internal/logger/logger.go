// Package logger builds the zap loggers used across go-git-bridge.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// LevelInfo sets the log level to info
	LevelInfo = "info"

	// LevelDebug sets the log level to debug
	LevelDebug = "debug"

	// LevelNone disables logging
	LevelNone = "none"

	// EnvLevel is the environment variable read by FromEnv.
	EnvLevel = "GIT_BRIDGE_LOG_LEVEL"
)

// New returns a zap logger with the specified level.
func New(level string) (*zap.Logger, error) {
	if level == LevelNone || level == "" {
		return zap.NewNop(), nil
	}

	config := zap.NewProductionConfig()
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	config.Level = zap.NewAtomicLevelAt(lvl)
	return config.Build()
}

// Must returns a zap logger with the specified level or panics.
func Must(level string) *zap.Logger {
	l, err := New(level)
	if err != nil {
		panic(err)
	}

	return l
}

// FromEnv returns a logger at the level named by GIT_BRIDGE_LOG_LEVEL, or a
// no-op logger when the variable is unset or invalid.
func FromEnv() *zap.Logger {
	l, err := New(os.Getenv(EnvLevel))
	if err != nil {
		return zap.NewNop()
	}

	return l
}
