// Package logging constructs the structured logger shared by every
// component of the translation server.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-profile zap.Logger, or a development one when
// debug is set (human-readable console encoding, debug level enabled).
func New(debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}
	return zap.NewProduction()
}

// Must is New, panicking on failure — only meant for process start-up.
func Must(debug bool) *zap.Logger {
	logger, err := New(debug)
	if err != nil {
		panic(err)
	}
	return logger
}
