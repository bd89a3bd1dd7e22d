// Package util provides shared utility functions for logging, retries and
// rate limiting.
package util

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a structured zap logger at the specified level.
// Supported levels: "debug", "info", "warn", "error". Defaults to "info" if
// the level string is not recognised. format selects the "json" (default) or
// "console" encoder.
func NewLogger(level, format string) (*zap.Logger, error) {
	var zlevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zlevel = zap.DebugLevel
	case "info":
		zlevel = zap.InfoLevel
	case "warn":
		zlevel = zap.WarnLevel
	case "error":
		zlevel = zap.ErrorLevel
	default:
		zlevel = zap.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zlevel)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	return cfg.Build()
}

// SetDefault installs logger as zap's global logger and returns a function
// that restores the previous one.
func SetDefault(logger *zap.Logger) func() {
	return zap.ReplaceGlobals(logger)
}
