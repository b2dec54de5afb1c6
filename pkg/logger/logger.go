// Package logger builds the process-wide zap logger. Components receive a
// *zap.SugaredLogger at construction and never touch global state.
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a SugaredLogger from a level name ("debug", "info", "warn",
// "error") and a format ("console" or "json"). Unknown levels fall back to
// info, unknown formats to console.
func New(level, format string) (*zap.SugaredLogger, error) {
	atomic := zap.NewAtomicLevel()
	if err := atomic.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		atomic.SetLevel(zap.InfoLevel)
	}

	var cfg zap.Config
	if strings.EqualFold(format, "json") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	cfg.Level = atomic
	cfg.OutputPaths = []string{"stdout"}

	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return log.Sugar(), nil
}

// Nop returns a logger that discards everything. Used by tests and as a
// default when a component is handed a nil logger.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
