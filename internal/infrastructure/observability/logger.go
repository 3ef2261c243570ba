// Package observability provides logging, metrics and tracing for the
// storefront cache service.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Production uses JSON output; every
// other environment uses the development console encoder. level overrides
// the default level when set.
func NewLogger(environment, level string) (*zap.Logger, zap.AtomicLevel, error) {
	var cfg zap.Config
	if environment == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	if level != "" {
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(level)); err != nil {
			return nil, cfg.Level, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level.SetLevel(l)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, cfg.Level, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, cfg.Level, nil
}
