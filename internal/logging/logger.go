// Package logging builds the process zap logger.
package logging

import (
	"fmt"

	"github.com/devghori1264/agingwms/internal/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger at level. format is "json" for production encoding
// or "console" for the development encoder.
func New(level, format string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: log level: %v", models.ErrArgument, err)
	}

	var cfg zap.Config
	switch format {
	case "", "json":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("%w: log format %q", models.ErrArgument, format)
	}
	cfg.Level = lvl
	return cfg.Build(zap.AddCaller())
}
