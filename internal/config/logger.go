package config

import (
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewLogger builds the application logger. Set LOG_MODE=development for
// human-readable console output.
func NewLogger(lc fx.Lifecycle) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error
	if os.Getenv("LOG_MODE") == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(func() {
		_ = logger.Sync()
	}))
	return logger, nil
}
