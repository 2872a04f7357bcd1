package main

import (
	"github.com/septivank/pawtelligent-feeder/internal/config"
	"github.com/septivank/pawtelligent-feeder/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLoggerFromConfig(cfg.ServiceName, cfg.Log)
}
