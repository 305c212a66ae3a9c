package main

import (
	"go.uber.org/zap"

	"github.com/gridcert/issuance-worker/internal/config"
	"github.com/gridcert/issuance-worker/internal/logging"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
