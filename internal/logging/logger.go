package logging

import (
	"os"

	"go.uber.org/zap"
)

// NewLogger creates a structured production logger with the service name
// attached to every entry. LOG_LEVEL overrides the default info level;
// the sync pipeline logs skip decisions at debug.
func NewLogger(serviceName string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
		level, err := zap.ParseAtomicLevel(levelStr)
		if err == nil {
			config.Level = level
		}
	}

	return config.Build()
}

// WithGSRN returns a logger with the metering point identifier attached
func WithGSRN(logger *zap.Logger, gsrn string) *zap.Logger {
	return logger.With(zap.String("gsrn", gsrn))
}
