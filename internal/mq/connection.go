package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Connection wraps the shared RabbitMQ connection. The command publisher
// and the confirmation consumer each open their own channel on it.
type Connection struct {
	conn   *amqp.Connection
	logger *zap.Logger
}

// NewConnection dials RabbitMQ and ties the connection to the fx lifecycle
func NewConnection(lc fx.Lifecycle, logger *zap.Logger, url string) (*Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		logger.Error("rabbitmq connection failed", zap.Error(err))
		return nil, fmt.Errorf("cannot connect to RabbitMQ: %w", err)
	}

	// Surface broker-side closes; the process is restarted by the
	// orchestrator rather than reconnecting in place.
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if amqpErr := <-closed; amqpErr != nil {
			logger.Error("rabbitmq connection lost", zap.String("reason", amqpErr.Reason))
		}
	}()

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("rabbitmq connection established")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := conn.Close(); err != nil {
				logger.Error("failed to close rabbitmq connection", zap.Error(err))
				return err
			}
			logger.Info("rabbitmq connection closed")
			return nil
		},
	})

	return &Connection{conn: conn, logger: logger}, nil
}

// Channel opens a new channel on the shared connection
func (c *Connection) Channel() (*amqp.Channel, error) {
	return c.conn.Channel()
}
