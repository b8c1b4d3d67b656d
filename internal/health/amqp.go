package health

import (
	"context"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPChecker implements health checking for an AMQP broker connection.
type AMQPChecker struct {
	conn *amqp.Connection
}

// NewAMQPChecker creates a new AMQP health checker.
func NewAMQPChecker(conn *amqp.Connection) *AMQPChecker {
	return &AMQPChecker{conn: conn}
}

// HealthCheck reports whether the broker connection is still open.
func (a *AMQPChecker) HealthCheck(_ context.Context) error {
	if a.conn == nil || a.conn.IsClosed() {
		return errors.New("amqp connection is closed")
	}
	return nil
}
