package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nkiryanov/passwordless/internal/models"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPDispatcher publishes OTP messages to a durable queue through the default exchange
type AMQPDispatcher struct {
	ch    amqpChannel
	queue string
	close func() error
}

func NewAMQP(ch amqpChannel, queue string) *AMQPDispatcher {
	if queue == "" {
		queue = DefaultTopic
	}

	return &AMQPDispatcher{
		ch:    ch,
		queue: queue,
		close: func() error { return nil },
	}
}

// DialAMQP connects to the broker and declares the queue
func DialAMQP(url string, queue string) (*AMQPDispatcher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}

	d := NewAMQP(ch, queue)
	if _, err := ch.QueueDeclare(d.queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare amqp queue %q: %w", d.queue, err)
	}

	d.close = func() error {
		return errors.Join(ch.Close(), conn.Close())
	}

	return d, nil
}

func (d *AMQPDispatcher) Dispatch(ctx context.Context, otp models.OTPMessage) error {
	payload, err := encode(otp)
	if err != nil {
		return err
	}

	err = d.ch.PublishWithContext(ctx, "", d.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Expiration:   expiration(otp.ExpiresAt),
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish otp message: %w", err)
	}

	return nil
}

func (d *AMQPDispatcher) Close() error {
	return d.close()
}

// Message is useless after the code expired, let the broker drop it
func expiration(expiresAt time.Time) string {
	ttl := time.Until(expiresAt).Milliseconds()
	if ttl < 1 {
		ttl = 1
	}
	return fmt.Sprintf("%d", ttl)
}
