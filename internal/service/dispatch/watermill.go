package dispatch

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/passwordless/internal/logger"
	"github.com/nkiryanov/passwordless/internal/models"
)

// WatermillDispatcher publishes OTP messages to a topic of any watermill publisher
type WatermillDispatcher struct {
	publisher message.Publisher
	topic     string
}

func NewWatermill(publisher message.Publisher, topic string) *WatermillDispatcher {
	if topic == "" {
		topic = DefaultTopic
	}

	return &WatermillDispatcher{
		publisher: publisher,
		topic:     topic,
	}
}

func (d *WatermillDispatcher) Dispatch(ctx context.Context, otp models.OTPMessage) error {
	payload, err := encode(otp)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := d.publisher.Publish(d.topic, msg); err != nil {
		return fmt.Errorf("failed to publish otp message: %w", err)
	}

	return nil
}

func (d *WatermillDispatcher) Close() error {
	return d.publisher.Close()
}

// NewRedisStream creates dispatcher publishing to Redis Streams
func NewRedisStream(client redis.UniversalClient, topic string, l logger.Logger) (*WatermillDispatcher, error) {
	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		NewWatermillLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis stream publisher: %w", err)
	}

	return NewWatermill(publisher, topic), nil
}

// watermillLogger lets watermill write to the service logger
type watermillLogger struct {
	logger logger.Logger
}

func NewWatermillLogger(l logger.Logger) watermill.LoggerAdapter {
	return &watermillLogger{logger: l.WithGroup("watermill")}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.logger.Error(msg, append(args(fields), "error", err)...)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.logger.Info(msg, args(fields)...)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.logger.Debug(msg, args(fields)...)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.logger.Debug(msg, args(fields)...)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{logger: l.logger.With(args(fields)...)}
}

func args(fields watermill.LogFields) []any {
	out := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}
