package events

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"

	redisclient "github.com/aelexs/session-gateway/internal/redis"
)

// NewRedisStreamPublisher publishes over Redis Streams using client.
func NewRedisStreamPublisher(client redisclient.UniversalClient, logger *slog.Logger) (message.Publisher, error) {
	pub, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{Client: client},
		watermillLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create redis stream publisher: %w", err)
	}
	return pub, nil
}

// NewRedisStreamSubscriber subscribes over Redis Streams. An empty group
// gives every subscriber its own copy of each event.
func NewRedisStreamSubscriber(client redisclient.UniversalClient, group string, logger *slog.Logger) (message.Subscriber, error) {
	sub, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client:        client,
			ConsumerGroup: group,
		},
		watermillLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create redis stream subscriber: %w", err)
	}
	return sub, nil
}

func watermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	if logger == nil {
		return watermill.NopLogger{}
	}
	return watermill.NewSlogLogger(logger)
}
