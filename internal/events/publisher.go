// Package events publishes session teardowns to a message bus so other
// processes sharing the credential store can react to them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/aelexs/session-gateway/internal/session"
)

// DefaultTopic is the topic logout events are published on.
const DefaultTopic = "session.logout"

// Metadata keys set on every published message.
const (
	MetadataReason  = "reason"
	MetadataProfile = "profile"
)

var _ session.LogoutHook = (*Publisher)(nil)

// Publisher is a session.LogoutHook that publishes each teardown as a JSON
// LogoutEvent.
type Publisher struct {
	pub     message.Publisher
	topic   string
	profile string
	logger  *slog.Logger
}

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	Topic   string
	Profile string
	Logger  *slog.Logger
}

// NewPublisher wraps pub.
func NewPublisher(pub message.Publisher, cfg PublisherConfig) *Publisher {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{pub: pub, topic: topic, profile: cfg.Profile, logger: logger}
}

// OnLogout publishes ev. A hook cannot fail the teardown, so publish errors
// are logged and dropped.
func (p *Publisher) OnLogout(ctx context.Context, ev session.LogoutEvent) {
	if err := p.Publish(ctx, ev); err != nil {
		p.logger.WarnContext(ctx, "logout event not published",
			slog.String("topic", p.topic),
			slog.String("reason", string(ev.Reason)),
			slog.String("error", err.Error()),
		)
	}
}

// Publish sends ev on the configured topic.
func (p *Publisher) Publish(ctx context.Context, ev session.LogoutEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal logout event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataReason, string(ev.Reason))
	if p.profile != "" {
		msg.Metadata.Set(MetadataProfile, p.profile)
	}

	if err := p.pub.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}

// DecodeLogoutEvent parses a message produced by Publisher.
func DecodeLogoutEvent(msg *message.Message) (session.LogoutEvent, error) {
	var ev session.LogoutEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return session.LogoutEvent{}, fmt.Errorf("decode logout event %s: %w", msg.UUID, err)
	}
	if ev.Reason == "" {
		ev.Reason = session.LogoutReason(msg.Metadata.Get(MetadataReason))
	}
	return ev, nil
}

// Watch delivers logout events from topic to fn until ctx is done or the
// subscription closes. Messages that fail to decode are acked and skipped;
// messages fn rejects are nacked for redelivery.
func Watch(ctx context.Context, sub message.Subscriber, topic string, fn func(context.Context, session.LogoutEvent) error) error {
	if topic == "" {
		topic = DefaultTopic
	}
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			ev, err := DecodeLogoutEvent(msg)
			if err != nil {
				slog.WarnContext(ctx, "skipping malformed logout event", slog.String("error", err.Error()))
				msg.Ack()
				continue
			}
			if err := fn(ctx, ev); err != nil {
				msg.Nack()
				continue
			}
			msg.Ack()
		}
	}
}
