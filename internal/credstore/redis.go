package credstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/session-gateway/internal/domain"
	redisclient "github.com/aelexs/session-gateway/internal/redis"
	"github.com/aelexs/session-gateway/internal/session"
)

var _ session.CredentialStore = (*RedisStore)(nil)

// RedisStore keeps the pair under {prefix}{profile} as JSON with a TTL, so
// several processes can share one session.
type RedisStore struct {
	cmd redisclient.Cmdable
	key string
	ttl time.Duration
}

// NewRedisStore creates a RedisStore for profile. A zero ttl uses
// domain.CredentialTTL.
func NewRedisStore(cmd redisclient.Cmdable, prefix, profile string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = domain.CredentialTTL
	}
	return &RedisStore{cmd: cmd, key: prefix + profile, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context) (session.CredentialPair, bool, error) {
	ctx, span := tracer.Start(ctx, "redis.credentials.get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "GET"),
	)

	raw, err := s.cmd.Get(ctx, s.key).Bytes()
	if redisclient.IsNil(err) {
		return session.CredentialPair{}, false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return session.CredentialPair{}, false, fmt.Errorf("get credentials %q: %w: %w", s.key, domain.ErrStoreUnavailable, err)
	}

	var pair session.CredentialPair
	if err := json.Unmarshal(raw, &pair); err != nil {
		return session.CredentialPair{}, false, fmt.Errorf("decode credentials %q: %w", s.key, err)
	}
	return pair, true, nil
}

func (s *RedisStore) Set(ctx context.Context, pair session.CredentialPair) error {
	ctx, span := tracer.Start(ctx, "redis.credentials.set")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "SET"),
	)

	raw, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := s.cmd.Set(ctx, s.key, raw, s.ttl).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("set credentials %q: %w: %w", s.key, domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "redis.credentials.clear")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "DEL"),
	)

	if err := s.cmd.Del(ctx, s.key).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("clear credentials %q: %w: %w", s.key, domain.ErrStoreUnavailable, err)
	}
	return nil
}
