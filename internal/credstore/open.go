package credstore

import (
	"fmt"
	"time"

	"github.com/aelexs/session-gateway/internal/domain"
	"github.com/aelexs/session-gateway/internal/dynamo"
	redisclient "github.com/aelexs/session-gateway/internal/redis"
	"github.com/aelexs/session-gateway/internal/session"
)

// Options selects and configures a store backend. Redis and Dynamo must be
// set for their respective kinds.
type Options struct {
	Kind      domain.StoreKind
	Profile   string
	FilePath  string
	KeyPrefix string
	Table     string
	TTL       time.Duration

	Redis  redisclient.Cmdable
	Dynamo *dynamo.Client
	Clock  domain.Clock
}

// Open returns the store backend opts.Kind names.
func Open(opts Options) (session.CredentialStore, error) {
	switch opts.Kind {
	case domain.StoreKindMemory:
		return NewMemoryStore(), nil
	case domain.StoreKindFile:
		return NewFileStore(opts.FilePath, opts.Profile)
	case domain.StoreKindRedis:
		if opts.Redis == nil {
			return nil, fmt.Errorf("open redis store: %w: redis client", domain.ErrConfigRequired)
		}
		return NewRedisStore(opts.Redis, opts.KeyPrefix, opts.Profile, opts.TTL), nil
	case domain.StoreKindDynamoDB:
		if opts.Dynamo == nil {
			return nil, fmt.Errorf("open dynamodb store: %w: dynamodb client", domain.ErrConfigRequired)
		}
		return NewDynamoStore(opts.Dynamo.DB, opts.Table, opts.Profile, opts.TTL, opts.Clock), nil
	default:
		return nil, fmt.Errorf("open store %q: %w", opts.Kind, domain.ErrConfigInvalid)
	}
}
