package domain

import "time"

// Request-layer defaults. These are compiled defaults that can be
// overridden via configuration.
const (
	// Backend contract
	RefreshPath         = "/login/refresh"  // Refresh endpoint, POST {refreshToken}
	LoginPath           = "/login"          // Login endpoint, POST {username, password}
	EnvelopePath        = "data.data"       // gjson path of the payload inside a success body
	SessionRevokedCode  = "SESSION_REVOKED" // Application code that invalidates the session
	AuthorizationHeader = "Authorization"
	BearerPrefix        = "Bearer "

	// Timeout contracts
	BackendTimeout  = 30 * time.Second // Per-request HTTP client timeout
	RefreshTimeout  = 10 * time.Second // Max time for one refresh call, shared by all waiters
	RedisTimeout    = 2 * time.Second  // Max time for Redis operations
	DynamoDBTimeout = 5 * time.Second  // Max time for DynamoDB operations

	// Credential persistence
	CredentialTTL = 30 * 24 * time.Hour // Upper bound on how long a stored pair is kept

	// Development backend tokens
	AccessTokenLifetime  = 15 * time.Minute
	RefreshTokenLifetime = 7 * 24 * time.Hour

	// Graceful shutdown
	GracefulShutdownTimeout = 30 * time.Second
	ShutdownDrainDelay      = 2 * time.Second
	ShutdownHTTPTimeout     = 10 * time.Second
	ShutdownOTELTimeout     = 5 * time.Second
)

// StoreKind selects a credential store backend.
type StoreKind string

const (
	StoreKindMemory   StoreKind = "memory"
	StoreKindFile     StoreKind = "file"
	StoreKindRedis    StoreKind = "redis"
	StoreKindDynamoDB StoreKind = "dynamodb"
)

// IsValidStoreKind checks if a store kind is supported.
func IsValidStoreKind(k StoreKind) bool {
	switch k {
	case StoreKindMemory, StoreKindFile, StoreKindRedis, StoreKindDynamoDB:
		return true
	}
	return false
}
