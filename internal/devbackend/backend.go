package devbackend

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/session-gateway/internal/domain"
)

// Profile is the account data served under /api/profile.
type Profile struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// ProfileUpdate holds the editable profile fields.
type ProfileUpdate struct {
	DisplayName string `json:"displayName" binding:"required,max=64"`
	Email       string `json:"email" binding:"required,email"`
}

// Order is one entry served under /api/orders.
type Order struct {
	ID        string    `json:"id"`
	Item      string    `json:"item"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewOrder is the body of POST /api/orders.
type NewOrder struct {
	Item     string `json:"item" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,gt=0"`
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type account struct {
	password string
	profile  Profile
	orders   []Order
}

// Config holds configuration for creating a Backend.
type Config struct {
	SigningKey string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Users maps usernames to passwords. Empty seeds a single demo account.
	Users map[string]string

	Clock  domain.Clock
	Logger *slog.Logger
}

// DemoUser and DemoPassword are the account seeded when Config.Users is empty.
const (
	DemoUser     = "demo"
	DemoPassword = "demo-password"
)

// Backend holds accounts, sessions and the token issuer.
type Backend struct {
	tokens     *TokenIssuer
	sessions   *sessionTable
	refreshTTL time.Duration
	clock      domain.Clock
	logger     *slog.Logger

	mu       sync.RWMutex
	accounts map[string]*account // by user id
	byName   map[string]string   // username -> user id
}

// New creates a Backend.
func New(cfg Config) *Backend {
	clock := cfg.Clock
	if clock == nil {
		clock = domain.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	refreshTTL := cfg.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = domain.RefreshTokenLifetime
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "devbackend"
	}

	b := &Backend{
		tokens: NewTokenIssuer(TokenIssuerConfig{
			SigningKey: cfg.SigningKey,
			Issuer:     issuer,
			AccessTTL:  cfg.AccessTTL,
			Clock:      clock,
		}),
		sessions:   newSessionTable(),
		refreshTTL: refreshTTL,
		clock:      clock,
		logger:     logger,
		accounts:   make(map[string]*account),
		byName:     make(map[string]string),
	}

	users := cfg.Users
	if len(users) == 0 {
		users = map[string]string{DemoUser: DemoPassword}
	}
	names := make([]string, 0, len(users))
	for name := range users {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == "" {
			continue
		}
		b.seed(name, users[name])
	}
	return b
}

func (b *Backend) seed(username, password string) {
	id := uuid.NewString()
	now := b.clock.Now().UTC()
	b.accounts[id] = &account{
		password: password,
		profile: Profile{
			UserID:      id,
			Username:    username,
			DisplayName: strings.ToUpper(username[:1]) + username[1:],
			Email:       username + "@example.test",
		},
		orders: []Order{
			{ID: uuid.NewString(), Item: "notebook", Quantity: 2, CreatedAt: now.Add(-48 * time.Hour)},
			{ID: uuid.NewString(), Item: "pen", Quantity: 10, CreatedAt: now.Add(-24 * time.Hour)},
		},
	}
	b.byName[username] = id
}

// Login checks the password and opens a new session.
func (b *Backend) Login(ctx context.Context, username, password string) (TokenPair, error) {
	ctx, span := tracer.Start(ctx, "devbackend.login")
	defer span.End()

	b.mu.RLock()
	id, ok := b.byName[username]
	var acct *account
	if ok {
		acct = b.accounts[id]
	}
	b.mu.RUnlock()

	if acct == nil || !constantTimeEqual(acct.password, password) {
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invalid_credentials")))
		span.SetStatus(codes.Error, "invalid credentials")
		return TokenPair{}, domain.ErrInvalidCredentials
	}

	refresh, err := GenerateRefreshToken()
	if err != nil {
		span.RecordError(err)
		return TokenPair{}, err
	}
	sid := uuid.NewString()
	b.sessions.put(sessionRecord{
		ID:               sid,
		UserID:           id,
		RefreshTokenHash: HashRefreshToken(refresh),
		ExpiresAt:        b.clock.Now().UTC().Add(b.refreshTTL),
	})

	minted, err := b.tokens.Mint(id, sid)
	if err != nil {
		span.RecordError(err)
		return TokenPair{}, fmt.Errorf("mint access token: %w", err)
	}
	tokensMintedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", "login")))
	b.logger.InfoContext(ctx, "devbackend.login", "user_id", id, "session_id", sid)

	return TokenPair{AccessToken: minted.Token, RefreshToken: refresh, ExpiresAt: minted.ExpiresAt}, nil
}

// Refresh rotates refreshToken. Presenting an already rotated token revokes
// the whole session.
func (b *Backend) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	ctx, span := tracer.Start(ctx, "devbackend.refresh")
	defer span.End()

	if refreshToken == "" {
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "missing_refresh_token")))
		return TokenPair{}, fmt.Errorf("refresh token: %w", domain.ErrInvalidInput)
	}

	next, err := GenerateRefreshToken()
	if err != nil {
		span.RecordError(err)
		return TokenPair{}, err
	}
	now := b.clock.Now().UTC()
	rec, outcome := b.sessions.rotate(HashRefreshToken(refreshToken), HashRefreshToken(next), now, now.Add(b.refreshTTL))

	switch outcome {
	case refreshRotated:
	case refreshReused:
		sessionRevocations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "reuse_detection")))
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "refresh_token_reuse")))
		b.logger.WarnContext(ctx, "devbackend.refresh_token_reuse", "session_id", rec.ID, "user_id", rec.UserID)
		span.SetStatus(codes.Error, "refresh token reuse detected")
		return TokenPair{}, domain.ErrRefreshTokenReuse
	case refreshRevoked:
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "session_revoked")))
		span.SetStatus(codes.Error, "session revoked")
		return TokenPair{}, domain.ErrSessionRevoked
	case refreshExpired:
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "session_expired")))
		span.SetStatus(codes.Error, "session expired")
		return TokenPair{}, domain.ErrSessionExpired
	default:
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invalid_refresh_token")))
		span.SetStatus(codes.Error, "invalid refresh token")
		return TokenPair{}, domain.ErrInvalidRefreshToken
	}

	minted, err := b.tokens.Mint(rec.UserID, rec.ID)
	if err != nil {
		span.RecordError(err)
		return TokenPair{}, fmt.Errorf("mint access token: %w", err)
	}
	tokensMintedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", "refresh")))
	b.logger.InfoContext(ctx, "devbackend.token_refreshed",
		"session_id", rec.ID,
		"generation", rec.TokenGeneration,
	)

	return TokenPair{AccessToken: minted.Token, RefreshToken: next, ExpiresAt: minted.ExpiresAt}, nil
}

// Authenticate validates a bearer token and its session.
func (b *Backend) Authenticate(ctx context.Context, accessToken string) (*Claims, error) {
	claims, err := b.tokens.Validate(accessToken)
	if err != nil {
		reason := "invalid_token"
		if IsExpired(err) {
			reason = "token_expired"
		}
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		return nil, err
	}
	rec, ok := b.sessions.get(claims.SessionID)
	if !ok || rec.Revoked {
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "session_revoked")))
		return nil, domain.ErrSessionRevoked
	}
	return claims, nil
}

// RevokeSession ends sessionID; its next request answers SESSION_REVOKED.
func (b *Backend) RevokeSession(ctx context.Context, sessionID string) error {
	if err := b.sessions.revoke(sessionID); err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}
	sessionRevocations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "admin")))
	b.logger.InfoContext(ctx, "devbackend.session_revoked", "session_id", sessionID)
	return nil
}

// RevokeUser ends every session of username and returns how many were live.
func (b *Backend) RevokeUser(ctx context.Context, username string) (int, error) {
	b.mu.RLock()
	id, ok := b.byName[username]
	b.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("user %s: %w", username, domain.ErrNotFound)
	}
	n := b.sessions.revokeUser(id)
	sessionRevocations.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", "admin")))
	b.logger.InfoContext(ctx, "devbackend.user_sessions_revoked", "user_id", id, "count", n)
	return n, nil
}

// Profile returns the profile of userID.
func (b *Backend) Profile(_ context.Context, userID string) (Profile, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	acct, ok := b.accounts[userID]
	if !ok {
		return Profile{}, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	return acct.profile, nil
}

// UpdateProfile replaces the editable fields of userID's profile.
func (b *Backend) UpdateProfile(_ context.Context, userID string, upd ProfileUpdate) (Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct, ok := b.accounts[userID]
	if !ok {
		return Profile{}, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	acct.profile.DisplayName = upd.DisplayName
	acct.profile.Email = upd.Email
	return acct.profile, nil
}

// Orders returns userID's orders, oldest first.
func (b *Backend) Orders(_ context.Context, userID string) ([]Order, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	acct, ok := b.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	return append([]Order(nil), acct.orders...), nil
}

// CreateOrder appends an order for userID.
func (b *Backend) CreateOrder(_ context.Context, userID string, in NewOrder) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct, ok := b.accounts[userID]
	if !ok {
		return Order{}, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	o := Order{ID: uuid.NewString(), Item: in.Item, Quantity: in.Quantity, CreatedAt: b.clock.Now().UTC()}
	acct.orders = append(acct.orders, o)
	return o, nil
}

// UserID returns the id of username.
func (b *Backend) UserID(username string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.byName[username]
	return id, ok
}
