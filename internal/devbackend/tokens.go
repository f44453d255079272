package devbackend

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aelexs/session-gateway/internal/domain"
)

// Claims are the access token claims.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// MintResult holds a signed access token and its identifiers.
type MintResult struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// TokenIssuer signs and validates HS256 access tokens.
type TokenIssuer struct {
	key       []byte
	issuer    string
	accessTTL time.Duration
	clock     domain.Clock
}

// TokenIssuerConfig holds configuration for creating a TokenIssuer.
type TokenIssuerConfig struct {
	SigningKey string
	Issuer     string
	AccessTTL  time.Duration
	Clock      domain.Clock
}

// NewTokenIssuer creates a TokenIssuer.
func NewTokenIssuer(cfg TokenIssuerConfig) *TokenIssuer {
	ttl := cfg.AccessTTL
	if ttl <= 0 {
		ttl = domain.AccessTokenLifetime
	}
	clock := cfg.Clock
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &TokenIssuer{key: []byte(cfg.SigningKey), issuer: cfg.Issuer, accessTTL: ttl, clock: clock}
}

// Mint creates a signed access token for userID within sessionID.
func (ti *TokenIssuer) Mint(userID, sessionID string) (MintResult, error) {
	now := ti.clock.Now().UTC()
	jti := uuid.NewString()
	expiresAt := now.Add(ti.accessTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    ti.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
		SessionID: sessionID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString(ti.key)
	if err != nil {
		return MintResult{}, fmt.Errorf("sign access token: %w", err)
	}
	return MintResult{Token: signed, JTI: jti, ExpiresAt: expiresAt}, nil
}

// Validate parses and fully validates an access token. An expired token
// yields an error wrapping both domain.ErrUnauthorized and jwt.ErrTokenExpired.
func (ti *TokenIssuer) Validate(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, ti.keyFunc,
		jwt.WithIssuer(ti.issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ti.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}
	if claims.SessionID == "" {
		return nil, fmt.Errorf("missing sid claim: %w", domain.ErrUnauthorized)
	}
	return &claims, nil
}

func (ti *TokenIssuer) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return ti.key, nil
}

// IsExpired reports whether err came from an expired but otherwise valid
// access token.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}

const refreshTokenBytes = 32

// GenerateRefreshToken returns a random opaque refresh token, 43 characters
// of base64url.
func GenerateRefreshToken() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashRefreshToken returns the SHA-256 hex digest of a refresh token. Only
// hashes are kept server-side.
func HashRefreshToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// ValidateRefreshHash compares token against storedHash in constant time.
func ValidateRefreshHash(token, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashRefreshToken(token)), []byte(storedHash)) == 1
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
