package domain

import "errors"

// Sentinel errors for session and request-layer conditions.
// Use errors.Is() for matching - never compare error strings.
var (
	// Credential lifecycle errors
	ErrUnauthorized   = errors.New("authentication required")
	ErrSessionRevoked = errors.New("session has been revoked")
	ErrRefreshFailed  = errors.New("credential refresh failed")
	ErrLoggedOut      = errors.New("session is logged out")
	ErrNoCredentials  = errors.New("no stored credentials")

	// ErrRefreshUnavailable marks a refresh that got no usable answer. The
	// credential was not rejected and the session survives.
	ErrRefreshUnavailable = errors.New("credential refresh endpoint unavailable")

	// Request-layer errors
	ErrRetryExhausted = errors.New("request has already been replayed")
	ErrApplication    = errors.New("application error")

	// Backend errors (development backend)
	ErrNotFound            = errors.New("resource not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidCredentials  = errors.New("invalid username or password")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRefreshTokenReuse   = errors.New("refresh token reuse detected")
	ErrSessionExpired      = errors.New("session has expired")

	// Infrastructure errors
	ErrStoreUnavailable = errors.New("credential store unavailable")

	// Configuration errors
	ErrConfigRequired = errors.New("required configuration key missing")
	ErrConfigInvalid  = errors.New("invalid configuration value")
)

// authErrors enumerates the sentinels that end a session or require the
// caller to re-authenticate.
var authErrors = []error{
	ErrUnauthorized,
	ErrSessionRevoked,
	ErrRefreshFailed,
	ErrLoggedOut,
	ErrNoCredentials,
}

// IsAuthError returns true if the error means the caller has to
// re-authenticate before further requests can succeed.
func IsAuthError(err error) bool {
	if errors.Is(err, ErrRefreshUnavailable) {
		return false
	}
	for _, target := range authErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsSessionTerminated returns true if the error was produced by a
// teardown of the session (hard failure or failed refresh).
func IsSessionTerminated(err error) bool {
	if errors.Is(err, ErrRefreshUnavailable) {
		return false
	}
	return errors.Is(err, ErrSessionRevoked) ||
		errors.Is(err, ErrRefreshFailed) ||
		errors.Is(err, ErrLoggedOut)
}
