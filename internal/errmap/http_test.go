package errmap_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aelexs/session-gateway/internal/domain"
	"github.com/aelexs/session-gateway/internal/errmap"
)

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantStatusCode int
		wantCode       string
	}{
		{"nil error", nil, http.StatusOK, ""},

		// Session errors
		{"ErrSessionRevoked", domain.ErrSessionRevoked, http.StatusUnauthorized, "SESSION_REVOKED"},
		{"ErrRefreshTokenReuse", domain.ErrRefreshTokenReuse, http.StatusUnauthorized, "REFRESH_TOKEN_REUSE"},
		{"ErrSessionExpired", domain.ErrSessionExpired, http.StatusUnauthorized, "SESSION_EXPIRED"},
		{"ErrInvalidRefreshToken", domain.ErrInvalidRefreshToken, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN"},
		{"ErrInvalidCredentials", domain.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"ErrUnauthorized", domain.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHENTICATED"},

		// Resource and validation errors
		{"ErrNotFound", domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"ErrInvalidInput", domain.ErrInvalidInput, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"ErrStoreUnavailable", domain.ErrStoreUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE"},

		// Wrapped errors
		{"wrapped ErrNotFound", fmt.Errorf("order o-9: %w", domain.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"revoked wins over unauthorized", fmt.Errorf("%w: %w", domain.ErrUnauthorized, domain.ErrSessionRevoked), http.StatusUnauthorized, "SESSION_REVOKED"},

		// Unknown errors map to Internal
		{"unknown error", errors.New("unexpected"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errmap.ToHTTPError(tt.err)
			assert.Equal(t, tt.wantStatusCode, got.StatusCode)
			assert.Equal(t, tt.wantCode, got.Code)
		})
	}
}

func TestToHTTPError_HidesInternalDetails(t *testing.T) {
	got := errmap.ToHTTPError(fmt.Errorf("dial tcp 10.0.0.7:5432: %w", errors.New("connection refused")))
	assert.Equal(t, "internal error", got.Message)

	got = errmap.ToHTTPError(fmt.Errorf("user alice: %w", domain.ErrInvalidCredentials))
	assert.Equal(t, domain.ErrInvalidCredentials.Error(), got.Message)
}

func TestToHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"unauthorized", domain.ErrUnauthorized, http.StatusUnauthorized},
		{"store down", domain.ErrStoreUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errmap.ToHTTPStatusCode(tt.err))
		})
	}
}

func TestHTTPErrorImplementsError(t *testing.T) {
	var err error = errmap.ToHTTPError(domain.ErrNotFound)
	assert.NotEmpty(t, err.Error())
}
