package api_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/session-gateway/internal/api"
	"github.com/aelexs/session-gateway/internal/credstore"
	"github.com/aelexs/session-gateway/internal/devbackend"
	"github.com/aelexs/session-gateway/internal/domain"
	"github.com/aelexs/session-gateway/internal/domain/domaintest"
	"github.com/aelexs/session-gateway/internal/session"
	"github.com/aelexs/session-gateway/internal/transport"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stack is a gateway wired to a live development backend over HTTP.
type stack struct {
	backend      *devbackend.Backend
	clock        *domaintest.FakeClock
	gw           *session.Gateway
	client       *api.Client
	store        *credstore.MemoryStore
	refreshCalls atomic.Int32

	mu      sync.Mutex
	logouts []session.LogoutEvent
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := &stack{clock: domaintest.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))}

	s.backend = devbackend.New(devbackend.Config{
		SigningKey: "e2e-signing-key-0123456789",
		AccessTTL:  5 * time.Minute,
		RefreshTTL: time.Hour,
		Clock:      s.clock,
		Logger:     logger,
	})
	router := devbackend.NewRouter(s.backend, logger)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == domain.RefreshPath {
			s.refreshCalls.Add(1)
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	s.store = credstore.NewMemoryStore()
	s.gw = session.New(session.Config{
		Transport: transport.New(transport.Config{BaseURL: srv.URL, HTTPClient: srv.Client()}),
		Store:     s.store,
		Hook: session.HookFunc(func(_ context.Context, ev session.LogoutEvent) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.logouts = append(s.logouts, ev)
		}),
		Logger: logger,
	})
	t.Cleanup(s.gw.Wait)
	s.client = api.NewClient(s.gw, "")
	return s
}

func (s *stack) loggedOut() []session.LogoutEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]session.LogoutEvent(nil), s.logouts...)
}

func (s *stack) login(t *testing.T) {
	t.Helper()
	require.NoError(t, s.client.Login(context.Background(), devbackend.DemoUser, devbackend.DemoPassword))
	require.Equal(t, session.StateActive, s.gw.State())
}

func TestE2E_LoginAndFetch(t *testing.T) {
	s := newStack(t)
	s.login(t)
	ctx := context.Background()

	stored, ok, err := s.store.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok, "login persists the pair")
	assert.Equal(t, s.gw.Credentials().AccessToken, stored.AccessToken)

	p, err := s.client.GetProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, devbackend.DemoUser, p.Username)

	orders, err := s.client.ListOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	assert.Zero(t, s.refreshCalls.Load())
}

func TestE2E_BadPasswordDoesNotRefresh(t *testing.T) {
	s := newStack(t)

	err := s.client.Login(context.Background(), devbackend.DemoUser, "wrong")
	require.Error(t, err)
	e, ok := session.AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, e.HTTPStatus)
	assert.Equal(t, "INVALID_CREDENTIALS", e.Code)

	assert.Zero(t, s.refreshCalls.Load())
	assert.Equal(t, session.StateLoggedOut, s.gw.State())
	assert.Empty(t, s.loggedOut())
}

func TestE2E_ExpiredTokenRefreshedTransparently(t *testing.T) {
	s := newStack(t)
	s.login(t)
	ctx := context.Background()
	before := s.gw.Credentials()

	s.clock.Advance(6 * time.Minute)

	p, err := s.client.UpdateProfile(ctx, api.ProfileUpdate{DisplayName: "Demo User", Email: "demo@example.test"})
	require.NoError(t, err, "the PUT is replayed with its body after the refresh")
	assert.Equal(t, "Demo User", p.DisplayName)

	assert.Equal(t, int32(1), s.refreshCalls.Load())
	after := s.gw.Credentials()
	assert.NotEqual(t, before.AccessToken, after.AccessToken)
	assert.NotEqual(t, before.RefreshToken, after.RefreshToken, "backend rotates refresh tokens")

	stored, _, err := s.store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, after.RefreshToken, stored.RefreshToken)
}

func TestE2E_ConcurrentExpiryRefreshesOnce(t *testing.T) {
	s := newStack(t)
	s.login(t)
	s.clock.Advance(6 * time.Minute)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = s.client.GetProfile(context.Background())
			} else {
				_, err = s.client.ListOrders(context.Background())
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), s.refreshCalls.Load(), "rotation would reject a second refresh with the same token")
	assert.Equal(t, session.StateActive, s.gw.State())
}

func TestE2E_RevokedSessionTearsDown(t *testing.T) {
	s := newStack(t)
	s.login(t)
	ctx := context.Background()

	_, err := s.backend.RevokeUser(ctx, devbackend.DemoUser)
	require.NoError(t, err)

	_, err = s.client.GetProfile(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSessionRevoked)
	e, ok := session.AsError(err)
	require.True(t, ok)
	assert.Equal(t, session.HardAuthFailure, e.Classification)
	assert.True(t, e.IsAuthError)

	assert.Zero(t, s.refreshCalls.Load(), "hard failures bypass refresh")
	assert.Equal(t, session.StateLoggedOut, s.gw.State())
	_, ok, err = s.store.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	events := s.loggedOut()
	require.Len(t, events, 1)
	assert.Equal(t, session.LogoutSessionRevoked, events[0].Reason)
	assert.Equal(t, domain.SessionRevokedCode, events[0].Code)

	_, err = s.client.GetProfile(ctx)
	assert.True(t, session.IsLoggedOut(err), "later calls reject without a session")
	assert.Len(t, s.loggedOut(), 1, "hook fires once per teardown")
}

func TestE2E_RefreshRejectedEndsSession(t *testing.T) {
	s := newStack(t)
	s.login(t)
	ctx := context.Background()

	// Past the refresh token lifetime as well.
	s.clock.Advance(2 * time.Hour)

	_, err := s.client.GetProfile(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRefreshFailed)
	e, ok := session.AsError(err)
	require.True(t, ok)
	assert.Equal(t, session.RefreshFailure, e.Classification)
	assert.Equal(t, "SESSION_EXPIRED", e.Code)

	assert.Equal(t, int32(1), s.refreshCalls.Load())
	assert.Equal(t, session.StateLoggedOut, s.gw.State())

	events := s.loggedOut()
	require.Len(t, events, 1)
	assert.Equal(t, session.LogoutRefreshFailed, events[0].Reason)
}

func TestE2E_ApplicationErrorKeepsSession(t *testing.T) {
	s := newStack(t)
	s.login(t)

	_, err := s.client.CreateOrder(context.Background(), api.NewOrder{Item: "", Quantity: 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrApplication)
	e, ok := session.AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, e.HTTPStatus)
	assert.False(t, e.IsAuthError)

	assert.Equal(t, session.StateActive, s.gw.State())
}

func TestE2E_Logout(t *testing.T) {
	s := newStack(t)
	s.login(t)
	ctx := context.Background()
	token := s.gw.Credentials().AccessToken

	require.NoError(t, s.client.Logout(ctx))
	assert.Equal(t, session.StateLoggedOut, s.gw.State())
	assert.Empty(t, s.loggedOut(), "voluntary logout does not fire the hook")

	_, err := s.backend.Authenticate(ctx, token.Reveal())
	assert.True(t, errors.Is(err, domain.ErrSessionRevoked), "backend session is ended too")
}

func TestE2E_RestoreFromStore(t *testing.T) {
	s := newStack(t)
	s.login(t)
	ctx := context.Background()

	// A second process sharing the store picks the session up.
	other := session.New(session.Config{
		Transport: transport.New(transport.Config{BaseURL: "http://unused.invalid"}),
		Store:     s.store,
	})
	require.NoError(t, other.Restore(ctx))
	assert.Equal(t, session.StateActive, other.State())
	assert.Equal(t, s.gw.Credentials().AccessToken, other.Credentials().AccessToken)
}
