package session_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/session-gateway/internal/domain"
	"github.com/aelexs/session-gateway/internal/session"
)

func establishedGateway(t *testing.T, backend *fakeBackend, hook session.LogoutHook) (*session.Gateway, *stubStore) {
	t.Helper()
	store := &stubStore{}
	gw := newTestGateway(store, backend, hook)
	require.NoError(t, gw.Establish(context.Background(), pairA))
	t.Cleanup(gw.Wait)
	return gw, store
}

// expiringAPI answers 401 to requests carrying access-A and serves payload to
// requests carrying access-B.
func expiringAPI(payload string) func(context.Context, session.Request) (session.Outcome, error) {
	return func(_ context.Context, req session.Request) (session.Outcome, error) {
		if bearer(req) == "access-B" {
			return jsonOutcome(200, payload), nil
		}
		return jsonOutcome(401, `{"code":"TOKEN_EXPIRED","message":"access token expired"}`), nil
	}
}

func getProfile() session.Request {
	return session.Request{Method: http.MethodGet, Path: "/api/profile"}
}

func TestGateway_Send_Success(t *testing.T) {
	var seen string
	backend := &fakeBackend{apiFn: func(_ context.Context, req session.Request) (session.Outcome, error) {
		seen = bearer(req)
		return jsonOutcome(200, `{"data":{"data":{"id":42}}}`), nil
	}}
	gw, _ := establishedGateway(t, backend, nil)

	payload, err := gw.Send(context.Background(), getProfile())
	require.NoError(t, err)

	assert.JSONEq(t, `{"id":42}`, string(payload))
	assert.Equal(t, "access-A", seen)
	assert.Equal(t, int32(0), backend.refreshCalls.Load())
}

func TestGateway_Send_RefreshesAndReplays(t *testing.T) {
	backend := &fakeBackend{apiFn: expiringAPI(`{"data":{"data":{"id":42}}}`)}
	gw, _ := establishedGateway(t, backend, nil)

	payload, err := gw.Send(context.Background(), getProfile())
	require.NoError(t, err)

	assert.JSONEq(t, `{"id":42}`, string(payload))
	assert.Equal(t, int32(1), backend.refreshCalls.Load())
	assert.Equal(t, int32(2), backend.apiCalls.Load(), "original plus one replay")
	assert.Equal(t, pairB.AccessToken, gw.Credentials().AccessToken)
}

func TestGateway_Send_ConcurrentExpiryRefreshesOnce(t *testing.T) {
	const callers = 3

	var got401 sync.WaitGroup
	got401.Add(callers)
	var replayTokens sync.Map

	backend := &fakeBackend{
		apiFn: func(_ context.Context, req session.Request) (session.Outcome, error) {
			tok := bearer(req)
			if tok == "access-A" {
				got401.Done()
				return jsonOutcome(401, `{"message":"expired"}`), nil
			}
			replayTokens.Store(req.Query.Get("n"), tok)
			return jsonOutcome(200, `{"data":{"data":{"ok":true}}}`), nil
		},
	}
	backend.refreshFn = func(context.Context, session.Request) (session.Outcome, error) {
		// Hold the refresh until every caller has seen its 401.
		done := make(chan struct{})
		go func() {
			got401.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
		return jsonOutcome(200, `{"accessToken":"access-B","refreshToken":"refresh-B"}`), nil
	}
	gw, _ := establishedGateway(t, backend, nil)

	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := getProfile()
			req.Query = map[string][]string{"n": {string(rune('a' + i))}}
			_, errs[i] = gw.Send(context.Background(), req)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), backend.refreshCalls.Load(), "one refresh for all callers")
	assert.Equal(t, int32(2*callers), backend.apiCalls.Load())
	replayTokens.Range(func(_, v any) bool {
		assert.Equal(t, "access-B", v)
		return true
	})
}

func TestGateway_Send_RefreshFailureLogsOut(t *testing.T) {
	backend := &fakeBackend{
		apiFn: expiringAPI(`{"data":{"data":{}}}`),
		refreshFn: func(context.Context, session.Request) (session.Outcome, error) {
			return jsonOutcome(401, `{"code":"INVALID_REFRESH_TOKEN","message":"refresh token expired"}`), nil
		},
	}
	hook := &hookRecorder{}
	gw, store := establishedGateway(t, backend, hook)

	_, err := gw.Send(context.Background(), getProfile())
	gw.Wait()

	serr, ok := session.AsError(err)
	require.True(t, ok)
	assert.Equal(t, session.RefreshFailure, serr.Classification)
	assert.True(t, serr.IsAuthError)
	assert.Equal(t, session.StateLoggedOut, gw.State())
	_, stored := store.stored()
	assert.False(t, stored)
	require.Len(t, hook.calls(), 1)

	// Later requests go out unauthenticated and are rejected without another
	// refresh or hook call.
	_, err = gw.Send(context.Background(), getProfile())
	assert.True(t, session.IsLoggedOut(err))
	assert.Equal(t, int32(1), backend.refreshCalls.Load())
	assert.Len(t, hook.calls(), 1)
}

func TestGateway_Send_HookRanWhenCallerSeesLogout(t *testing.T) {
	for i := range 50 {
		backend := &fakeBackend{
			apiFn: expiringAPI(`{"data":{"data":{}}}`),
			refreshFn: func(context.Context, session.Request) (session.Outcome, error) {
				return jsonOutcome(401, `{"message":"refresh token expired"}`), nil
			},
		}
		hook := &hookRecorder{}
		slowHook := session.HookFunc(func(ctx context.Context, ev session.LogoutEvent) {
			time.Sleep(time.Millisecond)
			hook.OnLogout(ctx, ev)
		})
		gw, _ := establishedGateway(t, backend, slowHook)

		_, err := gw.Send(context.Background(), getProfile())

		require.ErrorIs(t, err, domain.ErrRefreshFailed)
		require.Len(t, hook.calls(), 1, "iteration %d: hook must have run before Send returned", i)
	}
}

func TestGateway_Send_RefreshUnavailableKeepsSession(t *testing.T) {
	backend := &fakeBackend{
		apiFn: func(context.Context, session.Request) (session.Outcome, error) {
			return session.Outcome{Err: errors.New("network is unreachable")}, nil
		},
		refreshFn: func(context.Context, session.Request) (session.Outcome, error) {
			return session.Outcome{Err: errors.New("network is unreachable")}, nil
		},
	}
	hook := &hookRecorder{}
	gw, store := establishedGateway(t, backend, hook)

	_, err := gw.Send(context.Background(), getProfile())
	gw.Wait()

	serr, ok := session.AsError(err)
	require.True(t, ok)
	assert.Equal(t, session.RefreshFailure, serr.Classification)
	assert.False(t, serr.IsAuthError)
	assert.ErrorIs(t, err, domain.ErrRefreshUnavailable)
	assert.Equal(t, session.StateActive, gw.State())
	stored, ok := store.stored()
	assert.True(t, ok)
	assert.Equal(t, pairA.AccessToken, stored.AccessToken)
	assert.Empty(t, hook.calls())

	// Once the network is back the same session carries on.
	backend.apiFn = expiringAPI(`{"data":{"data":{"id":7}}}`)
	backend.refreshFn = nil
	payload, err := gw.Send(context.Background(), getProfile())
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7}`, string(payload))
}

func TestGateway_Send_HardFailureBypassesRefresh(t *testing.T) {
	backend := &fakeBackend{apiFn: func(context.Context, session.Request) (session.Outcome, error) {
		return jsonOutcome(401, `{"code":"SESSION_REVOKED","message":"session revoked"}`), nil
	}}
	hook := &hookRecorder{}
	gw, store := establishedGateway(t, backend, hook)

	_, err := gw.Send(context.Background(), getProfile())

	serr, ok := session.AsError(err)
	require.True(t, ok)
	assert.Equal(t, session.HardAuthFailure, serr.Classification)
	assert.Equal(t, domain.SessionRevokedCode, serr.Code)
	assert.True(t, serr.IsAuthError)
	assert.ErrorIs(t, err, domain.ErrSessionRevoked)

	assert.Equal(t, int32(0), backend.refreshCalls.Load())
	assert.Equal(t, session.StateLoggedOut, gw.State())
	_, stored := store.stored()
	assert.False(t, stored)
	require.Len(t, hook.calls(), 1)
	assert.Equal(t, session.LogoutSessionRevoked, hook.calls()[0].Reason)
}

func TestGateway_Send_ApplicationErrorPassesThrough(t *testing.T) {
	backend := &fakeBackend{apiFn: func(context.Context, session.Request) (session.Outcome, error) {
		return jsonOutcome(404, `{"message":"not found"}`), nil
	}}
	hook := &hookRecorder{}
	gw, _ := establishedGateway(t, backend, hook)

	_, err := gw.Send(context.Background(), getProfile())

	serr, ok := session.AsError(err)
	require.True(t, ok)
	assert.Equal(t, session.ApplicationError, serr.Classification)
	assert.Equal(t, 404, serr.HTTPStatus)
	assert.Equal(t, "not found", serr.Message)
	assert.False(t, serr.IsAuthError)
	assert.Equal(t, int32(0), backend.refreshCalls.Load())
	assert.Equal(t, session.StateActive, gw.State())
	assert.Empty(t, hook.calls())
}

func TestGateway_Send_ReplayExpiredAgainIsNotRetried(t *testing.T) {
	backend := &fakeBackend{apiFn: func(context.Context, session.Request) (session.Outcome, error) {
		return jsonOutcome(401, `{"message":"still expired"}`), nil
	}}
	hook := &hookRecorder{}
	gw, _ := establishedGateway(t, backend, hook)

	_, err := gw.Send(context.Background(), getProfile())

	serr, ok := session.AsError(err)
	require.True(t, ok)
	assert.Equal(t, session.SoftAuthExpiry, serr.Classification)
	assert.Equal(t, "still expired", serr.Message)
	assert.Equal(t, int32(1), backend.refreshCalls.Load())
	assert.Equal(t, int32(2), backend.apiCalls.Load(), "at most one replay")
	assert.Equal(t, session.StateActive, gw.State(), "replay expiry does not end the session")
	assert.Empty(t, hook.calls())
}

func TestGateway_Send_ReplayRevokedTearsDown(t *testing.T) {
	backend := &fakeBackend{apiFn: func(_ context.Context, req session.Request) (session.Outcome, error) {
		if bearer(req) == "access-B" {
			return jsonOutcome(403, `{"code":"SESSION_REVOKED"}`), nil
		}
		return jsonOutcome(401, `{}`), nil
	}}
	hook := &hookRecorder{}
	gw, _ := establishedGateway(t, backend, hook)

	_, err := gw.Send(context.Background(), getProfile())

	assert.ErrorIs(t, err, domain.ErrSessionRevoked)
	assert.Equal(t, session.StateLoggedOut, gw.State())
	assert.Len(t, hook.calls(), 1)
}

func TestGateway_Send_NetworkFailureTriggersRefresh(t *testing.T) {
	var calls int
	backend := &fakeBackend{apiFn: func(context.Context, session.Request) (session.Outcome, error) {
		calls++
		if calls == 1 {
			return session.Outcome{Err: errors.New("connection refused")}, nil
		}
		return jsonOutcome(200, `{"data":{"data":{"id":1}}}`), nil
	}}
	gw, _ := establishedGateway(t, backend, nil)

	payload, err := gw.Send(context.Background(), getProfile())
	require.NoError(t, err)

	assert.JSONEq(t, `{"id":1}`, string(payload))
	assert.Equal(t, int32(1), backend.refreshCalls.Load())
}

func TestGateway_Send_CancelledContext(t *testing.T) {
	backend := &fakeBackend{}
	gw, _ := establishedGateway(t, backend, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gw.Send(ctx, getProfile())

	assert.ErrorIs(t, err, context.Canceled)
	_, isSessionErr := session.AsError(err)
	assert.False(t, isSessionErr)
	assert.Equal(t, int32(0), backend.refreshCalls.Load())
	assert.Equal(t, session.StateActive, gw.State())
}

func TestGateway_SendPublic(t *testing.T) {
	var seen string
	backend := &fakeBackend{apiFn: func(_ context.Context, req session.Request) (session.Outcome, error) {
		seen = bearer(req)
		return jsonOutcome(401, `{"code":"INVALID_CREDENTIALS","message":"invalid username or password"}`), nil
	}}
	gw, _ := establishedGateway(t, backend, nil)

	_, err := gw.SendPublic(context.Background(), session.Request{Method: http.MethodPost, Path: domain.LoginPath})

	serr, ok := session.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "invalid username or password", serr.Message)
	assert.Empty(t, seen, "public requests carry no credential")
	assert.Equal(t, int32(0), backend.refreshCalls.Load())
	assert.Equal(t, session.StateActive, gw.State())
}

func TestGateway_EstablishFromBody(t *testing.T) {
	gw := newTestGateway(&stubStore{}, &fakeBackend{}, nil)

	err := gw.EstablishFromBody(context.Background(), []byte(`{"accessToken":"access-A","refreshToken":"refresh-A"}`))
	require.NoError(t, err)
	assert.Equal(t, session.StateActive, gw.State())
	assert.Equal(t, domain.Token("refresh-A"), gw.Credentials().RefreshToken)

	err = gw.EstablishFromBody(context.Background(), []byte(`{"user":"ada"}`))
	assert.ErrorIs(t, err, domain.ErrNoCredentials)
}

func TestGateway_Logout(t *testing.T) {
	hook := &hookRecorder{}
	gw, store := establishedGateway(t, &fakeBackend{}, hook)

	require.NoError(t, gw.Logout(context.Background()))

	assert.Equal(t, session.StateLoggedOut, gw.State())
	_, stored := store.stored()
	assert.False(t, stored)
	assert.Empty(t, hook.calls())
}

type profile struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestDecode(t *testing.T) {
	backend := &fakeBackend{apiFn: func(context.Context, session.Request) (session.Outcome, error) {
		return jsonOutcome(200, `{"data":{"data":{"id":42,"name":"Ada"}}}`), nil
	}}
	gw, _ := establishedGateway(t, backend, nil)

	got, err := session.Decode[profile](context.Background(), gw, getProfile())
	require.NoError(t, err)
	assert.Equal(t, profile{ID: 42, Name: "Ada"}, got)
}

func TestDecode_EmptyPayload(t *testing.T) {
	backend := &fakeBackend{apiFn: func(context.Context, session.Request) (session.Outcome, error) {
		return session.Outcome{Status: http.StatusNoContent}, nil
	}}
	gw, _ := establishedGateway(t, backend, nil)

	got, err := session.Decode[profile](context.Background(), gw, getProfile())
	require.NoError(t, err)
	assert.Equal(t, profile{}, got)
}

func TestDecode_TypeMismatch(t *testing.T) {
	backend := &fakeBackend{apiFn: func(context.Context, session.Request) (session.Outcome, error) {
		return jsonOutcome(200, `{"data":{"data":"not an object"}}`), nil
	}}
	gw, _ := establishedGateway(t, backend, nil)

	_, err := session.Decode[profile](context.Background(), gw, getProfile())
	assert.Error(t, err)
}
