package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aelexs/session-gateway/internal/domain"
)

// CredentialPair is the access token attached to every request together with
// the refresh token used to obtain a replacement.
type CredentialPair struct {
	AccessToken  domain.Token `json:"accessToken"`
	RefreshToken domain.Token `json:"refreshToken"`
	IssuedAt     time.Time    `json:"issuedAt"`
}

// IsZero reports whether neither token is present.
func (p CredentialPair) IsZero() bool {
	return p.AccessToken.IsEmpty() && p.RefreshToken.IsEmpty()
}

// State is the session lifecycle state held by the Coordinator.
type State int

const (
	StateActive State = iota
	StateRefreshing
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateRefreshing:
		return "refreshing"
	case StateLoggedOut:
		return "logged_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Request is a replayable description of a backend call. The body is held
// as bytes so the same request can be sent twice.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// NewJSONRequest builds a request whose body is body encoded as JSON.
// A nil body produces a request without one.
func NewJSONRequest(method, path string, body any) (Request, error) {
	req := Request{Method: method, Path: path, Header: http.Header{}}
	if body == nil {
		return req, nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return Request{}, fmt.Errorf("encode %s %s body: %w", method, path, err)
	}
	req.Body = b
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// WithBearer returns a copy of r carrying tok in the Authorization header.
// An empty token removes the header.
func (r Request) WithBearer(tok domain.Token) Request {
	out := r
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	if tok.IsEmpty() {
		out.Header.Del(domain.AuthorizationHeader)
		return out
	}
	out.Header.Set(domain.AuthorizationHeader, domain.BearerPrefix+tok.Reveal())
	return out
}

// Outcome is what a Transport observed for one attempt. Status is 0 when no
// response arrived at all; Err then carries the network failure.
type Outcome struct {
	Status int
	Header http.Header
	Body   []byte
	Err    error
}

// RequestContext tracks a request across its original attempt and replay.
type RequestContext struct {
	Request Request
	// Attempt is 0 for the original send and 1 once replayed.
	Attempt int
}

// CredentialStore persists the credential pair between process runs.
// Get reports ok=false when nothing is stored.
type CredentialStore interface {
	Get(ctx context.Context) (pair CredentialPair, ok bool, err error)
	Set(ctx context.Context, pair CredentialPair) error
	Clear(ctx context.Context) error
}

// Transport performs one HTTP exchange. A failure to get any response is
// reported as an Outcome with Status 0, not as an error. The error return is
// reserved for context cancellation and requests that cannot be built.
type Transport interface {
	Send(ctx context.Context, req Request) (Outcome, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req Request) (Outcome, error)

func (f TransportFunc) Send(ctx context.Context, req Request) (Outcome, error) {
	return f(ctx, req)
}

// LogoutReason says why a session was torn down.
type LogoutReason string

const (
	LogoutSessionRevoked LogoutReason = "session_revoked"
	LogoutRefreshFailed  LogoutReason = "refresh_failed"
)

// LogoutEvent describes one teardown transition.
type LogoutEvent struct {
	Reason     LogoutReason `json:"reason"`
	HTTPStatus int          `json:"httpStatus"`
	Code       string       `json:"code,omitempty"`
	Message    string       `json:"message,omitempty"`
	OccurredAt time.Time    `json:"occurredAt"`
}

// LogoutHook is notified once per teardown transition. It is not called for
// a voluntary Logout. OnLogout returns before any caller that observed the
// teardown is released, so it must not call back into the Gateway.
type LogoutHook interface {
	OnLogout(ctx context.Context, ev LogoutEvent)
}

// HookFunc adapts a function to the LogoutHook interface.
type HookFunc func(ctx context.Context, ev LogoutEvent)

func (f HookFunc) OnLogout(ctx context.Context, ev LogoutEvent) { f(ctx, ev) }

// MultiHook fans a teardown out to several hooks in order.
type MultiHook []LogoutHook

func (m MultiHook) OnLogout(ctx context.Context, ev LogoutEvent) {
	for _, h := range m {
		if h != nil {
			h.OnLogout(ctx, ev)
		}
	}
}

type noopHook struct{}

func (noopHook) OnLogout(context.Context, LogoutEvent) {}
