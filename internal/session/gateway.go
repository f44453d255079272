package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/aelexs/session-gateway/internal/domain"
)

// Config holds the dependencies and backend contract for a Gateway.
type Config struct {
	Transport Transport
	Store     CredentialStore
	// Hook is notified when the session is torn down. Optional.
	Hook LogoutHook

	RefreshPath      string
	RefreshTimeout   time.Duration
	HardFailureCodes []string
	EnvelopePath     string

	Clock  domain.Clock
	Logger *slog.Logger
}

// Gateway is the single entry point for authenticated backend calls.
type Gateway struct {
	transport  Transport
	classifier *Classifier
	coord      *Coordinator
	retry      *RetryPolicy
	logger     *slog.Logger
}

// New creates a Gateway. The session starts logged out; call Restore or
// Establish before sending authenticated requests.
func New(cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	classifier := NewClassifier(ClassifierConfig{
		HardFailureCodes: cfg.HardFailureCodes,
		EnvelopePath:     cfg.EnvelopePath,
	})
	coord := NewCoordinator(CoordinatorConfig{
		Store:          cfg.Store,
		Transport:      cfg.Transport,
		Classifier:     classifier,
		Hook:           cfg.Hook,
		RefreshPath:    cfg.RefreshPath,
		RefreshTimeout: cfg.RefreshTimeout,
		Clock:          cfg.Clock,
		Logger:         logger,
	})
	return &Gateway{
		transport:  cfg.Transport,
		classifier: classifier,
		coord:      coord,
		retry:      NewRetryPolicy(cfg.Transport),
		logger:     logger,
	}
}

// Send performs req with the current access token and returns the unwrapped
// success payload. An expired credential is refreshed and the request
// replayed once. Every failure is a *Error, except context cancellation and
// requests that could not be built.
func (g *Gateway) Send(ctx context.Context, req Request) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "session.send", trace.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("url.path", req.Path),
	))
	defer span.End()

	pair, _ := g.coord.Snapshot()
	rc := &RequestContext{Request: req}

	outcome, err := g.transport.Send(ctx, req.WithBearer(pair.AccessToken))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return nil, fmt.Errorf("send %s %s: %w", req.Method, req.Path, err)
	}

	payload, err := g.resolve(ctx, rc, pair.AccessToken, outcome)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
	}
	return payload, err
}

// SendPublic performs req without credentials, for endpoints such as login
// that must not trigger a refresh. The outcome is classified and unwrapped
// like Send's but never changes the session.
func (g *Gateway) SendPublic(ctx context.Context, req Request) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "session.send_public", trace.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("url.path", req.Path),
	))
	defer span.End()

	outcome, err := g.transport.Send(ctx, req.WithBearer(""))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("send %s %s: %w", req.Method, req.Path, err)
	}
	class := g.classifier.Classify(outcome)
	if class == Success {
		return g.classifier.Unwrap(outcome)
	}
	nerr := g.classifier.Normalize(outcome, class)
	span.RecordError(nerr)
	return nil, nerr
}

// resolve turns an outcome into a payload or an error. sentWith is the access
// token the attempt carried.
func (g *Gateway) resolve(ctx context.Context, rc *RequestContext, sentWith domain.Token, outcome Outcome) (json.RawMessage, error) {
	class := g.classifier.Classify(outcome)
	requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("classification", string(class)),
		attribute.Int("attempt", rc.Attempt),
	))
	if rc.Attempt > 0 {
		replaysTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("classification", string(class))))
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("session.classification", string(class)))

	switch class {
	case Success:
		return g.classifier.Unwrap(outcome)

	case HardAuthFailure:
		nerr := g.classifier.Normalize(outcome, HardAuthFailure)
		g.coord.Teardown(ctx, nerr)
		return nil, nerr

	case SoftAuthExpiry:
		if rc.Attempt >= MaxReplays {
			return nil, g.classifier.Normalize(outcome, SoftAuthExpiry)
		}
		g.logger.DebugContext(ctx, "credential expired, refreshing",
			"method", rc.Request.Method,
			"path", rc.Request.Path,
			"status", outcome.Status,
		)
		pair, err := g.coord.Refresh(ctx, sentWith)
		if err != nil {
			return nil, err
		}
		replayed, err := g.retry.Replay(ctx, rc, pair)
		if err != nil {
			return nil, err
		}
		return g.resolve(ctx, rc, pair.AccessToken, replayed)

	default:
		return nil, g.classifier.Normalize(outcome, ApplicationError)
	}
}

// Establish starts a session with pair, persisting it.
func (g *Gateway) Establish(ctx context.Context, pair CredentialPair) error {
	return g.coord.Establish(ctx, pair)
}

// EstablishFromBody starts a session from a login response body. Tokens may
// sit at the body root or inside the success envelope.
func (g *Gateway) EstablishFromBody(ctx context.Context, body []byte) error {
	access, refresh, ok := g.classifier.tokenResponse(body)
	if !ok {
		return fmt.Errorf("establish session: %w", domain.ErrNoCredentials)
	}
	return g.coord.Establish(ctx, CredentialPair{
		AccessToken:  domain.Token(access),
		RefreshToken: domain.Token(refresh),
	})
}

// Restore loads a stored pair, if any.
func (g *Gateway) Restore(ctx context.Context) error {
	return g.coord.Restore(ctx)
}

// Logout ends the session without invoking the logout hook.
func (g *Gateway) Logout(ctx context.Context) error {
	return g.coord.Logout(ctx)
}

// State returns the current session state.
func (g *Gateway) State() State {
	return g.coord.State()
}

// Credentials returns a snapshot of the live pair.
func (g *Gateway) Credentials() CredentialPair {
	pair, _ := g.coord.Snapshot()
	return pair
}

// Wait blocks until in-flight refreshes have settled.
func (g *Gateway) Wait() {
	g.coord.Wait()
}

// Sender is implemented by Gateway. Call sites depend on it so they can be
// tested without a session.
type Sender interface {
	Send(ctx context.Context, req Request) (json.RawMessage, error)
}

// Decode sends req through s and decodes the payload into T. A nil payload
// yields T's zero value.
func Decode[T any](ctx context.Context, s Sender, req Request) (T, error) {
	var out T
	payload, err := s.Send(ctx, req)
	if err != nil {
		return out, err
	}
	if len(payload) == 0 || string(payload) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("decode %s %s payload: %w", req.Method, req.Path, err)
	}
	return out, nil
}

var _ Sender = (*Gateway)(nil)
