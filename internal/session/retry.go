package session

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aelexs/session-gateway/internal/domain"
)

// MaxReplays is the number of times a request may be re-sent after a
// credential refresh.
const MaxReplays = 1

// RetryPolicy re-sends a request once with a refreshed credential.
type RetryPolicy struct {
	transport Transport
}

// NewRetryPolicy creates a RetryPolicy sending through t.
func NewRetryPolicy(t Transport) *RetryPolicy {
	return &RetryPolicy{transport: t}
}

// Replay re-sends rc's request carrying cred's access token and marks rc as
// replayed. A request that was already replayed is refused with
// domain.ErrRetryExhausted and nothing is sent.
func (p *RetryPolicy) Replay(ctx context.Context, rc *RequestContext, cred CredentialPair) (Outcome, error) {
	if rc.Attempt >= MaxReplays {
		return Outcome{}, fmt.Errorf("replay %s %s: %w", rc.Request.Method, rc.Request.Path, domain.ErrRetryExhausted)
	}
	rc.Attempt++

	ctx, span := tracer.Start(ctx, "session.replay", trace.WithAttributes(
		attribute.String("http.method", rc.Request.Method),
		attribute.String("url.path", rc.Request.Path),
		attribute.Int("session.attempt", rc.Attempt),
	))
	defer span.End()

	outcome, err := p.transport.Send(ctx, rc.Request.WithBearer(cred.AccessToken))
	if err != nil {
		span.RecordError(err)
		return Outcome{}, fmt.Errorf("replay %s %s: %w", rc.Request.Method, rc.Request.Path, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", outcome.Status))
	return outcome, nil
}
