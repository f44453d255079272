// Package devbackend is a small backend that speaks the contract the
// session gateway expects: login, rotating refresh tokens, enveloped
// success bodies, {code, message} errors and server-side session
// revocation. It backs local development and end-to-end tests.
package devbackend

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("devbackend")

var (
	tokensMintedTotal  metric.Int64Counter
	authFailuresTotal  metric.Int64Counter
	sessionRevocations metric.Int64Counter
)

func init() {
	m := otel.Meter("devbackend")

	tokensMintedTotal, _ = m.Int64Counter("devbackend_tokens_minted_total",
		metric.WithDescription("Access tokens minted by flow"))
	authFailuresTotal, _ = m.Int64Counter("devbackend_auth_failures_total",
		metric.WithDescription("Rejected logins, refreshes and bearer tokens by reason"))
	sessionRevocations, _ = m.Int64Counter("devbackend_session_revocations_total",
		metric.WithDescription("Sessions revoked by reason"))
}
