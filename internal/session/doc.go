// Package session implements the authenticated request layer: every
// outbound backend call goes through a Gateway, which attaches the bearer
// credential, classifies the outcome, refreshes an expired credential at
// most once across all concurrent callers, and replays the original call
// at most once.
//
// The credential pair is owned by the Coordinator. All other components
// work on value snapshots taken when a request is sent.
package session

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("session")

var (
	requestsTotal      metric.Int64Counter
	replaysTotal       metric.Int64Counter
	refreshTotal       metric.Int64Counter
	refreshWaiters     metric.Int64Histogram
	refreshDurationSec metric.Float64Histogram
	logoutsTotal       metric.Int64Counter
)

func init() {
	m := otel.Meter("session")

	requestsTotal, _ = m.Int64Counter("session_requests_total",
		metric.WithDescription("Outcomes of gateway requests by classification"))
	replaysTotal, _ = m.Int64Counter("session_replays_total",
		metric.WithDescription("Requests replayed after a credential refresh"))
	refreshTotal, _ = m.Int64Counter("session_refresh_total",
		metric.WithDescription("Refresh attempts by result"))
	refreshWaiters, _ = m.Int64Histogram("session_refresh_waiters",
		metric.WithDescription("Callers attached to a single refresh when it settled"))
	refreshDurationSec, _ = m.Float64Histogram("session_refresh_duration_seconds",
		metric.WithDescription("Latency of the refresh endpoint call"),
		metric.WithUnit("s"))
	logoutsTotal, _ = m.Int64Counter("session_logouts_total",
		metric.WithDescription("Session teardowns by reason"))
}
