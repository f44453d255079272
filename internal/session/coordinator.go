package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/aelexs/session-gateway/internal/domain"
)

// CoordinatorConfig holds the dependencies for a Coordinator.
type CoordinatorConfig struct {
	Store          CredentialStore
	Transport      Transport
	Classifier     *Classifier
	Hook           LogoutHook
	RefreshPath    string
	RefreshTimeout time.Duration
	Clock          domain.Clock
	Logger         *slog.Logger
}

// Coordinator owns the credential pair and the session state. It guarantees
// that at most one refresh call is in flight: callers arriving while one is
// pending attach to it and receive its result.
//
// State transitions and the matching store writes happen inside one critical
// section, so the store never lags behind a later transition. The refresh
// network call and the store read of Restore stay outside it. Readers use
// the published view and never wait for a store write.
type Coordinator struct {
	store          CredentialStore
	transport      Transport
	classifier     *Classifier
	hook           LogoutHook
	refreshPath    string
	refreshTimeout time.Duration
	clock          domain.Clock
	logger         *slog.Logger

	mu      sync.Mutex
	state   State
	pair    CredentialPair
	pending *pendingRefresh
	// epoch changes on every transition not caused by a refresh. A refresh
	// started under an older epoch must not overwrite the session.
	epoch uint64
	// version changes whenever state or pair change.
	version uint64
	// teardown is closed once the logout hook of the latest teardown has
	// returned. Nil unless the session was torn down.
	teardown chan struct{}

	view      atomic.Pointer[sessionView]
	refreshes sync.WaitGroup
}

// sessionView is an immutable copy of state and pair for lock-free reads.
type sessionView struct {
	pair  CredentialPair
	state State
}

// pendingRefresh is the shared result of one in-flight refresh.
type pendingRefresh struct {
	done    chan struct{}
	epoch   uint64
	waiters int

	// set before done is closed
	pair CredentialPair
	err  *Error
}

// NewCoordinator creates a Coordinator in the logged-out state. Call Restore
// or Establish to start a session.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		store:          cfg.Store,
		transport:      cfg.Transport,
		classifier:     cfg.Classifier,
		hook:           cfg.Hook,
		refreshPath:    cfg.RefreshPath,
		refreshTimeout: cfg.RefreshTimeout,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
	}
	c.setLocked(StateLoggedOut, CredentialPair{})
	if c.classifier == nil {
		c.classifier = NewClassifier(ClassifierConfig{})
	}
	if c.hook == nil {
		c.hook = noopHook{}
	}
	if c.refreshPath == "" {
		c.refreshPath = domain.RefreshPath
	}
	if c.refreshTimeout <= 0 {
		c.refreshTimeout = domain.RefreshTimeout
	}
	if c.clock == nil {
		c.clock = domain.RealClock{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Snapshot returns the current pair and state.
func (c *Coordinator) Snapshot() (CredentialPair, State) {
	v := c.view.Load()
	return v.pair, v.state
}

// State returns the current session state.
func (c *Coordinator) State() State {
	return c.view.Load().state
}

// setLocked changes state and pair and publishes them to readers. c.mu must
// be held.
func (c *Coordinator) setLocked(state State, pair CredentialPair) {
	c.state = state
	c.pair = pair
	c.version++
	c.view.Store(&sessionView{pair: pair, state: state})
}

// Restore loads a previously stored pair. With nothing stored the session
// stays logged out. A transition that happens while the store is read wins
// over the stored pair.
func (c *Coordinator) Restore(ctx context.Context) error {
	c.mu.Lock()
	version := c.version
	c.mu.Unlock()

	pair, ok, err := c.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("restore credentials: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != version {
		c.logger.DebugContext(ctx, "restore skipped, session changed meanwhile")
		return nil
	}
	c.epoch++
	c.pending = nil
	c.teardown = nil
	if !ok || pair.IsZero() {
		c.setLocked(StateLoggedOut, CredentialPair{})
		return nil
	}
	c.setLocked(StateActive, pair)
	c.logger.DebugContext(ctx, "credentials restored", "access_fp", pair.AccessToken)
	return nil
}

// Establish installs a freshly issued pair, typically after login.
func (c *Coordinator) Establish(ctx context.Context, pair CredentialPair) error {
	if pair.IsZero() {
		return fmt.Errorf("establish session: %w", domain.ErrNoCredentials)
	}
	if pair.IssuedAt.IsZero() {
		pair.IssuedAt = c.clock.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Set(ctx, pair); err != nil {
		return fmt.Errorf("establish session: %w", err)
	}
	c.epoch++
	c.pending = nil
	c.teardown = nil
	c.setLocked(StateActive, pair)
	c.logger.InfoContext(ctx, "session established", "access_fp", pair.AccessToken)
	return nil
}

// Logout ends the session at the caller's request. The logout hook is not
// invoked.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	c.pending = nil
	c.teardown = nil
	c.setLocked(StateLoggedOut, CredentialPair{})
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	c.logger.InfoContext(ctx, "session logged out")
	return nil
}

// Teardown ends the session after a hard auth failure. It reports whether
// this call performed the transition; the hook fires only in that case.
// Either way it returns only after the hook of the teardown has run.
func (c *Coordinator) Teardown(ctx context.Context, cause *Error) bool {
	c.mu.Lock()
	if c.state == StateLoggedOut {
		done := c.teardown
		c.mu.Unlock()
		awaitTeardown(ctx, done)
		return false
	}
	c.epoch++
	c.pending = nil
	c.setLocked(StateLoggedOut, CredentialPair{})
	done := make(chan struct{})
	c.teardown = done
	c.clearStoreLocked(ctx)
	c.mu.Unlock()

	c.notify(ctx, LogoutSessionRevoked, cause)
	close(done)
	return true
}

// awaitTeardown blocks until done is closed or ctx ends. A nil done means
// there is no teardown to wait for.
func awaitTeardown(ctx context.Context, done <-chan struct{}) {
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Refresh obtains a credential that supersedes stale, the access token the
// caller's request was sent with. If the live pair has already moved past
// stale it is returned without a network call. Otherwise the caller starts
// or joins the single in-flight refresh.
//
// The refresh itself runs detached from ctx so that one caller giving up
// does not fail the others. A caller whose ctx ends stops waiting and gets
// ctx's error.
func (c *Coordinator) Refresh(ctx context.Context, stale domain.Token) (CredentialPair, error) {
	c.mu.Lock()
	switch c.state {
	case StateLoggedOut:
		done := c.teardown
		c.mu.Unlock()
		awaitTeardown(ctx, done)
		refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "rejected")))
		return CredentialPair{}, loggedOutError()

	case StateRefreshing:
		p := c.pending
		p.waiters++
		c.mu.Unlock()
		refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "joined")))
		return c.await(ctx, p)
	}

	if stale != c.pair.AccessToken {
		pair := c.pair
		c.mu.Unlock()
		refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "superseded")))
		return pair, nil
	}

	p := &pendingRefresh{done: make(chan struct{}), epoch: c.epoch, waiters: 1}
	c.pending = p
	c.setLocked(StateRefreshing, c.pair)
	refreshToken := c.pair.RefreshToken
	c.refreshes.Add(1)
	c.mu.Unlock()

	go c.runRefresh(context.WithoutCancel(ctx), p, refreshToken)
	return c.await(ctx, p)
}

// Wait blocks until every refresh started by this Coordinator has settled.
func (c *Coordinator) Wait() {
	c.refreshes.Wait()
}

func (c *Coordinator) await(ctx context.Context, p *pendingRefresh) (CredentialPair, error) {
	select {
	case <-p.done:
		if p.err != nil {
			return CredentialPair{}, p.err.clone()
		}
		return p.pair, nil
	case <-ctx.Done():
		c.mu.Lock()
		p.waiters--
		c.mu.Unlock()
		return CredentialPair{}, fmt.Errorf("await refresh: %w", ctx.Err())
	}
}

func (c *Coordinator) runRefresh(parent context.Context, p *pendingRefresh, refreshToken domain.Token) {
	defer c.refreshes.Done()

	ctx, cancel := context.WithTimeout(parent, c.refreshTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "session.refresh")
	defer span.End()

	start := c.clock.Now()
	pair, failure := c.callRefresh(ctx, refreshToken)
	refreshDurationSec.Record(ctx, domain.Since(c.clock, start).Seconds())

	if failure != nil {
		span.RecordError(failure)
		span.SetStatus(codes.Error, failure.Message)
	}

	// Settling must complete even when the refresh used up its deadline.
	settleCtx := trace.ContextWithSpan(parent, span)
	res := c.settle(settleCtx, p, pair, failure)
	switch {
	case res.notify:
		c.notify(settleCtx, LogoutRefreshFailed, failure)
		close(res.teardown)
	case res.teardown != nil:
		<-res.teardown
	}
	// Waiters learn the outcome only after the logout hook has run.
	close(p.done)
}

// callRefresh performs the refresh exchange. It never returns a nil pair
// with a nil failure.
func (c *Coordinator) callRefresh(ctx context.Context, refreshToken domain.Token) (CredentialPair, *Error) {
	if refreshToken.IsEmpty() {
		return CredentialPair{}, newRefreshError(0, "no refresh token available", domain.ErrNoCredentials)
	}

	req, err := NewJSONRequest(http.MethodPost, c.refreshPath, map[string]string{
		"refreshToken": refreshToken.Reveal(),
	})
	if err != nil {
		return CredentialPair{}, newRefreshError(0, "build refresh request", err)
	}

	outcome, err := c.transport.Send(ctx, req)
	if err != nil {
		return CredentialPair{}, newRefreshError(0, "refresh request failed", err).unavailable()
	}
	if class := c.classifier.Classify(outcome); class != Success {
		failure := c.classifier.Normalize(outcome, RefreshFailure)
		if class != HardAuthFailure && refreshUnavailable(outcome.Status) {
			return CredentialPair{}, failure.unavailable()
		}
		return CredentialPair{}, failure
	}

	access, refresh, ok := c.classifier.tokenResponse(outcome.Body)
	if !ok {
		return CredentialPair{}, newRefreshError(outcome.Status, "refresh response carries no access token", nil)
	}
	pair := CredentialPair{
		AccessToken:  domain.Token(access),
		RefreshToken: domain.Token(refresh),
		IssuedAt:     c.clock.Now(),
	}
	if pair.RefreshToken.IsEmpty() {
		// Backend does not rotate refresh tokens.
		pair.RefreshToken = refreshToken
	}
	return pair, nil
}

// refreshUnavailable reports whether a refresh answered with status got no
// verdict on the refresh token: no response, a timeout, throttling, or a
// server error.
func refreshUnavailable(status int) bool {
	switch {
	case status == 0,
		status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= http.StatusInternalServerError:
		return true
	}
	return false
}

// settleResult tells runRefresh what has to happen before waiters are
// released.
type settleResult struct {
	// notify is set when this refresh tore the session down. teardown must
	// be closed after the hook.
	notify   bool
	teardown chan struct{}
}

// settle applies the refresh result to the session and records it for the
// waiters. It does not release them.
func (c *Coordinator) settle(ctx context.Context, p *pendingRefresh, pair CredentialPair, failure *Error) settleResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	refreshWaiters.Record(ctx, int64(p.waiters))
	current := c.pending == p && c.epoch == p.epoch
	if current {
		c.pending = nil
	}

	if !current {
		// The session was ended or replaced while the call was in flight.
		// Neither outcome may touch it. Waiters follow the replacement if
		// there is a usable one.
		if c.state == StateActive {
			p.pair = c.pair
		} else {
			p.err = loggedOutError()
		}
		refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "discarded")))
		c.logger.InfoContext(ctx, "refresh result discarded, session changed meanwhile",
			"waiters", p.waiters,
		)
		if c.state == StateLoggedOut {
			return settleResult{teardown: c.teardown}
		}
		return settleResult{}
	}

	if failure != nil && errors.Is(failure, domain.ErrRefreshUnavailable) {
		p.err = failure
		c.setLocked(StateActive, c.pair)
		refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "unavailable")))
		c.logger.WarnContext(ctx, "refresh endpoint unavailable, session kept",
			"status", failure.HTTPStatus,
			"waiters", p.waiters,
			"error", failure,
		)
		return settleResult{}
	}

	if failure != nil {
		p.err = failure
		c.setLocked(StateLoggedOut, CredentialPair{})
		done := make(chan struct{})
		c.teardown = done
		c.clearStoreLocked(ctx)
		refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "failure")))
		c.logger.WarnContext(ctx, "refresh failed, session ended",
			"status", failure.HTTPStatus,
			"code", failure.Code,
			"waiters", p.waiters,
			"error", failure,
		)
		return settleResult{notify: true, teardown: done}
	}

	if err := c.store.Set(ctx, pair); err != nil {
		// The in-memory pair stays authoritative for this process.
		c.logger.ErrorContext(ctx, "persist refreshed credentials", "error", err)
	}
	p.pair = pair
	c.setLocked(StateActive, pair)
	refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "success")))
	c.logger.InfoContext(ctx, "credentials refreshed",
		"access_fp", pair.AccessToken,
		"waiters", p.waiters,
	)
	return settleResult{}
}

func (c *Coordinator) clearStoreLocked(ctx context.Context) {
	if err := c.store.Clear(ctx); err != nil {
		c.logger.ErrorContext(ctx, "clear stored credentials", "error", err)
	}
}

func (c *Coordinator) notify(ctx context.Context, reason LogoutReason, cause *Error) {
	ev := LogoutEvent{Reason: reason, OccurredAt: c.clock.Now()}
	if cause != nil {
		ev.HTTPStatus = cause.HTTPStatus
		ev.Code = cause.Code
		ev.Message = cause.Message
	}
	logoutsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
	c.logger.InfoContext(ctx, "session torn down", "reason", reason, "status", ev.HTTPStatus)
	c.hook.OnLogout(ctx, ev)
}

func loggedOutError() *Error {
	return newRefreshError(http.StatusUnauthorized, "session is logged out", domain.ErrLoggedOut)
}

// IsLoggedOut reports whether err was returned because no session exists.
func IsLoggedOut(err error) bool {
	return errors.Is(err, domain.ErrLoggedOut)
}
