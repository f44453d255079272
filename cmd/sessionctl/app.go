package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aelexs/session-gateway/internal/api"
	"github.com/aelexs/session-gateway/internal/config"
	"github.com/aelexs/session-gateway/internal/credstore"
	"github.com/aelexs/session-gateway/internal/domain"
	"github.com/aelexs/session-gateway/internal/dynamo"
	"github.com/aelexs/session-gateway/internal/events"
	"github.com/aelexs/session-gateway/internal/observability"
	redisclient "github.com/aelexs/session-gateway/internal/redis"
	"github.com/aelexs/session-gateway/internal/session"
	"github.com/aelexs/session-gateway/internal/transport"
)

const serviceName = "sessionctl"

// Version is set at build time.
var Version = "dev"

// app holds the wired dependencies of one command invocation.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	gw     *session.Gateway
	client *api.Client

	// redis is nil unless the store or the event bus needs it.
	redis *redisclient.Client

	closers []func(context.Context) error
}

// appOpener builds an app. Tests swap it to control the environment.
type appOpener func(ctx context.Context, opts rootOptions, errOut io.Writer) (*app, error)

// openApp is the sessionctl composition root.
func openApp(ctx context.Context, opts rootOptions, errOut io.Writer) (_ *app, err error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.profile != "" {
		cfg.Store.Profile = opts.profile
	}

	logger := observability.InitLogger(observability.LogConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Output:      errOut,
	})

	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.close(context.WithoutCancel(ctx))
		}
	}()

	tel, err := observability.InitTelemetry(ctx, observability.TelemetryConfig{
		ServiceName:    cfg.OTEL.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, tel.Shutdown)

	kind := domain.StoreKind(cfg.Store.Kind)
	if kind == domain.StoreKindRedis || cfg.Events.Enabled || opts.needsRedis {
		a.redis = redisclient.NewClient(redisclient.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  cfg.Redis.Timeout,
		})
		a.closers = append(a.closers, func(context.Context) error { return a.redis.Close() })
	}

	storeOpts := credstore.Options{
		Kind:      kind,
		Profile:   cfg.Store.Profile,
		FilePath:  cfg.Store.FilePath,
		KeyPrefix: cfg.Store.KeyPrefix,
		Table:     cfg.Store.Table,
		TTL:       cfg.Store.TTL,
		Clock:     domain.RealClock{},
	}
	if a.redis != nil {
		storeOpts.Redis = a.redis.RDB
	}
	if kind == domain.StoreKindDynamoDB {
		endpoint := cfg.DynamoDB.Endpoint
		if endpoint == "" {
			endpoint = cfg.AWS.Endpoint
		}
		db, err := dynamo.NewClient(ctx, dynamo.Config{
			Endpoint: endpoint,
			Region:   cfg.AWS.Region,
			Timeout:  cfg.DynamoDB.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create dynamodb client: %w", err)
		}
		storeOpts.Dynamo = db
	}
	store, err := credstore.Open(storeOpts)
	if err != nil {
		return nil, err
	}

	hook, err := a.logoutHook(errOut)
	if err != nil {
		return nil, err
	}

	a.gw = session.New(session.Config{
		Transport: transport.New(transport.Config{
			BaseURL:   cfg.Backend.BaseURL,
			Timeout:   cfg.Backend.Timeout,
			UserAgent: serviceName + "/" + Version,
		}),
		Store:            store,
		Hook:             hook,
		RefreshPath:      cfg.Session.RefreshPath,
		RefreshTimeout:   cfg.Session.RefreshTimeout,
		HardFailureCodes: cfg.Session.HardFailureCodes,
		EnvelopePath:     cfg.Session.EnvelopePath,
		Clock:            domain.RealClock{},
		Logger:           logger,
	})
	if err := a.gw.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}
	a.client = api.NewClient(a.gw, cfg.Session.LoginPath)

	logger.Debug("session gateway ready",
		slog.String("backend", cfg.Backend.BaseURL),
		slog.String("store", cfg.Store.Kind),
		slog.String("state", a.gw.State().String()),
	)
	return a, nil
}

// logoutHook tells the user the session ended and, when enabled, publishes
// the teardown for other processes.
func (a *app) logoutHook(errOut io.Writer) (session.LogoutHook, error) {
	hooks := session.MultiHook{
		session.HookFunc(func(ctx context.Context, ev session.LogoutEvent) {
			a.logger.WarnContext(ctx, "session ended",
				slog.String("reason", string(ev.Reason)),
				slog.Int("status", ev.HTTPStatus),
				slog.String("code", ev.Code),
			)
			fmt.Fprintf(errOut, "session ended (%s), run 'sessionctl login' to sign in again\n", ev.Reason)
		}),
	}
	if !a.cfg.Events.Enabled {
		return hooks, nil
	}

	pub, err := events.NewRedisStreamPublisher(a.redis.RDB, a.logger)
	if err != nil {
		return nil, fmt.Errorf("create event publisher: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return pub.Close() })

	return append(hooks, events.NewPublisher(pub, events.PublisherConfig{
		Topic:   a.cfg.Events.Topic,
		Profile: a.cfg.Store.Profile,
		Logger:  a.logger,
	})), nil
}

// close waits for in-flight refreshes and releases resources in reverse
// order of acquisition.
func (a *app) close(ctx context.Context) error {
	if a.gw != nil {
		a.gw.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
