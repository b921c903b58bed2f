// Package app wires the engine, realtime hub and event relay from the
// workspace configuration. The CLI and the HTTP server both start here.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"doerline/internal/config"
	"doerline/internal/db"
	"doerline/internal/engine"
	"doerline/internal/engine/auth"
	"doerline/internal/logging"
	"doerline/internal/migrate"
	"doerline/internal/realtime"
	"doerline/internal/relay"
	"doerline/internal/retry"
)

// Options select the database and identity used to open a workspace.
type Options struct {
	Workspace string
	Driver    db.Driver
	DSN       string
	// SystemActorID names the actor background jobs and admin commands run as.
	SystemActorID string
	Logger        *zap.Logger
}

// App is an opened workspace.
type App struct {
	DB     *sql.DB
	Driver db.Driver
	Config *config.Config
	Engine engine.Engine
	System auth.Actor
	Logger *zap.Logger

	redis *redis.Client
	hub   realtime.Hub
	amqp  *relay.AMQPSink
}

// Open connects to the database, applies migrations, makes sure the system
// actor exists and seeds the pricing table from the workspace config.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger := logging.OrNop(opts.Logger)
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Driver: opts.Driver, DSN: opts.DSN, Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	driver := opts.Driver
	if driver == "" {
		driver = db.SQLite
	}
	ping := retry.Policy{Attempts: cfg.Retry.Attempts, BaseDelay: cfg.Retry.Delay(), Logger: logger.Named("db")}
	if err := db.Ping(ctx, conn, ping); err != nil {
		conn.Close()
		return nil, err
	}
	if err := migrate.Migrate(conn, driver); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	e := engine.New(conn, driver, logger)
	e.Pricing = cfg.Pricing
	if cfg.Retry.Attempts > 0 {
		e.Retry.Attempts = cfg.Retry.Attempts
	}
	e.Retry.BaseDelay = cfg.Retry.Delay()

	sys, err := e.EnsureSystemActor(ctx, opts.SystemActorID)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure system actor: %w", err)
	}
	if err := e.SeedPricingConfig(ctx, cfg.Pricing); err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed pricing: %w", err)
	}
	return &App{
		DB:     conn,
		Driver: driver,
		Config: cfg,
		Engine: e,
		System: sys,
		Logger: logger,
	}, nil
}

// Hub returns the realtime hub chosen by realtime.backend, building it on
// first use.
func (a *App) Hub() (realtime.Hub, error) {
	if a.hub != nil {
		return a.hub, nil
	}
	rc := a.Config.Realtime
	opts := []realtime.Option{realtime.WithLogger(a.Logger)}
	if rc.BufferSize > 0 {
		opts = append(opts, realtime.WithBuffer(rc.BufferSize))
	}
	if rc.ChannelPrefix != "" {
		opts = append(opts, realtime.WithChannelPrefix(rc.ChannelPrefix))
	}
	switch strings.ToLower(strings.TrimSpace(rc.Backend)) {
	case "", "memory":
		a.hub = realtime.NewMemoryHub(opts...)
	case "redis":
		client, err := realtime.NewRedisClient(rc.RedisAddr, "", rc.RedisDB)
		if err != nil {
			return nil, err
		}
		a.redis = client
		a.hub = realtime.NewRedisHub(client, opts...)
	default:
		return nil, fmt.Errorf("unknown realtime backend %q", rc.Backend)
	}
	return a.hub, nil
}

// Relay builds the outbox relay for every configured sink: webhooks, the
// AMQP broker when broker.url is set, and the realtime hub when given.
func (a *App) Relay(hub realtime.Hub) (*relay.Relay, error) {
	sinks := relay.WebhookSinks(a.Config)
	if url := strings.TrimSpace(a.Config.Broker.URL); url != "" {
		sink, err := relay.DialAMQP(url, a.Config.Broker.Exchange)
		if err != nil {
			return nil, err
		}
		a.amqp = sink
		sinks = append(sinks, sink)
	}
	if hub != nil {
		sinks = append(sinks, relay.HubSink{Hub: hub})
	}
	return &relay.Relay{
		Repo:      a.Engine.Repo,
		Sinks:     sinks,
		Logger:    a.Logger.Named("relay"),
		Interval:  a.Config.Relay.Every(),
		BatchSize: a.Config.Relay.BatchSize,
	}, nil
}

// Close releases everything Open and the builders acquired.
func (a *App) Close() error {
	var errs []error
	if a.hub != nil {
		errs = append(errs, a.hub.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.amqp != nil {
		a.amqp.Close()
	}
	errs = append(errs, a.DB.Close())
	return errors.Join(errs...)
}
