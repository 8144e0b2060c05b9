package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/farmready/farmready/internal/compute"
	"github.com/farmready/farmready/internal/config"
	"github.com/farmready/farmready/internal/credential"
	"github.com/farmready/farmready/internal/diagnostics"
	"github.com/farmready/farmready/internal/poller"
	"github.com/farmready/farmready/internal/shadow"
	"github.com/farmready/farmready/internal/store"
	"github.com/farmready/farmready/internal/store/sqlite"
)

// app holds the wired engine for one process.
type app struct {
	cfg      *config.Config
	store    store.Store
	registry *config.Registry
	source   poller.DeviceSource
	driver   *poller.Driver
	facade   *diagnostics.Facade

	closers []func() error
}

// buildApp opens storage, the credential cache and the shadow client, and
// assembles the poll driver and diagnostic facade on top of them.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, registry: config.NewRegistry(cfg.Devices)}

	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	tokens, err := a.buildCredentials(ctx)
	if err != nil {
		a.Close() //nolint:errcheck
		return nil, err
	}

	shadows, err := shadow.New(shadow.Config{
		Endpoint:           cfg.Upstream.GraphQLURL,
		Timeout:            cfg.Upstream.Timeout,
		InsecureSkipVerify: cfg.Upstream.InsecureSkipVerify,
	})
	if err != nil {
		a.Close() //nolint:errcheck
		return nil, err
	}

	switch cfg.Engine.DeviceSource {
	case config.SourceStore:
		a.source = poller.FromStore(st)
	default:
		a.source = poller.FromRegistry(a.registry)
	}
	a.source = poller.WithAllowlist(a.source, cfg.Engine.AllowedDevices)

	loc, err := cfg.Engine.Location()
	if err != nil {
		a.Close() //nolint:errcheck
		return nil, err
	}

	pipeline := &poller.Pipeline{
		Devices:  a.source,
		Tokens:   tokens,
		Shadows:  shadows,
		Progress: st,
		Machine:  compute.NewMachine(),
	}
	a.driver = poller.NewDriver(pipeline, st,
		poller.WithConcurrency(cfg.Engine.Concurrency),
		poller.WithStaleAfter(cfg.Engine.StaleRunAfter),
		poller.WithRunID(cfg.Engine.RunID),
		poller.WithLocation(loc),
	)
	a.facade = diagnostics.New(pipeline, st, st, cfg.Engine.RunID)

	slog.Info("engine ready",
		"storage", cfg.Storage.Backend,
		"device_source", cfg.Engine.DeviceSource,
		"devices", len(cfg.Devices),
		"allowlist", len(cfg.Engine.AllowedDevices),
		"token_store", cfg.Upstream.TokenStore,
	)
	return a, nil
}

func (a *app) buildCredentials(ctx context.Context) (*credential.Cache, error) {
	cfg := a.cfg
	if !cfg.Secrets.Complete() {
		slog.Warn("upstream credentials incomplete, token exchanges will fail",
			"client_id", cfg.Secrets.ClientID != "",
			"client_secret", cfg.Secrets.ClientSecret != "",
			"username", cfg.Secrets.ServiceUsername != "",
			"password", cfg.Secrets.ServicePassword != "",
		)
	}

	var opts []credential.Option
	if cfg.Upstream.TokenStore == "redis" {
		rs, err := credential.NewRedisStore(ctx, credential.RedisConfig{
			Addr:     cfg.Upstream.Redis.Addr,
			Password: cfg.Upstream.Redis.Password(),
			DB:       cfg.Upstream.Redis.DB,
			Key:      cfg.Upstream.Redis.Key,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rs.Close)
		opts = append(opts, credential.WithStore(rs))
	}

	return credential.New(credential.Config{
		TokenURL:           cfg.Upstream.TokenURL,
		ClientID:           cfg.Secrets.ClientID,
		ClientSecret:       cfg.Secrets.ClientSecret,
		Username:           cfg.Secrets.ServiceUsername,
		Password:           cfg.Secrets.ServicePassword,
		RefreshMargin:      cfg.Upstream.RefreshMargin,
		Timeout:            cfg.Upstream.Timeout,
		InsecureSkipVerify: cfg.Upstream.InsecureSkipVerify,
	}, opts...)
}

// deviceCount reports how many devices the next run would enumerate.
func (a *app) deviceCount() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ids, err := a.source.DeviceIDs(ctx)
	if err != nil {
		slog.Warn("could not list devices", "err", err)
		return 0
	}
	return len(ids)
}

// Close releases storage and the token store in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemory(), nil
	case "sqlite":
		st, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
