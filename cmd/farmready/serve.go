package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/farmready/farmready/internal/api"
	"github.com/farmready/farmready/internal/config"
	"github.com/farmready/farmready/internal/poller"
	"github.com/farmready/farmready/internal/tlscheck"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduled poller and the diagnostic HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(parent context.Context, opts *rootOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	slog.Info("farmready starting",
		"config", opts.configPath,
		"http_port", cfg.Server.HTTPPort,
		"poll_interval", cfg.Engine.PollInterval,
		"auth_mode", cfg.Server.Auth.Mode,
	)

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	loc, err := cfg.Engine.Location()
	if err != nil {
		return err
	}
	sched, err := poller.NewScheduler(a.driver, cfg.Engine.PollInterval, loc)
	if err != nil {
		return err
	}

	certs := tlscheck.NewMonitor(
		[]string{cfg.Upstream.TokenURL, cfg.Upstream.GraphQLURL},
		cfg.Upstream.InsecureSkipVerify,
		6*time.Hour,
	)

	mux := http.NewServeMux()
	mux.Handle("/api/", api.New(api.Deps{
		Diagnostics: a.facade,
		Runner:      a.driver,
		DeviceCount: a.deviceCount,
		Upstream:    certs.Latest,
		Auth:        apiAuth(cfg.Server.Auth),
	}))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return certs.Run(gctx) })

	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if opts.configPath != "" {
		g.Go(func() error {
			err := config.WatchDevices(gctx, opts.configPath, a.registry, func(r config.Reload) {
				if !sameEngine(cfg, r.Config) {
					slog.Warn("config reload changed settings other than devices, restart to apply them")
				}
			})
			if err != nil {
				// Reload is optional; the engine keeps running on the initial config.
				slog.Error("config watcher stopped", "err", err)
			}
			return nil
		})
	}

	err = g.Wait()
	slog.Info("farmready shutting down")
	return err
}

// apiAuth resolves the API-key settings. An apikey mode whose key variable
// is empty leaves the mutating endpoints open, which is logged loudly.
func apiAuth(a config.AuthConfig) api.AuthConfig {
	key := a.Key()
	if a.Mode == "apikey" && key == "" {
		slog.Warn("server.auth.mode is apikey but the key variable is empty, mutating endpoints are NOT protected",
			"key_env", a.KeyEnv)
	}
	return api.AuthConfig{Mode: a.Mode, Header: a.EffectiveHeader(), Key: key}
}

// sameEngine reports whether a reload left everything but the device list
// as it was at startup.
func sameEngine(running, reloaded *config.Config) bool {
	return reflect.DeepEqual(running.Engine, reloaded.Engine) &&
		reflect.DeepEqual(running.Upstream, reloaded.Upstream) &&
		reflect.DeepEqual(running.Storage, reloaded.Storage) &&
		reflect.DeepEqual(running.Server, reloaded.Server)
}
