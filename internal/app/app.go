// Package app wires configuration, storage, services and the HTTP
// server into one lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"teamwire/pkg/api"
	"teamwire/pkg/api/handlers"
	"teamwire/pkg/auth"
	"teamwire/pkg/banner"
	"teamwire/pkg/calls"
	"teamwire/pkg/config"
	"teamwire/pkg/delivery"
	"teamwire/pkg/history"
	"teamwire/pkg/logger"
	"teamwire/pkg/presence"
	"teamwire/pkg/reactions"
	"teamwire/pkg/store"
	"teamwire/pkg/telemetry"
	"teamwire/pkg/ws"

	"teamwire/internal/retention"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	reg  *presence.Registry
	deps handlers.Deps

	srv             *http.Server
	stopRetention   context.CancelFunc
	shutdownTimeout time.Duration
}

// New initializes everything that needs no running context: runtime
// keys, the store and the service graph. Call Run to serve.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if len(eff.Config.Security.SigningKeys) == 0 {
		return nil, fmt.Errorf("no identity signing keys configured")
	}
	runtimeCfg := &config.RuntimeConfig{SigningKeys: map[string]struct{}{}}
	for _, k := range eff.Config.Security.SigningKeys {
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	if err := store.Open(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}
	if err := store.Migrate(); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	if d := eff.Config.Logging.SlowRequestThreshold.Duration(); d > 0 {
		telemetry.SetSlowThreshold(d)
	}

	reg := presence.NewRegistry(
		eff.Config.Presence.SendBuffer,
		eff.Config.Presence.MaxPooledBufferBytes.Int64(),
	)
	a := &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		reg:       reg,
		deps: handlers.Deps{
			Delivery:  delivery.NewService(reg),
			Reactions: reactions.NewService(reg),
			Calls:     calls.NewService(reg),
			History:   history.NewService(eff.Config.History.DefaultLimit, eff.Config.History.MaxLimit),
		},
		shutdownTimeout: 10 * time.Second,
	}
	return a, nil
}

// Run starts the retention scheduler and the HTTP server, blocking
// until ctx cancels or the server fails.
func (a *App) Run(ctx context.Context) error {
	cancelRetention, err := retention.Start(ctx, a.eff.Config.Retention)
	if err != nil {
		return err
	}
	a.stopRetention = cancelRetention

	a.logStartup()
	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			a.shutdown()
			return err
		}
		return nil
	}
}

func (a *App) logStartup() {
	ver := a.version
	if a.commit != "" && a.commit != "none" {
		ver += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		ver += " @ " + a.buildDate
	}
	banner.Print(a.eff, ver)
	logger.Info("server_starting", "addr", a.eff.Addr, "db", store.DBPath())
}

func (a *App) startHTTP() <-chan error {
	secCfg := auth.SecConfig{
		AllowedOrigins: append([]string{}, a.eff.Config.Security.CORS.AllowedOrigins...),
		RPS:            a.eff.Config.Security.RateLimit.RPS,
		Burst:          a.eff.Config.Security.RateLimit.Burst,
	}
	wsHandler := ws.NewHandler(a.reg, a.deps.Delivery, a.deps.Reactions, a.deps.Calls, secCfg.AllowedOrigins)
	handler := api.New(a.deps, wsHandler, secCfg)

	a.srv = &http.Server{Addr: a.eff.Addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() {
		cert := a.eff.Config.Server.TLS.CertFile
		key := a.eff.Config.Server.TLS.KeyFile
		if cert != "" && key != "" {
			errCh <- a.srv.ListenAndServeTLS(cert, key)
		} else {
			errCh <- a.srv.ListenAndServe()
		}
	}()
	return errCh
}

func (a *App) shutdown() {
	if a.stopRetention != nil {
		a.stopRetention()
	}
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()
		if err := a.srv.Shutdown(ctx); err != nil {
			logger.Warn("http_shutdown_error", "error", err)
		}
	}
	if err := store.Close(); err != nil {
		logger.Warn("store_close_error", "error", err)
	}
	logger.Info("server_stopped")
}
