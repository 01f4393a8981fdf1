// Package app wires the process together: configuration, sanitizer,
// registry, cache, watcher, and the HTTP listeners, with a graceful
// shutdown sequence that drains everything in dependency order.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"credproxy/internal/api"
	"credproxy/internal/cache"
	"credproxy/internal/config"
	"credproxy/internal/issuer"
	"credproxy/internal/metrics"
	"credproxy/internal/registry"
	"credproxy/internal/server"
	"credproxy/internal/watcher"
	"credproxy/pkg/logging"
	"credproxy/pkg/sanitize"
)

const shutdownTimeout = 10 * time.Second

// Application holds every long-lived component of a running credproxy
// process.
type Application struct {
	cfg       *config.Config
	sanitizer *sanitize.Sanitizer

	registry      *registry.Registry
	cache         *cache.Cache
	watcher       *watcher.Watcher
	apiServer     *server.Server
	metricsServer *server.MetricsServer
}

// New builds the application from an already-loaded configuration. The
// sanitizer must be the one the loader registered configuration secrets
// with; it is installed as the logging redactor here so no component can
// log secret material. provenance identifies the source of the static
// service definitions.
func New(cfg *config.Config, sanitizer *sanitize.Sanitizer, provenance, version string) (*Application, error) {
	logging.SetRedactor(sanitizer)

	var m *metrics.Metrics
	var reporter registry.ActiveServicesReporter
	if cfg.Metrics.Prometheus.Enabled {
		m = metrics.New(version)
		reporter = m
	}

	reg := registry.New(sanitizer, reporter)
	for name, spec := range cfg.Services {
		merged := spec.SourceCredentials.Merge(cfg.AWSDefaults)
		ok := reg.Add(name, registry.Definition{
			BearerToken:       spec.AuthToken,
			SourceCredentials: merged,
			RoleSpec:          spec.AssumedRole,
			Provenance:        provenance,
		})
		if !ok {
			return nil, api.NewConflictError(name, "duplicate name or bearer token in static configuration")
		}
	}

	credCache := cache.New(reg, issuer.NewSTSClient(), sanitizer, cache.Options{
		Defaults:       cfg.AWSDefaults,
		RequestTimeout: cfg.Credentials.RequestTimeoutDuration(),
	})

	app := &Application{
		cfg:       cfg,
		sanitizer: sanitizer,
		registry:  reg,
		cache:     credCache,
		apiServer: server.New(cfg.Server, reg, credCache, m),
	}

	if cfg.DynamicServices != nil && cfg.DynamicServices.Enabled {
		app.watcher = watcher.New(cfg.DynamicServices, reg, sanitizer, cfg.AWSDefaults)
	}
	if cfg.Metrics.Prometheus.Enabled {
		app.metricsServer = server.NewMetricsServer(cfg.Metrics.Prometheus, m)
	}

	return app, nil
}

// Run starts every component and blocks until ctx is cancelled or a
// listener fails, then shuts down in reverse dependency order: stop the
// watcher first so no new definitions arrive, then the reaper, then the
// listeners, and flush the cache last so its secrets are released.
func (a *Application) Run(ctx context.Context) error {
	a.cache.Start()
	if a.watcher != nil {
		if err := a.watcher.Start(); err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(a.apiServer.ListenAndServe)
	if a.metricsServer != nil {
		g.Go(a.metricsServer.ListenAndServe)
	}

	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})

	// Under systemd Type=notify this unblocks dependent units; elsewhere
	// it is a silent no-op.
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Warn("App", "systemd notify failed: %v", err)
	}
	logging.Info("App", "credproxy ready, serving %d services on %s",
		a.registry.Len(), a.apiServer.Addr())

	return g.Wait()
}

func (a *Application) shutdown() {
	logging.Info("App", "Shutting down")
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		logging.Debug("App", "systemd notify failed: %v", err)
	}

	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.cache.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.apiServer.Shutdown(ctx); err != nil {
		logging.Error("App", err, "API server shutdown failed")
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			logging.Error("App", err, "Metrics server shutdown failed")
		}
	}

	a.cache.Flush()
	logging.Info("App", "Shutdown complete")
}
