package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-render/internal/bootstrap"
	"github.com/loqalabs/loqa-render/internal/bus"
	"github.com/loqalabs/loqa-render/internal/capability"
	"github.com/loqalabs/loqa-render/internal/config"
	"github.com/loqalabs/loqa-render/internal/eventstore"
	"github.com/loqalabs/loqa-render/internal/natsserver"
	"github.com/loqalabs/loqa-render/internal/service"
	"github.com/loqalabs/loqa-render/internal/session"
	"golang.org/x/sync/errgroup"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	ready  atomic.Bool

	registry   *capability.Registry
	controller *session.Controller
	store      *eventstore.Store
	nats       *natsserver.EmbeddedServer
	bus        *bus.Client
	service    *service.Service
	stream     *streamHub
	backends   <-chan struct{}
	metrics    http.Handler
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start runs the daemon until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.metrics = metricHandler

	if err := r.setup(ctx); err != nil {
		_ = shutdownTelemetry(context.Background())
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	servers := []*http.Server{{
		Addr:              addr,
		Handler:           r.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}}
	if r.metrics != nil && r.cfg.Telemetry.PrometheusBind != addr {
		mux := http.NewServeMux()
		mux.Handle("/metrics", r.metrics)
		servers = append(servers, &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	runErr := g.Wait()
	r.close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
	return runErr
}

// setup builds the render stack: history, readiness, backends, controller and
// the optional bus service.
func (r *Runtime) setup(ctx context.Context) error {
	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.store = store

	r.registry = capability.NewRegistry(r.logger)
	r.controller = session.NewController(session.OptionsFromConfig(r.cfg.Render), r.registry, r.logger)
	r.controller.AddListener(eventstore.NewRecorder(store, r.logger))
	r.stream = newStreamHub(r.logger)
	r.controller.AddListener(r.stream)
	r.registry.Watch(r.stream.PublishCapability)

	if r.cfg.Service.Enabled {
		if err := r.startBus(ctx); err != nil {
			r.close()
			return err
		}
	}

	r.backends = bootstrap.Start(ctx, r.cfg, r.registry, r.logger)
	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	srv, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	r.nats = srv
	if srv != nil {
		busCfg.Servers = []string{srv.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
	if err != nil {
		return err
	}
	r.bus = client

	r.service = service.NewService(ctx, r.cfg.Service, client, r.controller, r.logger)
	r.controller.AddListener(r.service)
	r.registry.Watch(r.service.PublishCapability)
	return r.service.Start()
}

func (r *Runtime) close() {
	if r.controller != nil {
		r.controller.Close()
	}
	if r.service != nil {
		r.service.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.nats != nil {
		r.nats.Shutdown()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("event store close failed", slog.String("error", err.Error()))
		}
	}
}

// Ready reports whether the daemon is serving and every backend has settled.
func (r *Runtime) Ready() bool {
	if !r.ready.Load() || r.registry == nil || !r.registry.Settled() {
		return false
	}
	return r.service == nil || r.service.Healthy()
}
