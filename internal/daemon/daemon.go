package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/slideforge/slideforge/internal/api"
	"github.com/slideforge/slideforge/internal/app/orchestrator"
	"github.com/slideforge/slideforge/internal/app/runner"
	"github.com/slideforge/slideforge/internal/app/tasks"
	"github.com/slideforge/slideforge/internal/domain"
	"github.com/slideforge/slideforge/internal/genservice"
	"github.com/slideforge/slideforge/internal/health"
	"github.com/slideforge/slideforge/internal/hub"
	"github.com/slideforge/slideforge/internal/infra/genclient"
	"github.com/slideforge/slideforge/internal/infra/redisstore"
	"github.com/slideforge/slideforge/internal/infra/scheduler"
	"github.com/slideforge/slideforge/internal/infra/sqlite"
	"github.com/slideforge/slideforge/internal/logger"
)

// Daemon is the backend runtime. It wires together all services.
type Daemon struct {
	Config       Config
	Store        domain.TaskStore
	Hub          *hub.Hub
	Generator    *genclient.Client
	Orchestrator *orchestrator.Orchestrator
	Queue        *scheduler.Queue
	Tasks        *tasks.Service
	Health       *health.Checker
	Server       *api.Server

	log    logger.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates and initializes a Daemon from the loaded configuration.
func New(ctx context.Context, log logger.Logger) (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(ctx, cfg, log)
}

// OpenStore opens the task store selected by cfg.Store.Driver.
func OpenStore(ctx context.Context, cfg Config, log logger.Logger) (domain.TaskStore, error) {
	ttl := parseDuration(cfg.Store.TTL, 24*time.Hour)
	switch cfg.Store.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Store.SQLiteDir, ttl)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return db, nil
	case "redis", "":
		rc := redisstore.DefaultConfig()
		rc.URL = cfg.Redis.URL
		rc.Host = cfg.Redis.Host
		rc.Port = cfg.Redis.Port
		rc.DB = cfg.Redis.DB
		rc.Password = cfg.Redis.Password
		rc.TTL = ttl
		if cfg.Redis.ConnectRetries > 0 {
			rc.ConnectRetries = cfg.Redis.ConnectRetries
		}
		return redisstore.Open(ctx, rc, log)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(ctx context.Context, cfg Config, log logger.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	h := hub.New(5*time.Second, log)
	gen := genclient.New(genclient.Config{
		BaseURL: cfg.Generation.URL,
		Timeout: parseDuration(cfg.Generation.Timeout, 10*time.Minute),
	}, log)

	run := runner.New(gen, store, h, log, runner.WithMode(runner.ParseMode(cfg.Generation.Mode)))
	orch := orchestrator.New(orchestrator.Config{
		FlushInterval: parseDuration(cfg.Tasks.FlushInterval, 2*time.Second),
		FallbackStep:  parseDuration(cfg.Tasks.FallbackStep, 500*time.Millisecond),
		Workspace:     cfg.Generation.Workspace,
	}, store, gen, h, run, log)

	queue := scheduler.New(log)
	svc := tasks.NewService(tasks.Config{
		MaxSampleCount:     cfg.Tasks.MaxSampleCount,
		DefaultSampleCount: cfg.Tasks.DefaultSampleCount,
	}, store, queue, orch, log)

	checker := health.NewChecker(store, gen, cfg.Generation.Workspace,
		parseDuration(cfg.Tasks.HealthInterval, time.Minute), log)

	srv := api.NewServer(api.Config{
		CORSOrigins:    cfg.API.CORSOrigins,
		Workspace:      cfg.Generation.Workspace,
		MaxUploadBytes: parseSize(cfg.API.MaxUploadSize, 50<<20),
		TemplateTTL:    5 * time.Minute,
		RequestTimeout: parseDuration(cfg.API.RequestTimeout, 5*time.Minute),
		MetricsEnabled: cfg.API.Metrics,
	}, api.Deps{Tasks: svc, Hub: h, Generator: gen, Health: checker}, log)

	return &Daemon{
		Config:       cfg,
		Store:        store,
		Hub:          h,
		Generator:    gen,
		Orchestrator: orch,
		Queue:        queue,
		Tasks:        svc,
		Health:       checker,
		Server:       srv,
		log:          log.With("component", "daemon"),
	}, nil
}

// Start launches the task worker and the health checker. They stop when
// ctx is cancelled or Close is called.
func (d *Daemon) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	go d.Health.Run(ctx)
	go func() {
		defer close(d.done)
		d.Queue.Run(ctx, d.Orchestrator)
	}()
}

// Handler returns the API handler.
func (d *Daemon) Handler() http.Handler { return d.Server.Handler() }

// Serve starts the HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	d.Start(ctx)
	defer d.Close()

	addr := net.JoinHostPort(d.Config.API.Host, strconv.Itoa(d.Config.API.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	d.log.Info("serving", "addr", "http://"+addr, "store", d.Config.Store.Driver,
		"generation", d.Generator.BaseURL(), "mode", runner.ParseMode(d.Config.Generation.Mode))
	if d.Config.API.Metrics {
		d.log.Info("metrics enabled", "url", "http://"+addr+"/metrics")
	}
	return listenAndServe(ctx, httpServer, d.log)
}

// errShutdown is recorded on tasks still queued when the daemon stops.
const errShutdown = "server shut down before the task started"

// Close stops background work and releases the store. Calling it more than
// once is harmless.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	dropped := d.Queue.Close()
	if d.done != nil {
		<-d.done
	}
	for _, t := range dropped {
		d.Orchestrator.Abandon(context.Background(), t.ID, errShutdown)
	}
	if len(dropped) > 0 {
		d.log.Warn("failed queued tasks on shutdown", "count", len(dropped))
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			d.log.Debug("close store", "error", err)
		}
	}
}

// ServeStub runs the generation-service stub backed by the scripted agent.
func ServeStub(ctx context.Context, cfg Config, log logger.Logger) error {
	if err := os.MkdirAll(cfg.Generation.Workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	agent := genservice.NewScriptedAgent(cfg.Generation.Workspace)
	if cfg.Stub.Pages > 0 {
		agent.Pages = cfg.Stub.Pages
	}
	agent.StepDelay = parseDuration(cfg.Stub.StepDelay, 0)

	addr := net.JoinHostPort(cfg.Stub.Host, strconv.Itoa(cfg.Stub.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           genservice.NewServer(agent, cfg.Generation.Workspace, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	log.Info("generation stub serving", "addr", "http://"+addr, "workspace", cfg.Generation.Workspace)
	return listenAndServe(ctx, httpServer, log)
}

// listenAndServe runs srv until ctx is cancelled or the process receives
// SIGINT/SIGTERM, then shuts it down gracefully.
func listenAndServe(ctx context.Context, srv *http.Server, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
