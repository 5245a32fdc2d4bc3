// Package server exposes the runner's HTTP surface: task submission, status
// polling, cancellation, health, and metrics.
package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/lailatov/runner/internal/audit"
	"github.com/lailatov/runner/internal/breaker"
	"github.com/lailatov/runner/internal/callback"
	"github.com/lailatov/runner/internal/config"
	"github.com/lailatov/runner/internal/engine"
	"github.com/lailatov/runner/internal/ghcred"
	"github.com/lailatov/runner/internal/metrics"
	"github.com/lailatov/runner/internal/runner"
	"github.com/lailatov/runner/internal/task"
	"github.com/lailatov/runner/internal/workspace"
)

// Version is reported by the health endpoint.
const Version = "0.3.0"

// Server is the HTTP front-end over the task pipeline.
type Server struct {
	cfg      *config.File
	store    *task.Store
	audit    *audit.Log
	engines  *engine.Registry
	executor *runner.Executor
	watchdog *runner.Watchdog
	httpSrv  *http.Server
	logger   hclog.Logger
}

// New assembles the full runner: store, audit, breakers, workspace manager,
// engine registry, credential issuer, executor, and watchdog.
func New(cfg *config.File, logger hclog.Logger) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{Name: "lailatov", Level: hclog.Info})
	}

	store := task.NewStore()
	auditLog := audit.New(logger)
	breakers := breaker.NewRegistry(
		cfg.Breaker.FailureThreshold,
		time.Duration(cfg.Breaker.RecoveryTimeoutMS)*time.Millisecond,
		logger,
	)
	ws := workspace.NewManager(cfg.ResolveWorkspaceRoot(), logger,
		workspace.WithKeep(cfg.ResolveKeepWorkspaces()),
		workspace.WithExcludeGlobs(cfg.ExcludeGlobs),
		workspace.WithTimeouts(
			time.Duration(cfg.Git.CloneTimeoutMS)*time.Millisecond,
			time.Duration(cfg.Git.PushTimeoutMS)*time.Millisecond,
		),
	)
	engines := engine.NewRegistry()
	if cfg.Engines.Default != "" {
		engines.SetFallback(cfg.Engines.Default)
	}
	if len(cfg.Engines.Affinity) > 0 {
		rules := make([]engine.AffinityRule, 0, len(cfg.Engines.Affinity))
		for _, r := range cfg.Engines.Affinity {
			rules = append(rules, engine.AffinityRule{ModelPrefix: r.ModelPrefix, Engine: r.Engine})
		}
		engines.SetAffinity(rules)
	}

	s := &Server{
		cfg:     cfg,
		store:   store,
		audit:   auditLog,
		engines: engines,
		logger:  logger.Named("server"),
	}
	s.executor = runner.NewExecutor(store, auditLog, breakers, ws, engines,
		callback.NewNotifier(logger), ghcred.NewIssuer(logger), logger)
	s.watchdog = runner.NewWatchdog(store, auditLog,
		time.Duration(cfg.Watchdog.CheckIntervalMS)*time.Millisecond, logger)

	s.httpSrv = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return context.Background() },
	}
	return s
}

// Engines exposes the engine registry so embedders and tests can add
// adapters before serving.
func (s *Server) Engines() *engine.Registry { return s.engines }

// Handler builds the routed and authenticated handler tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Go 1.22+ method+pattern routing.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /schema/task", s.handleTaskSchema)
	mux.HandleFunc("POST /tasks", s.handleSubmitTask)
	mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)
	mux.HandleFunc("POST /tasks/{id}/cancel", s.handleCancelTask)

	return requireAuth(mux)
}

// ListenAndServe starts the watchdog and the HTTP server, blocking until
// shutdown. SIGINT and SIGTERM trigger a graceful stop.
func (s *Server) ListenAndServe() error {
	s.watchdog.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		s.logger.Info("shutting down", "signal", sig.String())
		s.Shutdown()
	}()

	addr := s.cfg.ResolveAddr()
	s.logger.Info("listening", "addr", addr, "version", Version)
	s.httpSrv.Addr = addr
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown cancels every active task, stops the watchdog, and drains HTTP
// connections.
func (s *Server) Shutdown() {
	for _, st := range s.store.Snapshot() {
		if !st.Status().Terminal() {
			st.Cancel()
		}
	}
	s.watchdog.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = s.httpSrv.Shutdown(ctx)
}
