package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ccxuy/easyrun/server/internal/agentchannel"
	"github.com/ccxuy/easyrun/server/internal/dispatch"
	"github.com/ccxuy/easyrun/server/internal/eventbus"
	"github.com/ccxuy/easyrun/server/internal/logbuf"
	"github.com/ccxuy/easyrun/server/internal/planrunner"
	"github.com/ccxuy/easyrun/server/internal/planstore"
	"github.com/ccxuy/easyrun/server/internal/registry"
	"github.com/ccxuy/easyrun/server/internal/store"
)

// RouterConfig holds every dependency NewRouter needs to wire handlers. One
// struct keeps the constructor signature manageable as the component count
// grows, matching the teacher's RouterConfig idiom.
type RouterConfig struct {
	Store      *store.Store
	Bus        *eventbus.Bus
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
	Logs       *logbuf.Registry
	Plans      *planstore.Store
	Runner     *planrunner.Runner
	Agents     *agentchannel.Handler

	// AuthToken, if non-empty, requires every /api/v1 request (except the
	// agent channel endpoint) to carry a matching Bearer token
	// (spec.md §6). Empty means authentication is disabled.
	AuthToken string

	Logger *zap.Logger
}

// NewRouter builds the fully configured chi router. All resource routes
// live under /api/v1; the agent channel and GUI WebSocket upgrades are
// mounted alongside them.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	nodeHandler := NewNodeHandler(cfg.Registry, cfg.Logger)
	jobHandler := NewJobHandler(cfg.Store, cfg.Dispatcher, cfg.Registry, cfg.Bus, cfg.Logs, cfg.Logger)
	planHandler := NewPlanHandler(cfg.Plans, cfg.Runner, cfg.Store, cfg.Logger)
	statsHandler := NewStatsHandler(cfg.Store, cfg.Registry, cfg.Logger)
	wsHandler := NewWSHandler(cfg.Bus, cfg.Logger)
	logHandler := NewLogHandler(cfg.Logs, cfg.Logger)

	r.Get("/metrics", MetricsHandler().ServeHTTP)
	r.Get("/api/v1/agents/connect", cfg.Agents.ServeWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Authenticate(cfg.AuthToken))

		r.Route("/nodes", func(r chi.Router) {
			r.Get("/", nodeHandler.List)
			r.Post("/register", nodeHandler.Register)
			r.Post("/{id}/ping", nodeHandler.Ping)
			r.Delete("/{id}", nodeHandler.Remove)
		})

		r.Post("/tasks/run", jobHandler.RunTask)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/{id}", jobHandler.GetByID)
			r.Get("/{id}/logs", logHandler.Tail)
			r.Post("/{id}/cancel", jobHandler.Cancel)
			r.Post("/{id}/result", jobHandler.Result)
		})

		r.Route("/plans", func(r chi.Router) {
			r.Post("/{name}/run", planHandler.Run)
			r.Post("/{name}/hook", planHandler.Hook)
			r.Get("/runs/{id}", planHandler.GetRun)
			r.Get("/runs/{id}/steps/{name}/logs", planHandler.StepLogs)
		})

		r.Post("/stats/report", statsHandler.Report)
		r.Get("/executions", statsHandler.List)
		r.Get("/dashboard", statsHandler.Dashboard)

		r.Get("/ws", wsHandler.ServeWS)
	})

	return r
}
