// Package adminapi implements the admin HTTP surface: a gin router exposing
// overview metrics, user and subscription management, run history and
// control, live diagnostics, and administrator broadcasts — every route
// gated by a static API key and a per-IP token-bucket rate limiter.
package adminapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nthiel/jobwatch/pkg/config"
	"github.com/nthiel/jobwatch/pkg/kvstore"
	"github.com/nthiel/jobwatch/pkg/notify"
	"github.com/nthiel/jobwatch/pkg/pipeline"
	"github.com/nthiel/jobwatch/pkg/queue"
	"github.com/nthiel/jobwatch/pkg/scheduler"
	"github.com/nthiel/jobwatch/pkg/store"
	"github.com/nthiel/jobwatch/pkg/tracker"
)

// Server wires the relational store, run tracker, scheduler, queue manager,
// KV client, and notification emitter behind the admin route table.
type Server struct {
	store     *store.Store
	tracker   *tracker.Tracker
	scheduler *scheduler.Scheduler
	queue     *queue.Manager
	kv        *kvstore.Client
	driver    *pipeline.Driver
	notify    *notify.Emitter

	cfg    config.AdminConfig
	logger *slog.Logger

	httpSrv *http.Server
}

// New builds a Server from its collaborators. A zero-value cfg.APIKey means
// the admin surface is disabled; the caller should not call Run in that
// case (cfg.Validate already rejects it at startup).
func New(st *store.Store, trk *tracker.Tracker, sched *scheduler.Scheduler, qm *queue.Manager, kv *kvstore.Client, driver *pipeline.Driver, emitter *notify.Emitter, cfg config.AdminConfig) *Server {
	return &Server{
		store:     st,
		tracker:   trk,
		scheduler: sched,
		queue:     qm,
		kv:        kv,
		driver:    driver,
		notify:    emitter,
		cfg:       cfg,
		logger:    slog.Default().With("component", "adminapi"),
	}
}

// Router builds the gin engine with every route and middleware registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	api := router.Group("/api")
	api.Use(s.authMiddleware(), s.rateLimitMiddleware())

	api.GET("/overview", s.getOverview)

	api.GET("/users", s.listUsers)
	api.GET("/users/:id", s.getUser)

	api.GET("/subscriptions", s.listSubscriptions)
	api.GET("/subscriptions/:id", s.getSubscription)
	api.POST("/subscriptions/:id/debug", s.setSubscriptionDebug)
	api.POST("/subscriptions/:id/run", s.runSubscription)

	api.GET("/runs", s.listRuns)
	api.POST("/runs/:id/stop", s.stopRun)
	api.GET("/runs/active", s.listActiveRuns)

	api.GET("/errors", s.listErrors)

	api.GET("/diagnostics", s.getDiagnostics)
	api.POST("/diagnostics/fail-stuck", s.failStuckRuns)

	api.GET("/broadcasts", s.listBroadcasts)
	api.POST("/broadcasts", s.createBroadcast)

	return router
}

// Run starts the HTTP server and blocks until ctx is cancelled, then shuts
// down within cfg.ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("adminapi: listen: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.shutdown()
	}
}

func (s *Server) shutdown() error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("adminapi: shutdown: %w", err)
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("adminapi: request",
			"method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "duration", time.Since(start))
	}
}
