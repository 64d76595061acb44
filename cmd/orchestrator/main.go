// Command orchestrator runs the jobwatch process: the fixed-tick scheduler
// driving the collection/matching pipeline against its queues, and the
// admin HTTP API alongside it.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/nthiel/jobwatch/pkg/adminapi"
	"github.com/nthiel/jobwatch/pkg/config"
	"github.com/nthiel/jobwatch/pkg/database"
	"github.com/nthiel/jobwatch/pkg/kvstore"
	"github.com/nthiel/jobwatch/pkg/llm"
	"github.com/nthiel/jobwatch/pkg/matcher"
	"github.com/nthiel/jobwatch/pkg/notify"
	"github.com/nthiel/jobwatch/pkg/pipeline"
	"github.com/nthiel/jobwatch/pkg/queue"
	"github.com/nthiel/jobwatch/pkg/scheduler"
	"github.com/nthiel/jobwatch/pkg/scraper"
	"github.com/nthiel/jobwatch/pkg/store"
	"github.com/nthiel/jobwatch/pkg/tracker"
	"github.com/nthiel/jobwatch/pkg/version"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	configFile := flag.String("config-file", getEnv("CONFIG_FILE", ""), "path to a YAML config file, relative to config-dir")
	flag.Parse()

	logger := slog.Default()
	logger.Info("orchestrator: starting", "version", version.Full())

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		logger.Warn("orchestrator: no .env file loaded", "path", envPath, "error", err)
	} else {
		logger.Info("orchestrator: loaded environment", "path", envPath)
	}

	cfgPath := ""
	if *configFile != "" {
		cfgPath = filepath.Join(*configDir, *configFile)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("orchestrator: failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		logger.Error("orchestrator: failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	logger.Info("orchestrator: connected to postgres", "host", cfg.Database.Host, "database", cfg.Database.Database)

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.KV.Addr,
		Password:     cfg.KV.Password,
		DB:           cfg.KV.DB,
		PoolSize:     cfg.KV.PoolSize,
		MinIdleConns: cfg.KV.MinIdleConns,
		MaxRetries:   cfg.KV.MaxRetries,
		DialTimeout:  cfg.KV.DialTimeout,
		ReadTimeout:  cfg.KV.ReadTimeout,
		WriteTimeout: cfg.KV.WriteTimeout,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("orchestrator: failed to connect to redis", "error", err)
		os.Exit(1)
	}
	logger.Info("orchestrator: connected to redis", "addr", cfg.KV.Addr)

	kv := kvstore.NewFromRedis(rdb)
	st := store.New(dbClient)
	trk := tracker.New(st.Runs)

	qm := queue.NewManager(rdb, kv, cfg.Collection, cfg.Matching, cfg.Fallback)

	scrapeClient := scraper.New(cfg.Scraper.BaseURL, cfg.Scraper.APIKey, cfg.Scraper.Timeout, cfg.Scraper.MaxRetries)

	llmClient, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		logger.Error("orchestrator: failed to build LLM client", "error", err)
		os.Exit(1)
	}

	matchProcessor := matcher.New(qm, st, llmClient)
	emitter := notify.New(cfg.Notify)

	podID, err := os.Hostname()
	if err != nil || podID == "" {
		podID = "orchestrator"
	}

	driver := pipeline.New(st, trk, kv, qm, scrapeClient, llmClient, matchProcessor, emitter, cfg.Notify, podID)

	qm.StartWorkers(ctx, podID, queue.Collection, driver.HandleCollection)
	qm.StartWorkers(ctx, podID, queue.Matching, matchProcessor.Handle)
	logger.Info("orchestrator: worker pools started",
		"collection_workers", cfg.Collection.WorkerCount, "matching_workers", cfg.Matching.WorkerCount)

	sched := scheduler.New(st.Subscriptions, st.Runs, kv, driver, cfg.Scheduler)

	admin := adminapi.New(st, trk, sched, qm, kv, driver, emitter, cfg.Admin)

	go runCacheSweeps(ctx, driver, st)

	errCh := make(chan error, 2)
	go func() {
		sched.Run(ctx)
		errCh <- nil
	}()
	go func() {
		if err := admin.Run(ctx); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Info("orchestrator: running", "admin_listen_addr", cfg.Admin.ListenAddr, "pod_id", podID)

	select {
	case <-ctx.Done():
		logger.Info("orchestrator: shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("orchestrator: component failed", "error", err)
		}
	}

	stop()
	qm.StopWorkers()
	logger.Info("orchestrator: stopped")
}

// runCacheSweeps periodically drops expired entries from the in-process
// request dedup cache and the persistent query cache, until ctx is done.
func runCacheSweeps(ctx context.Context, driver *pipeline.Driver, st *store.Store) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			driver.SweepRequestCache()
			if err := st.QueryCache.SweepExpired(ctx); err != nil {
				slog.Default().Warn("orchestrator: query cache sweep failed", "error", err)
			}
		}
	}
}
