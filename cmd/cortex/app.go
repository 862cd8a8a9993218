package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/cortex-mind/cortex/internal/agent"
	"github.com/cortex-mind/cortex/internal/attention"
	"github.com/cortex-mind/cortex/internal/cognitive"
	"github.com/cortex-mind/cortex/internal/config"
	"github.com/cortex-mind/cortex/internal/dispatch"
	"github.com/cortex-mind/cortex/internal/lockmgr"
	"github.com/cortex-mind/cortex/internal/materialize"
	"github.com/cortex-mind/cortex/internal/merge"
	"github.com/cortex-mind/cortex/internal/session"
	"github.com/cortex-mind/cortex/internal/storage"
	"github.com/cortex-mind/cortex/internal/vfs"
)

// app wires every component over one storage pool, the way cmd/cortex's
// subcommands share a daemon's worth of state without a daemon running.
type app struct {
	cfg *config.Config
	pool *storage.Pool

	locks    *lockmgr.Manager
	sessions *session.Service
	reaper   *session.Reaper
	tree     *vfs.Tree
	cognitiveMgr *cognitive.Manager
	retriever    *attention.Retriever
	mergeEngine  *merge.Engine
	materializer *materialize.Engine
	agents       *agent.Store
	router       *dispatch.Router
}

func loadConfig(path string) *config.Config {
	if _, err := os.Stat(path); err != nil {
		log.Printf("[MAIN] config file %s not found, using defaults", path)
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Printf("[MAIN] failed to load config from %s: %v; using defaults", path, err)
		return config.Default()
	}
	log.Printf("[MAIN] loaded configuration from %s", path)
	return cfg
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, err
	}
	pool, err := storage.Open(storage.Options{
		Namespace:    "cortex",
		DatabaseName: "cortex",
		Path:         filepath.Join(cfg.Storage.DataDir, "cortex.db"),
		MaxOpenConns: cfg.Storage.MaxOpenConns,
		BusyTimeout:  cfg.Storage.BusyTimeout(),
		RetryMax:     cfg.Storage.RetryMax,
	})
	if err != nil {
		return nil, err
	}

	locks := lockmgr.New(lockmgr.Options{
		ReaperInterval:   cfg.Lock.ReaperInterval(),
		DeadlockInterval: cfg.Lock.DeadlockInterval(),
		ReadFairnessN:    cfg.Lock.ReadFairnessN,
	})
	sessions := session.New(pool, locks)
	reaper := session.NewReaper(sessions, cfg.Session.ReaperInterval())
	tree := vfs.New(pool)

	retriever, err := attention.NewRetriever(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	cognitiveMgr := cognitive.New(pool, retriever.Predictor)
	mergeEngine := merge.New(tree, sessions, cognitiveMgr.Semantic())
	materializer := materialize.New(tree, sessions)
	agents := agent.New(pool)
	router := dispatch.New(sessions, mergeEngine, locks, agents)

	return &app{
		cfg:          cfg,
		pool:         pool,
		locks:        locks,
		sessions:     sessions,
		reaper:       reaper,
		tree:         tree,
		cognitiveMgr: cognitiveMgr,
		retriever:    retriever,
		mergeEngine:  mergeEngine,
		materializer: materializer,
		agents:       agents,
		router:       router,
	}, nil
}

// start launches every background loop (lock reaper, deadlock detector,
// session TTL reaper).
func (a *app) start() {
	a.locks.Start()
	a.reaper.Start()
}

// stop halts background loops and closes the pool, in reverse dependency
// order from start.
func (a *app) stop() {
	a.reaper.Stop()
	a.locks.Stop()
	a.pool.Close()
}

const shutdownGrace = 5 * time.Second
