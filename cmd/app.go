package cmd

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mj1618/support-roster/internal/config"
	"github.com/mj1618/support-roster/internal/decision"
	"github.com/mj1618/support-roster/internal/groups"
	"github.com/mj1618/support-roster/internal/logger"
	"github.com/mj1618/support-roster/internal/platform"
	"github.com/mj1618/support-roster/internal/platform/replay"
	"github.com/mj1618/support-roster/internal/reconcile"
	"github.com/mj1618/support-roster/internal/registry"
	"github.com/mj1618/support-roster/internal/roster"
	"github.com/mj1618/support-roster/internal/store"
)

// memoryDB selects the in-memory backend for --db.
const memoryDB = "memory"

// app wires one roster: storage, registry, engine and command router.
type app struct {
	// ctx bounds the engine and any parked conflicts; Close cancels it.
	ctx     context.Context
	cancel  context.CancelFunc
	running chan struct{}

	cfgMu   sync.Mutex
	cfg     config.Config
	backend store.Backend
	groups  *groups.Store
	reg     *registry.Registry
	gate    *decision.Gateway
	engine  *reconcile.Engine
	router  *roster.Router
	source  platform.SnapshotSource
}

// openApp builds the roster from appConfig. The window backend is the
// replay file when --replay is set, otherwise the OS provider.
func openApp(ctx context.Context) (*app, error) {
	cfg := appConfig

	source, focuser, err := openBackend()
	if err != nil {
		return nil, err
	}

	var backend store.Backend
	if cfg.DBPath == memoryDB {
		backend = store.NewMemory()
	} else {
		db, err := store.OpenSQLite(ctx, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		backend = db
	}

	a := &app{cfg: cfg, backend: backend, source: source}
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.groups = groups.Open(ctx, backend, logger.WithComponent("groups"))
	a.reg = registry.New(ctx, registry.Options{
		Retention: cfg.Retention.Duration,
		Backend:   backend,
		Sink:      a.groups,
		Logger:    logger.WithComponent("registry"),
	})
	a.gate = decision.NewGateway(cfg.DecisionQueueSize, logger.WithComponent("decision"))
	a.engine = reconcile.New(reconcile.Options{
		Registry: a.reg,
		Groups:   a.groups,
		Gateway:  a.gate,
		Source:   source,
		Settings: engineSettings(cfg),
		Logger:   logger.WithComponent("reconcile"),
	})
	a.router = roster.New(roster.Options{
		Registry:     a.reg,
		Groups:       a.groups,
		Gateway:      a.gate,
		Focuser:      focuser,
		FocusTimeout: cfg.FocusTimeout.Duration,
		Logger:       logger.WithComponent("roster"),
	})
	return a, nil
}

func openBackend() (platform.SnapshotSource, platform.Focuser, error) {
	if path, _ := rootCmd.PersistentFlags().GetString("replay"); path != "" {
		src, err := replay.Load(path)
		if err != nil {
			return nil, nil, err
		}
		return src, src, nil
	}
	provider, err := platform.NewProvider()
	if err != nil {
		return nil, nil, err
	}
	return provider.Source, provider.Focuser, nil
}

func engineSettings(cfg config.Config) reconcile.Settings {
	return reconcile.Settings{
		PollInterval:       cfg.PollInterval.Duration,
		ConflictProtection: cfg.ConflictProtection.Duration,
		StartupGrace:       cfg.StartupGrace.Duration,
	}
}

// applyConfig pushes a reloaded config into the running components.
// Storage location and queue size only change on restart.
func (a *app) applyConfig(cfg config.Config) {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	a.engine.UpdateSettings(engineSettings(cfg))
	a.reg.SetRetention(cfg.Retention.Duration)
	a.router.SetFocusTimeout(cfg.FocusTimeout.Duration)
	if cfg.Log.Level != a.cfg.Log.Level {
		if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
			logger.SetLevel(level)
		}
	}
	a.cfg = cfg
	logger.Info().Dur("poll_interval", cfg.PollInterval.Duration).Msg("config reloaded")
}

// watchConfig hot-reloads the config file until Close. A missing file is
// not watched.
func (a *app) watchConfig() {
	path, _ := rootCmd.PersistentFlags().GetString("config")
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	go func() {
		err := config.Watch(a.ctx, path, func(cfg config.Config) {
			applyFlagOverrides(rootCmd, &cfg)
			a.applyConfig(cfg)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn().Err(err).Msg("config watch stopped")
		}
	}()
}

// pollOnce takes a single snapshot so one-shot commands see the desktop.
func (a *app) pollOnce() (reconcile.BatchResult, error) {
	return a.engine.Poll(a.ctx)
}

// runEngine polls in the background until Close.
func (a *app) runEngine() {
	a.running = make(chan struct{})
	go func() {
		defer close(a.running)
		if err := a.engine.Run(a.ctx, nil); err != nil {
			logger.Error().Err(err).Msg("tracker stopped")
		}
	}()
}

// Close abandons unanswered conflicts, then persists and closes storage.
func (a *app) Close() error {
	a.cancel()
	if a.running != nil {
		<-a.running
	}
	a.engine.Wait()
	flushErr := a.reg.Flush(context.Background())
	return errors.Join(flushErr, a.backend.Close())
}
