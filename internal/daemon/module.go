// Package daemon composes the sync client: store, bus, relay, presence
// tracker/registry and the message sync engine, wired with fx lifecycle
// hooks.
package daemon

import (
	"context"
	"os"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/mfcarvalho/chatsync/internal/bus"
	"github.com/mfcarvalho/chatsync/internal/config"
	"github.com/mfcarvalho/chatsync/internal/kv"
	"github.com/mfcarvalho/chatsync/internal/lock"
	"github.com/mfcarvalho/chatsync/internal/logging"
	"github.com/mfcarvalho/chatsync/internal/presence"
	"github.com/mfcarvalho/chatsync/internal/profile"
	"github.com/mfcarvalho/chatsync/internal/relay"
	"github.com/mfcarvalho/chatsync/internal/store"
	intsync "github.com/mfcarvalho/chatsync/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	Config      *config.Config
	// Quiet drops the stderr log core; set by the TUI, which owns the terminal.
	Quiet bool
}

// Identity is the local user as derived from config, with fallbacks.
type Identity struct {
	UserID      string
	DisplayName string
}

// Module returns the fx module for the sync client, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideIdentity,
			provideBus,
			provideClock,
			provideLock,
			provideStore,
			provideKV,
			provideRelay,
			provideTracker,
			provideRegistry,
			provideEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Quiet {
		return logging.NewFileOnly(profile.LogPath(p.ProfileName), p.ProfileName)
	}
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideIdentity(p Params) Identity {
	id := Identity{
		UserID:      p.Config.UserID,
		DisplayName: p.Config.DisplayName,
	}
	if id.UserID == "" {
		if u := os.Getenv("USER"); u != "" {
			id.UserID = u
		} else {
			id.UserID = p.ProfileName
		}
	}
	if id.DisplayName == "" {
		id.DisplayName = id.UserID
	}
	return id
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideClock() clock.Clock {
	return clock.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideKV(db *store.DB) kv.Store {
	return db
}

func provideRelay(p Params, b *bus.Bus, id Identity, logger *zap.Logger) *relay.Client {
	if p.Config.RelayURL == "" {
		// Store-only mode: polling still reconciles anything that reaches
		// the database by other means.
		logger.Warn("no relay_url configured, running without live events")
		return nil
	}
	return relay.NewClient(p.Config.RelayURL, id.UserID, b, logger)
}

func provideTracker(p Params, id Identity, b *bus.Bus, snaps kv.Store, clk clock.Clock, logger *zap.Logger) *presence.Tracker {
	opts := presence.TrackerOptions{
		HeartbeatEvery: p.Config.Presence.HeartbeatEvery(),
		IdleAfter:      p.Config.Presence.IdleAfter(),
	}
	return presence.NewTracker(id.UserID, opts, b, snaps, clk, logger)
}

func provideRegistry(p Params, id Identity, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *presence.Registry {
	opts := presence.RegistryOptions{
		SweepEvery:  p.Config.Presence.SweepEvery(),
		ExpireAfter: p.Config.Presence.ExpireAfter(),
	}
	return presence.NewRegistry(id.UserID, opts, b, clk, logger)
}

func provideEngine(p Params, id Identity, db *store.DB, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *intsync.Engine {
	opts := intsync.EngineOptions{PollEvery: p.Config.Sync.PollEvery()}
	return intsync.NewEngine(id.UserID, opts, db, b, clk, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, rc *relay.Client, tracker *presence.Tracker, registry *presence.Registry, engine *intsync.Engine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if rc != nil {
				rc.Start(context.Background())
			}
			registry.Start(context.Background())
			engine.Start(context.Background())
			tracker.Start()
			logger.Info("sync client started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			// Tracker first so the offline broadcast still reaches the relay.
			tracker.Stop()
			engine.Stop()
			registry.Stop()
			if rc != nil {
				rc.Stop()
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("sync client stopped")
			return nil
		},
	})
}
