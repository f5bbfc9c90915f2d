package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/matheus3301/chatterm/internal/api"
	"github.com/matheus3301/chatterm/internal/bus"
	"github.com/matheus3301/chatterm/internal/channel"
	"github.com/matheus3301/chatterm/internal/config"
	"github.com/matheus3301/chatterm/internal/lock"
	"github.com/matheus3301/chatterm/internal/logging"
	"github.com/matheus3301/chatterm/internal/outbox"
	"github.com/matheus3301/chatterm/internal/profile"
	"github.com/matheus3301/chatterm/internal/realtime"
	"github.com/matheus3301/chatterm/internal/session"
	"github.com/matheus3301/chatterm/internal/status"
	"github.com/matheus3301/chatterm/internal/store"
	intsync "github.com/matheus3301/chatterm/internal/sync"
)

// Params holds the resolved profile and configuration passed to the fx module.
type Params struct {
	ProfileName string
	Config      *config.Config
	// Console also logs to stderr.
	Console bool
	// Verbose forces debug logging.
	Verbose bool
}

// Module returns the fx module composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Options(
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Module("chatterm",
			fx.Supply(p),
			fx.Provide(
				provideLogger,
				provideBus,
				provideStateMachine,
				provideLock,
				provideStore,
				provideSession,
				provideAPIClient,
				provideChannels,
				provideSender,
				provideSyncEngine,
				NewController,
			),
			fx.Invoke(registerLifecycle),
		),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	level := p.Config.LogLevel
	if p.Verbose {
		level = "debug"
	}
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName, logging.Options{
		Level:   level,
		Console: p.Console,
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
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

// provideStore depends on the lock so the database is never opened by two processes.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
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
	if result.Applied() {
		logger.Info("profile schema migrated", zap.Uint("from", result.From), zap.Uint("to", result.To))
	}
	logger.Info("store initialized", zap.String("path", dbPath), zap.Uint("schema", result.To))
	return db, nil
}

func provideSession(db *store.DB, b *bus.Bus, logger *zap.Logger) *session.Store {
	return session.NewStore(db, b, logger.Named("session"))
}

func provideAPIClient(p Params, sess *session.Store, logger *zap.Logger) *api.Client {
	return api.NewClient(p.Config.APIURL, sess,
		api.WithTimeout(p.Config.Timeout()),
		api.WithLogger(logger.Named("api")),
	)
}

func provideChannels(p Params, client *api.Client, b *bus.Bus, logger *zap.Logger) *channel.Manager {
	dial := channel.RealtimeDialer(realtime.Config{
		Host:       p.Config.Reverb.Host,
		Port:       p.Config.Reverb.Port,
		Scheme:     p.Config.Reverb.Scheme,
		AppKey:     p.Config.Reverb.AppKey,
		Authorizer: client,
		Logger:     logger.Named("realtime"),
	})
	return channel.NewManager(dial, b, logger, channel.Options{
		PrivateChannels: p.Config.UsePrivateChannels(),
	})
}

func provideSender(db *store.DB, client *api.Client, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, b, logger)
}

func provideSyncEngine(client *api.Client, sender *outbox.Sender, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(client, sender, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, sess *session.Store, sender *outbox.Sender, engine *intsync.Engine, channels *channel.Manager, ctrl *Controller, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Subscribers first so no event published during hydration is missed.
			engine.Start(context.Background())
			ctrl.Start(context.Background())

			if n, err := sender.RecoverInterrupted(); err != nil {
				logger.Error("outbox recovery failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("interrupted sends marked failed", zap.Int64("count", n))
			}

			if err := sess.Hydrate(); err != nil {
				logger.Warn("session hydration failed, starting logged out", zap.Error(err))
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			ctrl.Stop()
			engine.Stop()
			channels.Teardown()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("chatterm stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
