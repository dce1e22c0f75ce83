package app

import (
	"context"
	"fmt"

	"github.com/matheus3301/socialchat/internal/api"
	"github.com/matheus3301/socialchat/internal/auth"
	"github.com/matheus3301/socialchat/internal/bus"
	"github.com/matheus3301/socialchat/internal/config"
	"github.com/matheus3301/socialchat/internal/identity"
	"github.com/matheus3301/socialchat/internal/lock"
	"github.com/matheus3301/socialchat/internal/logging"
	"github.com/matheus3301/socialchat/internal/outbox"
	"github.com/matheus3301/socialchat/internal/profile"
	"github.com/matheus3301/socialchat/internal/realtime"
	"github.com/matheus3301/socialchat/internal/session"
	"github.com/matheus3301/socialchat/internal/store"
	intsync "github.com/matheus3301/socialchat/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
	Config  *config.Config
	Logging logging.Options
	// Exclusive locks the profile and serves the health socket for the
	// lifetime of the app. Commands that only touch the session leave it off.
	Exclusive  bool
	SocketPath string // optional override for testing; empty = use default
	// Present shows a federated sign-in URL to the user.
	Present func(authURL string) error
}

// Module returns the fx module for the client, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideSession,
			provideAPIClient,
			provideIdentity,
			provideGateway,
			provideSender,
			provideDialer,
			provideEngine,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, p.Logging)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	if !p.Exclusive {
		return nil, nil
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by a
// second exclusive process.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.StateDBPath(p.Profile)
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

func provideSession(db *store.DB, b *bus.Bus, logger *zap.Logger) *session.Store {
	s := session.Open(db, b, logger)
	logger.Info("session hydrated", zap.Bool("signed_in", s.Current().SignedIn()))
	return s
}

func provideAPIClient(p Params, logger *zap.Logger) (*api.Client, error) {
	return api.New(p.Config.Backend.URL, p.Config.Backend.Timeout.Duration, logger)
}

func provideIdentity(p Params, logger *zap.Logger) (identity.Provider, error) {
	return identity.NewToolkit(identity.Config{
		APIKey:       p.Config.Identity.APIKey,
		Endpoint:     p.Config.Identity.Endpoint,
		CallbackPort: p.Config.Identity.CallbackPort,
		Timeout:      p.Config.Backend.Timeout.Duration,
		Present:      p.Present,
	}, logger)
}

func provideGateway(p Params, provider identity.Provider, client *api.Client, s *session.Store, logger *zap.Logger) *auth.Gateway {
	return auth.New(provider, client, s, auth.Options{
		LegacyPlaceholderPassword: p.Config.Identity.LegacyPlaceholderPassword,
	}, logger)
}

func provideSender(client *api.Client, db *store.DB, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(client, db, b, logger)
}

func provideDialer(p Params, logger *zap.Logger) (*realtime.Dialer, error) {
	rt := p.Config.Realtime
	transports, err := realtime.ParseTransports(rt.Transports)
	if err != nil {
		return nil, fmt.Errorf("realtime config: %w", err)
	}
	return &realtime.Dialer{
		Endpoint: rt.URL,
		Options: realtime.Options{
			Transports:        transports,
			ConnectTimeout:    rt.ConnectTimeout.Duration,
			ReconnectAttempts: rt.ReconnectAttempts,
			ReconnectDelay:    rt.ReconnectDelay.Duration,
			PollInterval:      rt.PollInterval.Duration,
		},
		Logger: logger,
	}, nil
}

func provideEngine(client *api.Client, s *session.Store, sender *outbox.Sender, d *realtime.Dialer, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	connect := func(ctx context.Context, conversationID, token string) intsync.Realtime {
		return d.Open(ctx, conversationID, token)
	}
	return intsync.NewEngine(client, s, sender, connect, b, logger)
}

func provideServer(p Params, s *session.Store, b *bus.Bus, logger *zap.Logger) (*Server, error) {
	if !p.Exclusive {
		return nil, nil
	}
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.Profile)
	}
	return NewServer(socketPath, s, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, engine *intsync.Engine, sender *outbox.Sender, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if srv != nil {
				go func() {
					if err := srv.Start(); err != nil {
						logger.Error("health server error", zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			engine.Close()
			if err := sender.Wait(ctx); err != nil {
				logger.Warn("sends still in flight at shutdown", zap.Error(err))
			}
			if srv != nil {
				srv.Stop(ctx)
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
