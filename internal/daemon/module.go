package daemon

import (
	"context"
	"fmt"

	"github.com/matheus3301/wppinbox/internal/api"
	"github.com/matheus3301/wppinbox/internal/bus"
	"github.com/matheus3301/wppinbox/internal/config"
	"github.com/matheus3301/wppinbox/internal/inbox"
	"github.com/matheus3301/wppinbox/internal/lock"
	"github.com/matheus3301/wppinbox/internal/logging"
	"github.com/matheus3301/wppinbox/internal/metrics"
	"github.com/matheus3301/wppinbox/internal/outbound"
	"github.com/matheus3301/wppinbox/internal/session"
	"github.com/matheus3301/wppinbox/internal/snapshot"
	"github.com/matheus3301/wppinbox/internal/status"
	"github.com/matheus3301/wppinbox/internal/store"
	"github.com/matheus3301/wppinbox/internal/stream"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	GatewayURL  string // overrides gateway.base_url when set
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideMetrics,
			providePersister,
			provideInbox,
			provideDialer,
			provideEngine,
			provideRunner,
			provideAdapter,
			provideService,
			provideMetricsServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(session.ConfigPath())
	if err != nil {
		return nil, err
	}
	if p.GatewayURL != "" {
		cfg.Gateway.BaseURL = p.GatewayURL
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.Daemon.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is never opened by a second
// daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	db, result, err := store.OpenMigrated(session.DBPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", db.Path()))
	return db, nil
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func providePersister(db *store.DB, m *metrics.Metrics, logger *zap.Logger) *snapshot.Persister {
	return snapshot.New(db, m, logger)
}

func provideInbox(persister *snapshot.Persister, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) (*inbox.Store, error) {
	s := inbox.NewStore(persister, b, logger)
	s.Restore(persister.Load())

	convs, msgs, aliases := s.Stats()
	logger.Info("inbox restored",
		zap.Int("conversations", convs),
		zap.Int("messages", msgs),
		zap.Int("aliases", aliases),
		zap.String("active", s.Active()),
	)

	gauges := []struct {
		name, help string
		value      func() int
	}{
		{"inbox_conversations", "Conversations held in the inbox.", func() int { n, _, _ := s.Stats(); return n }},
		{"inbox_messages", "Messages held in the inbox.", func() int { _, n, _ := s.Stats(); return n }},
		{"inbox_aliases", "Known alias to primary mappings.", func() int { _, _, n := s.Stats(); return n }},
		{"bus_dropped_events", "Bus deliveries skipped because a subscriber was full.", func() int { return int(b.Dropped()) }},
	}
	for _, g := range gauges {
		value := g.value
		err := m.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Name:      g.name,
			Help:      g.help,
		}, func() float64 { return float64(value()) }))
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func provideDialer(cfg *config.Config, logger *zap.Logger) (inbox.Dialer, error) {
	d, err := stream.NewDialer(cfg.Gateway.BaseURL, cfg.Gateway.StreamPath, logger)
	if err != nil {
		return nil, err
	}
	return inbox.DialFunc(func(ctx context.Context) (inbox.Stream, error) {
		conn, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}), nil
}

func provideEngine(s *inbox.Store, m *metrics.Metrics, logger *zap.Logger) *inbox.Engine {
	return inbox.NewEngine(s, m, logger)
}

func provideRunner(d inbox.Dialer, e *inbox.Engine, sm *status.Machine, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *inbox.Runner {
	return inbox.NewRunner(d, e, sm, inbox.NewBackoff(cfg.ReconnectBase(), cfg.ReconnectMax()), m, logger)
}

func provideAdapter(s *inbox.Store, cfg *config.Config, db *store.DB, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *outbound.Adapter {
	gw := outbound.NewGateway(cfg.Gateway.BaseURL, cfg.RequestTimeout(), logger)
	return outbound.NewAdapter(s, gw, outbound.NewBlobs(), db, b, m, logger)
}

func provideService(p Params, cfg *config.Config, s *inbox.Store, a *outbound.Adapter, sm *status.Machine, b *bus.Bus, db *store.DB, logger *zap.Logger) *api.Service {
	info := api.Info{Session: p.SessionName, Gateway: cfg.Gateway.BaseURL}
	return api.NewService(info, s, a, sm, b, db, logger)
}

func provideMetricsServer(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *metrics.Server {
	return metrics.NewServer(cfg.Daemon.MetricsAddr, m, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, metricsSrv *metrics.Server, runner *inbox.Runner, machine *status.Machine, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := metricsSrv.Start(); err != nil {
				_ = machine.Transition(status.Error)
				return fmt.Errorf("start metrics server: %w", err)
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			runner.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			runner.Stop()
			srv.Stop(ctx)
			if err := metricsSrv.Stop(ctx); err != nil {
				logger.Warn("error stopping metrics server", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
