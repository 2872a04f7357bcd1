package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/septivank/pawtelligent-feeder/internal/config"
	"github.com/septivank/pawtelligent-feeder/internal/httpapi"
	"github.com/septivank/pawtelligent-feeder/internal/metrics"
	"github.com/septivank/pawtelligent-feeder/internal/mq"
	"github.com/septivank/pawtelligent-feeder/internal/provisioning"
	"github.com/septivank/pawtelligent-feeder/internal/service"
	"github.com/septivank/pawtelligent-feeder/internal/store"
	"github.com/septivank/pawtelligent-feeder/internal/store/memory"
	"github.com/septivank/pawtelligent-feeder/internal/store/postgres"
	"github.com/septivank/pawtelligent-feeder/internal/syncbridge"
	"github.com/septivank/pawtelligent-feeder/internal/telemetry"
	"github.com/septivank/pawtelligent-feeder/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ProvideMetricsRegistry creates the registry served on /metrics
func ProvideMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates the feeder counters on reg
func ProvideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

// ProvideRouter creates the inbound topic router
func ProvideRouter(logger *zap.Logger, m *metrics.Metrics) *mq.Router {
	return mq.NewRouter(logger, m)
}

// ProvideManager creates the broker connection manager for the configured transport
func ProvideManager(cfg *config.Config, router *mq.Router, logger *zap.Logger, m *metrics.Metrics) (*mq.Manager, error) {
	factory, err := mq.FactoryFor(cfg.Broker.Transport)
	if err != nil {
		return nil, err
	}
	return mq.NewManager(cfg.Broker, factory, router, logger, m), nil
}

// ProvidePublisher creates the command publisher with the feed-now limiter
func ProvidePublisher(manager *mq.Manager, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *mq.Publisher {
	var limiter *rate.Limiter
	if cfg.Feeder.FeedRatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.Feeder.FeedRatePerMinute)), cfg.Feeder.FeedBurst)
	}
	return mq.NewPublisher(manager, limiter, logger, m)
}

// ProvideStore creates the document store selected by STORE_DRIVER
func ProvideStore(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		logger.Info("using in-memory store")
		return memory.NewStore(), nil
	case "postgres":
		return providePostgresStore(lc, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func providePostgresStore(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	pool, err := postgres.NewPool(lc, logger, cfg.Store)
	if err != nil {
		return nil, err
	}

	st, err := postgres.NewStore(pool, cfg.Store.NotifyChannel, logger)
	if err != nil {
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := postgres.Migrate(ctx, pool, cfg.Store.NotifyChannel); err != nil {
				cancel()
				return err
			}
			logger.Info("database schema ready")
			go func() {
				defer close(done)
				st.Listen(listenCtx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})

	return st, nil
}

// ProvideValidator creates the input validator
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Feeder.MaxPhotoBytes)
}

// ProvideTelemetry creates the device readings state. Listeners are
// re-registered on every connect since Disconnect clears the router.
func ProvideTelemetry(cfg *config.Config, manager *mq.Manager, logger *zap.Logger) *telemetry.Telemetry {
	tel := telemetry.New(telemetry.NewDetector(cfg.Feeder.LowStoragePercent), logger)
	tel.Register(manager.Router())
	manager.OnConnect(func() {
		tel.Register(manager.Router())
	})
	return tel
}

// ProvideDeviceRegistry creates the provisioned device registry
func ProvideDeviceRegistry(logger *zap.Logger) *provisioning.Registry {
	return provisioning.NewRegistry(logger)
}

// ProvideFeederService creates the user action service
func ProvideFeederService(
	st store.Store,
	publisher *mq.Publisher,
	validator *validator.Validator,
	cfg *config.Config,
	logger *zap.Logger,
) *service.FeederService {
	return service.NewFeederService(st, publisher, validator, cfg.UserID, logger)
}

// ProvideBridge creates the live sync bridge and ties it to the app lifecycle
func ProvideBridge(
	lc fx.Lifecycle,
	st store.Store,
	publisher *mq.Publisher,
	manager *mq.Manager,
	cfg *config.Config,
	logger *zap.Logger,
	m *metrics.Metrics,
) *syncbridge.Bridge {
	bridge := syncbridge.New(st, cfg.UserID, publisher, manager, logger, m)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return bridge.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			bridge.Stop()
			return nil
		},
	})

	return bridge
}

// ProvideRestfulServer wires the HTTP routes
func ProvideRestfulServer(
	feeder *service.FeederService,
	manager *mq.Manager,
	bridge *syncbridge.Bridge,
	tel *telemetry.Telemetry,
	devices *provisioning.Registry,
	reg *prometheus.Registry,
	logger *zap.Logger,
) *httpapi.RestfulServer {
	rs := &httpapi.RestfulServer{
		Server:    httpapi.NewEngine(logger),
		Feeder:    feeder,
		Manager:   manager,
		Bridge:    bridge,
		Telemetry: tel,
		Devices:   devices,
		Gatherer:  reg,
		Logger:    logger,
	}
	rs.Setup()
	return rs
}

func startHTTPServer(lc fx.Lifecycle, rs *httpapi.RestfulServer, cfg *config.Config, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServicePort),
		Handler:           rs.Server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting http server", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func startFeeder(lc fx.Lifecycle, manager *mq.Manager, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !cfg.Feeder.ConnectOnStartup {
				logger.Info("broker connect on startup disabled")
				return nil
			}
			// The connect timeout may exceed the start timeout, so connect
			// in the background and leave retries to POST /device/connect
			go func() {
				if err := manager.Connect(context.Background()); err != nil {
					logger.Error("Failed to connect to the device", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			manager.Disconnect()
			logger.Info("feeder stopped gracefully")
			return nil
		},
	})
}
