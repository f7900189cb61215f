// Package app wires the SpineScan components together for the command line
// entry points.
package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/spinescan/spinescan/internal/api"
	"github.com/spinescan/spinescan/internal/api/auth"
	"github.com/spinescan/spinescan/internal/buildinfo"
	"github.com/spinescan/spinescan/internal/conf"
	"github.com/spinescan/spinescan/internal/datastore"
	"github.com/spinescan/spinescan/internal/events"
	"github.com/spinescan/spinescan/internal/inference"
	"github.com/spinescan/spinescan/internal/logger"
	"github.com/spinescan/spinescan/internal/observability"
	"github.com/spinescan/spinescan/internal/orchestrator"
	"github.com/spinescan/spinescan/internal/storage"
	"github.com/spinescan/spinescan/internal/telemetry"
)

// Services holds the long lived components shared by the server and the
// operator commands. Each is constructed once and injected.
type Services struct {
	Settings     *conf.Settings
	Log          logger.Logger
	Metrics      *observability.Metrics
	Store        *datastore.Store
	Storage      *storage.Client
	Inference    *inference.Client
	Publisher    events.Publisher
	Orchestrator *orchestrator.Orchestrator
}

// OpenStore opens the configured database and applies migrations.
func OpenStore(ctx context.Context, settings *conf.Settings) (*datastore.Store, error) {
	store, err := datastore.Open(&settings.Database, logger.Global().Module("datastore"))
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Open constructs every component needed to run inference.
func Open(ctx context.Context, settings *conf.Settings) (*Services, error) {
	log := logger.Global().Module("app")
	s := &Services{Settings: settings, Log: log, Publisher: events.Noop{}}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	s.Metrics = metrics

	if s.Store, err = OpenStore(ctx, settings); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s.Storage, err = storage.New(&settings.Storage, storage.WithLogger(logger.Global().Module("storage")))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	build := &buildinfo.Context{Version: settings.Version, BuildDate: settings.BuildDate}
	s.Inference, err = inference.New(&settings.Inference,
		inference.WithRecorder(metrics),
		inference.WithUserAgent(build.UserAgent()),
		inference.WithLogger(logger.Global().Module("inference")))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create inference client: %w", err)
	}

	if settings.MQTT.Enabled {
		publisher, err := events.NewMQTTPublisher(ctx, &settings.MQTT, logger.Global().Module("events"), metrics)
		if err != nil {
			// Events are optional, the service runs without them
			log.Warn("MQTT unavailable, run events disabled", logger.Error(err))
		} else {
			s.Publisher = publisher
		}
	}

	opts := []orchestrator.Option{
		orchestrator.WithPublisher(s.Publisher),
		orchestrator.WithRecorder(metrics),
		orchestrator.WithLogger(logger.Global().Module("orchestrator")),
	}
	if settings.Inference.Timeout > 0 {
		opts = append(opts, orchestrator.WithInferenceTimeout(settings.Inference.Timeout))
	}
	s.Orchestrator = orchestrator.New(s.Store, s.Store, s.Storage, s.Inference, opts...)

	return s, nil
}

// Close releases connections held by the services.
func (s *Services) Close() {
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			s.Log.Warn("failed to close database", logger.Error(err))
		}
	}
}

// Serve runs the HTTP server until SIGINT or SIGTERM.
func Serve(ctx context.Context, settings *conf.Settings) error {
	log := logger.Global().Module("app")

	if err := telemetry.InitSentry(settings); err != nil {
		log.Warn("failed to initialize Sentry", logger.Error(err))
	}
	defer telemetry.Flush()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	services, err := Open(ctx, settings)
	if err != nil {
		return err
	}
	defer services.Close()

	if err := services.Storage.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("object storage not ready: %w", err)
	}
	if err := services.Inference.Health(ctx); err != nil {
		log.Warn("detection service health check failed", logger.Error(err))
	}

	authService, err := auth.NewJWTService(&settings.Auth)
	if err != nil {
		return err
	}
	defer authService.Close()

	server, err := api.New(settings,
		api.WithLogger(logger.Global().Module("api")),
		api.WithDataStore(services.Store),
		api.WithRunner(services.Orchestrator),
		api.WithPresigner(services.Storage),
		api.WithMetrics(services.Metrics),
		api.WithAuthService(authService),
	)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})

	log.Info("SpineScan started",
		logger.String("version", settings.Version),
		logger.String("database", settings.Database.Driver),
		logger.Bool("mqtt", settings.MQTT.Enabled))

	err = g.Wait()
	log.Info("SpineScan stopped")
	return err
}
