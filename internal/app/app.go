package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lcalzada-xor/chira/internal/adapters/feed/memory"
	"github.com/lcalzada-xor/chira/internal/adapters/feed/modbus"
	"github.com/lcalzada-xor/chira/internal/adapters/feed/mqtt"
	grpcadapter "github.com/lcalzada-xor/chira/internal/adapters/grpc"
	"github.com/lcalzada-xor/chira/internal/adapters/reporting"
	"github.com/lcalzada-xor/chira/internal/adapters/storage"
	"github.com/lcalzada-xor/chira/internal/adapters/web"
	webserver "github.com/lcalzada-xor/chira/internal/adapters/web/server"
	"github.com/lcalzada-xor/chira/internal/config"
	"github.com/lcalzada-xor/chira/internal/core/domain"
	"github.com/lcalzada-xor/chira/internal/core/ports"
	"github.com/lcalzada-xor/chira/internal/core/services/aggregation"
	"github.com/lcalzada-xor/chira/internal/core/services/dashboard"
	"github.com/lcalzada-xor/chira/internal/core/services/persistence"
	"github.com/lcalzada-xor/chira/internal/mock"
	"github.com/lcalzada-xor/chira/internal/telemetry"
)

const persistQueueSize = 10000

// Application holds the core components of the application.
// It acts as the Facade for the entire system, orchestrating services and infrastructure.
type Application struct {
	Config             *config.Config
	Logger             *slog.Logger
	Feed               ports.Feed
	Simulator          *mock.RobotSimulator
	Store              *storage.SQLiteAdapter
	PersistenceManager *persistence.PersistenceManager
	Dashboard          *dashboard.Service
	WSManager          *web.WSManager
	WebServer          *webserver.Server
	HealthServer       *grpcadapter.HealthServer
}

// New creates a new Application instance and bootstraps its components.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &Application{
		Config: cfg,
		Logger: logger,
	}

	if err := app.bootstrap(ctx); err != nil {
		app.cleanup()
		return nil, fmt.Errorf("application bootstrap failed: %w", err)
	}

	return app, nil
}

// bootstrap orchestrates the initialization sequence.
func (app *Application) bootstrap(ctx context.Context) error {
	// 1. Foundation & Infrastructure
	telemetry.InitMetrics()

	if app.Config.Persistence {
		if err := app.initStorage(); err != nil {
			return err
		}
	}

	if err := app.initFeed(ctx); err != nil {
		return err
	}

	// 2. Domain Services
	app.Dashboard = dashboard.NewService(app.Feed, dashboard.Config{
		Threshold:    app.Config.Dashboard.StaleThreshold,
		TickInterval: app.Config.Dashboard.TickInterval,
		Granularity:  app.Config.Granularity(),
		Location:     app.Config.Location(),
	}, app.Logger)
	app.Dashboard.AddLivenessReporter(telemetry.LivenessGauge{})

	if app.Store != nil {
		app.PersistenceManager = persistence.NewPersistenceManager(app.Store, persistQueueSize, app.Logger)
		app.Dashboard.SetRecordSink(app.PersistenceManager)
		app.Dashboard.SetTransitionRepository(app.Store)
		app.restore(ctx)
	}

	// 3. Servers
	app.WSManager = web.NewWSManager(app.Config.AllowedOrigins, app.Logger)
	app.Dashboard.SetPublisher(app.WSManager)
	app.WebServer = webserver.NewServer(app.Config.Addr, app.Dashboard, app.WSManager, reporting.NewPDFExporter(), app.Logger)

	if app.Config.GRPCPort > 0 {
		app.HealthServer = grpcadapter.NewHealthServer()
		app.Dashboard.AddLivenessReporter(app.HealthServer)
	}

	return nil
}

func (app *Application) initStorage() error {
	if err := os.MkdirAll(filepath.Dir(app.Config.DBPath), 0755); err != nil {
		return fmt.Errorf("failed to create DB directory: %w", err)
	}

	store, err := storage.NewSQLiteAdapter(app.Config.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	app.Store = store
	return nil
}

func (app *Application) initFeed(ctx context.Context) error {
	cfg := app.Config.Feed
	switch cfg.Kind {
	case config.FeedMQTT:
		feed, err := mqtt.Dial(ctx, mqtt.Config{
			BrokerURL:      cfg.MQTT.BrokerURL,
			ClientID:       cfg.MQTT.ClientID,
			QoS:            byte(cfg.MQTT.QoS),
			KeepAlive:      30,
			ConnectTimeout: 10 * time.Second,
		}, app.Logger)
		if err != nil {
			return fmt.Errorf("mqtt feed: %w", err)
		}
		app.Feed = feed

	case config.FeedModbus:
		feed, err := modbus.Dial(modbus.Config{
			Endpoint:     cfg.Modbus.Endpoint,
			UnitID:       byte(cfg.Modbus.UnitID),
			Timeout:      2 * time.Second,
			PollInterval: cfg.Modbus.PollInterval,
		}, app.Logger)
		if err != nil {
			return fmt.Errorf("modbus feed: %w", err)
		}
		app.Feed = feed

	default:
		feed := memory.New()
		app.Feed = feed
		app.Simulator = mock.NewRobotSimulator(feed, mock.ParseScenario(cfg.Mock.Scenario), app.Logger,
			mock.WithLocation(app.Config.Location()))
		app.Logger.Info("Mock Mode Active: simulating the robot arm", "scenario", cfg.Mock.Scenario)
	}
	return nil
}

// restore seeds the dashboard with the last persisted records so the first
// view is not blank.
func (app *Application) restore(ctx context.Context) {
	now := time.Now().In(app.Config.Location())
	paths := []string{domain.PathRobotStatus, domain.PathStatistics}
	for _, g := range []domain.Granularity{domain.Hourly, domain.Daily, domain.Monthly} {
		paths = append(paths, aggregation.SourcePath(g, now))
	}

	var records []domain.FeedRecord
	for _, path := range paths {
		rec, err := app.Store.LatestRecord(ctx, path)
		if err != nil {
			app.Logger.Warn("Could not restore record", "path", path, "error", err)
			continue
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}
	if len(records) > 0 {
		app.Dashboard.Restore(records...)
		app.Logger.Info("Restored last known state", "records", len(records))
	}
}

// Run starts the application components and manages their execution lifecycle.
func (app *Application) Run(ctx context.Context) error {
	app.Logger.Info("Starting ChiRa components...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 1. Auxiliary Loops
	if app.PersistenceManager != nil {
		app.PersistenceManager.Start(ctx)
	}

	errChan := make(chan error, 4)
	var wg sync.WaitGroup

	// 2. Consumer loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.Dashboard.Run(ctx); err != nil {
			errChan <- fmt.Errorf("dashboard error: %w", err)
		}
	}()

	if app.Simulator != nil {
		if err := app.Simulator.Backfill(ctx); err != nil {
			app.Logger.Warn("Simulator backfill failed", "error", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.Simulator.Run(ctx, app.Config.Feed.Mock.Interval)
		}()
	}

	// 3. Servers
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.WebServer.Run(ctx); err != nil {
			errChan <- fmt.Errorf("web server error: %w", err)
		}
	}()

	if app.HealthServer != nil {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", app.Config.GRPCPort))
		if err != nil {
			cancel()
			wg.Wait()
			app.cleanup()
			return fmt.Errorf("grpc listen error: %w", err)
		}
		app.Logger.Info("gRPC health server listening", "addr", lis.Addr().String())

		go func() {
			<-ctx.Done()
			app.HealthServer.Stop()
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.HealthServer.Serve(lis); err != nil {
				errChan <- fmt.Errorf("grpc server error: %w", err)
			}
		}()
	}

	app.Logger.Info("ChiRa Ready. Press Ctrl+C to terminate.")

	var runErr error
	select {
	case <-ctx.Done():
		app.Logger.Info("Termination signal received")
	case runErr = <-errChan:
		app.Logger.Error("Component failed, shutting down", "error", runErr)
	}

	cancel()
	wg.Wait()
	return errors.Join(runErr, app.cleanup())
}

func (app *Application) cleanup() error {
	app.Logger.Info("Cleaning up resources...")

	var errs []error
	if app.Feed != nil {
		if err := app.Feed.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close feed: %w", err))
		}
	}
	if app.PersistenceManager != nil {
		app.PersistenceManager.Wait()
	}
	if app.Store != nil {
		if err := app.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	return errors.Join(errs...)
}
