package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"fleetwatch/tracking-server/internal/api"
	"fleetwatch/tracking-server/internal/cache"
	"fleetwatch/tracking-server/internal/config"
	"fleetwatch/tracking-server/internal/etoll"
	"fleetwatch/tracking-server/internal/frequency"
	"fleetwatch/tracking-server/internal/geo"
	"fleetwatch/tracking-server/internal/ingest"
	"fleetwatch/tracking-server/internal/metrics"
	"fleetwatch/tracking-server/internal/store"
)

const shutdownTimeout = 5 * time.Second

// App wires the tracking server services and manages their lifecycle.
type App struct {
	cfg    config.Config
	logger *slog.Logger
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run starts all configured services and blocks until the context is
// cancelled or a service fails.
func (a *App) Run(ctx context.Context) error {
	db, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()

	if err := db.InitSchema(ctx); err != nil {
		return err
	}

	deviceCache := cache.New(db, a.logger)
	if err := deviceCache.Warm(ctx); err != nil {
		return err
	}

	m := metrics.New()

	var zones *geo.PolygonSet
	if a.cfg.EtollGeofence {
		zones, err = geo.LoadEtollPolygons(ctx, db, a.logger)
		if err != nil {
			return err
		}
		a.logger.Info("toll geofences loaded", "polygons", zones.Size())
	} else {
		a.logger.Info("toll geofence gate disabled")
	}

	intake := ingest.New(db, deviceCache, m, a.logger.With("component", "ingest"))
	enroller := etoll.NewEnroller(db, deviceCache, zones, m, a.logger.With("component", "enroll"))
	controller := frequency.NewController(deviceCache, intake, a.logger.With("component", "frequency"))
	intake.AddHandler(enroller.HandlePosition)
	intake.AddHandler(controller.HandlePosition)

	brokerURL := a.cfg.MQTTBroker
	if brokerURL == "" {
		brokerURL, err = ingest.DiscoverBroker(ctx, a.logger)
		if err != nil {
			return fmt.Errorf("no broker configured: %w", err)
		}
	}
	if err := intake.Start(brokerURL); err != nil {
		return err
	}
	defer intake.Close()

	group, ctx := errgroup.WithContext(ctx)

	if a.cfg.EtollSubmissionURL != "" {
		submitter, err := etoll.NewSubmitter(a.cfg, a.logger.With("component", "submit"))
		if err != nil {
			return err
		}
		transcoder := etoll.NewTranscoder(db, a.logger.With("component", "transcode"))
		worker := etoll.NewWorker(db, transcoder, submitter, m,
			a.logger.With("component", "worker"), a.cfg.EtollBatchSize, a.cfg.EtollCyclePeriod)
		group.Go(func() error {
			return worker.Run(ctx)
		})
	} else {
		a.logger.Info("no submission endpoint configured, worker disabled")
	}

	apiServer := api.NewServer(db, a.logger.With("component", "api"))
	a.serveHTTP(ctx, group, "api", fmt.Sprintf(":%d", a.cfg.HTTPPort), apiServer.Router())

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", m.Handler())
	a.serveHTTP(ctx, group, "metrics", fmt.Sprintf(":%d", a.cfg.MetricsPort), metricsMux)

	return group.Wait()
}

// serveHTTP runs one HTTP listener under the group with graceful shutdown.
func (a *App) serveHTTP(ctx context.Context, group *errgroup.Group, name, addr string, handler http.Handler) {
	server := &http.Server{Addr: addr, Handler: handler}

	group.Go(func() error {
		a.logger.Info("http server started", "name", name, "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s server shutdown: %w", name, err)
		}
		a.logger.Info("http server stopped", "name", name)
		return nil
	})
}
