package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"nem_dashboard/internal/alert"
	"nem_dashboard/internal/config"
	"nem_dashboard/internal/dashboard"
	"nem_dashboard/internal/flow"
	"nem_dashboard/internal/httpapi"
	"nem_dashboard/internal/logging"
	"nem_dashboard/internal/metrics"
	"nem_dashboard/internal/model"
	"nem_dashboard/internal/renewable"
	"nem_dashboard/internal/repair"
	"nem_dashboard/internal/source"
	"nem_dashboard/internal/watch"
	"nem_dashboard/internal/worker"
	"nem_dashboard/internal/ws"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewCollector("nem_dashboard", prometheus.DefaultRegisterer)

	src, closer, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	table, err := loadFlowTable(cfg)
	if err != nil {
		return err
	}
	region, _ := model.ParseRegion(cfg.Region)

	hub := ws.NewHub(logger, m)
	session := dashboard.New(src, ws.NewBridge(hub), dashboard.Options{
		Window:         cfg.Refresh.Window,
		OverviewWindow: cfg.Refresh.OverviewWindow,
		Region:         region,
		Repair:         repairOptions(cfg.Repair),
		Flow:           flow.NewCalculator(table, logger),
		Tracker:        renewable.NewTracker(renewable.NewFileStore(cfg.Path(cfg.Files.Records)), logger, m),
		Monitor: alert.NewMonitor(
			alert.NewFileExceptions(cfg.Path(cfg.Files.Exceptions)),
			alert.NewLogNotifier(logger),
			alert.Options{
				Enabled:  cfg.Alerts.Enabled,
				AutoAdd:  cfg.Alerts.AutoAddExceptions,
				Cooldown: cfg.Alerts.Cooldown,
			},
			logger,
		),
		Logger:  logger,
		Metrics: m,
	})

	refresher := worker.NewPeriodicWorker(session, cfg.Refresh.Interval, logger)
	refresher.Start(ctx)

	var watcher *watch.Watcher
	if cfg.Refresh.WatchData && cfg.Source.Kind == "csv" {
		watcher = watch.New(cfg.DataDir, session, watch.DefaultDebounce, logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("data directory watch unavailable", zap.Error(err))
			watcher = nil
		}
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newRouter(session, hub, cfg.HTTP.FrontendDir, logger, m),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serving HTTP: %w", err)
		}
	}

	logger.Info("shutting down")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	refresher.Stop(shutdownTimeout)
	if watcher != nil {
		watcher.Wait()
	}

	logger.Info("server stopped")
	return nil
}

// openSource returns the configured snapshot source and what closes it.
func openSource(ctx context.Context, cfg *config.Config) (source.Source, io.Closer, error) {
	if cfg.Source.Kind != "sql" {
		return source.NewDir(cfg.DataDir), io.NopCloser(nil), nil
	}
	db, err := source.OpenSQL(cfg.SQL.Driver, cfg.SQL.DSN)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("preparing snapshot tables: %w", err)
	}
	return db, db, nil
}

// loadFlowTable reads the interconnector override file, if one is configured.
func loadFlowTable(cfg *config.Config) (flow.Table, error) {
	if cfg.Files.Interconnectors == "" {
		return flow.DefaultTable(), nil
	}
	table, err := flow.LoadTable(cfg.Path(cfg.Files.Interconnectors))
	if err != nil {
		return nil, fmt.Errorf("loading interconnector table: %w", err)
	}
	return table, nil
}

func repairOptions(c config.RepairConfig) repair.Options {
	return repair.Options{
		FlatRunMin: c.FlatRunMin,
		FlatRunMax: c.FlatRunMax,
		Decay:      c.Decay,
		Horizon:    c.Horizon,
		FillLimit:  c.FillLimit,
		AlignLimit: c.AlignLimit,
		AlignDecay: c.AlignDecay,
	}
}

func newRouter(session *dashboard.Session, hub *ws.Hub, frontendDir string, logger *zap.Logger, m *metrics.Collector) *mux.Router {
	router := mux.NewRouter()
	httpapi.NewHandler(session, logger, m).RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Handle("/ws", ws.NewHandler(hub, session))

	if frontendDir != "" {
		if _, err := os.Stat(frontendDir); err == nil {
			logger.Info("serving frontend", zap.String("dir", frontendDir))
			router.PathPrefix("/").Handler(http.FileServer(http.Dir(frontendDir)))
		} else {
			logger.Warn("frontend directory unavailable", zap.String("dir", frontendDir), zap.Error(err))
		}
	}
	return router
}
