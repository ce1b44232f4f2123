// Package main is the entry point for the labflowd daemon.
// labflowd serves the lab-request HTTP API and runs the task worker that
// drives request pipelines.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/schoolops/labflow/internal/approval"
	"github.com/schoolops/labflow/internal/cache"
	"github.com/schoolops/labflow/internal/config"
	"github.com/schoolops/labflow/internal/db"
	"github.com/schoolops/labflow/internal/inventory"
	"github.com/schoolops/labflow/internal/logging"
	"github.com/schoolops/labflow/internal/metrics"
	"github.com/schoolops/labflow/internal/models"
	"github.com/schoolops/labflow/internal/msgraph"
	"github.com/schoolops/labflow/internal/notify"
	"github.com/schoolops/labflow/internal/pipeline"
	"github.com/schoolops/labflow/internal/procurement"
	"github.com/schoolops/labflow/internal/queue"
	"github.com/schoolops/labflow/internal/scheduling"
	"github.com/schoolops/labflow/internal/server"
)

// Version information (set by goreleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	listenAddr := flag.String("listen", "", "listen address (overrides config)")
	configFile := flag.String("config", "", "config file (default is $HOME/.config/labflow/config.yaml)")
	logLevel := flag.String("log-level", "", "override logging level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "override logging format (json, console)")
	flag.Parse()

	loader := config.NewLoader()
	if *configFile != "" {
		loader.SetConfigFile(*configFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		EnableCaller: cfg.Logging.EnableCaller,
	})
	logger := logging.Component("labflowd")

	if err := cfg.EnsureDirectories(); err != nil {
		logger.Warn().Err(err).Msg("failed to create directories")
	}
	if cfgUsed := loader.ConfigFileUsed(); cfgUsed != "" {
		logger.Debug().Str("config_file", cfgUsed).Msg("loaded config file")
	}

	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Msg("labflowd starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DatabasePath(), db.Options{
		MaxConnections: cfg.Database.MaxConnections,
		BusyTimeoutMs:  cfg.Database.BusyTimeoutMs,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to open database")
		os.Exit(1)
	}
	defer database.Close()

	applied, err := database.MigrateUp(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("migrations failed")
		os.Exit(1)
	}
	if applied > 0 {
		logger.Info().Int("applied", applied).Msg("migrations applied")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	requests := db.NewRequestRepository(database)
	history := db.NewHistoryRepository(database)
	events := db.NewEventRepository(database)
	approvals := db.NewApprovalRepository(database)
	procurements := db.NewProcurementRepository(database)
	emailLogs := db.NewEmailLogRepository(database)
	tasks := db.NewTaskRepository(database)

	graphClient := msgraph.NewClient(msgraph.Config{
		TenantID:       cfg.Graph.TenantID,
		ClientID:       cfg.Graph.ClientID,
		ClientSecret:   cfg.Graph.ClientSecret,
		BaseURL:        cfg.Graph.BaseURL,
		MaxAttempts:    cfg.Graph.MaxAttempts,
		RetryBaseDelay: cfg.Graph.RetryBaseDelay,
	})
	stockDirectory := msgraph.NewStockDirectory(graphClient, msgraph.StockDirectoryConfig{
		SiteID: cfg.Graph.SiteID,
		ListID: cfg.Graph.ListID,
	})
	calendar := msgraph.NewCalendar(graphClient)
	mailer := msgraph.NewMailer(graphClient, cfg.Graph.Sender)

	inventoryCache := cache.New[models.InventoryResult](cache.Config{
		TTL:     cfg.Inventory.CacheTTL,
		MaxSize: cfg.Inventory.CacheMaxSize,
	})

	notifier := notify.NewNotifier(mailer, emailLogs, notify.Config{
		ProcurementAddress: cfg.Notify.ProcurementAddress,
		ConflictWatchers:   cfg.Notify.ConflictWatchers,
	})

	pipe := pipeline.New(
		requests,
		history,
		events,
		inventory.NewChecker(stockDirectory, inventoryCache, m),
		procurement.NewRequester(procurements),
		approval.NewRouter(approvals, notifier, cfg.Approval.Approvers, cfg.Approval.AutoApproveMax),
		scheduling.NewScheduler(calendar, scheduling.Config{
			Labs:             cfg.Scheduling.Labs,
			DefaultLab:       cfg.Scheduling.DefaultLab,
			WorkdayStartHour: cfg.Scheduling.WorkdayStartHour,
			WorkdayEndHour:   cfg.Scheduling.WorkdayEndHour,
			SlotMinutes:      cfg.Scheduling.SlotMinutes,
			HorizonDays:      cfg.Scheduling.HorizonDays,
		}),
		notifier,
		m,
	)

	taskQueue := queue.New(tasks, pipe, events, queue.Config{
		PollInterval:   cfg.Queue.PollInterval,
		MaxAttempts:    cfg.Queue.MaxAttempts,
		RetryBaseDelay: cfg.Queue.RetryBaseDelay,
	}, m)

	srv := server.New(cfg.Server.ListenAddr, server.Stores{
		Requests:  requests,
		History:   history,
		Events:    events,
		Approvals: approvals,
	}, taskQueue, m, registry)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		taskQueue.Start(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server failed")
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}

	wg.Wait()
	logger.Info().Msg("labflowd stopped")
}
