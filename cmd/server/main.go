package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/affinage/internal/cache"
	"github.com/mamadbah2/affinage/internal/config"
	"github.com/mamadbah2/affinage/internal/repository/mongodb"
	"github.com/mamadbah2/affinage/internal/repository/records"
	"github.com/mamadbah2/affinage/internal/repository/sheets"
	"github.com/mamadbah2/affinage/internal/scheduler"
	"github.com/mamadbah2/affinage/internal/server/handlers"
	"github.com/mamadbah2/affinage/internal/server/router"
	actionsvc "github.com/mamadbah2/affinage/internal/service/actions"
	commandsvc "github.com/mamadbah2/affinage/internal/service/commands"
	completionsvc "github.com/mamadbah2/affinage/internal/service/completion"
	ledgersvc "github.com/mamadbah2/affinage/internal/service/ledger"
	reportingsvc "github.com/mamadbah2/affinage/internal/service/reporting"
	subscribersvc "github.com/mamadbah2/affinage/internal/service/subscribers"
	whatsappsvc "github.com/mamadbah2/affinage/internal/service/whatsapp"
	whatsappclient "github.com/mamadbah2/affinage/pkg/clients/whatsapp"
	"github.com/mamadbah2/affinage/pkg/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(cfg.Server.LogLevel))
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	loc, err := cfg.Schedule.Location()
	if err != nil {
		baseLogger.Fatal("invalid timezone", zap.Error(err))
	}

	store := newStore(cfg, baseLogger)

	// Both archive consumers treat a nil interface as "disabled".
	var (
		dispatchArchive   scheduler.Archive
		completionArchive completionsvc.Archive
	)
	if cfg.MongoDB.Enabled() {
		connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		mongoRepo, err := mongodb.NewMongoDBRepository(connectCtx, cfg.MongoDB.URI, cfg.MongoDB.DBName)
		cancel()
		if err != nil {
			baseLogger.Fatal("failed to init mongodb repository", zap.Error(err))
		}
		defer func() {
			if err := mongoRepo.Close(context.Background()); err != nil {
				baseLogger.Error("failed to close mongodb connection", zap.Error(err))
			}
		}()
		dispatchArchive, completionArchive = mongoRepo, mongoRepo
		baseLogger.Info("mongodb archive enabled", zap.String("db", cfg.MongoDB.DBName))
	} else {
		baseLogger.Warn("MONGODB_URI not set, dispatch and completion archive disabled")
	}

	actionSvc := actionsvc.NewService(store, loc, baseLogger.Named("svc.actions"))
	ledgerSvc := ledgersvc.NewService(store, actionSvc, loc, baseLogger.Named("svc.ledger"))
	subscriberSvc := subscribersvc.NewService(store, baseLogger.Named("svc.subscribers"))
	reportingSvc := reportingsvc.NewService(store, baseLogger.Named("svc.reporting"))

	whatsClient := whatsappclient.NewClient(cfg.WhatsApp)
	notifier := whatsappsvc.NewNotifier(whatsClient, baseLogger.Named("svc.notifier"))

	completionSvc := completionsvc.NewService(store, notifier, completionArchive, loc, baseLogger.Named("svc.completion"))

	sched := scheduler.NewScheduler(cfg.Schedule, loc, actionSvc, subscriberSvc, ledgerSvc, notifier, dispatchArchive, baseLogger.Named("scheduler"))
	if err := sched.Start(); err != nil {
		baseLogger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	commandDispatcher := commandsvc.NewService(ledgerSvc, actionSvc, subscriberSvc, sched, reportingSvc, loc, baseLogger.Named("svc.commands"))
	messagingSvc := whatsappsvc.NewMetaWhatsAppService(cfg.WhatsApp, notifier, commandDispatcher, completionSvc, baseLogger.Named("svc.whatsapp"))

	webhookHandler := handlers.NewWebhookHandler(messagingSvc, baseLogger.Named("handlers.whatsapp"))
	ledgerHandler := handlers.NewLedgerHandler(ledgerSvc, completionSvc, actionSvc, sched, reportingSvc, baseLogger.Named("handlers.api"))
	engine := router.New(webhookHandler, ledgerHandler, baseLogger.Named("router"))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Schedule.DispatchTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.Server.Port), zap.String("sheets_driver", cfg.Sheets.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newStore(cfg *config.Config, baseLogger *zap.Logger) *records.Store {
	if cfg.Sheets.Driver == config.SheetsDriverMemory {
		baseLogger.Warn("using in-memory sheets; data is lost on restart")
		store, _ := records.NewMemoryStore(cfg.Cache.TTL, baseLogger.Named("store"))
		return store
	}

	sheetsRepo, err := sheets.NewGoogleSheetRepository(context.Background(), cfg.Sheets, baseLogger.Named("repo.sheets"))
	if err != nil {
		baseLogger.Fatal("failed to init sheets repository", zap.Error(err))
	}
	tableCache := cache.New(sheetsRepo, cfg.Cache.TTL, baseLogger.Named("cache"),
		cache.WithFetchTimeout(cfg.Sheets.Timeout))
	return records.NewStore(sheetsRepo, tableCache, baseLogger.Named("store"))
}
