package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/fieldops/internal/config"
	"github.com/mamadbah2/fieldops/internal/repository"
	"github.com/mamadbah2/fieldops/internal/repository/memory"
	"github.com/mamadbah2/fieldops/internal/repository/mongodb"
	"github.com/mamadbah2/fieldops/internal/repository/sheets"
	"github.com/mamadbah2/fieldops/internal/scheduler"
	"github.com/mamadbah2/fieldops/internal/server/handlers"
	"github.com/mamadbah2/fieldops/internal/server/router"
	"github.com/mamadbah2/fieldops/internal/service/alerts"
	"github.com/mamadbah2/fieldops/internal/service/dispatch"
	"github.com/mamadbah2/fieldops/internal/service/manifest"
	"github.com/mamadbah2/fieldops/internal/service/reporting"
	whatsappclient "github.com/mamadbah2/fieldops/pkg/clients/whatsapp"
	"github.com/mamadbah2/fieldops/pkg/idgen"
	"github.com/mamadbah2/fieldops/pkg/logger"
)

type localReplica interface {
	repository.Replica
	repository.NoteCounter
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(cfg.LogLevel))
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	ids := idgen.Must(idgen.New(cfg.Device.NodeID))

	replica, closeReplica := openReplica(cfg.Store, ids, baseLogger)
	defer closeReplica()

	engine := dispatch.NewEngine(replica, ids, baseLogger.Named("svc.dispatch"))
	sessions := dispatch.NewSessionManager(replica, ids.RecordID)

	var notifier scheduler.Notifier
	if cfg.WhatsApp.Enabled() {
		alertSvc := alerts.NewService(whatsappclient.NewClient(cfg.WhatsApp), cfg.WhatsApp.SupervisorPhone, baseLogger.Named("svc.alerts"))
		alertSvc.Subscribe(engine.Bus)
		defer alertSvc.Wait()
		notifier = alertSvc
		baseLogger.Info("supervisor alerts enabled")
	} else {
		baseLogger.Warn("whatsapp token missing, supervisor alerts disabled")
	}

	if cfg.Sheets.Enabled() {
		sheetRepo, err := sheets.NewGoogleSheetRepository(context.Background(), cfg.Sheets, baseLogger.Named("repo.sheets"))
		if err != nil {
			baseLogger.Fatal("failed to init sheets repository", zap.Error(err))
		}
		exporter := manifest.NewExporter(sheetRepo, baseLogger.Named("svc.manifest"))
		exporter.Subscribe(engine.Bus)
		defer exporter.Wait()
		baseLogger.Info("manifest export enabled")
	}

	reportingSvc := reporting.NewService(replica, replica, baseLogger.Named("svc.reporting"))
	sched, err := scheduler.NewScheduler(cfg.Reporting, reportingSvc, notifier, baseLogger.Named("scheduler"))
	if err != nil {
		baseLogger.Fatal("failed to init scheduler", zap.Error(err))
	}
	if err := sched.Start(); err != nil {
		baseLogger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	gin.SetMode(gin.ReleaseMode)
	dispatchHandler := handlers.NewDispatchHandler(engine, sessions, baseLogger.Named("handlers.dispatch"))
	httpEngine := router.New(dispatchHandler, cfg.Server.AllowOrigins, baseLogger.Named("router"))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      httpEngine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Store.Driver))
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

func openReplica(cfg config.StoreConfig, ids *idgen.Generator, log *zap.Logger) (localReplica, func()) {
	if cfg.Driver == config.StoreMemory {
		log.Warn("using in-memory replica, data is lost on exit")
		return memory.New(ids), func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	mongoRepo, err := mongodb.NewReplica(ctx, cfg.MongoDB.URI, cfg.MongoDB.DBName, ids, log.Named("repo.mongodb"))
	if err != nil {
		log.Fatal("failed to init mongodb replica", zap.Error(err))
	}
	if err := mongoRepo.EnsureIndexes(ctx); err != nil {
		log.Fatal("failed to create mongodb indexes", zap.Error(err))
	}

	return mongoRepo, func() {
		if err := mongoRepo.Close(context.Background()); err != nil {
			log.Error("failed to close mongodb connection", zap.Error(err))
		}
	}
}
