package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/propwatch/internal/agent/repository"
	"github.com/jmerrifield20/propwatch/internal/agentsvc"
	"github.com/jmerrifield20/propwatch/internal/config"
	"github.com/jmerrifield20/propwatch/internal/corpus"
	"github.com/jmerrifield20/propwatch/internal/crmsync"
	"github.com/jmerrifield20/propwatch/internal/httpapi"
	"github.com/jmerrifield20/propwatch/internal/scheduler"
	"go.uber.org/zap"
)

// credentialHashPath stores the bcrypt hash of the CRM API key propwatch
// last started with, so the next startup can tell whether the configured
// key has rotated since then without ever persisting the plaintext.
const credentialHashPath = "data/crm/credential.hash"

// checkCredentialRotation compares cred against the hash recorded on a
// previous run (if any), logs whether the key has changed, and rewrites the
// stored hash to match the current key.
func checkCredentialRotation(cred *crmsync.Credential, logger *zap.Logger) error {
	prev, err := os.ReadFile(credentialHashPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Info("no prior crm credential hash on record; recording the current one")
	case err != nil:
		return fmt.Errorf("read stored credential hash: %w", err)
	default:
		if crmsync.LoadCredentialHash(string(prev)).Verify(cred.PlaintextForRequest()) {
			logger.Info("crm api key unchanged since last start")
		} else {
			logger.Info("crm api key has rotated since last start")
		}
	}

	if err := os.MkdirAll(filepath.Dir(credentialHashPath), 0o755); err != nil {
		return fmt.Errorf("create credential hash dir: %w", err)
	}
	return os.WriteFile(credentialHashPath, []byte(cred.StoredHash()), 0o600)
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("propwatch exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := pgxpool.New(context.Background(), cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()
	if err := db.Ping(context.Background()); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres")

	corpusStore, err := corpus.New(cfg.Corpus.SnapshotDir, cfg.Corpus.BackupDir, logger)
	if err != nil {
		return fmt.Errorf("init corpus store: %w", err)
	}

	agentRepo := repository.NewAgentRepository(db)
	criteriaRepo := repository.NewCriteriaRepository(db)
	matchRepo := repository.NewMatchRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	clientRepo := repository.NewClientRepository(db)

	manager := agentsvc.New(agentRepo, criteriaRepo, matchRepo, outboxRepo, corpusStore, clientRepo, db, agentsvc.Config{
		CheckInterval: cfg.Scheduler.CheckInterval,
		JitterMax:     cfg.Scheduler.JitterMax,
		CheckTimeout:  cfg.Scheduler.CheckTimeout,
	}, logger)

	sched := scheduler.New(agentRepo, manager, scheduler.Config{
		TickInterval: cfg.Scheduler.TickInterval,
		Parallelism:  cfg.Scheduler.Parallelism,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)
	logger.Info("scheduler started", zap.Duration("tick_interval", cfg.Scheduler.TickInterval))

	if cfg.CRM.BaseURL != "" {
		mapping, err := crmsync.LoadFieldMapping(cfg.CRM.FieldMappingPath)
		if err != nil {
			return fmt.Errorf("load crm field mapping: %w", err)
		}
		cred, err := crmsync.NewCredential(cfg.CRM.APIKey)
		if err != nil {
			return fmt.Errorf("init crm credential: %w", err)
		}
		if err := checkCredentialRotation(cred, logger); err != nil {
			logger.Warn("crm credential rotation check failed", zap.Error(err))
		}
		deliveryWorker := crmsync.New(outboxRepo, agentRepo, crmsync.Config{
			BaseURL:          cfg.CRM.BaseURL,
			Pipeline:         crmsync.PipelineConfig{PipelineID: cfg.CRM.PipelineID, StageID: cfg.CRM.StageID},
			Mapping:          mapping,
			Credential:       cred,
			PollInterval:     cfg.CRM.PollInterval,
			DeliveryParallel: cfg.CRM.DeliveryParallel,
			DeliveryRPS:      cfg.CRM.DeliveryRPS,
			RequestTimeout:   cfg.CRM.RequestTimeout,
		}, logger)
		go deliveryWorker.Run(ctx)
		logger.Info("crm delivery worker started", zap.String("base_url", cfg.CRM.BaseURL))
	} else {
		logger.Info("crm delivery disabled: crm.base_url not configured")
	}

	handler := httpapi.New(manager, criteriaRepo, matchRepo, corpusStore, logger)
	router := httpapi.NewRouter(handler, httpapi.RouterConfig{
		CORSOrigins:  cfg.Server.CORSOrigins,
		RateLimitRPS: cfg.Server.RateLimitRPS,
	}, logger)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("propwatch HTTP listening", zap.Int("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down propwatch...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("propwatch stopped")
	return nil
}
