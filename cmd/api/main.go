package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/HwangHoYoon/trust/internal/application"
	appai "github.com/HwangHoYoon/trust/internal/application/ai"
	appscans "github.com/HwangHoYoon/trust/internal/application/scans"
	"github.com/HwangHoYoon/trust/internal/config"
	"github.com/HwangHoYoon/trust/internal/domain/analyst"
	"github.com/HwangHoYoon/trust/internal/domain/scanerrors"
	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
	"github.com/HwangHoYoon/trust/internal/infra/ai/openai"
	"github.com/HwangHoYoon/trust/internal/infra/db/memory"
	mysqlp "github.com/HwangHoYoon/trust/internal/infra/db/mysql"
	"github.com/HwangHoYoon/trust/internal/infra/db/postgres"
	"github.com/HwangHoYoon/trust/internal/infra/executor/nuclei"
	"github.com/HwangHoYoon/trust/internal/infra/httpserver"
	minioStore "github.com/HwangHoYoon/trust/internal/infra/storage"
	"github.com/HwangHoYoon/trust/internal/middleware"
	"github.com/HwangHoYoon/trust/internal/observability"
)

type repositories struct {
	scans        domain.Repository
	remediations analyst.Repository
	errors       scanerrors.Repository
	db           *sql.DB
}

func openRepositories(ctx context.Context, cfg *config.Config) (*repositories, error) {
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, fmt.Errorf("mysql connect: %w", err)
		}
		if err := mysqlp.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		return &repositories{
			scans:        mysqlp.NewScanRepository(db),
			remediations: mysqlp.NewRemediationRepository(db),
			errors:       mysqlp.NewScanErrorRepository(db),
			db:           db,
		}, nil
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		return &repositories{
			scans:        postgres.NewScanRepository(db),
			remediations: postgres.NewRemediationRepository(db),
			errors:       postgres.NewScanErrorRepository(db),
			db:           db,
		}, nil
	default:
		store := memory.NewStore()
		return &repositories{scans: store, remediations: store, errors: store.Errors()}, nil
	}
}

func main() {
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load error:", err)
		os.Exit(1)
	}

	observability.InitializeLogger(cfg.Logger)
	defer observability.Sync()
	logger := observability.GetLogger()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		observability.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		return err
	}
	if repos.db != nil {
		defer repos.db.Close()
	}
	logger.Info("repositories ready", zap.String("driver", cfg.Database.Driver))

	svc := &appscans.Service{
		Repo:    repos.scans,
		Runner:  nuclei.NewRunner(cfg.Scanner.Mode, cfg.Scanner.Path, cfg.Scanner.Image, logger.Named("nuclei")),
		Errors:  repos.errors,
		Clock:   application.SystemClock{},
		Logger:  logger.Named("scans"),
		Options: cfg.ScanOptions(),
	}

	if cfg.Minio.Enabled {
		store, err := minioStore.New(ctx, minioStore.Options{
			Endpoint:   cfg.Minio.Endpoint,
			Region:     cfg.Minio.Region,
			BucketName: cfg.Minio.BucketName,
			AccessKey:  cfg.Minio.AccessKey,
			SecretKey:  cfg.Minio.SecretKey,
			UseSSL:     cfg.Minio.UseSSL,
		}, logger.Named("storage"))
		if err != nil {
			return fmt.Errorf("minio init: %w", err)
		}
		svc.Artifacts = store
	}

	var aiSvc *appai.Service
	if cfg.AI.Provider == "openai" {
		client := openai.NewClient(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.Model, cfg.AI.MaxTokens)
		aiSvc = appai.NewService(client, repos.scans, repos.remediations, application.SystemClock{}, logger.Named("ai"))
		svc.Enricher = aiSvc
		logger.Info("remediation model enabled", zap.String("model", client.Model()))
	}

	health := map[string]middleware.HealthChecker{
		"scanner": &middleware.ScannerHealthChecker{Scanner: svc},
	}
	if repos.db != nil {
		health["database"] = &middleware.DatabaseHealthChecker{DB: repos.db}
	}

	handler := httpserver.NewRouter(svc, aiSvc, httpserver.Options{
		APIKeys:             cfg.Server.APIKeys,
		CORSOrigins:         cfg.Server.CORSOrigins,
		RateRPS:             cfg.Server.RateLimit.RPS,
		RateBurst:           cfg.Server.RateLimit.Burst,
		AllowPrivateTargets: cfg.Server.AllowPrivateTargets,
		Health:              health,
		BaseContext:         ctx,
	}, logger.Named("http"))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
