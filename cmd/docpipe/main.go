package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/docpipe/internal/config"
	"github.com/xxxsen/docpipe/internal/db"
	"github.com/xxxsen/docpipe/internal/embedcache"
	"github.com/xxxsen/docpipe/internal/embedder"
	"github.com/xxxsen/docpipe/internal/filestore"
	"github.com/xxxsen/docpipe/internal/handler"
	"github.com/xxxsen/docpipe/internal/middleware"
	"github.com/xxxsen/docpipe/internal/parser"
	"github.com/xxxsen/docpipe/internal/pipeline"
	"github.com/xxxsen/docpipe/internal/repo"
	"github.com/xxxsen/docpipe/internal/schedule"
	"github.com/xxxsen/docpipe/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "docpipe",
		Short: "document processing pipeline",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run intake server and pipeline workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, conn, err := setup(configPath)
			if err != nil {
				return err
			}
			return runServer(cfg, conn)
		},
	}
	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "run the stuck-job sweep once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, conn, err := setup(configPath)
			if err != nil {
				return err
			}
			watchdog := schedule.NewWatchdog(
				repo.NewJobRepo(conn, cfg.Pipeline.MaxRetries),
				repo.NewDocumentRepo(conn),
				time.Duration(cfg.Pipeline.StuckAfterSec)*time.Second,
			)
			return watchdog.Run(context.Background())
		},
	}
	sweepCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")

	rootCmd.AddCommand(runCmd, sweepCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func setup(configPath string) (*config.Config, *sql.DB, error) {
	if configPath == "" {
		return nil, nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(conn); err != nil {
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return cfg, conn, nil
}

func runServer(cfg *config.Config, conn *sql.DB) error {
	logutil.GetLogger(context.Background()).Info(
		"starting docpipe",
		zap.Int("port", cfg.Port),
		zap.Int("workers", cfg.Pipeline.Workers),
		zap.String("file_store", cfg.FileStore.Type),
		zap.String("parser", cfg.Parser.Type),
		zap.String("embedder", cfg.Embedder.Type),
	)

	docRepo := repo.NewDocumentRepo(conn)
	jobRepo := repo.NewJobRepo(conn, cfg.Pipeline.MaxRetries)
	chunkRepo := repo.NewChunkRepo(conn)

	blobs, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}
	parseClient, err := parser.New(cfg.Parser)
	if err != nil {
		return fmt.Errorf("init parser: %w", err)
	}
	embedClient, err := embedder.New(cfg.Embedder)
	if err != nil {
		return fmt.Errorf("init embedder: %w", err)
	}
	embedClient = embedcache.WrapLRU(embedClient, cfg.Pipeline.EmbedCacheSize, time.Hour)

	intakeService := service.NewIntakeService(docRepo, chunkRepo, jobRepo, blobs)

	orchestrator := pipeline.NewOrchestrator(pipeline.Options{
		Docs:           docRepo,
		Jobs:           jobRepo,
		Chunks:         chunkRepo,
		Blobs:          blobs,
		Parser:         parseClient,
		Embedder:       embedClient,
		Workers:        cfg.Pipeline.Workers,
		PollInterval:   time.Duration(cfg.Pipeline.PollIntervalSec) * time.Second,
		ClaimBatch:     cfg.Pipeline.ClaimBatch,
		EmbedBatchSize: cfg.Pipeline.EmbedBatchSize,
	})

	stuckThreshold := time.Duration(cfg.Pipeline.StuckAfterSec) * time.Second
	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(schedule.NewWatchdog(jobRepo, docRepo, stuckThreshold), "*/5 * * * *"); err != nil {
		return err
	}
	if err := scheduler.AddJob(schedule.NewQueueStats(jobRepo, stuckThreshold), "*/10 * * * *"); err != nil {
		return err
	}

	deps := handler.RouterDeps{
		Documents: handler.NewDocumentHandler(intakeService, docRepo, chunkRepo),
		Webhooks:  handler.NewWebhookHandler(jobRepo),
		Ops:       handler.NewOpsHandler(jobRepo, stuckThreshold),
	}

	engine, err := webapi.NewEngine(
		"/api",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(nil),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler.Start(ctx)
	defer scheduler.Stop()

	go func() {
		if err := orchestrator.Run(ctx); err != nil {
			logutil.GetLogger(context.Background()).Error("orchestrator stopped", zap.Error(err))
		}
	}()

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()
	logutil.GetLogger(context.Background()).Info("http server listening", zap.Int("port", cfg.Port))

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("docpipe stopping...")
	return nil
}
