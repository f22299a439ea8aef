package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wavecast/api/internal/client"
	"github.com/wavecast/api/internal/config"
	"github.com/wavecast/api/internal/ffmpeg"
	"github.com/wavecast/api/internal/handler"
	"github.com/wavecast/api/internal/logging"
	"github.com/wavecast/api/internal/middleware"
	"github.com/wavecast/api/internal/server"
	"github.com/wavecast/api/internal/service"
	"github.com/wavecast/api/internal/store"
	ws "github.com/wavecast/api/internal/websocket"
	"github.com/wavecast/api/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and render workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(cmdCtx context.Context) error {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Server.LogLevel,
		Format: cfg.Server.LogFormat,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log := logging.Component(logger, "main")

	for _, dir := range []string{cfg.Storage.UploadDir, cfg.Storage.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if !ffmpeg.Available(cfg.Render.FFmpegPath) {
		log.WithField("binary", cfg.Render.FFmpegPath).Warn("ffmpeg not found; renders will fail")
	}

	// Redis is only needed for the asynq backend and rate limiting
	var redisClient *redis.Client
	if cfg.Worker.Backend == config.BackendAsynq || cfg.RateLimit.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis not available")
		}
	}

	var storage client.StorageClient
	if cfg.R2.Enabled() {
		r2, err := client.NewR2Client(ctx, cfg.R2)
		if err != nil {
			return fmt.Errorf("init r2 client: %w", err)
		}
		storage = r2
		log.WithField("bucket", cfg.R2.BucketName).Info("publishing renders to R2")
	}

	st := store.NewMemoryStore()
	defer st.Close()

	hub := ws.NewHub(logger)
	go hub.Run()
	defer hub.Stop()

	renderWorker := worker.NewRenderWorker(st, ffmpeg.NewExecRunner(), worker.Options{
		FFmpegPath:  cfg.Render.FFmpegPath,
		OutputDir:   cfg.Storage.OutputDir,
		ErrorMaxLen: cfg.Render.ErrorMaxLen,
		Notifier:    hub,
		Storage:     storage,
		Logger:      logger,
	})

	var (
		dispatcher worker.Dispatcher
		stats      handler.Stats
		asynqSrv   *asynq.Server
	)
	switch cfg.Worker.Backend {
	case config.BackendAsynq:
		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		dispatcher = worker.NewAsynqDispatcher(asynq.NewClient(redisOpt))
		asynqSrv = worker.NewServer(redisOpt, cfg.Render.Concurrency, cfg.Server.LogLevel, logger)
		if err := asynqSrv.Start(worker.NewServeMux(renderWorker)); err != nil {
			return fmt.Errorf("start asynq server: %w", err)
		}
	default:
		pool := worker.NewPool(renderWorker, cfg.Render.Concurrency, logger)
		dispatcher = pool
		stats = pool
	}

	renderService, err := service.NewRenderService(st, dispatcher, validator.New(), service.Options{
		UploadDir:      cfg.Storage.UploadDir,
		MaxUploadBytes: cfg.Upload.MaxBytes(),
		FFmpegPath:     cfg.Render.FFmpegPath,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("init render service: %w", err)
	}

	var rateLimiter *middleware.RateLimiter
	if redisClient != nil {
		rateLimiter = middleware.NewRateLimiter(redisClient, logger)
	}

	app := server.NewApp(server.Deps{
		Config:      cfg,
		Service:     renderService,
		Store:       st,
		Hub:         hub,
		Redis:       redisClient,
		RateLimiter: rateLimiter,
		Pool:        stats,
		R2:          storage != nil,
		Logger:      logger,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.Port
		log.WithFields(logrus.Fields{
			"addr":        addr,
			"backend":     cfg.Worker.Backend,
			"concurrency": cfg.Render.Concurrency,
		}).Info("server starting")
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown error")
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.WithError(err).Error("dispatcher shutdown error")
	} else if err != nil {
		log.Warn("renders still running at shutdown")
	}
	if asynqSrv != nil {
		asynqSrv.Shutdown()
	}

	return nil
}
