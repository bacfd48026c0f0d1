// Package main runs the background worker: meeting summaries, transcript archiving and the
// ending-state sweep.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/aura-meetings/backend/config"
	"github.com/aura-meetings/backend/internal/meetings"
	"github.com/aura-meetings/backend/internal/postprocess"
	"github.com/aura-meetings/backend/internal/realtime"
	"github.com/aura-meetings/backend/internal/rooms"
	"github.com/aura-meetings/backend/internal/summarizer"
	"github.com/aura-meetings/backend/internal/usage"
	"github.com/aura-meetings/backend/internal/worker"
	"github.com/aura-meetings/backend/pkg/database"
	"github.com/aura-meetings/backend/pkg/queue"
	"github.com/aura-meetings/backend/pkg/redis"
	"github.com/aura-meetings/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.Meetings.Store != "postgres" {
		logger.Fatal("standalone worker needs MEETINGS_STORE=postgres; use RUN_WORKER with the memory store")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var archiver worker.Archiver
	if cfg.AWS.ArchiveEnabled() {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			TranscriptsBucket:    cfg.AWS.TranscriptsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
		archiver = s3Client
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	store := meetings.NewPostgresStore(pool)

	// The sweeper re-dispatches meetings it completes, so the worker carries a full service.
	meetingSvc := meetings.NewService(meetings.Deps{
		Store: store,
		Rooms: rooms.NewRepository(pool),
		Usage: usage.NewLimiter(usage.NewPostgresCounter(pool), usage.Limits{
			Free: cfg.Usage.FreeMonthlyMeetings,
			Pro:  cfg.Usage.ProMonthlyMeetings,
		}, logger),
		Dispatcher:      postprocess.NewQueueDispatcher(jobQueue, logger),
		Events:          realtime.NewHub(logger, redisPubSub, nil),
		Logger:          logger,
		DispatchTimeout: cfg.Meetings.DispatchTimeout,
	})

	processor := worker.NewSummaryProcessor(store, summarizer.New(summarizer.Config{
		APIKey:  cfg.Summary.AnthropicAPIKey,
		Model:   cfg.Summary.Model,
		BaseURL: cfg.Summary.BaseURL,
		Timeout: cfg.Summary.Timeout,
	}, logger), archiver, meetingSvc, jobQueue, logger)
	sweeper := worker.NewSweeper(meetingSvc, cfg.Meetings.SweepInterval, cfg.Meetings.EndingGrace, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, workerCtx := errgroup.WithContext(workerCtx)
	g.Go(func() error { return processor.Run(workerCtx, cfg.Summary.WorkerCount) })
	g.Go(func() error { return sweeper.Run(workerCtx) })
	logger.Info("worker started", zap.Int("consumers", cfg.Summary.WorkerCount))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	if err := g.Wait(); err != nil {
		logger.Error("worker shutdown", zap.Error(err))
	}
	meetingSvc.Wait()
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
