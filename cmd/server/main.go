// Package main runs the meetings HTTP server with WebSocket events and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/aura-meetings/backend/config"
	"github.com/aura-meetings/backend/internal/auth"
	"github.com/aura-meetings/backend/internal/livekit"
	"github.com/aura-meetings/backend/internal/meetings"
	"github.com/aura-meetings/backend/internal/middleware"
	"github.com/aura-meetings/backend/internal/postprocess"
	"github.com/aura-meetings/backend/internal/realtime"
	"github.com/aura-meetings/backend/internal/rooms"
	"github.com/aura-meetings/backend/internal/summarizer"
	"github.com/aura-meetings/backend/internal/usage"
	"github.com/aura-meetings/backend/internal/worker"
	"github.com/aura-meetings/backend/pkg/database"
	"github.com/aura-meetings/backend/pkg/queue"
	"github.com/aura-meetings/backend/pkg/redis"
	"github.com/aura-meetings/backend/pkg/response"
	"github.com/aura-meetings/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
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

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

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

	var s3Client *storage.S3
	if cfg.AWS.ArchiveEnabled() {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			TranscriptsBucket:    cfg.AWS.TranscriptsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("transcript archive disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, time.Duration(cfg.JWT.ExpireHours)*time.Hour)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Rooms
	roomRepo := rooms.NewRepository(pool)
	roomHandler := rooms.NewHandler(roomRepo, logger)
	liveKitHandler := livekit.NewHandler(roomRepo, cfg.LiveKit, logger)

	// Meetings
	var store meetings.Store
	switch cfg.Meetings.Store {
	case "memory":
		if !cfg.Server.RunWorker {
			logger.Warn("memory meetings store without RUN_WORKER: summaries need the embedded worker")
		}
		store = meetings.NewMemoryStore()
	default:
		store = meetings.NewPostgresStore(pool)
	}
	limiter := usage.NewLimiter(usage.NewPostgresCounter(pool), usage.Limits{
		Free: cfg.Usage.FreeMonthlyMeetings,
		Pro:  cfg.Usage.ProMonthlyMeetings,
	}, logger)
	meetingSvc := meetings.NewService(meetings.Deps{
		Store:           store,
		Rooms:           roomRepo,
		Usage:           limiter,
		Dispatcher:      postprocess.NewQueueDispatcher(jobQueue, logger),
		Events:          hub,
		Logger:          logger,
		DispatchTimeout: cfg.Meetings.DispatchTimeout,
	})
	var archive meetings.TranscriptURLs
	if s3Client != nil {
		archive = s3Client
	}
	meetingHandler := meetings.NewHandler(meetingSvc, archive, cfg.Meetings.HistoryLimit, logger)

	var verifier *livekit.Verifier
	if cfg.LiveKit.APIKey != "" && cfg.LiveKit.APISecret != "" {
		verifier = livekit.NewVerifier(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret)
	}
	webhookHandler := meetings.NewWebhookHandler(meetingSvc, verifier, logger)

	jwtValidate := func(token string) (uuid.UUID, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, err
		}
		return claims.UserID, nil
	}

	origins := middleware.ParseOrigins(cfg.Server.CORSAllowedOrigins)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(origins, cfg.Server.CORSMaxAge))
	router.Use(middleware.Logger(logger))

	// Health and metrics
	router.GET("/health", func(c *gin.Context) {
		if err := pool.Ping(c.Request.Context()); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		if err := rdb.Health(c.Request.Context()); err != nil {
			response.ServiceUnavailable(c, "redis unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Rooms
		api.POST("/rooms", roomHandler.Create)
		api.GET("/rooms/:identifier", roomHandler.Get)
		api.GET("/rooms/:identifier/token", liveKitHandler.GetToken)
		api.GET("/rooms/:identifier/meetings", meetingHandler.ListByRoom)

		// Meeting lifecycle
		api.POST("/meetings/start", meetingHandler.Start)
		api.GET("/meetings/:id", meetingHandler.Get)
		api.POST("/meetings/:id/leave", meetingHandler.Leave)
		api.POST("/meetings/:id/end", meetingHandler.End)
		api.POST("/meetings/:id/transcripts", meetingHandler.AppendTranscripts)
		api.GET("/meetings/:id/transcript-url", meetingHandler.TranscriptURL)
	}

	// Webhooks (no JWT; shared secret or LiveKit signature)
	router.POST("/webhooks/occupancy", middleware.RequireSharedSecret(cfg.Webhook.OccupancySecret), webhookHandler.Occupancy)
	router.POST("/webhooks/livekit", webhookHandler.LiveKit)

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate, origins.List()))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (summaries and the ending-state sweep)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	workers, workerCtx := errgroup.WithContext(workerCtx)
	if cfg.Server.RunWorker {
		var archiver worker.Archiver
		if s3Client != nil {
			archiver = s3Client
		}
		processor := worker.NewSummaryProcessor(store, summarizer.New(summarizer.Config{
			APIKey:  cfg.Summary.AnthropicAPIKey,
			Model:   cfg.Summary.Model,
			BaseURL: cfg.Summary.BaseURL,
			Timeout: cfg.Summary.Timeout,
		}, logger), archiver, meetingSvc, jobQueue, logger)
		sweeper := worker.NewSweeper(meetingSvc, cfg.Meetings.SweepInterval, cfg.Meetings.EndingGrace, logger)
		workers.Go(func() error { return processor.Run(workerCtx, cfg.Summary.WorkerCount) })
		workers.Go(func() error { return sweeper.Run(workerCtx) })
		logger.Info("embedded worker started", zap.Int("consumers", cfg.Summary.WorkerCount))
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("meetings_store", cfg.Meetings.Store))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	// Finalized meetings still being handed to post-processing.
	meetingSvc.Wait()
	workerCancel()
	if err := workers.Wait(); err != nil {
		logger.Error("worker shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
