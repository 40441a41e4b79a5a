// Package main runs the voting room HTTP server with SSE/WebSocket event
// streams and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ordo-vote/backend/config"
	"github.com/ordo-vote/backend/internal/events"
	"github.com/ordo-vote/backend/internal/middleware"
	"github.com/ordo-vote/backend/internal/realtime"
	"github.com/ordo-vote/backend/internal/rooms"
	"github.com/ordo-vote/backend/internal/worker"
	"github.com/ordo-vote/backend/pkg/database"
	"github.com/ordo-vote/backend/pkg/queue"
	"github.com/ordo-vote/backend/pkg/redis"
	"github.com/ordo-vote/backend/pkg/response"
	"github.com/ordo-vote/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	// Redis is optional: without it, expired rooms are deleted inline
	// instead of handed to the purge worker.
	var (
		jobQueue   *queue.Queue
		purgeQueue rooms.PurgeQueue
	)
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		jobQueue = queue.NewQueue(rdb.Client, logger)
		purgeQueue = jobQueue
	}

	// S3 is optional: without it, purged rooms are deleted without an archive.
	var archiver worker.Uploader
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			ArchivesBucket:  cfg.AWS.ArchivesBucket,
		}
		s3Client, err := storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			archiver = s3Client
			logger.Info("room archives enabled", zap.String("bucket", s3Client.ArchivesBucket()))
		}
	}

	hub := events.NewHub(cfg.Rooms.EventBuffer, logger)
	repo := rooms.NewRepository(pool)
	registry := rooms.NewRegistry(repo, hub, purgeQueue, time.Duration(cfg.Rooms.TTLMinutes)*time.Minute, logger)
	if err := registry.RestoreActive(ctx); err != nil {
		// Lazy store fallback still serves rooms the boot pass missed.
		logger.Warn("restore rooms", zap.Error(err))
	}

	roomHandler := rooms.NewHandler(registry, logger)
	streamHandler := realtime.NewHandler(registry, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Public: room and voter operations, addressed by room id.
	api := router.Group("/api")
	{
		api.POST("/rooms", roomHandler.Create)
		api.GET("/rooms/:id", roomHandler.Get)
		api.POST("/rooms/:id/join", roomHandler.Join)
		api.POST("/rooms/:id/ballots", roomHandler.SubmitBallot)
		api.GET("/rooms/:id/events", streamHandler.RoomEvents)

		// Admin: addressed by the admin code; possession is authorization.
		api.GET("/admin/rooms/:code", roomHandler.AdminGet)
		api.POST("/admin/rooms/:code/approve", roomHandler.Approve)
		api.POST("/admin/rooms/:code/start", roomHandler.StartVote)
		api.POST("/admin/rooms/:code/end", roomHandler.EndVote)
		api.GET("/admin/rooms/:code/events", streamHandler.AdminEvents)
	}

	// WebSocket (room_id or admin_code in query)
	router.GET("/ws", streamHandler.ServeWS)

	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		// SSE and WebSocket responses outlive any sane write timeout, so
		// the server-wide one stays off and the transports enforce their own.
	}

	// Background worker (room purge and archival); also deployable
	// standalone via cmd/worker.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if jobQueue != nil {
		processor := worker.NewPurgeProcessor(repo, archiver, jobQueue, logger)
		go processor.Run(workerCtx)
		logger.Info("purge worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	registry.Shutdown()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
