// Package main is the application entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/M4ORE/fda-ai-device-analyst/internal/config"
	"github.com/M4ORE/fda-ai-device-analyst/internal/handler"
	"github.com/M4ORE/fda-ai-device-analyst/internal/middleware"
	"github.com/M4ORE/fda-ai-device-analyst/internal/pipeline"
	"github.com/M4ORE/fda-ai-device-analyst/internal/repository"
	"github.com/M4ORE/fda-ai-device-analyst/internal/service"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/database"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/embedding"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/es"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/kafka"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/llm"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/log"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/storage"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. Load configuration
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. Initialize the logger
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("logger initialized")

	// 3. Initialize datastores
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
		log.Errorf("elasticsearch initialization failed: %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. Initialize repositories
	deviceRepo := repository.NewDeviceRepository(database.DB)
	chunkRepo := repository.NewDeviceChunkRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.RDB)

	// 5. Initialize services (dependency injection)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.SessionTokenExpireHours)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	chunkStore := es.NewStore(es.ESClient, cfg.Elasticsearch.IndexName)
	searchService := service.NewSearchService(embeddingClient, chunkStore, cfg.RAG.TopK)
	chatService := service.NewChatService(searchService, llmClient, conversationRepo, cfg.LLM, cfg.RAG)
	deviceService := service.NewDeviceService(deviceRepo, chunkRepo, cfg.MinIO.BucketName)
	statsService := service.NewStatsService(deviceRepo, chunkRepo)
	classifyService := service.NewClassifyService(deviceRepo, llmClient, cfg.Classify)

	// 6. Initialize the index builder
	builder := pipeline.NewBuilder(deviceRepo, chunkRepo, embeddingClient, chunkStore, cfg.RAG)

	// 7. Start the background Kafka consumer for reindex tasks
	go kafka.StartConsumer(cfg.Kafka, builder)

	// 8. Set Gin mode and create the router
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. Register routes
	chatHandler := handler.NewChatHandler(chatService, jwtManager)

	apiV1 := r.Group("/api/v1")
	{
		apiV1.GET("/health", handler.NewHealthHandler(chunkStore).Health)

		apiV1.GET("/search", handler.NewSearchHandler(searchService).Search)

		devices := apiV1.Group("/devices")
		{
			deviceHandler := handler.NewDeviceHandler(deviceService)
			devices.GET("", deviceHandler.List)
			devices.GET("/:submissionNumber", deviceHandler.Get)
			devices.GET("/:submissionNumber/letter", deviceHandler.LetterURL)
		}

		apiV1.GET("/dashboard", handler.NewStatsHandler(statsService).Dashboard)

		chat := apiV1.Group("/chat")
		{
			chat.POST("/session", chatHandler.CreateSession)

			authed := chat.Group("/")
			authed.Use(middleware.SessionAuthMiddleware(jwtManager))
			{
				authed.POST("/ask", chatHandler.Ask)
				authed.DELETE("/history", chatHandler.ClearHistory)
			}
		}

		admin := apiV1.Group("/admin")
		admin.Use(middleware.AdminAuthMiddleware(cfg.Admin.Token))
		{
			adminHandler := handler.NewAdminHandler(builder, classifyService)
			admin.POST("/index/rebuild", adminHandler.RebuildIndex)
			admin.GET("/index/status", adminHandler.IndexStatus)
			admin.POST("/index/reindex", adminHandler.Reindex)
			admin.POST("/classify", adminHandler.Classify)
		}
	}
	// Websocket chat lives outside the group so the token can ride the path.
	r.GET("/chat/:token", chatHandler.HandleWebsocket)

	// 10. Start the HTTP server with graceful shutdown
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutdown signal received, stopping server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP server shutdown failed: %v", err)
	}
	log.Info("server stopped")
}
