package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clausecheck/backend/config"
	"github.com/clausecheck/backend/handler"
	"github.com/clausecheck/backend/middleware"
	"github.com/clausecheck/backend/pkg/logger"
	"github.com/clausecheck/backend/service"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully")

	// Initialize services
	store, err := service.NewStore(cfg.Store.Path)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var archiveSvc *service.ArchiveService
	if cfg.Archive.Enabled {
		archiveSvc, err = service.NewArchiveService(&cfg.Archive)
		if err != nil {
			slog.Error("failed to initialize archive service", "error", err)
			os.Exit(1)
		}
		if err := archiveSvc.EnsureBucket(context.Background()); err != nil {
			slog.Error("failed to ensure archive bucket", "error", err)
			os.Exit(1)
		}
	}

	llmSvc := service.NewLLMService(&cfg.LLM)
	batchMgr := service.NewBatchManager(llmSvc, store)
	compareMgr := service.NewCompareManager(llmSvc)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(cfg, store)
	contractHandler := handler.NewContractHandler(batchMgr, store, llmSvc, archiveSvc)
	chatHandler := handler.NewChatHandler(llmSvc, store)
	compareHandler := handler.NewCompareHandler(compareMgr, store)
	sessionHandler := handler.NewSessionHandler()

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New() // Use New() instead of Default() to avoid default middleware

	// Add custom middleware
	router.Use(middleware.RequestID())                 // Request ID for tracing
	router.Use(middleware.Recovery())                  // Panic recovery
	router.Use(middleware.RequestLogger())             // Access logging
	router.Use(corsMiddleware())                       // CORS
	router.Use(middleware.RateLimit(100, time.Minute)) // Rate limiting: 100 requests per minute

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Public routes
	api := router.Group("/api")
	{
		api.POST("/auth/login", authHandler.Login)
	}

	// Protected routes
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)
		protected.PUT("/auth/profile", authHandler.UpdateProfile)
		protected.POST("/auth/logout", authHandler.Logout)

		protected.POST("/batches", contractHandler.CreateBatch)
		protected.GET("/batches/:id", contractHandler.GetBatch)
		protected.POST("/batches/:id/files", contractHandler.AddFile)
		protected.POST("/batches/:id/analyze", contractHandler.AnalyzeBatch)
		protected.POST("/batches/:id/files/:fileId/retry", contractHandler.RetryFile)
		protected.DELETE("/batches/:id/files/:fileId", contractHandler.RemoveFile)
		protected.DELETE("/batches/:id/files", contractHandler.ClearBatch)

		protected.GET("/contracts", contractHandler.List)
		protected.GET("/contracts/:id", contractHandler.Get)
		protected.POST("/contracts/:id/clauses/:clauseId/question", contractHandler.AskClauseQuestion)
		protected.GET("/contracts/:id/report", contractHandler.Report)
		protected.GET("/contracts/:id/original", contractHandler.OriginalURL)
		protected.DELETE("/contracts/:id", contractHandler.Delete)
		protected.GET("/recents", contractHandler.Recents)

		protected.POST("/chat", chatHandler.Send)

		protected.POST("/compare", compareHandler.Start)
		protected.GET("/compare/:id", compareHandler.Get)
		protected.POST("/compare/:id/focus", compareHandler.Focus)
		protected.POST("/compare/:id/ask", compareHandler.Ask)

		protected.GET("/session/view", sessionHandler.GetView)
		protected.POST("/session/view", sessionHandler.Navigate)
	}

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 180 * time.Second, // batch analysis responses wait on the backend
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
