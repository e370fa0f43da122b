package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/inkwell-labs/inkwell/internal/api"
	"github.com/inkwell-labs/inkwell/internal/config"
	"github.com/inkwell-labs/inkwell/internal/draft"
	"github.com/inkwell-labs/inkwell/internal/embedding"
	"github.com/inkwell-labs/inkwell/internal/generator"
	"github.com/inkwell-labs/inkwell/internal/retriever"
	"github.com/inkwell-labs/inkwell/internal/service"
	"github.com/inkwell-labs/inkwell/internal/store"
)

var (
	configPath = flag.String("config", "", "Path to config file")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database
	db, err := store.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize stores
	chunkStore := store.NewChunkStore(db, cfg.Database.WriteBatchSize)
	draftStore := store.NewDraftStore(db)

	// One rate limiter shared by every embedding caller: its timestamp is
	// the only cross-session mutable state in the pipeline.
	limiter := rate.NewLimiter(rate.Every(cfg.MinInterval()), 1)
	embedClient := embedding.NewClient(embedding.ClientConfig{
		BaseURL: cfg.Embedding.BaseURL,
		APIKey:  cfg.Embedding.APIKey,
		Model:   cfg.Embedding.Model,
	})
	batcher := embedding.NewBatcher(embedClient, limiter, cfg.Embedding.BatchSize, logger)

	// Retrieval + generation
	ret := retriever.New(chunkStore, batcher, logger)
	completionClient := generator.NewClient(generator.ClientConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
	})
	gen := generator.New(completionClient, logger)

	// Draft sessions
	sessions := draft.NewManager(draftStore, cfg.Debounce(), logger)

	// Initialize services
	ingestService := service.NewIngestService(chunkStore, batcher, service.IngestConfig{
		MaxTokens:     cfg.Chunker.MaxTokens,
		OverlapTokens: cfg.Chunker.OverlapTokens,
	}, logger)

	draftingService := service.NewDraftingService(ret, gen, sessions, service.DraftingConfig{
		EvidenceLimit: cfg.Retrieval.EvidenceLimit,
		MaxTokens:     cfg.LLM.MaxTokens,
	}, logger)

	// Setup router
	router := api.SetupRouter(ingestService, draftingService, logger, api.RouterConfig{
		APIKey:       cfg.Admin.APIKey,
		AllowOrigins: []string{"*"},
	})

	// Create HTTP server. Write timeout stays generous because section
	// generation holds the response open while tokens stream.
	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting Inkwell server",
			zap.String("address", cfg.Address()),
			zap.String("base_url", cfg.Server.BaseURL),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
