package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"faqrag/config"
	"faqrag/loader"
	"faqrag/loader/service"
	"faqrag/logger"
	"faqrag/model"
	"faqrag/store"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg)
	if err != nil {
		lg.Fatal("error to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			lg.Error("error closing database", zap.Error(err))
		}
	}()

	retryOpts := cfg.Retry.ToRetryOptions()
	embedder := model.NewOllamaEmbedder(cfg.Embedding.URL, cfg.Embedding.Model, cfg.Embedding.Timeout, retryOpts...)
	pipeline := loader.NewEmbedPipeline(loader.NewChunker(cfg.Chunk.Size, cfg.Chunk.Overlap), embedder, db)
	ingestor := loader.NewIngestor(db, loader.NewNormalizer(cfg.MaxUploadSize), pipeline, nil)

	lg.Info("loader service starting",
		zap.String("env", cfg.Environment),
		zap.String("store", cfg.StoreDriver),
		zap.String("source_dir", cfg.Loader.SourceDir),
	)

	if err := service.New(cfg.Loader, ingestor, lg).Run(ctx); err != nil {
		lg.Error("loader service failed", zap.Error(err))
	}
	lg.Info("loader service stopped")
}
