package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"faqrag/app/server"
	"faqrag/config"
	"faqrag/logger"

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

	lg.Info("configuration loaded", zap.String("env", cfg.Environment))

	if err := server.NewServer(cfg, lg).Run(ctx); err != nil {
		lg.Fatal("server failed", zap.Error(err))
	}
}
