package server

import (
	"context"
	"fmt"
	"time"

	"faqrag/app/agent"
	"faqrag/app/api"
	"faqrag/app/middleware"
	"faqrag/config"
	"faqrag/loader"
	"faqrag/model"
	"faqrag/store"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Deps are the services the HTTP API is built on.
type Deps struct {
	Store     store.DBStorer
	Ingestor  *loader.Ingestor
	Lister    *loader.Lister
	Assistant api.ChatService
}

type Server struct {
	cfg    *config.Config
	logger *zap.Logger
}

func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// NewApp builds the fiber application with every route registered.
func NewApp(logger *zap.Logger, bodyLimit int, deps Deps) *fiber.App {
	var (
		app = fiber.New(fiber.Config{
			ErrorHandler: api.ErrorHandler,
			BodyLimit:    bodyLimit,
		})
		checkHandler    = api.NewCheckHandler(deps.Store)
		chatHandler     = api.NewChatHandler(deps.Assistant)
		documentHandler = api.NewDocumentHandler(deps.Ingestor, deps.Lister)
		check           = app.Group("/check")
		apiGroup        = app.Group("/api")
	)

	app.Use(requestid.New(requestid.Config{ContextKey: middleware.RequestIDKey}))
	app.Use(middleware.Logger(logger))
	app.Use(recover.New())

	check.Get("/healthy", checkHandler.HandleHealthy)
	check.Get("/ready", checkHandler.HandleReady)

	apiGroup.Post("/chat", chatHandler.HandleChat)
	apiGroup.Get("/chat", chatHandler.HandleStats)

	apiGroup.Post("/documents", documentHandler.HandleUpload)
	apiGroup.Post("/documents/url", documentHandler.HandleUploadURL)
	apiGroup.Get("/documents", documentHandler.HandleList)
	apiGroup.Put("/documents", documentHandler.HandleUpdate)
	apiGroup.Delete("/documents", documentHandler.HandleDelete)

	return app
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	db, err := store.Open(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("error to connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			s.logger.Error("error closing database", zap.Error(err))
		}
	}()

	retryOpts := s.cfg.Retry.ToRetryOptions()
	embedder := model.NewOllamaEmbedder(s.cfg.Embedding.URL, s.cfg.Embedding.Model, s.cfg.Embedding.Timeout, retryOpts...)
	queryEmbedder := model.NewCachedEmbedder(embedder, s.cfg.Embedding.CacheTTL)

	pipeline := loader.NewEmbedPipeline(loader.NewChunker(s.cfg.Chunk.Size, s.cfg.Chunk.Overlap), embedder, db)
	fetcher := loader.NewPageFetcher(s.cfg.Embedding.Timeout, s.cfg.MaxUploadSize, retryOpts...)
	ingestor := loader.NewIngestor(db, loader.NewNormalizer(s.cfg.MaxUploadSize), pipeline, fetcher)

	llm := agent.NewLLMClient(s.cfg.LLM.URL, s.cfg.LLM.Model, s.cfg.LLM.Token, s.cfg.LLM.Timeout, retryOpts...)
	assistant := agent.NewAssistant(db, queryEmbedder, llm, s.cfg.Search, s.cfg.Chunk.Overlap)

	if s.cfg.LLM.URL == "" || s.cfg.LLM.Model == "" {
		s.logger.Warn("LLM_URL or LLM_MODEL is not set, chat requests will fail")
	}

	// Base64 bodies are a third larger than the file they carry.
	bodyLimit := int(s.cfg.MaxUploadSize*2) + 1<<20
	app := NewApp(s.logger, bodyLimit, Deps{
		Store:     db,
		Ingestor:  ingestor,
		Lister:    loader.NewLister(db),
		Assistant: assistant,
	})

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", s.cfg.ServerAddr), zap.String("store", s.cfg.StoreDriver))
		errCh <- app.Listen(s.cfg.ServerAddr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("error to start server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}
