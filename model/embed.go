package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// EmbedderInterface creates embeddings for text.
type EmbedderInterface interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// CachedEmbedder memoizes embeddings of repeated texts, typically chat questions.
type CachedEmbedder struct {
	next  EmbedderInterface
	cache *cache.Cache
}

func NewCachedEmbedder(next EmbedderInterface, ttl time.Duration) *CachedEmbedder {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedEmbedder{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (e *CachedEmbedder) Model() string {
	return e.next.Model()
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if v, ok := e.cache.Get(key); ok {
		ctxzap.Debug(ctx, "embedding cache hit")
		return v.([]float32), nil
	}

	embedding, err := e.next.Embed(ctx, text)
	if err != nil {
		ctxzap.Error(ctx, "embedding failed", zap.String("model", e.next.Model()), zap.Error(err))
		return nil, err
	}
	e.cache.Set(key, embedding, cache.DefaultExpiration)
	return embedding, nil
}

// Len is the number of cached embeddings.
func (e *CachedEmbedder) Len() int {
	return e.cache.ItemCount()
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
