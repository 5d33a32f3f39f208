package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/avast/retry-go/v4"
)

func TestOllamaEmbedNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req OllamaEmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "nomic-embed-text" || req.Prompt != "hello" {
			t.Errorf("unexpected request %+v", req)
		}
		fmt.Fprint(w, `{"embedding":[3,4]}`)
	}))
	defer srv.Close()

	vec, err := NewOllamaEmbedder(srv.URL, "nomic-embed-text", 0, retry.Attempts(1)).Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || math.Abs(float64(vec[0])-0.6) > 1e-6 || math.Abs(float64(vec[1])-0.8) > 1e-6 {
		t.Fatalf("expected unit vector, got %v", vec)
	}
}

func TestOllamaEmbedRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"embedding":[1,0]}`)
	}))
	defer srv.Close()

	_, err := NewOllamaEmbedder(srv.URL, "m", 0, retry.Attempts(3), retry.Delay(0)).Embed(context.Background(), "x")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestOllamaEmbedEmptyEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"embedding":[]}`)
	}))
	defer srv.Close()

	if _, err := NewOllamaEmbedder(srv.URL, "m", 0, retry.Attempts(1)).Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}

func TestOllamaEmbedNotConfigured(t *testing.T) {
	_, err := NewOllamaEmbedder("", "", 0).Embed(context.Background(), "x")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

type countingEmbedder struct {
	calls int
}

func (c *countingEmbedder) Embed(context.Context, string) ([]float32, error) {
	c.calls++
	return []float32{1}, nil
}

func (c *countingEmbedder) Model() string { return "counting" }

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cached.Embed(ctx, "same question"); err != nil {
			t.Fatalf("Embed: %v", err)
		}
	}
	cached.Embed(ctx, "other question")

	if inner.calls != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", inner.calls)
	}
	if cached.Len() != 2 || cached.Model() != "counting" {
		t.Fatalf("unexpected cache state: len=%d model=%s", cached.Len(), cached.Model())
	}
}
