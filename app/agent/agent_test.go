package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"faqrag/model"

	"github.com/avast/retry-go/v4"
)

func TestGenerateAnswerJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "llama3" {
			t.Errorf("expected model llama3, got %q", req.Model)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		fmt.Fprint(w, `{"response":" Ship within 3 days. "}`)
	}))
	defer srv.Close()

	llm := NewLLMClient(srv.URL, "llama3", "secret", 0, retry.Attempts(1))
	answer, err := llm.GenerateAnswer(context.Background(), "ctx", "question")
	if err != nil {
		t.Fatalf("GenerateAnswer: %v", err)
	}
	if answer != "Ship within 3 days." {
		t.Fatalf("unexpected answer %q", answer)
	}
}

func TestGenerateAnswerStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"Hel"}`)
		fmt.Fprintln(w, `{"response":"lo"}`)
		fmt.Fprintln(w, `{"response":"","done":true}`)
	}))
	defer srv.Close()

	answer, err := NewLLMClient(srv.URL, "m", "", 0, retry.Attempts(1)).GenerateAnswer(context.Background(), "", "q")
	if err != nil {
		t.Fatalf("GenerateAnswer: %v", err)
	}
	if answer != "Hello" {
		t.Fatalf("unexpected answer %q", answer)
	}
}

func TestGenerateAnswerRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"response":"ok"}`)
	}))
	defer srv.Close()

	llm := NewLLMClient(srv.URL, "m", "", 0, retry.Attempts(3), retry.Delay(0), retry.LastErrorOnly(true))
	if _, err := llm.GenerateAnswer(context.Background(), "", "q"); err != nil {
		t.Fatalf("GenerateAnswer: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestGenerateAnswerDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewLLMClient(srv.URL, "m", "", 0, retry.Attempts(3), retry.Delay(0)).GenerateAnswer(context.Background(), "", "q")
	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected HTTPError 400, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestGenerateAnswerUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewLLMClient(url, "m", "", 0, retry.Attempts(2), retry.Delay(0)).GenerateAnswer(context.Background(), "", "q")
	if !errors.Is(err, model.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestGenerateAnswerNotConfigured(t *testing.T) {
	_, err := NewLLMClient("", "", "", 0).GenerateAnswer(context.Background(), "", "q")
	if !errors.Is(err, model.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
