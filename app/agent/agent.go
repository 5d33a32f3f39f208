package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"faqrag/model"

	"github.com/avast/retry-go/v4"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

const systemPrompt = `You are a helpful multilingual FAQ assistant. Answer in the language of the question.
Answer clearly and to the point, using only the given context and without adding any additional information.
If the context is empty or doesn't contain any information to answer, say so.
Don't add introductions like 'Of course!' or 'Here's the answer:'`

// Generator produces an answer for question from the retrieved context.
type Generator interface {
	GenerateAnswer(ctx context.Context, docContext, question string) (string, error)
	Model() string
}

type GenerateRequest struct {
	Model  string `json:"model"`
	System string `json:"system"`
	Prompt string `json:"prompt"`
}

type GenerateResponse struct {
	Response string `json:"response"`
}

// LLMClient talks to an Ollama compatible /api/generate endpoint.
type LLMClient struct {
	url       string
	model     string
	token     string
	client    *http.Client
	retryOpts []retry.Option
}

var _ Generator = (*LLMClient)(nil)

func NewLLMClient(url, model, token string, timeout time.Duration, retryOpts ...retry.Option) *LLMClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &LLMClient{
		url:       url,
		model:     model,
		token:     token,
		client:    &http.Client{Timeout: timeout},
		retryOpts: retryOpts,
	}
}

func (l *LLMClient) Model() string {
	return l.model
}

func (l *LLMClient) GenerateAnswer(ctx context.Context, docContext, question string) (string, error) {
	if l.url == "" || l.model == "" {
		return "", fmt.Errorf("%w: LLM url or model is empty", model.ErrNotConfigured)
	}

	start := time.Now()
	log := ctxzap.Extract(ctx)

	prompt := fmt.Sprintf(`Answer the question based on the given context. If there is no information in the provided context or the context is empty, say that there is no information for this request. Nothing else.
Context:
%s
Question:
%s
Answer:`, docContext, question)

	reqBody, err := json.Marshal(GenerateRequest{
		Model:  l.model,
		System: systemPrompt,
		Prompt: prompt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	if log.Core().Enabled(zap.DebugLevel) {
		log.Debug("prompt prepared",
			zap.Int("tokens", model.CountTokens(string(reqBody))),
			zap.Int("bytes", len(reqBody)),
		)
	}

	opts := append([]retry.Option{
		retry.Context(ctx),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("retrying LLM request", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	}, l.retryOpts...)

	answer, err := retry.DoWithData(func() (string, error) {
		return l.generateOnce(ctx, reqBody)
	}, opts...)
	if err != nil {
		return "", err
	}

	log.Info("LLM answer generated", zap.Duration("took", time.Since(start)))
	return answer, nil
}

func (l *LLMClient) generateOnce(ctx context.Context, reqBody []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", model.ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &model.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return parseGenerateBody(body)
}

// parseGenerateBody accepts a single JSON object or a newline delimited stream.
func parseGenerateBody(body []byte) (string, error) {
	var genResp GenerateResponse
	if err := json.Unmarshal(body, &genResp); err == nil && genResp.Response != "" {
		return strings.TrimSpace(genResp.Response), nil
	}

	var output strings.Builder
	decoder := json.NewDecoder(bytes.NewReader(body))
	for decoder.More() {
		var chunk GenerateResponse
		if err := decoder.Decode(&chunk); err != nil {
			break
		}
		output.WriteString(chunk.Response)
	}
	if output.Len() == 0 {
		return "", errors.New("LLM returned an empty answer")
	}
	return strings.TrimSpace(output.String()), nil
}

func isRetryable(err error) bool {
	if !retry.IsRecoverable(err) {
		return false
	}
	if errors.Is(err, model.ErrUnavailable) {
		return true
	}
	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	return false
}
