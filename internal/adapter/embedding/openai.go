package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"shelfcheck/internal/domain"
)

const maxBatch = 100

type OpenAIEmbedder struct {
	apiKey    string
	model     string
	baseURL   string
	dimension int
	client    *http.Client
	limiter   *rate.Limiter
	backoff   func() retry.Backoff
}

// Options tunes an OpenAIEmbedder. Zero values fall back to defaults.
type Options struct {
	Timeout           time.Duration
	MaxRetries        uint64
	RetryBase         time.Duration
	RequestsPerSecond float64
	Dimension         int
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Usage embeddingUsage  `json:"usage"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func NewOpenAIEmbedder(apiKeyEnv, model string, opts Options) (*OpenAIEmbedder, error) {
	return NewOpenAICompatibleEmbedder(apiKeyEnv, model, "https://api.openai.com/v1", opts)
}

func NewOpenAICompatibleEmbedder(apiKeyEnv, model, baseURL string, opts Options) (*OpenAIEmbedder, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
	}
	return newHTTPEmbedder(apiKey, model, baseURL, opts), nil
}

func newHTTPEmbedder(apiKey, model, baseURL string, opts Options) *OpenAIEmbedder {
	dimension := opts.Dimension
	if dimension <= 0 {
		dimension = modelDimension(model)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 500 * time.Millisecond
	}

	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = int(opts.RequestsPerSecond) + 1
	}

	maxRetries := opts.MaxRetries
	base := opts.RetryBase
	return &OpenAIEmbedder{
		apiKey:    apiKey,
		model:     model,
		baseURL:   baseURL,
		dimension: dimension,
		client:    &http.Client{Timeout: opts.Timeout},
		limiter:   rate.NewLimiter(limit, burst),
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(maxRetries, retry.WithCappedDuration(10*time.Second, retry.NewFibonacci(base)))
		},
	}
}

func modelDimension(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	case "jina-embeddings-v3", "mxbai-embed-large":
		return 1024
	case "nomic-embed-text":
		return 768
	case "all-minilm", "paraphrase-multilingual-MiniLM-L12-v2":
		return 384
	default:
		return 1536
	}
}

// Embed sends texts in sub-batches of at most 100. Any sub-batch failure
// fails the whole call with ErrEmbeddingUnavailable.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	allEmbeddings := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += maxBatch {
		end := i + maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		embeddings, err := e.embedWithRetry(ctx, batch)
		if err != nil {
			return nil, domain.EmbeddingError("embed", err)
		}
		allEmbeddings = append(allEmbeddings, embeddings...)
	}

	return allEmbeddings, nil
}

func (e *OpenAIEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	attempt := 0
	err := retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
		attempt++
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
		embeddings, err := e.embedBatch(ctx, texts)
		if err != nil {
			var re *retryableError
			if errors.As(err, &re) {
				log.Warn().Err(err).Int("attempt", attempt).Str("model", e.model).Msg("embedding request failed, retrying")
				return retry.RetryableError(err)
			}
			return err
		}
		out = embeddings
		return nil
	})
	return out, err
}

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embeddingRequest{
		Input: texts,
		Model: e.model,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &retryableError{fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &retryableError{fmt.Errorf("API returned status %d: %s", resp.StatusCode, preview(body))}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, preview(body))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response (body: %s): %w", preview(body), err)
	}

	if embResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", embResp.Error.Message)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range embResp.Data {
		if data.Index >= 0 && data.Index < len(embeddings) {
			embeddings[data.Index] = data.Embedding
		}
	}
	for i, emb := range embeddings {
		if emb == nil {
			return nil, fmt.Errorf("response is missing embedding %d of %d", i, len(texts))
		}
	}

	return embeddings, nil
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}
