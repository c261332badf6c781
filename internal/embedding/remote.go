package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/altiplano/afin/pkg/utils"
)

// RemoteEncoder calls an Ollama-compatible embedding endpoint
// (POST {base}/api/embed with a batch of inputs). Responses are
// dimension-checked, unit-normalized, and cached by text.
type RemoteEncoder struct {
	baseURL    string
	model      string
	dimensions int
	client     *http.Client
	limiter    *rate.Limiter
	cache      *EmbeddingCache
}

// RemoteOption configures a RemoteEncoder.
type RemoteOption func(*RemoteEncoder)

// WithBaseURL sets the encoder service base URL.
func WithBaseURL(u string) RemoteOption {
	return func(e *RemoteEncoder) { e.baseURL = u }
}

// WithModel sets the embedding model requested from the service.
func WithModel(model string) RemoteOption {
	return func(e *RemoteEncoder) { e.model = model }
}

// WithDimensions sets the expected vector dimension.
func WithDimensions(d int) RemoteOption {
	return func(e *RemoteEncoder) { e.dimensions = d }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) RemoteOption {
	return func(e *RemoteEncoder) { e.client.Timeout = d }
}

// WithRateLimit caps requests per second against the service.
func WithRateLimit(rps float64) RemoteOption {
	return func(e *RemoteEncoder) { e.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// WithCacheSize sets the embedding cache capacity.
func WithCacheSize(n int) RemoteOption {
	return func(e *RemoteEncoder) { e.cache = NewEmbeddingCache(n) }
}

// NewRemoteEncoder creates a client with sensible defaults: a local Ollama
// endpoint, the all-minilm model at 384 dimensions, a 60s timeout, and 10
// requests per second.
func NewRemoteEncoder(opts ...RemoteOption) *RemoteEncoder {
	e := &RemoteEncoder{
		baseURL:    "http://localhost:11434",
		model:      "all-minilm",
		dimensions: 384,
		client:     &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 1),
		cache:      NewEmbeddingCache(4096),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Encode returns the embedding for a single text.
func (e *RemoteEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EncodeBatch returns one embedding per input text, in input order. Cached
// texts are served locally; the rest go to the service in a single request.
func (e *RemoteEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingAt []int
	for i, text := range texts {
		if vec, ok := e.cache.Get(text); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingAt = append(missingAt, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := e.fetch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range fetched {
		e.cache.Set(missing[j], vec)
		out[missingAt[j]] = vec
	}
	return out, nil
}

func (e *RemoteEncoder) fetch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	url := e.baseURL + "/api/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: post %s: %v", ErrEncoderUnavailable, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEncoderUnavailable, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed response has %d vectors for %d inputs", len(parsed.Embeddings), len(texts))
	}
	for i, vec := range parsed.Embeddings {
		if len(vec) != e.dimensions {
			return nil, fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(vec), e.dimensions)
		}
		utils.NormalizeL2(vec)
	}
	return parsed.Embeddings, nil
}

// Dimensions returns the expected embedding dimension.
func (e *RemoteEncoder) Dimensions() int {
	return e.dimensions
}

// ModelName returns the model identifier requests are made with.
func (e *RemoteEncoder) ModelName() string {
	return e.model
}

// Close releases idle connections.
func (e *RemoteEncoder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
