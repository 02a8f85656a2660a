package embedding

import (
	"context"
	"errors"
	"net/http"
	"time"

	"knowthis/internal/metrics"
	"knowthis/internal/model"
	"knowthis/internal/ratelimit"

	openai "github.com/sashabaranov/go-openai"
)

// embeddingThrottleCooldown is the cooldown applied to the embedding
// governor on a 429, since go-openai's APIError does not surface the
// upstream's Retry-After header.
const embeddingThrottleCooldown = 5 * time.Second

// MaxBatchSize is the largest number of texts embedded in a single upstream
// call (spec §4.3: "batch size ≤ 100").
const MaxBatchSize = 100

// Client wraps the OpenAI embeddings API behind the rate governor. Embed
// cuts over-budget text down to its first chunk; EmbedMany sends its texts
// as given, so callers chunk with Split first.
type Client struct {
	oai      *openai.Client
	governor *ratelimit.Governor
	model    openai.EmbeddingModel
	timeout  time.Duration
}

// New creates an embedding Client. apiKey is the shared EMBED_API_KEY that
// also authenticates the LLM query enhancer.
func New(apiKey string, governor *ratelimit.Governor) *Client {
	return &Client{
		oai:      openai.NewClient(apiKey),
		governor: governor,
		model:    openai.AdaEmbeddingV2,
		timeout:  30 * time.Second,
	}
}

// Embed computes a single embedding vector. If text exceeds the chunk
// budget, only its first chunk is embedded — callers that need full
// document coverage should call EmbedMany over Split(text) chunks instead.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(text) > ChunkBudget {
		text = Split(text)[0].Text
	}
	vecs, err := c.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany embeds up to MaxBatchSize texts in one upstream call, preserving
// input order.
func (c *Client) EmbedMany(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	if len(texts) == 0 {
		return nil, nil
	}

	start := time.Now()
	defer func() {
		metrics.EmbeddingGenerationDuration.Observe(time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.EmbeddingGenerations.WithLabelValues(status).Inc()
	}()

	if len(texts) > MaxBatchSize {
		return nil, model.NewError(model.KindUpstreamInvalid, false, "embedding",
			"batch exceeds max size", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp openai.EmbeddingResponse
	err = ratelimit.Retry(ctx, 3, time.Second, model.Transient, func(ctx context.Context) error {
		if err := c.governor.Acquire(ctx, ratelimit.ProviderEmbedding, ratelimit.EndpointEmbeddings); err != nil {
			return err
		}
		r, err := c.oai.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: c.model,
		})
		if err != nil {
			return c.classifyErr(err)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, model.NewError(model.KindUpstreamInvalid, false, "embedding",
			"embedding count mismatch", nil)
	}

	vectors = make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) != model.EmbeddingDim {
			return nil, model.NewError(model.KindEmbeddingDimensionMismatch, false, "embedding",
				"returned embedding dimension mismatch", nil)
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// classifyErr inspects the upstream HTTP status behind a CreateEmbeddings
// failure: 401/403 is a fatal credentials rejection (aborts the run per
// spec §7), 429 is throttled and advances the embedding governor's cooldown
// by the fixed embeddingThrottleCooldown, 5xx/other transport failures are treated
// as a timeout eligible for retry, and any other 4xx is a malformed-request
// failure that should not be retried.
func (c *Client) classifyErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
			return model.NewError(model.KindAuthUpstream, false, "embedding", "embedding credentials rejected", apiErr)
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			c.governor.NotifyRetryAfter(ratelimit.ProviderEmbedding, ratelimit.EndpointEmbeddings, embeddingThrottleCooldown)
			return model.NewError(model.KindUpstreamThrottled, true, "embedding", "embedding rate limited", apiErr)
		case apiErr.HTTPStatusCode >= http.StatusInternalServerError:
			return model.NewError(model.KindUpstreamTimeout, true, "embedding", "embedding upstream error", apiErr)
		case apiErr.HTTPStatusCode >= http.StatusBadRequest:
			return model.NewError(model.KindUpstreamInvalid, false, "embedding", "embedding request rejected", apiErr)
		}
	}
	return model.NewError(model.KindUpstreamTimeout, true, "embedding", "embedding call failed", err)
}
