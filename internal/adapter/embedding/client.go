package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"vndrag/internal/adapter/metrics"
	"vndrag/internal/domain"
	"vndrag/internal/port"
	"vndrag/internal/retry"
)

var _ port.Embedder = (*Client)(nil)

// Client batches texts, bounds each call with a timeout and retries
// transient failures with backoff.
type Client struct {
	provider  port.EmbeddingProvider
	model     string
	dimension int
	batchSize int
	timeout   time.Duration
	policy    retry.Policy
	limiter   *rate.Limiter
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithBatchSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithTimeout bounds every single provider call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.policy.MaxAttempts = maxAttempts
		}
		c.policy.BaseDelay = baseDelay
	}
}

// WithRateLimit caps batch requests per second; 0 disables the limit.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

func NewClient(provider port.EmbeddingProvider, model string, dimension int, opts ...Option) *Client {
	c := &Client{
		provider:  provider,
		model:     model,
		dimension: dimension,
		batchSize: 64,
		timeout:   60 * time.Second,
		policy:    retry.Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
		logger:    slog.Default().With("component", "embedding"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Dimension() int    { return c.dimension }
func (c *Client) ModelName() string { return c.model }

// Embed returns one vector per text in input order. A batch that still
// fails after the retry budget fails the whole call with
// domain.ErrEmbeddingFailed.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += c.batchSize {
		end := min(i+c.batchSize, len(texts))

		vecs, err := c.embedBatch(ctx, texts[i:end])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.metrics.EmbeddingAttempt("failed")
			return nil, fmt.Errorf("%w: batch %d-%d of %d: %w", domain.ErrEmbeddingFailed, i, end, len(texts), err)
		}
		out = append(out, vecs...)
	}

	c.metrics.AddChunksEmbedded(len(out))
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var result [][]float32
	attempt := 0
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			c.metrics.EmbeddingAttempt("retry")
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		vecs, err := c.provider.CreateEmbedding(callCtx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			c.logger.Debug("embedding attempt failed", "attempt", attempt, "batch", len(batch), "error", err)
			if isPermanentStatus(err) {
				return retry.Permanent(err)
			}
			return err
		}
		if err := c.validate(batch, vecs); err != nil {
			return retry.Permanent(err)
		}
		result = vecs
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.metrics.EmbeddingAttempt("ok")
	return result, nil
}

func (c *Client) validate(batch []string, vecs [][]float32) error {
	if len(vecs) != len(batch) {
		return fmt.Errorf("%w: got %d vectors for %d texts", domain.ErrMalformedResponse, len(vecs), len(batch))
	}
	for i, v := range vecs {
		if len(v) != c.dimension {
			return fmt.Errorf("%w: vector %d has dimension %d, want %d", domain.ErrMalformedResponse, i, len(v), c.dimension)
		}
	}
	return nil
}

var statusCode = regexp.MustCompile(`status code:? (\d{3})`)

// isPermanentStatus reports client errors other than rate limiting.
// langchaingo reports HTTP failures only as text.
func isPermanentStatus(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	m := statusCode.FindStringSubmatch(err.Error())
	if m == nil {
		return false
	}
	code, _ := strconv.Atoi(m[1])
	return code >= 400 && code < 500 && code != 408 && code != 429
}
