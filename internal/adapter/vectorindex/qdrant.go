package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vndrag/internal/domain"
	"vndrag/internal/port"
	"vndrag/internal/retry"
)

var _ port.VectorIndex = (*Qdrant)(nil)

// QdrantConfig configures the REST client.
type QdrantConfig struct {
	URL         string
	APIKey      string
	Collection  string
	Timeout     time.Duration // per request
	MaxAttempts int
	RetryDelay  time.Duration
	BatchSize   int // points per upsert request
}

// Qdrant is a minimal REST client for one Qdrant collection.
type Qdrant struct {
	url        string
	apiKey     string
	collection string
	timeout    time.Duration
	policy     retry.Policy
	batchSize  int
	client     *http.Client
	logger     *slog.Logger
}

func NewQdrant(cfg QdrantConfig, logger *slog.Logger) *Qdrant {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if logger == nil {
		logger = slog.Default().With("component", "qdrant")
	}
	return &Qdrant{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		timeout:    cfg.Timeout,
		policy:     retry.Policy{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.RetryDelay, MaxDelay: 5 * time.Second},
		batchSize:  cfg.BatchSize,
		client:     &http.Client{},
		logger:     logger,
	}
}

type statusError struct {
	method string
	path   string
	code   int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %d %s", e.method, e.path, e.code, e.body)
}

type collectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors json.RawMessage `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
		PointsCount int `json:"points_count"`
	} `json:"result"`
}

type vectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

// EnsureCollection creates the collection when missing. An existing
// collection with a different size or distance is never modified; it
// yields domain.ErrCollectionMismatch.
func (q *Qdrant) EnsureCollection(ctx context.Context, spec domain.CollectionSpec) error {
	path := "/collections/" + url.PathEscape(q.collection)

	var info collectionInfo
	err := q.do(ctx, http.MethodGet, path, nil, &info)
	var se *statusError
	switch {
	case errors.As(err, &se) && se.code == http.StatusNotFound:
		q.logger.Info("creating collection", "collection", q.collection, "dimension", spec.Dimension, "distance", spec.Distance)
		body := map[string]any{
			"vectors": vectorParams{Size: spec.Dimension, Distance: qdrantDistance(spec.Distance)},
		}
		if err := q.do(ctx, http.MethodPut, path, body, nil); err != nil {
			return fmt.Errorf("create collection %s: %w", q.collection, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("get collection %s: %w", q.collection, err)
	}

	var params vectorParams
	if err := json.Unmarshal(info.Result.Config.Params.Vectors, &params); err != nil || params.Size == 0 {
		return fmt.Errorf("%w: collection %s uses named vectors", domain.ErrCollectionMismatch, q.collection)
	}
	if params.Size != spec.Dimension || !strings.EqualFold(params.Distance, spec.Distance) {
		return fmt.Errorf("%w: collection %s has size=%d distance=%s, want size=%d distance=%s",
			domain.ErrCollectionMismatch, q.collection, params.Size, params.Distance, spec.Dimension, qdrantDistance(spec.Distance))
	}
	return nil
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload domain.Payload `json:"payload"`
}

// Upsert writes points in batches and waits for each batch to be applied.
func (q *Qdrant) Upsert(ctx context.Context, points []domain.IndexPoint) error {
	path := "/collections/" + url.PathEscape(q.collection) + "/points?wait=true"
	for i := 0; i < len(points); i += q.batchSize {
		end := min(i+q.batchSize, len(points))
		batch := make([]qdrantPoint, 0, end-i)
		for _, p := range points[i:end] {
			batch = append(batch, qdrantPoint{ID: p.ID, Vector: p.Vector, Payload: p.Payload})
		}
		if err := q.do(ctx, http.MethodPut, path, map[string]any{"points": batch}, nil); err != nil {
			return fmt.Errorf("%w: upsert %d points: %w", domain.ErrIndexWriteFailed, len(batch), err)
		}
	}
	return nil
}

// Delete removes points by id. Unknown ids are ignored by Qdrant.
func (q *Qdrant) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	path := "/collections/" + url.PathEscape(q.collection) + "/points/delete?wait=true"
	for i := 0; i < len(ids); i += q.batchSize {
		end := min(i+q.batchSize, len(ids))
		if err := q.do(ctx, http.MethodPost, path, map[string]any{"points": ids[i:end]}, nil); err != nil {
			return fmt.Errorf("%w: delete %d points: %w", domain.ErrIndexWriteFailed, end-i, err)
		}
	}
	return nil
}

func (q *Qdrant) Search(ctx context.Context, vector []float32, limit int) ([]domain.ScoredPoint, error) {
	if limit <= 0 {
		limit = 5
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload domain.Payload `json:"payload"`
		} `json:"result"`
	}
	path := "/collections/" + url.PathEscape(q.collection) + "/points/search"
	if err := q.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	results := make([]domain.ScoredPoint, 0, len(resp.Result))
	for _, r := range resp.Result {
		payload := r.Payload
		// points written before "file" existed only carry source_file
		if payload.File == "" {
			payload.File = payload.SourceFile
		}
		results = append(results, domain.ScoredPoint{ID: fmt.Sprint(r.ID), Score: r.Score, Payload: payload})
	}
	return results, nil
}

// do sends one JSON request with retries. 5xx, 429 and transport errors
// are retried; other 4xx responses are not.
func (q *Qdrant) do(ctx context.Context, method, path string, body, out any) error {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return err
		}
	}

	return retry.Do(ctx, q.policy, func(ctx context.Context) error {
		reqCtx, cancel := context.WithTimeout(ctx, q.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, method, q.url+path, bytes.NewReader(data))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if q.apiKey != "" {
			req.Header.Set("api-key", q.apiKey)
		}

		resp, err := q.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			q.logger.Debug("qdrant request failed", "method", method, "path", path, "error", err)
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			se := &statusError{method: method, path: path, code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return se
			}
			return retry.Permanent(se)
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return retry.Permanent(fmt.Errorf("decode qdrant response: %w", err))
			}
		}
		return nil
	})
}

func qdrantDistance(d string) string {
	switch strings.ToLower(d) {
	case "dot":
		return "Dot"
	case "euclid":
		return "Euclid"
	default:
		return "Cosine"
	}
}
