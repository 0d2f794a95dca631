// Package answer calls the external answer-generation service.
package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"vndrag/internal/port"
)

// ErrAnswerFailed is returned for non-200 responses.
var ErrAnswerFailed = errors.New("answer service failed")

var _ port.Answerer = (*Client)(nil)

type Client struct {
	endpoint string
	client   *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Answer posts the question and context and decodes the reply. It is
// not retried: generation is expensive and not guaranteed idempotent.
func (c *Client) Answer(ctx context.Context, req port.AnswerRequest) (port.AnswerResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return port.AnswerResponse{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return port.AnswerResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return port.AnswerResponse{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return port.AnswerResponse{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200]
		}
		return port.AnswerResponse{}, fmt.Errorf("%w: status %d: %s", ErrAnswerFailed, resp.StatusCode, preview)
	}

	var out port.AnswerResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return port.AnswerResponse{}, fmt.Errorf("failed to parse response: %w", err)
	}
	return out, nil
}
