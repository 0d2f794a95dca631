package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"vndrag/internal/domain"
	"vndrag/internal/port"
)

// NoInformationAnswer is returned when the index holds nothing relevant.
const NoInformationAnswer = "No information was found in the documents for this question."

// AskUseCase answers a question from the indexed corpus: it embeds the
// question, retrieves the nearest chunks and hands them to the answer
// service.
type AskUseCase struct {
	embedder      port.Embedder
	index         port.VectorIndex
	answerer      port.Answerer
	limit         int
	modelProvider string
	reranker      port.Reranker
	overfetch     int
	logger        *slog.Logger
}

// AskOption configures an AskUseCase.
type AskOption func(*AskUseCase)

// WithReranker retrieves overfetch times the limit and lets r pick the
// final hits.
func WithReranker(r port.Reranker, overfetch int) AskOption {
	return func(u *AskUseCase) {
		u.reranker = r
		u.overfetch = max(overfetch, 1)
	}
}

// AskResult carries the answer and the chunks it was generated from.
type AskResult struct {
	Answer    string
	ModelUsed string
	Sources   []domain.ScoredPoint
}

func NewAskUseCase(embedder port.Embedder, index port.VectorIndex, answerer port.Answerer, limit int, modelProvider string, opts ...AskOption) (*AskUseCase, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if index == nil {
		return nil, ErrIndexRequired
	}
	if answerer == nil {
		return nil, ErrAnswererRequired
	}
	if limit <= 0 {
		limit = 5
	}
	u := &AskUseCase{
		embedder:      embedder,
		index:         index,
		answerer:      answerer,
		limit:         limit,
		modelProvider: modelProvider,
		overfetch:     1,
		logger:        slog.Default().With("component", "ask"),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// Ask returns ErrNoResults together with a NoInformationAnswer result when
// the search comes back empty; the answer service is not called then.
func (u *AskUseCase) Ask(ctx context.Context, question string) (*AskResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("question is empty")
	}

	vectors, err := u.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	hits, err := u.index.Search(ctx, vectors[0], u.limit*u.overfetch)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if u.reranker != nil {
		n := len(hits)
		hits = u.reranker.Rerank(hits, u.limit)
		u.logger.Debug("reranked context", "candidates", n, "kept", len(hits))
	} else if len(hits) > u.limit {
		hits = hits[:u.limit]
	}
	if len(hits) == 0 {
		return &AskResult{Answer: NoInformationAnswer}, ErrNoResults
	}

	items := make([]port.ContextItem, 0, len(hits))
	for _, h := range hits {
		file := h.Payload.File
		if file == "" {
			file = h.Payload.SourceFile
		}
		items = append(items, port.ContextItem{Text: h.Payload.Text, File: file})
	}

	resp, err := u.answerer.Answer(ctx, port.AnswerRequest{
		Question:      question,
		Context:       items,
		ModelProvider: u.modelProvider,
	})
	if err != nil {
		return nil, err
	}

	return &AskResult{Answer: resp.Answer, ModelUsed: resp.ModelUsed, Sources: hits}, nil
}
