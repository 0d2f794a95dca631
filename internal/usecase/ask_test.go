package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vndrag/internal/adapter/embedding"
	"vndrag/internal/domain"
	"vndrag/internal/port"
)

type stubSearch struct {
	memIndex
	hits  []domain.ScoredPoint
	limit int
}

func (s *stubSearch) Search(_ context.Context, _ []float32, limit int) ([]domain.ScoredPoint, error) {
	s.limit = limit
	return s.hits, nil
}

type recordingAnswerer struct {
	calls int
	req   port.AnswerRequest
	err   error
}

func (r *recordingAnswerer) Answer(_ context.Context, req port.AnswerRequest) (port.AnswerResponse, error) {
	r.calls++
	r.req = req
	if r.err != nil {
		return port.AnswerResponse{}, r.err
	}
	return port.AnswerResponse{Answer: "Twenty days.", ModelUsed: "gpt-test"}, nil
}

func newEmbedder() port.Embedder {
	return embedding.NewClient(embedding.NewMockProvider(testDim), "mock", testDim, embedding.WithRetry(1, 0))
}

func TestAskBuildsContextFromHits(t *testing.T) {
	index := &stubSearch{hits: []domain.ScoredPoint{
		{ID: "1", Score: 0.9, Payload: domain.Payload{Text: "Vacation is 20 days.", File: "vacation.docx"}},
		{ID: "2", Score: 0.7, Payload: domain.Payload{Text: "Sick leave rules.", SourceFile: "leave.pdf"}},
	}}
	answerer := &recordingAnswerer{}

	uc, err := NewAskUseCase(newEmbedder(), index, answerer, 3, "gemini")
	require.NoError(t, err)

	res, err := uc.Ask(context.Background(), "  How long is vacation? ")
	require.NoError(t, err)
	assert.Equal(t, "Twenty days.", res.Answer)
	assert.Equal(t, "gpt-test", res.ModelUsed)
	assert.Len(t, res.Sources, 2)

	assert.Equal(t, 3, index.limit)
	assert.Equal(t, "How long is vacation?", answerer.req.Question)
	assert.Equal(t, "gemini", answerer.req.ModelProvider)
	assert.Equal(t, []port.ContextItem{
		{Text: "Vacation is 20 days.", File: "vacation.docx"},
		{Text: "Sick leave rules.", File: "leave.pdf"},
	}, answerer.req.Context)
}

type takeLast struct{ got int }

func (r *takeLast) Rerank(hits []domain.ScoredPoint, k int) []domain.ScoredPoint {
	r.got = len(hits)
	return hits[len(hits)-k:]
}

func TestAskRerankerPicksFromOverfetchedHits(t *testing.T) {
	index := &stubSearch{hits: []domain.ScoredPoint{
		{ID: "1", Payload: domain.Payload{Text: "one", File: "a.pdf"}},
		{ID: "2", Payload: domain.Payload{Text: "two", File: "b.pdf"}},
		{ID: "3", Payload: domain.Payload{Text: "three", File: "c.pdf"}},
		{ID: "4", Payload: domain.Payload{Text: "four", File: "d.pdf"}},
	}}
	answerer := &recordingAnswerer{}
	reranker := &takeLast{}

	uc, err := NewAskUseCase(newEmbedder(), index, answerer, 2, "openai", WithReranker(reranker, 3))
	require.NoError(t, err)

	res, err := uc.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, 6, index.limit)
	assert.Equal(t, 4, reranker.got)
	require.Len(t, res.Sources, 2)
	assert.Equal(t, "3", res.Sources[0].ID)
	assert.Equal(t, []port.ContextItem{{Text: "three", File: "c.pdf"}, {Text: "four", File: "d.pdf"}}, answerer.req.Context)
}

func TestAskWithoutHitsSkipsAnswerService(t *testing.T) {
	answerer := &recordingAnswerer{}
	uc, err := NewAskUseCase(newEmbedder(), &stubSearch{}, answerer, 5, "openai")
	require.NoError(t, err)

	res, err := uc.Ask(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrNoResults)
	require.NotNil(t, res)
	assert.Equal(t, NoInformationAnswer, res.Answer)
	assert.Zero(t, answerer.calls)
}

func TestAskPropagatesAnswerFailure(t *testing.T) {
	boom := errors.New("service down")
	index := &stubSearch{hits: []domain.ScoredPoint{{ID: "1", Payload: domain.Payload{Text: "x", File: "x.pdf"}}}}
	uc, err := NewAskUseCase(newEmbedder(), index, &recordingAnswerer{err: boom}, 5, "openai")
	require.NoError(t, err)

	_, err = uc.Ask(context.Background(), "q")
	assert.ErrorIs(t, err, boom)
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	uc, err := NewAskUseCase(newEmbedder(), &stubSearch{}, &recordingAnswerer{}, 5, "openai")
	require.NoError(t, err)

	_, err = uc.Ask(context.Background(), "   ")
	assert.Error(t, err)
}
