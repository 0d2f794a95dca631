package vectorindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vndrag/internal/domain"
)

// fakeQdrant implements the handful of endpoints the client uses.
type fakeQdrant struct {
	mu         sync.Mutex
	exists     bool
	size       int
	distance   string
	points     map[string]qdrantPoint
	failNext   int // respond 503 this many times
	apiKey     string
	seenAPIKey string
	requests   []string
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{points: make(map[string]qdrantPoint)}
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.seenAPIKey = r.Header.Get("api-key")

	if f.failNext > 0 {
		f.failNext--
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/collections/regs":
		if !f.exists {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"config": map[string]any{"params": map[string]any{
					"vectors": map[string]any{"size": f.size, "distance": f.distance},
				}},
				"points_count": len(f.points),
			},
		})

	case r.Method == http.MethodPut && r.URL.Path == "/collections/regs":
		var body struct {
			Vectors vectorParams `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.exists, f.size, f.distance = true, body.Vectors.Size, body.Vectors.Distance
		_, _ = w.Write([]byte(`{"result":true}`))

	case r.Method == http.MethodPut && r.URL.Path == "/collections/regs/points":
		var body struct {
			Points []qdrantPoint `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, p := range body.Points {
			if len(p.Vector) != f.size {
				http.Error(w, "wrong vector size", http.StatusBadRequest)
				return
			}
			f.points[p.ID] = p
		}
		_, _ = w.Write([]byte(`{"result":{"status":"completed"}}`))

	case r.Method == http.MethodPost && r.URL.Path == "/collections/regs/points/delete":
		var body struct {
			Points []string `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, id := range body.Points {
			delete(f.points, id)
		}
		_, _ = w.Write([]byte(`{"result":{"status":"completed"}}`))

	case r.Method == http.MethodPost && r.URL.Path == "/collections/regs/points/search":
		var result []map[string]any
		for id, p := range f.points {
			result = append(result, map[string]any{"id": id, "score": 0.5, "payload": p.Payload})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": result})

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeQdrant) setFailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
}

func (f *fakeQdrant) pointCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

func (f *fakeQdrant) requestLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func newTestQdrant(t *testing.T, fake *fakeQdrant) *Qdrant {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewQdrant(QdrantConfig{
		URL:         srv.URL,
		APIKey:      "k",
		Collection:  "regs",
		Timeout:     time.Second,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
		BatchSize:   2,
	}, nil)
}

var spec = domain.CollectionSpec{Name: "regs", Dimension: 3, Distance: "Cosine"}

func point(key string, seq int) domain.IndexPoint {
	doc := domain.Document{Key: key, RelPath: key + ".docx", Format: domain.FormatDOCX}
	return domain.NewIndexPoint(doc, domain.Chunk{DocKey: key, Seq: seq, Text: "t"}, []float32{1, 0, 0})
}

func TestQdrant_EnsureCreatesMissingCollection(t *testing.T) {
	fake := newFakeQdrant()
	q := newTestQdrant(t, fake)

	require.NoError(t, q.EnsureCollection(context.Background(), spec))
	assert.True(t, fake.exists)
	assert.Equal(t, 3, fake.size)
	assert.Equal(t, "Cosine", fake.distance)
	assert.Equal(t, "k", fake.seenAPIKey)

	// second call finds it
	require.NoError(t, q.EnsureCollection(context.Background(), spec))
}

func TestQdrant_EnsureMismatchIsFatal(t *testing.T) {
	fake := newFakeQdrant()
	fake.exists, fake.size, fake.distance = true, 1536, "Cosine"
	q := newTestQdrant(t, fake)

	err := q.EnsureCollection(context.Background(), spec)
	assert.ErrorIs(t, err, domain.ErrCollectionMismatch)
	assert.True(t, domain.IsSystemic(err))
	assert.Equal(t, 1536, fake.size, "existing collection must not be modified")
}

func TestQdrant_UpsertDeleteSearch(t *testing.T) {
	fake := newFakeQdrant()
	q := newTestQdrant(t, fake)
	ctx := context.Background()
	require.NoError(t, q.EnsureCollection(ctx, spec))

	points := []domain.IndexPoint{point("a", 0), point("a", 1), point("a", 2), point("b", 0)}
	require.NoError(t, q.Upsert(ctx, points))
	assert.Equal(t, 4, fake.pointCount())

	upserts := 0
	for _, r := range fake.requestLog() {
		if r == "PUT /collections/regs/points" {
			upserts++
		}
	}
	assert.Equal(t, 2, upserts, "4 points in batches of 2")

	// idempotent
	require.NoError(t, q.Upsert(ctx, points))
	assert.Equal(t, 4, fake.pointCount())

	require.NoError(t, q.Delete(ctx, []string{points[0].ID, points[1].ID, "00000000-0000-0000-0000-000000000000"}))
	assert.Equal(t, 2, fake.pointCount())

	hits, err := q.Search(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, h.Payload.DocKey+".docx", h.Payload.File)
	}
}

func TestQdrant_RetriesServerErrors(t *testing.T) {
	fake := newFakeQdrant()
	q := newTestQdrant(t, fake)
	ctx := context.Background()
	require.NoError(t, q.EnsureCollection(ctx, spec))

	fake.setFailNext(2)
	require.NoError(t, q.Upsert(ctx, []domain.IndexPoint{point("a", 0)}))
	assert.Equal(t, 1, fake.pointCount())
}

func TestQdrant_ExhaustedRetriesIsWriteFailure(t *testing.T) {
	fake := newFakeQdrant()
	q := newTestQdrant(t, fake)
	ctx := context.Background()
	require.NoError(t, q.EnsureCollection(ctx, spec))

	fake.setFailNext(10)
	err := q.Upsert(ctx, []domain.IndexPoint{point("a", 0)})
	assert.ErrorIs(t, err, domain.ErrIndexWriteFailed)
	assert.False(t, domain.IsSystemic(err))
}

func TestQdrant_ClientErrorNotRetried(t *testing.T) {
	fake := newFakeQdrant()
	q := newTestQdrant(t, fake)
	ctx := context.Background()
	require.NoError(t, q.EnsureCollection(ctx, spec))

	bad := point("a", 0)
	bad.Vector = []float32{1}
	before := len(fake.requestLog())
	err := q.Upsert(ctx, []domain.IndexPoint{bad})
	assert.ErrorIs(t, err, domain.ErrIndexWriteFailed)
	assert.Equal(t, before+1, len(fake.requestLog()))
}

func TestQdrant_LegacyPayloadFallsBackToSourceFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":[{"id":17,"score":0.9,"payload":{"text":"old","source_file":"old.pdf"}}]}`))
	}))
	defer srv.Close()

	q := NewQdrant(QdrantConfig{URL: srv.URL, Collection: "regs"}, nil)
	hits, err := q.Search(context.Background(), []float32{1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "17", hits[0].ID)
	assert.Equal(t, "old.pdf", hits[0].Payload.File)
	assert.True(t, strings.HasPrefix(hits[0].Payload.Text, "old"))
}
