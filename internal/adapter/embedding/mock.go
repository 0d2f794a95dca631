package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// MockProvider returns deterministic unit vectors derived from a hash of
// the text. It counts calls so tests can assert that nothing was embedded.
type MockProvider struct {
	// CreateEmbeddingFunc replaces the default behaviour when set.
	CreateEmbeddingFunc func(ctx context.Context, texts []string) ([][]float32, error)

	dimension int

	mu        sync.Mutex
	callCount int
	textCount int
}

func NewMockProvider(dimension int) *MockProvider {
	return &MockProvider{dimension: dimension}
}

func (m *MockProvider) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.callCount++
	m.textCount += len(texts)
	fn := m.CreateEmbeddingFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, texts)
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = DeterministicVector(text, m.dimension)
	}
	return out, nil
}

// CallCount returns the number of CreateEmbedding calls.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// TextCount returns the number of texts embedded.
func (m *MockProvider) TextCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.textCount
}

// DeterministicVector maps text to a normalised vector of size dim.
func DeterministicVector(text string, dim int) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		// xorshift keeps neighbouring components unrelated
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		v := float64(seed%2000)/1000.0 - 1.0
		vec[i] = float32(v)
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
