package embedding

import (
	"context"
	"fmt"
	"os"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"vndrag/config"
	"vndrag/internal/port"
)

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	openAIBaseURL     = "https://api.openai.com/v1"
	ollamaBaseURL     = "http://localhost:11434/v1"
)

// KnownDimension returns the output size of well-known embedding models.
func KnownDimension(model string) (int, bool) {
	switch model {
	case "google/gemini-embedding-001", "gemini-embedding-001":
		return 3072, true
	case "text-embedding-3-small", "openai/text-embedding-3-small", "text-embedding-ada-002":
		return 1536, true
	case "text-embedding-3-large", "openai/text-embedding-3-large":
		return 3072, true
	case "nomic-embed-text":
		return 768, true
	case "mxbai-embed-large":
		return 1024, true
	case "all-minilm":
		return 384, true
	}
	return 0, false
}

// langchainProvider adapts a langchaingo embedder to port.EmbeddingProvider.
type langchainProvider struct {
	embedder embeddings.Embedder
}

func (p *langchainProvider) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	return p.embedder.EmbedDocuments(ctx, texts)
}

// NewProvider builds the remote embedding call for cfg.Provider. All
// supported remote providers speak the OpenAI embeddings API.
func NewProvider(cfg config.EmbeddingConfig) (port.EmbeddingProvider, error) {
	if cfg.Provider == "mock" {
		return NewMockProvider(cfg.Dimension), nil
	}

	if dim, ok := KnownDimension(cfg.Model); ok && dim != cfg.Dimension {
		return nil, fmt.Errorf("embedding.dimension is %d but %s produces %d", cfg.Dimension, cfg.Model, dim)
	}

	baseURL := cfg.BaseURL
	token := ""
	switch cfg.Provider {
	case "openrouter":
		if baseURL == "" {
			baseURL = openRouterBaseURL
		}
		token = os.Getenv(cfg.APIKeyEnv)
	case "openai":
		if baseURL == "" {
			baseURL = openAIBaseURL
		}
		token = os.Getenv(cfg.APIKeyEnv)
	case "ollama":
		if baseURL == "" {
			baseURL = ollamaBaseURL
		}
		token = "ollama"
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
	if token == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", cfg.APIKeyEnv)
	}

	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Provider, err)
	}

	// batching is done by Client; the wrapper gets one request per call
	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(max(cfg.BatchSize, 1)),
	)
	if err != nil {
		return nil, err
	}

	return &langchainProvider{embedder: embedder}, nil
}
