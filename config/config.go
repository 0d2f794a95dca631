package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the ingestion tool.
type Config struct {
	Corpus    CorpusConfig    `yaml:"corpus"`
	State     StateConfig     `yaml:"state"`
	Chunk     ChunkConfig     `yaml:"chunk"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Lock      LockConfig      `yaml:"lock"`
	Answer    AnswerConfig    `yaml:"answer"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Watch     WatchConfig     `yaml:"watch"`
}

// CorpusConfig describes where source documents live.
type CorpusConfig struct {
	Dir      string   `yaml:"dir"`
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

// StateConfig locates the fingerprint store.
type StateConfig struct {
	Path        string        `yaml:"path"`
	LockTimeout time.Duration `yaml:"lock_timeout"` // wait for another run to release the store
}

// ChunkConfig controls chunk boundaries. Sizes are in characters.
type ChunkConfig struct {
	MaxChars     int `yaml:"max_chars"`
	OverlapChars int `yaml:"overlap_chars"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"` // "openrouter", "openai", "ollama", "mock"
	BaseURL           string        `yaml:"base_url"` // empty = provider default
	Model             string        `yaml:"model"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Dimension         int           `yaml:"dimension"`
	BatchSize         int           `yaml:"batch_size"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 = unlimited
}

// IndexConfig selects and configures the vector index.
type IndexConfig struct {
	Backend     string        `yaml:"backend"` // "qdrant", "local"
	URL         string        `yaml:"url"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Collection  string        `yaml:"collection"`
	Distance    string        `yaml:"distance"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	LocalPath   string        `yaml:"local_path"`
}

// IngestConfig holds reconciliation settings.
type IngestConfig struct {
	Workers   int    `yaml:"workers"`
	PDFToText string `yaml:"pdftotext"` // path or name of the pdftotext binary
}

// LockConfig selects the per-document single-flight lock.
type LockConfig struct {
	Backend          string        `yaml:"backend"` // "local", "redis"
	RedisAddr        string        `yaml:"redis_addr"`
	RedisPasswordEnv string        `yaml:"redis_password_env"`
	RedisDB          int           `yaml:"redis_db"`
	TTL              time.Duration `yaml:"ttl"`
	Prefix           string        `yaml:"prefix"`
}

// AnswerConfig points at the answer-generation service used by "ask".
type AnswerConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	ModelProvider string        `yaml:"model_provider"` // "openai", "gemini"
	SearchLimit   int           `yaml:"search_limit"`
	Timeout       time.Duration `yaml:"timeout"`

	// Diversify reranks Overfetch*SearchLimit hits with MMR so overlapping
	// chunks of one document do not crowd out other passages.
	Diversify    bool    `yaml:"diversify"`
	Overfetch    int     `yaml:"overfetch"`
	MMRLambda    float64 `yaml:"mmr_lambda"`
	DedupJaccard float64 `yaml:"dedup_jaccard"`
}

// MetricsConfig controls where run metrics are published.
type MetricsConfig struct {
	Textfile       string `yaml:"textfile"`        // node_exporter textfile collector path
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
	Listen         string `yaml:"listen"` // /metrics address for the watch command, e.g. ":9102"
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text", "json"
}

// WatchConfig holds settings for the watch command.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Corpus: CorpusConfig{
			Dir:      "documents",
			Includes: []string{"**/*.docx", "**/*.pdf"},
			Excludes: []string{"**/~$*", "**/.*", "**/.*/**"},
		},
		State: StateConfig{
			Path:        filepath.Join(".vndrag", "state.db"),
			LockTimeout: 5 * time.Second,
		},
		Chunk: ChunkConfig{
			MaxChars:     1000,
			OverlapChars: 200,
		},
		Embedding: EmbeddingConfig{
			Provider:    "openrouter",
			Model:       "google/gemini-embedding-001",
			APIKeyEnv:   "OPENROUTER_API_KEY",
			Dimension:   3072,
			BatchSize:   64,
			Timeout:     60 * time.Second,
			MaxAttempts: 5,
			RetryDelay:  time.Second,
		},
		Index: IndexConfig{
			Backend:     "qdrant",
			URL:         "http://qdrant:6333",
			APIKeyEnv:   "QDRANT_API_KEY",
			Collection:  "internal_regulations_v2",
			Distance:    "Cosine",
			Timeout:     30 * time.Second,
			MaxAttempts: 5,
			RetryDelay:  500 * time.Millisecond,
			LocalPath:   filepath.Join(".vndrag", "index.db"),
		},
		Ingest: IngestConfig{
			Workers:   4,
			PDFToText: "pdftotext",
		},
		Lock: LockConfig{
			Backend:          "local",
			RedisAddr:        "redis:6379",
			RedisPasswordEnv: "REDIS_PASSWORD",
			TTL:              10 * time.Minute,
			Prefix:           "vndrag:lock:",
		},
		Answer: AnswerConfig{
			Endpoint:      "http://rag-bot:8000/generate_answer",
			ModelProvider: "openai",
			SearchLimit:   5,
			Timeout:       60 * time.Second,
			Diversify:     true,
			Overfetch:     3,
			MMRLambda:     0.7,
			DedupJaccard:  0.8,
		},
		Metrics: MetricsConfig{
			Job: "vndrag_ingest",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Watch: WatchConfig{
			Debounce: 5 * time.Second,
		},
	}
}

// Load loads configuration from a YAML file, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnv()
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for vndrag.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "vndrag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".vndrag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadDotEnv loads a .env file from dir into the process environment.
// Variables already set win over the file.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

// envBindings maps config keys to the environment variable names used by
// the existing docker-compose deployment.
var envBindings = [][2]string{
	{"corpus.dir", "DOCUMENTS_DIR"},
	{"state.path", "STATE_PATH"},
	{"embedding.model", "OPENROUTER_EMBEDDING_MODEL"},
	{"embedding.provider", "EMBEDDING_PROVIDER"},
	{"embedding.base_url", "EMBEDDING_BASE_URL"},
	{"embedding.dimension", "EMBEDDING_DIMENSION"},
	{"index.collection", "QDRANT_COLLECTION_NAME"},
	{"index.url", "QDRANT_URL"},
	{"index.host", "QDRANT_HOST"},
	{"index.port", "QDRANT_PORT"},
	{"answer.endpoint", "RAG_BOT_ENDPOINT"},
	{"answer.search_limit", "SEARCH_LIMIT"},
	{"logging.level", "LOG_LEVEL"},
	{"lock.redis_addr", "REDIS_ADDR"},
}

// ApplyEnv overrides fields from environment variables. Empty variables
// are ignored, and so is an integer variable that does not parse.
// QDRANT_HOST and QDRANT_PORT compose the index URL unless QDRANT_URL
// is set.
func (c *Config) ApplyEnv() {
	v := viper.New()
	for _, b := range envBindings {
		_ = v.BindEnv(b[0], b[1])
	}

	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	num := func(key string, dst *int) {
		if !v.IsSet(key) {
			return
		}
		if n, err := strconv.Atoi(v.GetString(key)); err == nil {
			*dst = n
		}
	}

	str("corpus.dir", &c.Corpus.Dir)
	str("state.path", &c.State.Path)
	str("embedding.model", &c.Embedding.Model)
	str("embedding.provider", &c.Embedding.Provider)
	str("embedding.base_url", &c.Embedding.BaseURL)
	num("embedding.dimension", &c.Embedding.Dimension)
	str("index.collection", &c.Index.Collection)
	str("answer.endpoint", &c.Answer.Endpoint)
	num("answer.search_limit", &c.Answer.SearchLimit)
	str("logging.level", &c.Logging.Level)
	str("lock.redis_addr", &c.Lock.RedisAddr)

	if v.IsSet("index.host") || v.IsSet("index.port") {
		v.SetDefault("index.host", "qdrant")
		v.SetDefault("index.port", "6333")
		c.Index.URL = fmt.Sprintf("http://%s:%s", v.GetString("index.host"), v.GetString("index.port"))
	}
	str("index.url", &c.Index.URL)
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Corpus.Dir == "" {
		errs = append(errs, errors.New("corpus.dir is required"))
	}
	if c.State.Path == "" {
		errs = append(errs, errors.New("state.path is required"))
	}
	if c.Chunk.MaxChars < 50 {
		errs = append(errs, fmt.Errorf("chunk.max_chars must be at least 50, got %d", c.Chunk.MaxChars))
	}
	if c.Chunk.OverlapChars < 0 || c.Chunk.OverlapChars*2 > c.Chunk.MaxChars {
		errs = append(errs, fmt.Errorf("chunk.overlap_chars must be between 0 and half of max_chars, got %d", c.Chunk.OverlapChars))
	}

	switch c.Embedding.Provider {
	case "openrouter", "openai", "ollama", "mock":
	default:
		errs = append(errs, fmt.Errorf("unsupported embedding provider: %s", c.Embedding.Provider))
	}
	if c.Embedding.Model == "" {
		errs = append(errs, errors.New("embedding.model is required"))
	}
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, errors.New("embedding.dimension must be positive"))
	}
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, errors.New("embedding.batch_size must be positive"))
	}
	if c.Embedding.MaxAttempts <= 0 {
		errs = append(errs, errors.New("embedding.max_attempts must be positive"))
	}
	if c.Embedding.Timeout <= 0 {
		errs = append(errs, errors.New("embedding.timeout must be positive"))
	}

	switch c.Index.Backend {
	case "qdrant":
		if c.Index.URL == "" {
			errs = append(errs, errors.New("index.url is required for the qdrant backend"))
		}
	case "local":
		if c.Index.LocalPath == "" {
			errs = append(errs, errors.New("index.local_path is required for the local backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported index backend: %s", c.Index.Backend))
	}
	if c.Index.Collection == "" {
		errs = append(errs, errors.New("index.collection is required"))
	}
	switch strings.ToLower(c.Index.Distance) {
	case "cosine", "dot", "euclid":
	default:
		errs = append(errs, fmt.Errorf("unsupported index distance: %s", c.Index.Distance))
	}
	if c.Index.MaxAttempts <= 0 {
		errs = append(errs, errors.New("index.max_attempts must be positive"))
	}

	if c.Ingest.Workers <= 0 {
		errs = append(errs, errors.New("ingest.workers must be positive"))
	}

	switch c.Lock.Backend {
	case "local":
	case "redis":
		if c.Lock.RedisAddr == "" {
			errs = append(errs, errors.New("lock.redis_addr is required for the redis lock"))
		}
		if c.Lock.TTL <= 0 {
			errs = append(errs, errors.New("lock.ttl must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported lock backend: %s", c.Lock.Backend))
	}

	switch c.Answer.ModelProvider {
	case "openai", "gemini":
	default:
		errs = append(errs, fmt.Errorf("unsupported answer model provider: %s", c.Answer.ModelProvider))
	}
	if c.Answer.SearchLimit <= 0 {
		errs = append(errs, errors.New("answer.search_limit must be positive"))
	}
	if c.Answer.Diversify {
		if c.Answer.MMRLambda < 0 || c.Answer.MMRLambda > 1 {
			errs = append(errs, fmt.Errorf("answer.mmr_lambda must be between 0 and 1, got %g", c.Answer.MMRLambda))
		}
		if c.Answer.DedupJaccard <= 0 || c.Answer.DedupJaccard > 1 {
			errs = append(errs, fmt.Errorf("answer.dedup_jaccard must be in (0, 1], got %g", c.Answer.DedupJaccard))
		}
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// LogLevel parses logging.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}
	return lvl, nil
}

// Resolve makes relative paths absolute against base.
func (c *Config) Resolve(base string) {
	abs := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	abs(&c.Corpus.Dir)
	abs(&c.State.Path)
	abs(&c.Index.LocalPath)
	if c.Metrics.Textfile != "" {
		abs(&c.Metrics.Textfile)
	}
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// EnsureDataDir ensures the directory holding the state file exists.
func EnsureDataDir(statePath string) error {
	return os.MkdirAll(filepath.Dir(statePath), 0755)
}
