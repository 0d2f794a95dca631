package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"vndrag/config"
	"vndrag/internal/adapter/embedding"
	"vndrag/internal/adapter/lock"
	"vndrag/internal/adapter/metrics"
	"vndrag/internal/adapter/store"
	"vndrag/internal/adapter/vectorindex"
	"vndrag/internal/domain"
	"vndrag/internal/port"
)

// app holds the long-lived collaborators shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	store    *store.BoltStore
	index    port.VectorIndex
	embedder port.Embedder
	locker   port.Locker
	closers  []func() error
}

// Close releases everything the app opened, in reverse order. The store
// was opened first and is closed last.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	errs = append(errs, a.closeStore())
	return errors.Join(errs...)
}

// openStore opens the state store for writing. It holds the file lock
// until closeStore, so a second run fails fast with
// domain.ErrRunInProgress.
func (a *app) openStore() error {
	if err := config.EnsureDataDir(a.cfg.State.Path); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	st, err := store.NewBoltStore(a.cfg.State.Path, a.cfg.State.LockTimeout)
	if err != nil {
		return err
	}
	a.store = st
	return nil
}

// openStoreReadOnly opens an existing store under a shared lock, so
// any number of readers can inspect it between runs.
func (a *app) openStoreReadOnly() error {
	st, err := store.OpenReadOnly(a.cfg.State.Path, a.cfg.State.LockTimeout)
	if err != nil {
		return err
	}
	a.store = st
	return nil
}

func (a *app) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func (a *app) openIndex() error {
	switch a.cfg.Index.Backend {
	case "local":
		idx, err := vectorindex.OpenLocal(a.cfg.Index.LocalPath, a.cfg.State.LockTimeout)
		if err != nil {
			return err
		}
		a.index = idx
		a.closers = append(a.closers, idx.Close)
	case "qdrant":
		a.index = vectorindex.NewQdrant(vectorindex.QdrantConfig{
			URL:         a.cfg.Index.URL,
			APIKey:      os.Getenv(a.cfg.Index.APIKeyEnv),
			Collection:  a.cfg.Index.Collection,
			Timeout:     a.cfg.Index.Timeout,
			MaxAttempts: a.cfg.Index.MaxAttempts,
			RetryDelay:  a.cfg.Index.RetryDelay,
		}, a.logger.With("component", "qdrant"))
	default:
		return fmt.Errorf("unsupported index backend: %s", a.cfg.Index.Backend)
	}
	return nil
}

func (a *app) openEmbedder() error {
	provider, err := embedding.NewProvider(a.cfg.Embedding)
	if err != nil {
		return err
	}
	a.embedder = embedding.NewClient(provider, a.cfg.Embedding.Model, a.cfg.Embedding.Dimension,
		embedding.WithLogger(a.logger.With("component", "embedding")),
		embedding.WithMetrics(a.metrics),
		embedding.WithBatchSize(a.cfg.Embedding.BatchSize),
		embedding.WithTimeout(a.cfg.Embedding.Timeout),
		embedding.WithRetry(a.cfg.Embedding.MaxAttempts, a.cfg.Embedding.RetryDelay),
		embedding.WithRateLimit(a.cfg.Embedding.RequestsPerSecond),
	)
	return nil
}

func (a *app) openLocker(ctx context.Context) error {
	switch a.cfg.Lock.Backend {
	case "redis":
		r, err := lock.NewRedis(ctx, lock.RedisConfig{
			Addr:     a.cfg.Lock.RedisAddr,
			Password: os.Getenv(a.cfg.Lock.RedisPasswordEnv),
			DB:       a.cfg.Lock.RedisDB,
			Prefix:   a.cfg.Lock.Prefix,
			TTL:      a.cfg.Lock.TTL,
		}, a.logger.With("component", "lock"))
		if err != nil {
			return err
		}
		a.locker = r
		a.closers = append(a.closers, r.Close)
	default:
		a.locker = lock.NewLocal()
	}
	return nil
}

// newIngestApp opens everything a reconciliation run needs.
func newIngestApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: slog.Default(), metrics: metrics.New()}
	steps := []func() error{
		a.openStore,
		a.openIndex,
		a.openEmbedder,
		func() error { return a.openLocker(ctx) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func collectionSpec(cfg *config.Config) domain.CollectionSpec {
	return domain.CollectionSpec{
		Name:      cfg.Index.Collection,
		Dimension: cfg.Embedding.Dimension,
		Distance:  cfg.Index.Distance,
	}
}
