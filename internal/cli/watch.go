package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"vndrag/internal/adapter/fs"
	"vndrag/internal/domain"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Ingest, then re-ingest whenever the documents folder changes",
	Long: `Run one reconciliation pass and then watch the documents folder. After
changes settle for the debounce period another pass runs. Passes never overlap.
With metrics.listen set, Prometheus metrics are served on that address.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "quiet period before a run (default from config)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if watchDebounce > 0 {
		cfg.Watch.Debounce = watchDebounce
	}
	if err := checkCorpusDir(cfg.Corpus.Dir); err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newIngestApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Metrics.Listen != "" {
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: metricsMux(a), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		a.logger.Info("serving metrics", "addr", cfg.Metrics.Listen)
	}

	// the store is released between passes so status can read it
	if err := a.closeStore(); err != nil {
		return err
	}

	pass := func(ctx context.Context) error {
		if err := a.openStore(); err != nil {
			if errors.Is(err, domain.ErrRunInProgress) {
				a.logger.Warn("another run holds the state store, skipping pass", "path", cfg.State.Path)
				return nil
			}
			return err
		}
		defer func() {
			if err := a.closeStore(); err != nil {
				a.logger.Warn("close state store", "error", err)
			}
		}()

		report, err := runIngest(ctx, a, false)
		if err != nil && domain.IsSystemic(err) {
			return err
		}
		if err != nil {
			a.logger.Warn("ingestion pass incomplete", "error", err)
		}
		if report != nil && len(report.Failures()) > 0 {
			a.logger.Warn("documents failed", "count", len(report.Failures()))
		}
		return nil
	}

	if err := pass(ctx); err != nil {
		return err
	}

	a.logger.Info("watching for changes", "dir", cfg.Corpus.Dir, "debounce", cfg.Watch.Debounce)
	watchCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	watcher := fs.NewWatcher(cfg.Corpus.Dir, cfg.Watch.Debounce, a.logger.With("component", "watcher"))
	if err := watcher.Watch(watchCtx, func(ctx context.Context) {
		if err := pass(ctx); err != nil {
			cancel(err)
		}
	}); err != nil {
		return err
	}

	if cause := context.Cause(watchCtx); cause != nil && !errors.Is(cause, context.Canceled) {
		return fmt.Errorf("watch stopped: %w", cause)
	}
	return nil
}

func metricsMux(a *app) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
