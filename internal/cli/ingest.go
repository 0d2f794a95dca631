package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"vndrag/internal/adapter/chunker"
	"vndrag/internal/adapter/extract"
	"vndrag/internal/adapter/fs"
	"vndrag/internal/adapter/store"
	"vndrag/internal/domain"
	"vndrag/internal/usecase"
)

var (
	ingestStrict     bool
	ingestNoProgress bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Reconcile the documents folder with the vector collection",
	Long: `Walk the documents folder, index new and changed documents and remove
documents that no longer exist. When a document exists as both .docx and .pdf
the .docx is used.

A document that fails is reported and retried on the next run; it does not
stop the others. Exit status is 1 when the run could not complete and, with
--strict, 2 when any document failed.

Examples:
  vndrag ingest                 # Use corpus.dir from the config
  vndrag ingest ./regulations   # Ingest a specific folder
  vndrag ingest --strict        # Fail the job if any document failed`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngestCmd,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().BoolVar(&ingestStrict, "strict", false, "exit with status 2 if any document failed")
	ingestCmd.Flags().BoolVar(&ingestNoProgress, "no-progress", false, "disable the progress bar")
}

func runIngestCmd(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if len(args) > 0 {
		dir, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
		cfg.Corpus.Dir = dir
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

	report, err := runIngest(ctx, a, !ingestNoProgress)
	printReport(report)
	if err != nil {
		return err
	}
	if ingestStrict && len(report.Failures()) > 0 {
		return &exitError{code: 2, err: fmt.Errorf("%d document(s) failed", len(report.Failures()))}
	}
	return nil
}

func checkCorpusDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("documents folder does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("documents folder is not a directory: %s", dir)
	}
	return nil
}

// runIngest performs one reconciliation pass with a's collaborators and
// publishes the run's outcome.
func runIngest(ctx context.Context, a *app, showProgress bool) (*usecase.RunReport, error) {
	cfg := a.cfg

	pdf := extract.NewPDF(cfg.Ingest.PDFToText)
	if err := pdf.CheckAvailable(); err != nil {
		a.logger.Warn("pdf extraction unavailable, pdf documents will fail", "error", err, "hint", extract.InstallInstructions())
	}

	opts := []usecase.IngestOption{
		usecase.WithConfigHash(store.ComputeConfigHash(cfg)),
		usecase.WithWorkers(cfg.Ingest.Workers),
		usecase.WithLogger(a.logger.With("component", "ingest")),
		usecase.WithMetrics(a.metrics),
	}
	if showProgress {
		opts = append(opts, usecase.WithProgress(newProgress()))
	}

	uc, err := usecase.NewIngestUseCase(usecase.IngestDeps{
		Walker:     fs.NewWalker(cfg.Corpus.Includes, cfg.Corpus.Excludes),
		Extractor:  extract.NewRegistry(extract.NewDOCX(), pdf),
		Chunker:    chunker.NewTextChunker(cfg.Chunk.MaxChars, cfg.Chunk.OverlapChars),
		Embedder:   a.embedder,
		Index:      a.index,
		Store:      a.store,
		Locker:     a.locker,
		Collection: collectionSpec(cfg),
	}, opts...)
	if err != nil {
		return nil, err
	}

	report, runErr := uc.Run(ctx, cfg.Corpus.Dir)

	if !errors.Is(runErr, domain.ErrStoreUnavailable) && !errors.Is(runErr, domain.ErrStoreCorrupt) {
		info := store.RunInfo{
			StartedAt:  report.StartedAt,
			FinishedAt: report.FinishedAt,
			Committed:  report.Count(domain.StateCommitted),
			Refreshed:  report.Count(domain.StateRefreshed),
			Skipped:    report.Count(domain.StateSkipped),
			Failed:     report.Count(domain.StateFailed),
			Purged:     report.Count(domain.StateRemoved),
			Conflicts:  len(report.Conflicts),
		}
		if err := a.store.PutRunInfo(info); err != nil {
			a.logger.Warn("failed to record run summary", "error", err)
		}
	}

	if err := a.metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		a.logger.Warn("metrics textfile", "error", err)
	}
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.metrics.Push(pushCtx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
		a.logger.Warn("metrics push", "error", err)
	}

	return report, runErr
}

// newProgress returns a ProgressFunc drawing a bar on stderr. The bar is
// created on the first call, once the number of documents is known.
func newProgress() usecase.ProgressFunc {
	var (
		mu  sync.Mutex
		bar *progressbar.ProgressBar
	)
	return func(done, total int, res usecase.DocResult) {
		mu.Lock()
		defer mu.Unlock()

		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Ingesting[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(os.Stderr)
				}),
			)
		}
		bar.Describe(fmt.Sprintf("[cyan]Ingesting[reset] %s", res.Key))
		_ = bar.Set(done)
	}
}

func printReport(report *usecase.RunReport) {
	if report == nil {
		return
	}

	fmt.Printf("\nIngestion %s in %s:\n", runOutcome(report), report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	fmt.Printf("  Indexed:    %d\n", report.Count(domain.StateCommitted))
	fmt.Printf("  Refreshed:  %d (file changed, text unchanged)\n", report.Count(domain.StateRefreshed))
	fmt.Printf("  Unchanged:  %d\n", report.Count(domain.StateSkipped))
	fmt.Printf("  Removed:    %d\n", report.Count(domain.StateRemoved))
	fmt.Printf("  Failed:     %d\n", report.Count(domain.StateFailed))
	if n := report.Count(domain.StateBusy); n > 0 {
		fmt.Printf("  Busy:       %d (being ingested elsewhere)\n", n)
	}
	if len(report.Ignored) > 0 {
		fmt.Printf("  Ignored:    %d (unsupported format)\n", len(report.Ignored))
	}

	if len(report.Conflicts) > 0 {
		fmt.Printf("\nConflicts (rename one of the files):\n")
		for _, c := range report.Conflicts {
			fmt.Printf("  - %s\n", c.Error())
		}
	}

	if failures := report.Failures(); len(failures) > 0 {
		fmt.Printf("\nFailures:\n")
		for _, f := range failures {
			fmt.Printf("  - %s (%s, %s): %v\n", f.Key, f.Path, f.Stage, f.Err)
		}
	}
}

func runOutcome(report *usecase.RunReport) string {
	if report.Interrupted {
		return "interrupted"
	}
	return "complete"
}
