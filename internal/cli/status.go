package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"vndrag/internal/adapter/store"
	"vndrag/internal/domain"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List indexed documents and the last run",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

type statusOutput struct {
	Collection string                `json:"collection"`
	Records    []domain.IngestRecord `json:"records"`
	LastRun    *store.RunInfo        `json:"last_run,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if _, err := os.Stat(cfg.State.Path); os.IsNotExist(err) {
		return fmt.Errorf("no state found at %s. Run 'vndrag ingest' first", cfg.State.Path)
	}

	a := &app{cfg: cfg, logger: slog.Default()}
	defer a.Close()
	if err := a.openStoreReadOnly(); err != nil {
		if errors.Is(err, domain.ErrRunInProgress) {
			return fmt.Errorf("an ingestion run is writing %s, try again when it finishes", cfg.State.Path)
		}
		return err
	}

	records, err := a.store.List()
	if err != nil {
		return err
	}
	last, err := a.store.LastRunInfo()
	if err != nil {
		return err
	}

	if statusJSON {
		out := statusOutput{Collection: cfg.Index.Collection, Records: records, LastRun: last}
		if out.Records == nil {
			out.Records = []domain.IngestRecord{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("Collection: %s (%s)\n", cfg.Index.Collection, cfg.Index.Backend)
	if last != nil {
		fmt.Printf("Last run:   %s, %s (indexed %d, refreshed %d, unchanged %d, removed %d, failed %d, conflicts %d)\n",
			last.FinishedAt.Local().Format(time.DateTime),
			last.FinishedAt.Sub(last.StartedAt).Round(time.Millisecond),
			last.Committed, last.Refreshed, last.Skipped, last.Purged, last.Failed, last.Conflicts)
	}
	fmt.Printf("Documents:  %d\n\n", len(records))
	if len(records) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tFORMAT\tCHUNKS\tFINGERPRINT\tINGESTED\tSOURCE")
	for _, r := range records {
		fp := r.Fingerprint
		if len(fp) > 12 {
			fp = fp[:12]
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.Key, r.Format, r.ChunkCount, fp, r.IngestedAt.Local().Format(time.DateTime), r.SourceFile)
	}
	return w.Flush()
}
