package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"vndrag/internal/adapter/answer"
	"vndrag/internal/adapter/metrics"
	"vndrag/internal/adapter/rerank"
	"vndrag/internal/usecase"
)

var (
	askLimit int
	askJSON  bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the indexed documents",
	Long: `Embed the question, retrieve the closest chunks from the collection and send
them to the answer service configured under answer.endpoint.

Examples:
  vndrag ask "What is the business trip allowance?"
  vndrag ask --limit 10 --json "Who approves overtime?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().IntVarP(&askLimit, "limit", "k", 0, "number of chunks to retrieve (default from config)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output as JSON")
}

type askOutput struct {
	Answer    string      `json:"answer"`
	ModelUsed string      `json:"model_used,omitempty"`
	Sources   []askSource `json:"sources"`
}

type askSource struct {
	File  string  `json:"file"`
	Score float64 `json:"score"`
	Chunk int     `json:"chunk"`
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx := cmd.Context()

	a := &app{cfg: cfg, logger: slog.Default(), metrics: metrics.New()}
	defer a.Close()
	if err := a.openIndex(); err != nil {
		return err
	}
	if err := a.openEmbedder(); err != nil {
		return err
	}

	limit := cfg.Answer.SearchLimit
	if askLimit > 0 {
		limit = askLimit
	}

	var opts []usecase.AskOption
	if cfg.Answer.Diversify {
		opts = append(opts, usecase.WithReranker(rerank.NewMMR(cfg.Answer.MMRLambda, cfg.Answer.DedupJaccard), cfg.Answer.Overfetch))
	}

	uc, err := usecase.NewAskUseCase(a.embedder, a.index,
		answer.NewClient(cfg.Answer.Endpoint, cfg.Answer.Timeout),
		limit, cfg.Answer.ModelProvider, opts...)
	if err != nil {
		return err
	}

	res, err := uc.Ask(ctx, strings.Join(args, " "))
	if err != nil && !errors.Is(err, usecase.ErrNoResults) {
		return err
	}

	out := askOutput{Answer: res.Answer, ModelUsed: res.ModelUsed, Sources: []askSource{}}
	for _, s := range res.Sources {
		out.Sources = append(out.Sources, askSource{File: s.Payload.File, Score: s.Score, Chunk: s.Payload.ChunkIndex})
	}

	if askJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Println(out.Answer)
	if len(out.Sources) > 0 {
		fmt.Printf("\nSources:\n")
		for _, s := range out.Sources {
			fmt.Printf("  - %s #%d (%.3f)\n", s.File, s.Chunk, s.Score)
		}
	}
	if out.ModelUsed != "" {
		fmt.Printf("\nModel: %s\n", out.ModelUsed)
	}
	return nil
}
