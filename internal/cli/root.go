package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"vndrag/config"
)

var (
	cfgFile   string
	cfg       *config.Config
	rootDir   string
	logFormat string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "vndrag",
	Short: "Incrementally index a folder of DOCX and PDF documents into a vector database",
	Long: `vndrag keeps a vector collection in step with a folder of regulation documents.
Each run extracts text from new or changed files, splits it into overlapping
chunks, embeds them and writes them to the collection; documents removed from
the folder are removed from the collection. Unchanged documents cost nothing.

Example usage:
  vndrag ingest                      # Reconcile ./documents with the collection
  vndrag status                      # Show what is indexed
  vndrag ask "How many vacation days do I get?"
  vndrag watch                       # Re-run whenever the folder changes`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if err := config.LoadDotEnv(rootDir); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logFormat != "" {
			cfg.Logging.Format = logFormat
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config:\n%w", err)
		}
		cfg.Resolve(rootDir)

		setupLogger(cfg)
		return nil
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the running
// command, which then stops at the next safe point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./vndrag.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "base directory for relative paths (default is current directory)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func setupLogger(cfg *config.Config) {
	level, _ := cfg.LogLevel()
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// exitError carries a specific process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}
