package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gradenerd/internal/analyzer"
	"gradenerd/internal/config"
	"gradenerd/internal/grader"
	"gradenerd/internal/orchestrator"
	"gradenerd/internal/scanner"
)

var (
	// Global flags
	configPath string
	logLevel   string
	verbose    bool

	// Grade flags
	dataRoot    string
	promptPath  string
	outputRoot  string
	concurrency int64
	excludes    []string
	model       string
	timeout     time.Duration

	// Analyze flags
	saveStats bool

	// Shared state built in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd grades every submission folder under the data root.
var rootCmd = &cobra.Command{
	Use:   "grader",
	Short: "AI assignment grader",
	Long: `grader scans a directory of student submission folders, extracts their
content (code, text, notebooks, images), grades each one against a
rubric using Gemini, and writes one feedback file per submission.

Submissions are graded concurrently under a global ceiling. Failures
are isolated: one bad submission never stops the rest of the run.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; real env vars win either way.
		_ = godotenv.Load()

		var err error
		cfg, err = loadConfig()
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}

		zcfg := zap.NewProductionConfig()
		if cfg.Logging.Format != "json" {
			zcfg.Encoding = "console"
			zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}
		zcfg.Level = zap.NewAtomicLevelAt(cfg.Logging.ZapLevel())
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runGrade,
}

// analyzeCmd summarizes a finished run from its feedback files.
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Compute score statistics from an output directory",
	Long: `Reads the feedback files a grading run produced and prints score
statistics: mean, median, spread, the score distribution, and which
submissions failed or were left ungraded.`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "grader.yaml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "shorthand for --log-level debug")

	rootCmd.Flags().StringVarP(&dataRoot, "data", "d", "", "directory of submission folders")
	rootCmd.Flags().StringVarP(&promptPath, "prompt", "p", "", "grading rubric markdown file")
	rootCmd.Flags().StringVarP(&outputRoot, "output", "o", "", "output directory for feedback")
	rootCmd.Flags().Int64VarP(&concurrency, "concurrency", "j", 0, "max submissions graded at once")
	rootCmd.Flags().StringSliceVarP(&excludes, "exclude", "e", nil, "extra ignore patterns (gitignore syntax)")
	rootCmd.Flags().StringVarP(&model, "model", "m", "", "Gemini model name")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 0, "per-submission grading timeout")

	analyzeCmd.Flags().StringVarP(&outputRoot, "output", "o", "", "output directory containing feedback files")
	analyzeCmd.Flags().BoolVar(&saveStats, "save", false, "also write the report to <output>/stats.md")

	rootCmd.AddCommand(analyzeCmd)
}

// loadConfig merges the YAML config with any flags the user set.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataRoot != "" {
		cfg.DataRoot = dataRoot
	}
	if promptPath != "" {
		cfg.PromptPath = promptPath
	}
	if outputRoot != "" {
		cfg.OutputRoot = outputRoot
	}
	if concurrency > 0 {
		cfg.Run.Concurrency = concurrency
	}
	if len(excludes) > 0 {
		cfg.Run.Exclude = append(cfg.Run.Exclude, excludes...)
	}
	if model != "" {
		cfg.LLM.Model = model
	}
	if timeout > 0 {
		cfg.LLM.Timeout = timeout.String()
	}
	return cfg, nil
}

func runGrade(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	rubricBytes, err := os.ReadFile(cfg.PromptPath)
	if err != nil {
		return fmt.Errorf("read grading prompt: %w", err)
	}
	rubric := strings.TrimSpace(string(rubricBytes))
	if rubric == "" {
		return fmt.Errorf("grading prompt %s is empty", cfg.PromptPath)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := grader.NewGemini(ctx, cfg.LLM.APIKey, cfg.LLM.Model, cfg.GradingTimeout(), logger)
	if err != nil {
		return fmt.Errorf("create grading client: %w", err)
	}

	var guardrails grader.Guardrails // zero value leaves scores alone
	if cfg.Guardrails.Enabled {
		guardrails = grader.Guardrails{
			Min:   cfg.Guardrails.Min,
			Max:   cfg.Guardrails.Max,
			OutOf: cfg.Guardrails.OutOf,
		}
	}

	o := orchestrator.New(
		scanner.New(logger, 0),
		client,
		logger,
		orchestrator.Options{
			DataRoot:        cfg.DataRoot,
			OutputRoot:      cfg.OutputRoot,
			Rubric:          rubric,
			Concurrency:     cfg.Run.Concurrency,
			ExcludePatterns: cfg.Run.Exclude,
			Guardrails:      guardrails,
		},
	)

	res, err := o.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("\nGraded %d/%d submissions (%d failed, %d ungraded) in %s\n",
		res.Succeeded, res.Total, res.Failed, res.Ungraded, res.Duration.Round(time.Millisecond))
	for _, t := range res.Tasks {
		if t.Status == orchestrator.StatusFailed {
			fmt.Printf("  failed: %s: %v\n", t.Submission, t.Err)
		}
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d submission(s) failed", res.Failed)
	}
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	rep, err := analyzer.Analyze(cfg.OutputRoot)
	if err != nil {
		return err
	}
	md := rep.Markdown()
	fmt.Println(md)

	if saveStats {
		path := filepath.Join(cfg.OutputRoot, "stats.md")
		if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
			return fmt.Errorf("save stats report: %w", err)
		}
		logger.Info("saved stats report", zap.String("path", path))
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
