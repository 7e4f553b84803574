package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"skilllab/internal/config"
	"skilllab/internal/dataset"
	"skilllab/internal/llm"
	"skilllab/internal/logging"
	"skilllab/internal/monitor"
	"skilllab/internal/ocr"
	"skilllab/internal/pipeline"
	"skilllab/internal/reconcile"
	"skilllab/internal/review"
	"skilllab/internal/steps"
	"skilllab/internal/store"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Logger, built once in PersistentPreRunE
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "skilllab",
	Short: "SkillLab - resume ingestion and training-data pipeline",
	Long: `SkillLab turns resume PDFs into structured training data.

The pipeline OCRs each document, extracts a structured record through an
Ollama-served model, validates it against the source text with bounded
auto-correction, and materializes approved records into a Donut-style
training dataset. Documents that fail quality checks land in a human
review queue.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		appConfig = cfg
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// appConfig is the loaded configuration, available to every subcommand
// after PersistentPreRunE.
var appConfig *config.Config

// app bundles the long-lived collaborators a subcommand needs. Stores are
// opened lazily so read-only commands do not create databases.
type app struct {
	cfg     *config.Config
	metrics *store.MetricsStore
	review  *store.ReviewStore
	log     *zap.Logger
}

func buildApp() (*app, error) {
	cfg := appConfig
	if err := cfg.Paths.EnsureDirs(); err != nil {
		return nil, err
	}

	metrics, err := store.NewMetricsStore(cfg.Monitoring.MetricsDB, logger)
	if err != nil {
		return nil, err
	}
	reviewStore, err := store.NewReviewStore(cfg.Review.DBPath, logger)
	if err != nil {
		metrics.Close()
		return nil, err
	}

	return &app{cfg: cfg, metrics: metrics, review: reviewStore, log: logger}, nil
}

func (a *app) close() {
	a.metrics.Close()
	a.review.Close()
}

func (a *app) ocrClient() *ocr.Client {
	return ocr.NewClient(a.cfg.OCR.ServiceURL, a.cfg.GetOCRTimeout(), a.log)
}

func (a *app) llmClient() *llm.Client {
	return llm.NewClient(llm.Config{
		GenerateURL: a.cfg.Structure.OllamaURL,
		Model:       a.cfg.Structure.ModelName,
		Temperature: a.cfg.Structure.Temperature,
		MaxTokens:   a.cfg.Structure.MaxTokens,
		MaxRetries:  a.cfg.Structure.MaxRetries,
		Timeout:     a.cfg.GetStructureTimeout(),
	}, a.log)
}

func (a *app) reconciler() *reconcile.Reconciler {
	return reconcile.New(a.metrics, a.review, a.cfg.Correction.MaxCorrectionAttempts, a.log)
}

func (a *app) builder() *dataset.Builder {
	b := dataset.NewBuilder(a.cfg.Paths.ValidatedJSONDir(), a.cfg.Paths.DatasetDir(), a.log)
	b.TaskName = a.cfg.Dataset.TaskName
	b.Split = a.cfg.Dataset.TrainValSplit
	b.Seed = a.cfg.Dataset.Seed
	return b
}

func (a *app) workflow() *review.Workflow {
	return review.NewWorkflow(a.review, a.reconciler(), a.builder(), a.cfg.Paths.ValidatedJSONDir(), a.log)
}

func (a *app) sampler() *monitor.Sampler {
	return monitor.NewSampler(a.metrics, a.cfg.GetUpdateInterval(), a.log)
}

// engine registers the named pipelines over the shared step set.
func (a *app) engine() *pipeline.Engine {
	extract := &steps.Extract{Metrics: a.metrics, OCR: a.ocrClient(), Log: a.log}
	structure := &steps.Structure{Metrics: a.metrics, LLM: a.llmClient(), Log: a.log}
	validate := &steps.Validate{Metrics: a.metrics, LLM: a.llmClient(), Log: a.log}
	build := &steps.Dataset{Metrics: a.metrics, Log: a.log}

	e := pipeline.NewEngine(a.metrics, a.log)
	e.Register("full", extract, structure, validate, build)
	e.Register("extract", extract)
	e.Register("structure", structure, validate)
	e.Register("train", build)
	return e
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(trainingCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
