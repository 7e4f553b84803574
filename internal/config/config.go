// Package config holds all skilllab configuration.
// Precedence: environment overrides > user file > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all skilllab configuration.
type Config struct {
	// Filesystem roots
	Paths PathsConfig `yaml:"paths"`

	// Pipeline slicing and throughput
	Pipeline PipelineConfig `yaml:"pipeline"`

	// OCR collaborator
	OCR OCRConfig `yaml:"ocr"`

	// Structure collaborator (Ollama)
	Structure StructureConfig `yaml:"structure"`

	// Auto-correction loop
	Correction CorrectionConfig `yaml:"correction"`

	// Dataset builder
	Dataset DatasetConfig `yaml:"dataset"`

	// Review queue
	Review ReviewConfig `yaml:"review"`

	// Monitoring / metrics store
	Monitoring MonitoringConfig `yaml:"monitoring"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// PathsConfig configures the filesystem roots. All are auto-created.
type PathsConfig struct {
	InputDir  string `yaml:"input_dir"`
	OutputDir string `yaml:"output_dir"`
	ModelDir  string `yaml:"model_dir"`
	LogsDir   string `yaml:"logs_dir"`
}

// Subsystem directories under the output root. Each subsystem owns writes
// to its own directory.
func (p PathsConfig) ImagesDir() string     { return filepath.Join(p.OutputDir, "images") }
func (p PathsConfig) OCRResultsDir() string { return filepath.Join(p.OutputDir, "ocr_results") }
func (p PathsConfig) JSONResultsDir() string {
	return filepath.Join(p.OutputDir, "json_results")
}
func (p PathsConfig) ValidatedJSONDir() string {
	return filepath.Join(p.OutputDir, "validated_json")
}
func (p PathsConfig) DatasetDir() string { return filepath.Join(p.OutputDir, "donut_dataset") }

// EnsureDirs creates every configured and derived directory.
func (p PathsConfig) EnsureDirs() error {
	dirs := []string{
		p.InputDir, p.OutputDir, p.ModelDir, p.LogsDir,
		p.ImagesDir(), p.OCRResultsDir(), p.JSONResultsDir(),
		p.ValidatedJSONDir(), p.DatasetDir(),
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// PipelineConfig configures step slicing and per-step concurrency.
type PipelineConfig struct {
	StartStep string `yaml:"start_step"`
	EndStep   string `yaml:"end_step"`
	Limit     int    `yaml:"limit"`
	Workers   int    `yaml:"workers"`
}

// OCRConfig configures the OCR collaborator.
type OCRConfig struct {
	Language      string  `yaml:"language"`
	DPI           int     `yaml:"dpi"`
	MinConfidence float64 `yaml:"min_confidence"`
	UseService    bool    `yaml:"use_service"`
	ServiceURL    string  `yaml:"service_url"`
	UseGPU        bool    `yaml:"use_gpu"`
	Timeout       string  `yaml:"timeout"`
}

// StructureConfig configures the Ollama structure collaborator.
type StructureConfig struct {
	OllamaURL   string  `yaml:"ollama_url"`
	ModelName   string  `yaml:"model_name"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	MaxRetries  int     `yaml:"max_retries"`
	Timeout     string  `yaml:"timeout"`
}

// CorrectionConfig configures the auto-correction loop.
type CorrectionConfig struct {
	MinCoverageThreshold  float64 `yaml:"min_coverage_threshold"`
	MaxCorrectionAttempts int     `yaml:"max_correction_attempts"`
}

// DatasetConfig configures the dataset builder.
type DatasetConfig struct {
	TrainValSplit float64 `yaml:"train_val_split"`
	TaskName      string  `yaml:"task_name"`
	Seed          int64   `yaml:"seed"`
}

// ReviewConfig configures the review store.
type ReviewConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// MonitoringConfig configures the metrics store and resource sampler.
type MonitoringConfig struct {
	Enabled        bool   `yaml:"enabled"`
	MetricsDB      string `yaml:"metrics_db"`
	UpdateInterval string `yaml:"update_interval"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level       string `yaml:"level"`  // debug, info, warn, error
	Format      string `yaml:"format"` // json, text
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	BackupCount int    `yaml:"backup_count"`
}

// StepNames is the ordered set of step names recognized by start_step/end_step.
var StepNames = []string{"ocr", "json", "correction", "dataset", "training"}

// KnownStep reports whether name is a recognized pipeline step name.
func KnownStep(name string) bool {
	for _, s := range StepNames {
		if s == name {
			return true
		}
	}
	return false
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			InputDir:  "data/input",
			OutputDir: "data/output",
			ModelDir:  "data/models",
			LogsDir:   "logs",
		},
		Pipeline: PipelineConfig{
			StartStep: "ocr",
			EndStep:   "dataset",
			Limit:     0,
			Workers:   1,
		},
		OCR: OCRConfig{
			Language:      "en",
			DPI:           300,
			MinConfidence: 0.5,
			UseService:    true,
			ServiceURL:    "http://localhost:8000",
			Timeout:       "300s",
		},
		Structure: StructureConfig{
			OllamaURL:   "http://localhost:11434/api/generate",
			ModelName:   "mistral:7b",
			Temperature: 0.1,
			MaxTokens:   2048,
			MaxRetries:  3,
			Timeout:     "300s",
		},
		Correction: CorrectionConfig{
			MinCoverageThreshold:  0.9,
			MaxCorrectionAttempts: 3,
		},
		Dataset: DatasetConfig{
			TrainValSplit: 0.8,
			TaskName:      "resume_extraction",
			Seed:          42,
		},
		Review: ReviewConfig{
			Enabled: true,
			DBPath:  "data/review.db",
		},
		Monitoring: MonitoringConfig{
			Enabled:        true,
			MetricsDB:      "data/metrics.db",
			UpdateInterval: "10s",
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "text",
			File:        "",
			MaxSizeMB:   50,
			BackupCount: 3,
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the effective configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Validate checks option ranges.
func (c *Config) Validate() error {
	if c.OCR.DPI < 72 || c.OCR.DPI > 600 {
		return fmt.Errorf("ocr.dpi must be in [72,600], got %d", c.OCR.DPI)
	}
	if c.OCR.MinConfidence < 0 || c.OCR.MinConfidence > 1 {
		return fmt.Errorf("ocr.min_confidence must be in [0,1], got %v", c.OCR.MinConfidence)
	}
	if c.Structure.Temperature < 0 || c.Structure.Temperature > 1 {
		return fmt.Errorf("structure.temperature must be in [0,1], got %v", c.Structure.Temperature)
	}
	if c.Correction.MinCoverageThreshold < 0 || c.Correction.MinCoverageThreshold > 1 {
		return fmt.Errorf("correction.min_coverage_threshold must be in [0,1], got %v", c.Correction.MinCoverageThreshold)
	}
	if c.Dataset.TrainValSplit <= 0 || c.Dataset.TrainValSplit >= 1 {
		return fmt.Errorf("dataset.train_val_split must be in (0,1), got %v", c.Dataset.TrainValSplit)
	}
	if c.Pipeline.StartStep != "" && !KnownStep(c.Pipeline.StartStep) {
		return fmt.Errorf("pipeline.start_step %q is not one of %v", c.Pipeline.StartStep, StepNames)
	}
	if c.Pipeline.EndStep != "" && !KnownStep(c.Pipeline.EndStep) {
		return fmt.Errorf("pipeline.end_step %q is not one of %v", c.Pipeline.EndStep, StepNames)
	}
	return nil
}

// GetOCRTimeout returns the per-document OCR timeout.
func (c *Config) GetOCRTimeout() time.Duration {
	return parseDurationOr(c.OCR.Timeout, 300*time.Second)
}

// GetStructureTimeout returns the per-document structure timeout.
func (c *Config) GetStructureTimeout() time.Duration {
	return parseDurationOr(c.Structure.Timeout, 300*time.Second)
}

// GetUpdateInterval returns the resource sampler tick.
func (c *Config) GetUpdateInterval() time.Duration {
	return parseDurationOr(c.Monitoring.UpdateInterval, 10*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
