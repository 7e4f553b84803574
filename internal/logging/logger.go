// Package logging builds the config-driven zap logger shared by all
// subsystems. Subsystems get named children (pipeline, store, ocr, llm,
// review, monitor, dataset) so log lines carry their origin.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"skilllab/internal/config"
)

// New constructs a zap logger from the logging configuration.
// With a file configured, output goes to the file as JSON; otherwise to
// stderr using a console encoder for "text" or JSON for "json".
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	var sink zapcore.WriteSyncer

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		encoder = zapcore.NewJSONEncoder(encoderCfg)
		sink = zapcore.AddSync(f)
	} else {
		if cfg.Format == "json" {
			encoder = zapcore.NewJSONEncoder(encoderCfg)
		} else {
			devCfg := zap.NewDevelopmentEncoderConfig()
			devCfg.EncodeLevel = zapcore.CapitalLevelEncoder
			encoder = zapcore.NewConsoleEncoder(devCfg)
		}
		sink = zapcore.AddSync(os.Stderr)
	}

	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core), nil
}

// Nop returns a no-op logger for tests and optional dependencies.
func Nop() *zap.Logger { return zap.NewNop() }

func parseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}
