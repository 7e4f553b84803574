// Package steps binds the pipeline engine to the external collaborators:
// OCR extraction, structure generation, validation, and dataset building.
// Each step reads its input from the filesystem area its upstream owns, so
// pipeline slices can start anywhere.
package steps

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"skilllab/internal/pipeline"
	"skilllab/internal/store"
	"skilllab/internal/types"
)

// telemetry records one StepExecution row around a step's work. A zero
// recorder (no metrics store) is a no-op so steps stay testable without
// telemetry.
type telemetry struct {
	metrics *store.MetricsStore
	execID  int64
}

func (t *telemetry) recordStart(runID, stepName string) {
	if t.metrics == nil || runID == "" {
		return
	}
	id, err := t.metrics.StartStepExecution(runID, stepName)
	if err == nil {
		t.execID = id
	}
}

func (t *telemetry) recordCompletion(ctx context.Context, docCount int, failed bool, details string) {
	if t.metrics == nil || t.execID == 0 {
		return
	}
	status := types.RunCompleted
	switch {
	case ctx.Err() != nil:
		status = types.RunCancelled
	case failed:
		status = types.RunFailed
	}
	_ = t.metrics.FinishStepExecution(t.execID, status, docCount, details)
}

// forEachDocument fans work across a bounded pool. A worker failure is
// captured per document via fail; only cancellation stops the batch.
func forEachDocument(ctx context.Context, workers int, items []string, work func(ctx context.Context, item string) error, fail func(item string, err error)) error {
	if workers <= 0 {
		workers = 1
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := work(gctx, item); err != nil {
				if types.IsKind(err, types.KindTimeout) && gctx.Err() != nil {
					return err
				}
				mu.Lock()
				fail(item, err)
				mu.Unlock()
			}
			return nil
		})
	}
	return g.Wait()
}

// docIDFromPath derives the document id from an artifact filename by
// stripping the area suffix ("_ocr.json", "_structured.json", …).
func docIDFromPath(path, suffix string) string {
	return strings.TrimSuffix(filepath.Base(path), suffix)
}

// listArtifacts globs an artifact area in name order.
func listArtifacts(dir, pattern string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, types.Wrap(types.KindIOFailure, err, "failed to list %s", dir)
	}
	sort.Strings(paths)
	return paths, nil
}

// writeJSON atomically-enough persists an artifact: full write then rename
// is unnecessary here since each area has a single writer per run.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return types.Wrap(types.KindSchemaFailure, err, "failed to marshal %s", filepath.Base(path))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return types.Wrap(types.KindIOFailure, err, "failed to create %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return types.Wrap(types.KindIOFailure, err, "failed to write %s", path)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Wrap(types.KindIOFailure, err, "failed to read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return types.Wrap(types.KindSchemaFailure, err, "malformed artifact %s", path)
	}
	return nil
}

// Summary is the per-step entry published into the pipeline context's
// step results.
type Summary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

func publish(pctx *pipeline.Context, stepName string, s Summary) {
	pctx.StepResults[stepName] = s
	pctx.DocumentsProcessed += s.Succeeded
}

// stepCounts tallies per-document outcomes across workers.
type stepCounts struct {
	mu        sync.Mutex
	succeeded int
	failed    int
	skipped   int
}

func (c *stepCounts) succeed() { c.mu.Lock(); c.succeeded++; c.mu.Unlock() }
func (c *stepCounts) fail()    { c.mu.Lock(); c.failed++; c.mu.Unlock() }
func (c *stepCounts) skip()    { c.mu.Lock(); c.skipped++; c.mu.Unlock() }

func (c *stepCounts) summary(total int) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Summary{
		Processed: total,
		Succeeded: c.succeeded,
		Failed:    c.failed,
		Skipped:   c.skipped,
	}
}
