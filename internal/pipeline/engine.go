// Package pipeline runs ordered step sequences over a shared context,
// recording run and step telemetry in the metrics store.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"skilllab/internal/config"
	"skilllab/internal/store"
	"skilllab/internal/types"
)

// StepError records one failure attributed to a step. Per-document failures
// accumulate here without aborting the step; a step-level failure is the
// last entry before the run stops.
type StepError struct {
	Step    string
	Message string
}

// Context is the shared state threaded through a pipeline run. Steps read
// upstream results from StepResults and publish their own under their name.
type Context struct {
	Config             *config.Config
	RunID              string
	StepResults        map[string]any
	Errors             []StepError
	DocumentsProcessed int
	StartTime          time.Time
}

// NewContext builds a fresh run context around a config snapshot.
func NewContext(cfg *config.Config) *Context {
	return &Context{
		Config:      cfg,
		StepResults: map[string]any{},
		StartTime:   time.Now().UTC(),
	}
}

// AddError appends a failure for the named step.
func (c *Context) AddError(step, format string, args ...any) {
	c.Errors = append(c.Errors, StepError{Step: step, Message: fmt.Sprintf(format, args...)})
}

// FirstErrorPerStep returns at most one error per step, in occurrence order.
func (c *Context) FirstErrorPerStep() []StepError {
	seen := map[string]bool{}
	var out []StepError
	for _, e := range c.Errors {
		if seen[e.Step] {
			continue
		}
		seen[e.Step] = true
		out = append(out, e)
	}
	return out
}

// Step is one unit of pipeline work.
type Step interface {
	Name() string
	Execute(ctx context.Context, pctx *Context) error
}

// Engine executes named pipelines and persists their telemetry.
type Engine struct {
	pipelines map[string][]Step
	metrics   *store.MetricsStore
	log       *zap.Logger
}

// NewEngine creates an engine with an empty pipeline registry.
func NewEngine(metrics *store.MetricsStore, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		pipelines: map[string][]Step{},
		metrics:   metrics,
		log:       log.Named("pipeline"),
	}
}

// Register declares a named pipeline as an ordered step sequence.
func (e *Engine) Register(name string, steps ...Step) {
	e.pipelines[name] = steps
}

// Pipelines lists the registered pipeline names.
func (e *Engine) Pipelines() []string {
	names := make([]string, 0, len(e.pipelines))
	for name := range e.pipelines {
		names = append(names, name)
	}
	return names
}

// RunOptions select a pipeline and an optional step slice within it. Empty
// Start or End means the pipeline's first or last step respectively.
type RunOptions struct {
	Pipeline string
	Start    string
	End      string
}

// Result summarizes one finished run.
type Result struct {
	RunID              string
	Status             types.RunStatus
	Steps              []string
	DocumentsProcessed int
	Elapsed            time.Duration
	Errors             []StepError
}

// Run executes the selected pipeline slice. Step-level failures stop
// iteration and mark the run failed; cancellation between steps marks it
// cancelled. The returned Result is valid even when err is non-nil.
func (e *Engine) Run(ctx context.Context, pctx *Context, opts RunOptions) (*Result, error) {
	steps, ok := e.pipelines[opts.Pipeline]
	if !ok {
		return nil, types.E(types.KindInvalidState, "unknown pipeline %q", opts.Pipeline)
	}

	steps, err := slice(steps, opts.Start, opts.End)
	if err != nil {
		return nil, err
	}

	first, last := steps[0].Name(), steps[len(steps)-1].Name()
	runID, err := e.metrics.StartPipelineRun(first, last)
	if err != nil {
		return nil, err
	}
	pctx.RunID = runID

	result := &Result{RunID: runID, Status: types.RunCompleted}
	for _, s := range steps {
		result.Steps = append(result.Steps, s.Name())
	}

	e.log.Info("pipeline run started",
		zap.String("run_id", runID),
		zap.String("pipeline", opts.Pipeline),
		zap.Strings("steps", result.Steps))

	for _, s := range steps {
		if ctx.Err() != nil {
			result.Status = types.RunCancelled
			break
		}

		stepStart := time.Now()
		if err := s.Execute(ctx, pctx); err != nil {
			pctx.AddError(s.Name(), "%v", err)
			result.Status = types.RunFailed
			e.log.Error("step failed",
				zap.String("run_id", runID),
				zap.String("step", s.Name()),
				zap.Error(err))
			break
		}
		e.log.Info("step finished",
			zap.String("run_id", runID),
			zap.String("step", s.Name()),
			zap.Duration("elapsed", time.Since(stepStart)))
	}

	result.DocumentsProcessed = pctx.DocumentsProcessed
	result.Elapsed = time.Since(pctx.StartTime)
	result.Errors = pctx.Errors

	details := runDetails(pctx)
	if err := e.metrics.FinishPipelineRun(runID, result.Status, pctx.DocumentsProcessed, details); err != nil {
		e.log.Warn("failed to finalize pipeline run", zap.String("run_id", runID), zap.Error(err))
	}
	if err := e.metrics.RecordMetric("pipeline", "documents_processed",
		float64(pctx.DocumentsProcessed), ""); err != nil {
		e.log.Warn("failed to record run metric", zap.String("run_id", runID), zap.Error(err))
	}

	if result.Status == types.RunFailed {
		last := pctx.Errors[len(pctx.Errors)-1]
		return result, types.E(types.KindInvalidState, "step %s failed: %s", last.Step, last.Message)
	}
	return result, nil
}

// slice narrows an ordered step sequence to [start, end] by step name.
func slice(steps []Step, start, end string) ([]Step, error) {
	startIdx, endIdx := 0, len(steps)-1
	if start != "" {
		idx := indexOf(steps, start)
		if idx < 0 {
			return nil, types.E(types.KindInvalidSlice, "unknown start step %q", start)
		}
		startIdx = idx
	}
	if end != "" {
		idx := indexOf(steps, end)
		if idx < 0 {
			return nil, types.E(types.KindInvalidSlice, "unknown end step %q", end)
		}
		endIdx = idx
	}
	if startIdx > endIdx {
		return nil, types.E(types.KindInvalidSlice,
			"start step %q comes after end step %q", steps[startIdx].Name(), steps[endIdx].Name())
	}
	return steps[startIdx : endIdx+1], nil
}

func indexOf(steps []Step, name string) int {
	for i, s := range steps {
		if s.Name() == name {
			return i
		}
	}
	return -1
}

func runDetails(pctx *Context) string {
	summary := map[string]any{
		"documents_processed": pctx.DocumentsProcessed,
	}
	if len(pctx.Errors) > 0 {
		msgs := make([]string, 0, len(pctx.Errors))
		for _, e := range pctx.Errors {
			msgs = append(msgs, fmt.Sprintf("%s: %s", e.Step, e.Message))
		}
		summary["errors"] = msgs
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return ""
	}
	return string(data)
}
