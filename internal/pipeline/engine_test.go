package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skilllab/internal/config"
	"skilllab/internal/store"
	"skilllab/internal/types"
)

type fakeStep struct {
	name string
	run  func(ctx context.Context, pctx *Context) error
}

func (s *fakeStep) Name() string { return s.name }

func (s *fakeStep) Execute(ctx context.Context, pctx *Context) error {
	if s.run == nil {
		return nil
	}
	return s.run(ctx, pctx)
}

func newTestEngine(t *testing.T) (*Engine, *store.MetricsStore) {
	t.Helper()
	ms, err := store.NewMetricsStore(filepath.Join(t.TempDir(), "metrics.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ms.Close() })
	return NewEngine(ms, nil), ms
}

func TestRunRecordsTelemetry(t *testing.T) {
	e, ms := newTestEngine(t)

	var order []string
	mk := func(name string) Step {
		return &fakeStep{name: name, run: func(ctx context.Context, pctx *Context) error {
			order = append(order, name)
			pctx.DocumentsProcessed++
			return nil
		}}
	}
	e.Register("full", mk("ocr"), mk("json"), mk("correction"))

	pctx := NewContext(config.DefaultConfig())
	result, err := e.Run(context.Background(), pctx, RunOptions{Pipeline: "full"})
	require.NoError(t, err)

	assert.Equal(t, []string{"ocr", "json", "correction"}, order)
	assert.Equal(t, types.RunCompleted, result.Status)
	assert.Equal(t, 3, result.DocumentsProcessed)

	run, err := ms.GetPipelineRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, run.Status)
	assert.Equal(t, "ocr", run.StartStep)
	assert.Equal(t, "correction", run.EndStep)
	assert.Equal(t, 3, run.DocumentCount)
}

func TestRunSlicing(t *testing.T) {
	e, _ := newTestEngine(t)

	var order []string
	mk := func(name string) Step {
		return &fakeStep{name: name, run: func(ctx context.Context, pctx *Context) error {
			order = append(order, name)
			return nil
		}}
	}
	e.Register("full", mk("ocr"), mk("json"), mk("correction"), mk("dataset"))

	t.Run("middle slice", func(t *testing.T) {
		order = nil
		_, err := e.Run(context.Background(), NewContext(config.DefaultConfig()),
			RunOptions{Pipeline: "full", Start: "json", End: "correction"})
		require.NoError(t, err)
		assert.Equal(t, []string{"json", "correction"}, order)
	})

	t.Run("start after end rejected", func(t *testing.T) {
		_, err := e.Run(context.Background(), NewContext(config.DefaultConfig()),
			RunOptions{Pipeline: "full", Start: "dataset", End: "ocr"})
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.KindInvalidSlice))
	})

	t.Run("unknown step rejected", func(t *testing.T) {
		_, err := e.Run(context.Background(), NewContext(config.DefaultConfig()),
			RunOptions{Pipeline: "full", Start: "training"})
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.KindInvalidSlice))
	})
}

func TestRunStepFailureStopsIteration(t *testing.T) {
	e, ms := newTestEngine(t)

	var ran []string
	e.Register("full",
		&fakeStep{name: "ocr", run: func(ctx context.Context, pctx *Context) error {
			ran = append(ran, "ocr")
			return nil
		}},
		&fakeStep{name: "json", run: func(ctx context.Context, pctx *Context) error {
			ran = append(ran, "json")
			return errors.New("collaborator unreachable")
		}},
		&fakeStep{name: "correction", run: func(ctx context.Context, pctx *Context) error {
			ran = append(ran, "correction")
			return nil
		}},
	)

	pctx := NewContext(config.DefaultConfig())
	result, err := e.Run(context.Background(), pctx, RunOptions{Pipeline: "full"})
	require.Error(t, err)

	assert.Equal(t, []string{"ocr", "json"}, ran)
	assert.Equal(t, types.RunFailed, result.Status)
	require.Len(t, pctx.Errors, 1)
	assert.Equal(t, "json", pctx.Errors[0].Step)

	run, getErr := ms.GetPipelineRun(result.RunID)
	require.NoError(t, getErr)
	assert.Equal(t, types.RunFailed, run.Status)
}

func TestRunCancellationBetweenSteps(t *testing.T) {
	e, ms := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	e.Register("full",
		&fakeStep{name: "ocr", run: func(ctx context.Context, pctx *Context) error {
			cancel()
			return nil
		}},
		&fakeStep{name: "json", run: func(ctx context.Context, pctx *Context) error {
			t.Fatal("step after cancellation must not run")
			return nil
		}},
	)

	result, err := e.Run(ctx, NewContext(config.DefaultConfig()), RunOptions{Pipeline: "full"})
	require.NoError(t, err)
	assert.Equal(t, types.RunCancelled, result.Status)

	run, err := ms.GetPipelineRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.RunCancelled, run.Status)
}

func TestRunUnknownPipeline(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Run(context.Background(), NewContext(config.DefaultConfig()), RunOptions{Pipeline: "nope"})
	require.Error(t, err)
}

func TestFirstErrorPerStep(t *testing.T) {
	pctx := NewContext(config.DefaultConfig())
	pctx.AddError("ocr", "doc a failed")
	pctx.AddError("ocr", "doc b failed")
	pctx.AddError("json", "doc c failed")

	firsts := pctx.FirstErrorPerStep()
	require.Len(t, firsts, 2)
	assert.Equal(t, "doc a failed", firsts[0].Message)
	assert.Equal(t, "json", firsts[1].Step)
}
