package steps

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"skilllab/internal/dataset"
	"skilllab/internal/pipeline"
	"skilllab/internal/store"
)

// Dataset materializes the validated-json area into the training split.
type Dataset struct {
	Metrics *store.MetricsStore
	Log     *zap.Logger
}

func (s *Dataset) Name() string { return "dataset" }

func (s *Dataset) Execute(ctx context.Context, pctx *pipeline.Context) error {
	tel := &telemetry{metrics: s.Metrics}
	tel.recordStart(pctx.RunID, s.Name())

	cfg := pctx.Config
	b := dataset.NewBuilder(cfg.Paths.ValidatedJSONDir(), cfg.Paths.DatasetDir(), s.Log)
	b.TaskName = cfg.Dataset.TaskName
	b.Split = cfg.Dataset.TrainValSplit
	b.Seed = cfg.Dataset.Seed

	stats, err := b.Build()
	if err != nil {
		tel.recordCompletion(ctx, 0, true, err.Error())
		return err
	}

	publish(pctx, s.Name(), Summary{
		Processed: stats.Accepted + stats.Skipped,
		Succeeded: stats.Accepted,
		Skipped:   stats.Skipped,
	})
	tel.recordCompletion(ctx, stats.Accepted, false,
		fmt.Sprintf(`{"train":%d,"validation":%d}`, stats.Train, stats.Validation))
	return nil
}
