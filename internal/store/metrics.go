package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skilllab/internal/quality"
	"skilllab/internal/types"
)

// MetricsStore owns the canonical document rows plus pipeline telemetry,
// metrics, and resource samples.
type MetricsStore struct {
	*Store
}

// NewMetricsStore opens (creating if needed) the metrics database at path.
func NewMetricsStore(path string, log *zap.Logger) (*MetricsStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := openDatabase(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db, documentsSchema, metricsSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &MetricsStore{Store: &Store{
		db:     db,
		dbPath: path,
		policy: quality.DefaultPolicy(),
		log:    log.Named("store.metrics"),
	}}, nil
}

// =============================================================================
// PIPELINE RUNS
// =============================================================================

// StartPipelineRun inserts a running PipelineRun row and returns its id.
func (s *MetricsStore) StartPipelineRun(startStep, endStep string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO pipeline_runs (id, start_step, end_step, start_time, status) VALUES (?, ?, ?, ?, 'running')`,
		id, startStep, endStep, now(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start pipeline run: %w", err)
	}
	return id, nil
}

// FinishPipelineRun closes a run row with its final status and summary.
func (s *MetricsStore) FinishPipelineRun(runID string, status types.RunStatus, documentCount int, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE pipeline_runs SET end_time = ?, status = ?, document_count = ?, details = ? WHERE id = ?`,
		now(), status, documentCount, details, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish pipeline run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.E(types.KindConflict, "pipeline run %s not found", runID)
	}
	return nil
}

// GetPipelineRun reads one run row.
func (s *MetricsStore) GetPipelineRun(runID string) (*types.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var run types.PipelineRun
	var end *time.Time
	err := s.db.QueryRow(
		`SELECT id, start_step, end_step, start_time, end_time, status, document_count, details
		 FROM pipeline_runs WHERE id = ?`, runID,
	).Scan(&run.ID, &run.StartStep, &run.EndStep, &run.StartTime, &end,
		&run.Status, &run.DocumentCount, &run.Details)
	if err != nil {
		return nil, types.Wrap(types.KindConflict, err, "pipeline run %s not found", runID)
	}
	run.EndTime = end
	return &run, nil
}

// ListPipelineRuns returns runs newest first.
func (s *MetricsStore) ListPipelineRuns(limit int) ([]types.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, start_step, end_step, start_time, end_time, status, document_count, details
		 FROM pipeline_runs ORDER BY start_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipeline runs: %w", err)
	}
	defer rows.Close()

	var runs []types.PipelineRun
	for rows.Next() {
		var run types.PipelineRun
		var end *time.Time
		if err := rows.Scan(&run.ID, &run.StartStep, &run.EndStep, &run.StartTime, &end,
			&run.Status, &run.DocumentCount, &run.Details); err != nil {
			return nil, err
		}
		run.EndTime = end
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// STEP EXECUTIONS
// =============================================================================

// StartStepExecution inserts a running StepExecution row for the run.
// The run row must exist first; the schema enforces it.
func (s *MetricsStore) StartStepExecution(runID, stepName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT INTO step_executions (run_id, step_name, start_time, status) VALUES (?, ?, ?, 'running')`,
		runID, stepName, now(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to start step execution: %w", err)
	}
	return res.LastInsertId()
}

// FinishStepExecution closes a step execution row.
func (s *MetricsStore) FinishStepExecution(id int64, status types.RunStatus, documentCount int, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE step_executions SET end_time = ?, status = ?, document_count = ?, details = ? WHERE id = ?`,
		now(), status, documentCount, details, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish step execution: %w", err)
	}
	return nil
}

// ListStepExecutions returns the run's step executions ordered by start time.
func (s *MetricsStore) ListStepExecutions(runID string) ([]types.StepExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, run_id, step_name, start_time, end_time, status, document_count, details
		 FROM step_executions WHERE run_id = ? ORDER BY start_time, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step executions: %w", err)
	}
	defer rows.Close()

	var execs []types.StepExecution
	for rows.Next() {
		var e types.StepExecution
		var end *time.Time
		if err := rows.Scan(&e.ID, &e.RunID, &e.StepName, &e.StartTime, &end,
			&e.Status, &e.DocumentCount, &e.Details); err != nil {
			return nil, err
		}
		e.EndTime = end
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

// =============================================================================
// METRICS AND RESOURCE SAMPLES (append-only)
// =============================================================================

// RecordMetric appends one metric point.
func (s *MetricsStore) RecordMetric(metricType, name string, value float64, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO metrics (timestamp, metric_type, metric_name, value, details) VALUES (?, ?, ?, ?, ?)`,
		now(), metricType, name, value, details,
	)
	if err != nil {
		return fmt.Errorf("failed to record metric: %w", err)
	}
	return nil
}

// ListMetrics returns metric points in [since, until], oldest first.
func (s *MetricsStore) ListMetrics(metricType string, since, until time.Time) ([]types.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT timestamp, metric_type, metric_name, value, details
		 FROM metrics
		 WHERE (? = '' OR metric_type = ?) AND timestamp >= ? AND timestamp <= ?
		 ORDER BY timestamp, id`,
		metricType, metricType, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	defer rows.Close()

	var metrics []types.Metric
	for rows.Next() {
		var m types.Metric
		if err := rows.Scan(&m.Timestamp, &m.Type, &m.Name, &m.Value, &m.Details); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// RecordResourceSample appends one resource reading.
func (s *MetricsStore) RecordResourceSample(sample types.ResourceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := sample.Timestamp
	if ts.IsZero() {
		ts = now()
	}
	_, err := s.db.Exec(
		`INSERT INTO resource_samples (timestamp, activity, cpu_percent, memory_mb, gpu_index, gpu_util_percent, gpu_memory_mb)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ts, sample.Activity, sample.CPUPercent, sample.MemoryMB,
		sample.GPUIndex, sample.GPUUtilPercent, sample.GPUMemoryMB,
	)
	if err != nil {
		return fmt.Errorf("failed to record resource sample: %w", err)
	}
	return nil
}

// ListResourceSamples returns samples in [since, until], oldest first.
func (s *MetricsStore) ListResourceSamples(since, until time.Time) ([]types.ResourceSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT timestamp, activity, cpu_percent, memory_mb, gpu_index, gpu_util_percent, gpu_memory_mb
		 FROM resource_samples WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp, id`,
		since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource samples: %w", err)
	}
	defer rows.Close()

	var samples []types.ResourceSample
	for rows.Next() {
		var r types.ResourceSample
		if err := rows.Scan(&r.Timestamp, &r.Activity, &r.CPUPercent, &r.MemoryMB,
			&r.GPUIndex, &r.GPUUtilPercent, &r.GPUMemoryMB); err != nil {
			return nil, err
		}
		samples = append(samples, r)
	}
	return samples, rows.Err()
}
