// Package monitor samples system resource usage into the metrics store at
// a configurable tick, and serves pull-on-demand dashboard reads.
package monitor

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"

	"skilllab/internal/store"
	"skilllab/internal/types"
)

// Sampler writes one ResourceSample per tick while running. The activity
// label tells readers what the process was doing when the sample was taken.
type Sampler struct {
	Metrics  *store.MetricsStore
	Interval time.Duration
	Log      *zap.Logger

	activity chan string
}

// NewSampler builds a sampler with a defaulted interval.
func NewSampler(metrics *store.MetricsStore, interval time.Duration, log *zap.Logger) *Sampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sampler{
		Metrics:  metrics,
		Interval: interval,
		Log:      log.Named("monitor"),
		activity: make(chan string, 1),
	}
}

// SetActivity labels subsequent samples. Safe to call from any goroutine.
func (s *Sampler) SetActivity(activity string) {
	select {
	case s.activity <- activity:
	default:
		// Drop: an unread previous label is simply replaced next tick.
		select {
		case <-s.activity:
		default:
		}
		select {
		case s.activity <- activity:
		default:
		}
	}
}

// Run samples until the context is cancelled. One failed sample is logged
// and skipped; sampling never aborts the pipeline.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	activity := "idle"
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-s.activity:
			activity = a
		case <-ticker.C:
			if err := s.sampleOnce(activity); err != nil {
				s.Log.Warn("resource sample failed", zap.Error(err))
			}
		}
	}
}

// SampleNow takes one immediate sample with the given activity label.
func (s *Sampler) SampleNow(activity string) error {
	return s.sampleOnce(activity)
}

func (s *Sampler) sampleOnce(activity string) error {
	sample, err := readSample(activity)
	if err != nil {
		return err
	}
	return s.Metrics.RecordResourceSample(*sample)
}

// readSample collects CPU and memory usage. GPU fields are recorded as
// absent (index -1): GPU introspection is delegated to the OCR service,
// which owns the device.
func readSample(activity string) (*types.ResourceSample, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return nil, err
	}
	cpuPercent := 0.0
	if len(percents) > 0 {
		cpuPercent = percents[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, err
	}

	return &types.ResourceSample{
		Activity:   activity,
		CPUPercent: cpuPercent,
		MemoryMB:   float64(vm.Used) / (1024 * 1024),
		GPUIndex:   -1,
	}, nil
}
