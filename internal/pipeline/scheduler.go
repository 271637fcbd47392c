package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"marketfeed/internal/core/domain"
)

// Scheduler drives periodic pipeline runs and persists each snapshot.
type Scheduler struct {
	orch     *Orchestrator
	interval time.Duration
	output   string
	log      *slog.Logger

	// OnSnapshot, when set, is invoked after each run with the assembled
	// snapshot, successful or degraded.
	OnSnapshot func(*domain.Snapshot)

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler running the orchestrator every interval,
// writing each snapshot to output. An empty output disables persistence.
func NewScheduler(orch *Orchestrator, interval time.Duration, output string, log *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		orch:     orch,
		interval: interval,
		output:   output,
		log:      log,
	}
}

// Start runs one immediate cycle and then ticks until ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.cycle(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cycle(ctx)
			}
		}
	}()
}

// Wait blocks until the run loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) cycle(ctx context.Context) {
	snap, err := s.orch.RunOnce(ctx)
	if err != nil {
		s.log.Error("pipeline run failed", "error", err)
	}
	if snap == nil {
		return
	}
	if s.output != "" {
		if err := WriteSnapshot(s.output, snap); err != nil {
			s.log.Error("snapshot persist failed", "path", s.output, "error", err)
		}
	}
	if s.OnSnapshot != nil {
		s.OnSnapshot(snap)
	}
}

// WriteSnapshot writes the snapshot atomically: a temp file in the target
// directory renamed over the destination, so readers never see a partial
// document.
func WriteSnapshot(path string, snap *domain.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
