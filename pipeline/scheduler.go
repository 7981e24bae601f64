package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

var ErrRunInProgress = errors.New("pipeline run already in progress")

const defaultDebounce = 2 * time.Second

// ParseSchedule accepts @hourly, @daily, @weekly or a Go duration such as "6h".
func ParseSchedule(schedule string) (time.Duration, error) {
	switch strings.TrimSpace(schedule) {
	case "@hourly":
		return time.Hour, nil
	case "@daily":
		return 24 * time.Hour, nil
	case "@weekly":
		return 7 * 24 * time.Hour, nil
	}
	interval, err := time.ParseDuration(schedule)
	if err != nil {
		return 0, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	if interval <= 0 {
		return 0, fmt.Errorf("invalid schedule %q: interval must be positive", schedule)
	}
	return interval, nil
}

// SchedulerConfig controls when a Scheduler starts runs.
type SchedulerConfig struct {
	Schedule   string
	RunOnStart bool
	// WatchPath triggers a run when the file is written; empty disables watching.
	WatchPath   string
	Debounce    time.Duration
	HistorySize int
}

// Scheduler triggers DAG runs on a fixed interval aligned to the DAG start
// date. Missed intervals are not replayed. Runs never overlap.
type Scheduler struct {
	dag      *DAG
	cfg      SchedulerConfig
	interval time.Duration
	history  *lru.Cache[string, RunRecord]
	logger   *zap.Logger
	now      func() time.Time

	runMu sync.Mutex

	mu          sync.RWMutex
	running     bool
	lastRun     time.Time
	lastRunID   string
	nextRunAt   time.Time
	runCount    int64
	failedCount int64
}

// NewScheduler validates cfg and returns a scheduler for dag. It does not
// start anything until Run or Trigger is called.
func NewScheduler(dag *DAG, cfg SchedulerConfig, logger *zap.Logger) (*Scheduler, error) {
	interval, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	history, err := lru.New[string, RunRecord](cfg.HistorySize)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		dag:      dag,
		cfg:      cfg,
		interval: interval,
		history:  history,
		logger:   logger.With(zap.String("dag_id", dag.ID)),
		now:      time.Now,
	}, nil
}

// NextRun is the first interval boundary after now, counted from the DAG start date.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	start := s.dag.Args.StartDate
	if start.IsZero() {
		return now.Add(s.interval)
	}
	if now.Before(start) {
		return start
	}
	elapsed := now.Sub(start) / s.interval
	return start.Add((elapsed + 1) * s.interval)
}

// Trigger runs the DAG now unless another run is in progress.
func (s *Scheduler) Trigger(ctx context.Context, trigger Trigger) (RunRecord, error) {
	if !s.runMu.TryLock() {
		return RunRecord{}, ErrRunInProgress
	}
	defer s.runMu.Unlock()

	record := s.dag.Run(ctx, trigger)

	s.mu.Lock()
	s.runCount++
	if !record.Succeeded() {
		s.failedCount++
	}
	s.lastRun = record.StartedAt
	s.lastRunID = record.ID
	s.mu.Unlock()

	s.history.Add(record.ID, record)
	return record, nil
}

func (s *Scheduler) triggerLogged(ctx context.Context, trigger Trigger) {
	if _, err := s.Trigger(ctx, trigger); err != nil {
		s.logger.Warn("run skipped", zap.String("trigger", string(trigger)), zap.Error(err))
	}
}

// Run blocks until ctx is cancelled, firing the DAG on schedule and, when
// configured, after the watched dataset changes.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler is already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.nextRunAt = time.Time{}
		s.mu.Unlock()
	}()

	var events <-chan fsnotify.Event
	var watchErrors <-chan error
	target := ""
	if s.cfg.WatchPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		defer watcher.Close()
		// editors and CSV writers often replace the file, so watch its directory
		target = filepath.Clean(s.cfg.WatchPath)
		if err := watcher.Add(filepath.Dir(target)); err != nil {
			return fmt.Errorf("watch %s: %w", target, err)
		}
		events = watcher.Events
		watchErrors = watcher.Errors
		s.logger.Info("watching dataset", zap.String("path", target))
	}

	s.logger.Info("scheduler started",
		zap.String("schedule", s.cfg.Schedule),
		zap.Duration("interval", s.interval),
		zap.Time("start_date", s.dag.Args.StartDate))

	if s.cfg.RunOnStart {
		s.triggerLogged(ctx, TriggerManual)
	}

	timer := time.NewTimer(s.scheduleNext())
	defer timer.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil

		case <-timer.C:
			s.triggerLogged(ctx, TriggerSchedule)
			timer.Reset(s.scheduleNext())

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(s.cfg.Debounce)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(s.cfg.Debounce)
			}
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			s.logger.Info("dataset changed", zap.String("path", target))
			s.triggerLogged(ctx, TriggerDatasetChanged)

		case err, ok := <-watchErrors:
			if !ok {
				watchErrors = nil
				continue
			}
			s.logger.Warn("dataset watcher error", zap.Error(err))
		}
	}
}

func (s *Scheduler) scheduleNext() time.Duration {
	now := s.now()
	next := s.NextRun(now)
	s.mu.Lock()
	s.nextRunAt = next
	s.mu.Unlock()
	s.logger.Debug("next run scheduled", zap.Time("at", next))
	return next.Sub(now)
}

// IsRunning reports whether a run is in progress.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// History returns the retained runs, newest first.
func (s *Scheduler) History() []RunRecord {
	keys := s.history.Keys()
	records := make([]RunRecord, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if record, ok := s.history.Peek(keys[i]); ok {
			records = append(records, record)
		}
	}
	return records
}

// GetRun returns a recorded run by id.
func (s *Scheduler) GetRun(id string) (RunRecord, bool) {
	return s.history.Peek(id)
}

// GetStats summarises the scheduler for status endpoints and logs.
func (s *Scheduler) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"dag_id":       s.dag.ID,
		"running":      s.running,
		"schedule":     s.cfg.Schedule,
		"interval":     s.interval.String(),
		"last_run":     s.lastRun,
		"last_run_id":  s.lastRunID,
		"next_run":     s.nextRunAt,
		"run_count":    s.runCount,
		"failed_runs":  s.failedCount,
		"history_size": s.history.Len(),
	}
}
