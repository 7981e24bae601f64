// Package pipeline runs the training steps as a small DAG of retried tasks on a schedule.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TaskState is the outcome of one task in a run.
type TaskState string

const (
	StateSuccess        TaskState = "success"
	StateFailed         TaskState = "failed"
	StateUpstreamFailed TaskState = "upstream_failed"
)

// Trigger records what started a run.
type Trigger string

const (
	TriggerSchedule       Trigger = "schedule"
	TriggerManual         Trigger = "manual"
	TriggerDatasetChanged Trigger = "dataset_changed"
)

// DefaultArgs apply to every task of a DAG.
type DefaultArgs struct {
	Owner      string
	Retries    int
	RetryDelay time.Duration
	StartDate  time.Time
}

// TaskFunc is the body of a task. A non-nil error counts as a failed attempt.
type TaskFunc func(ctx context.Context) error

// Task is a named step with the ids of the tasks it depends on.
type Task struct {
	ID       string
	Upstream []string
	run      TaskFunc
}

// TaskRun is the result of one task within a RunRecord.
type TaskRun struct {
	TaskID   string        `json:"task_id"`
	State    TaskState     `json:"state"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunRecord is the outcome of one DAG run.
type RunRecord struct {
	ID        string    `json:"id"`
	DAGID     string    `json:"dag_id"`
	Trigger   Trigger   `json:"trigger"`
	State     TaskState `json:"state"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Tasks     []TaskRun `json:"tasks"`
}

func (r RunRecord) Succeeded() bool { return r.State == StateSuccess }

// Task returns the run entry for id.
func (r RunRecord) Task(id string) (TaskRun, bool) {
	for _, t := range r.Tasks {
		if t.TaskID == id {
			return t, true
		}
	}
	return TaskRun{}, false
}

// DAG is an ordered set of tasks that run one after another.
type DAG struct {
	ID          string
	Description string
	Args        DefaultArgs

	tasks  []*Task
	index  map[string]*Task
	logger *zap.Logger
}

// NewDAG returns an empty DAG. Tasks are added with AddTask.
func NewDAG(id, description string, args DefaultArgs, logger *zap.Logger) *DAG {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DAG{
		ID:          id,
		Description: description,
		Args:        args,
		index:       make(map[string]*Task),
		logger:      logger.With(zap.String("dag_id", id)),
	}
}

// AddTask appends a task. Upstream tasks must already be added, so tasks
// are always kept in a valid execution order and cycles cannot form.
func (d *DAG) AddTask(id string, fn TaskFunc, upstream ...string) error {
	if id == "" || fn == nil {
		return errors.New("task needs an id and a function")
	}
	if _, ok := d.index[id]; ok {
		return fmt.Errorf("duplicate task %q", id)
	}
	for _, up := range upstream {
		if _, ok := d.index[up]; !ok {
			return fmt.Errorf("task %q: unknown upstream %q", id, up)
		}
	}
	task := &Task{ID: id, Upstream: append([]string(nil), upstream...), run: fn}
	d.tasks = append(d.tasks, task)
	d.index[id] = task
	return nil
}

// TaskIDs lists tasks in execution order.
func (d *DAG) TaskIDs() []string {
	ids := make([]string, len(d.tasks))
	for i, t := range d.tasks {
		ids[i] = t.ID
	}
	return ids
}

// Run executes every task once in order. A task is attempted up to
// 1+Retries times; when it still fails its downstream tasks are skipped.
func (d *DAG) Run(ctx context.Context, trigger Trigger) RunRecord {
	record := RunRecord{
		ID:        uuid.NewString(),
		DAGID:     d.ID,
		Trigger:   trigger,
		State:     StateSuccess,
		StartedAt: time.Now(),
	}
	logger := d.logger.With(zap.String("run_id", record.ID), zap.String("trigger", string(trigger)))
	logger.Info("dag run started", zap.Strings("tasks", d.TaskIDs()))

	states := make(map[string]TaskState, len(d.tasks))
	for _, task := range d.tasks {
		result := TaskRun{TaskID: task.ID}
		if blocked := d.blockedBy(task, states); blocked != "" {
			result.State = StateUpstreamFailed
			result.Error = fmt.Sprintf("upstream task %s did not succeed", blocked)
			logger.Warn("task skipped", zap.String("task_id", task.ID), zap.String("upstream", blocked))
		} else {
			result = d.runTask(ctx, task, logger)
		}
		states[task.ID] = result.State
		if result.State != StateSuccess {
			record.State = StateFailed
		}
		record.Tasks = append(record.Tasks, result)
	}

	record.EndedAt = time.Now()
	logger.Info("dag run finished",
		zap.String("state", string(record.State)),
		zap.Duration("duration", record.EndedAt.Sub(record.StartedAt)))
	return record
}

func (d *DAG) blockedBy(task *Task, states map[string]TaskState) string {
	for _, up := range task.Upstream {
		if states[up] != StateSuccess {
			return up
		}
	}
	return ""
}

func (d *DAG) runTask(ctx context.Context, task *Task, logger *zap.Logger) TaskRun {
	result := TaskRun{TaskID: task.ID}
	start := time.Now()
	maxAttempts := 1 + d.Args.Retries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = ctx.Err(); err != nil {
			break
		}
		result.Attempts = attempt
		err = task.run(ctx)
		if err == nil {
			break
		}
		logger.Error("task attempt failed",
			zap.String("task_id", task.ID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err))
		if attempt < maxAttempts {
			if waitErr := sleepContext(ctx, d.Args.RetryDelay); waitErr != nil {
				err = fmt.Errorf("%w (retry aborted: %v)", err, waitErr)
				break
			}
		}
	}

	result.Duration = time.Since(start)
	if err != nil {
		result.State = StateFailed
		result.Error = err.Error()
		return result
	}
	result.State = StateSuccess
	logger.Info("task succeeded",
		zap.String("task_id", task.ID),
		zap.Int("attempts", result.Attempts),
		zap.Duration("duration", result.Duration))
	return result
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
