package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ckwflash/LiveHack2025/domain"
	"github.com/ckwflash/LiveHack2025/metrics"
	"github.com/ckwflash/LiveHack2025/models"
)

const (
	DefaultKeepAlive    = 15 * time.Second
	DefaultWatchTimeout = 300 * time.Second
)

// TaskEvent is one message of a task status stream. Task is set for status,
// update and done; Timestamp for ping; Message for error.
type TaskEvent struct {
	Kind      string
	Task      *models.TaskDocument
	Timestamp int64
	Message   string
}

type TaskStore interface {
	FindByID(ctx context.Context, id string) (*models.TaskDocument, error)
	Subscribe(ctx context.Context, id string) (models.TaskSubscription, error)
}

type TaskWatcher struct {
	tasks     TaskStore
	keepAlive time.Duration
	timeout   time.Duration
	now       func() time.Time
}

type WatcherOption func(*TaskWatcher)

func WithTaskStore(s TaskStore) WatcherOption {
	return func(w *TaskWatcher) { w.tasks = s }
}

func WithKeepAlive(d time.Duration) WatcherOption {
	return func(w *TaskWatcher) {
		if d > 0 {
			w.keepAlive = d
		}
	}
}

func WithWatchTimeout(d time.Duration) WatcherOption {
	return func(w *TaskWatcher) {
		if d > 0 {
			w.timeout = d
		}
	}
}

func NewTaskWatcher(opts ...WatcherOption) *TaskWatcher {
	w := &TaskWatcher{
		keepAlive: DefaultKeepAlive,
		timeout:   DefaultWatchTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch streams the lifecycle of one task. The returned channel is closed
// when the task finishes, on error, on timeout, or when ctx is cancelled.
// The producer never blocks past ctx, so abandoning the channel is safe as
// long as ctx is eventually cancelled.
func (w *TaskWatcher) Watch(ctx context.Context, taskID string) <-chan TaskEvent {
	events := make(chan TaskEvent)
	go w.run(ctx, taskID, events)
	return events
}

func (w *TaskWatcher) run(parent context.Context, taskID string, out chan<- TaskEvent) {
	defer close(out)
	metrics.ActiveWatches.Inc()
	defer metrics.ActiveWatches.Dec()

	ctx, cancel := context.WithTimeout(parent, w.timeout)
	defer cancel()

	emit := func(ev TaskEvent) bool {
		if ctx.Err() != nil {
			return false
		}
		select {
		case out <- ev:
			metrics.WatchEvents.WithLabelValues(ev.Kind).Inc()
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(msg string) {
		emit(TaskEvent{Kind: domain.EventError, Message: msg})
	}

	task, err := w.tasks.FindByID(ctx, taskID)
	if err != nil {
		slog.Warn("Cannot watch task", "task_id", taskID, "error", err)
		fail(lookupErrorMessage(err))
		return
	}
	if task.IsTerminal() {
		emit(TaskEvent{Kind: domain.EventStatus, Task: task})
		return
	}

	sub, err := w.tasks.Subscribe(ctx, taskID)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Failed to subscribe to task changes", "task_id", taskID, "error", err)
			fail("Database error: " + err.Error())
		}
		return
	}
	defer sub.Close()

	// Re-read now that the subscription is live so a change landing between
	// the first read and the subscribe is not lost.
	if fresh, err := w.tasks.FindByID(ctx, taskID); err == nil {
		task = fresh
	}
	if !emit(TaskEvent{Kind: domain.EventStatus, Task: task}) || task.IsTerminal() {
		return
	}

	timer := time.NewTimer(w.keepAlive)
	defer timer.Stop()
	resetTimer := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.keepAlive)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Task watch ended", "task_id", taskID, "reason", ctx.Err())
			return

		case doc, ok := <-sub.Changes():
			if !ok {
				if ctx.Err() != nil {
					return
				}
				if err := sub.Err(); err != nil {
					slog.Error("Task change stream failed", "task_id", taskID, "error", err)
					fail("Database error: " + err.Error())
				} else {
					fail("Task stream closed")
				}
				return
			}
			snapshot := doc
			if !emit(TaskEvent{Kind: domain.EventUpdate, Task: &snapshot}) {
				return
			}
			if snapshot.IsTerminal() {
				emit(TaskEvent{Kind: domain.EventDone, Task: &snapshot})
				return
			}
			resetTimer()

		case <-timer.C:
			if !emit(TaskEvent{Kind: domain.EventPing, Timestamp: w.now().Unix()}) {
				return
			}
			timer.Reset(w.keepAlive)
		}
	}
}

func lookupErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidTaskID):
		return "Invalid task ID"
	case errors.Is(err, domain.ErrTaskNotFound):
		return "Task not found"
	default:
		return "Database error: " + err.Error()
	}
}
