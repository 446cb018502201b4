package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrTaskNotFound is returned for unknown task ids.
var ErrTaskNotFound = errors.New("task not found")

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("task queue closed")

const defaultNotifyBuffer = 64

// Config configures a Queue.
type Config struct {
	// NotifyBuffer sizes the notification channel; notifications are dropped
	// when it is full.
	NotifyBuffer int
	Logger       *zerolog.Logger
}

type entry struct {
	task Task
	work Work
	done chan struct{}
}

// Queue is a FIFO queue with a single worker goroutine. The worker is
// started when a task is enqueued and exits once the queue drains.
type Queue struct {
	mu      sync.Mutex
	order   []*entry
	byID    map[string]*entry
	pending []*entry
	running bool
	idle    chan struct{}
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	notify chan Notification
	log    zerolog.Logger
}

// New returns an empty queue.
func New(cfg Config) *Queue {
	if cfg.NotifyBuffer <= 0 {
		cfg.NotifyBuffer = defaultNotifyBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		byID:   make(map[string]*entry),
		ctx:    ctx,
		cancel: cancel,
		notify: make(chan Notification, cfg.NotifyBuffer),
		log:    zerolog.Nop(),
	}
	if cfg.Logger != nil {
		q.log = cfg.Logger.With().Str("component", "tasks").Logger()
	}
	return q
}

// Enqueue appends a task and starts the worker if it is idle.
func (q *Queue) Enqueue(req Request) (string, error) {
	if req.Work == nil {
		return "", fmt.Errorf("task %q has no work", req.Title)
	}
	e := &entry{
		task: Task{
			ID:        uuid.NewString(),
			Type:      req.Type,
			Title:     req.Title,
			Priority:  req.Priority,
			Status:    StatusPending,
			CreatedAt: time.Now(),
		},
		work: req.Work,
		done: make(chan struct{}),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrQueueClosed
	}
	q.order = append(q.order, e)
	q.byID[e.task.ID] = e
	q.pending = append(q.pending, e)
	pendingGauge.Inc()
	q.log.Debug().Str("task", e.task.ID).Str("type", e.task.Type).Str("title", e.task.Title).Msg("enqueued")
	if !q.running {
		q.running = true
		q.idle = make(chan struct{})
		go q.worker()
	}
	return e.task.ID, nil
}

func (q *Queue) worker() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			close(q.idle)
			q.mu.Unlock()
			return
		}
		e := q.pending[0]
		q.pending = q.pending[1:]
		pendingGauge.Dec()
		e.task.Status = StatusRunning
		e.task.StartedAt = time.Now()
		q.mu.Unlock()

		err := q.run(e)
		q.finish(e, err)
	}
}

func (q *Queue) run(e *entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	progress := func(p float64) {
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		q.mu.Lock()
		e.task.Progress = p
		q.mu.Unlock()
	}
	return e.work(q.ctx, progress)
}

func (q *Queue) finish(e *entry, err error) {
	q.mu.Lock()
	e.task.FinishedAt = time.Now()
	if err != nil {
		e.task.Status = StatusFailed
		e.task.Error = err.Error()
	} else {
		e.task.Status = StatusCompleted
		e.task.Progress = 1
	}
	t := e.task
	close(e.done)
	q.emitLocked(t)
	q.mu.Unlock()

	ev := q.log.Info()
	if err != nil {
		ev = q.log.Warn().Err(err)
	}
	ev.Str("task", t.ID).Str("status", string(t.Status)).Dur("dur", t.Duration()).Msg("task finished")
}

func (q *Queue) emitLocked(t Task) {
	finishedTotal.WithLabelValues(string(t.Status)).Inc()
	n := Notification{TaskID: t.ID, Title: t.Title, Status: t.Status, Error: t.Error, Duration: t.Duration()}
	select {
	case q.notify <- n:
	default:
		q.log.Warn().Str("task", t.ID).Str("status", string(t.Status)).Msg("notification channel full; dropped")
	}
}

// Cancel cancels a pending task. Running and finished tasks are left alone
// and false is returned.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byID[id]
	if !ok || e.task.Status != StatusPending {
		return false
	}
	for i, p := range q.pending {
		if p == e {
			q.pending = append(q.pending[:i:i], q.pending[i+1:]...)
			break
		}
	}
	pendingGauge.Dec()
	e.task.Status = StatusCancelled
	e.task.FinishedAt = time.Now()
	close(e.done)
	q.emitLocked(e.task)
	return true
}

// ClearCompleted drops tasks in a terminal status and returns how many were
// removed.
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.order[:0]
	removed := 0
	for _, e := range q.order {
		if e.task.Status.Terminal() {
			delete(q.byID, e.task.ID)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(q.order); i++ {
		q.order[i] = nil
	}
	q.order = kept
	return removed
}

// Tasks returns snapshots of all tasks in enqueue order.
func (q *Queue) Tasks() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, len(q.order))
	for i, e := range q.order {
		out[i] = e.task
	}
	return out
}

// Get returns a snapshot of one task.
func (q *Queue) Get(id string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byID[id]
	if !ok {
		return Task{}, false
	}
	return e.task, true
}

// Wait blocks until the task reaches a terminal status.
func (q *Queue) Wait(ctx context.Context, id string) (Task, error) {
	q.mu.Lock()
	e, ok := q.byID[id]
	q.mu.Unlock()
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	select {
	case <-e.done:
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return e.task, nil
}

// Idle blocks until the worker has drained the queue.
func (q *Queue) Idle(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	ch := q.idle
	q.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notifications delivers status changes to terminal states.
func (q *Queue) Notifications() <-chan Notification { return q.notify }

// Close rejects new tasks, cancels pending ones and cancels the context of
// the running task.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := append([]*entry(nil), q.pending...)
	q.mu.Unlock()

	for _, e := range pending {
		q.Cancel(e.task.ID)
	}
	q.cancel()
}
