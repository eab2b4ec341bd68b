// Package taskqueue runs robot tasks one at a time, highest priority first,
// holding back tasks whose dependencies have not completed.
package taskqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"robonav/registry"
)

type Queue struct {
	handlers  map[TaskType]Handler
	schemas   *schemaSet
	persister Persister
	emitter   EventEmitter
	log       *zap.Logger
	now       func() time.Time
	interval  time.Duration

	mu        sync.Mutex
	tasks     map[string]*Task
	seq       int64
	running   string
	runCancel context.CancelFunc
	cancelReq map[string]bool
	closing   bool
	pending   []func()
	emitMu    sync.Mutex
	wg        sync.WaitGroup
	wake      chan struct{}
}

// New creates an empty queue. persister may be nil.
func New(persister Persister, pollInterval time.Duration, logger *zap.Logger) (*Queue, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Queue{
		handlers:  make(map[TaskType]Handler),
		schemas:   schemas,
		persister: persister,
		emitter:   nopEmitter{},
		log:       logger.Named("taskqueue"),
		now:       time.Now,
		interval:  pollInterval,
		tasks:     make(map[string]*Task),
		cancelReq: make(map[string]bool),
		wake:      make(chan struct{}, 1),
	}, nil
}

// SetEmitter installs the event sink. Events are delivered in transition
// order; the emitter must not call back into the queue.
func (q *Queue) SetEmitter(e EventEmitter) { q.emitter = e }

// SetClock replaces the queue's time source.
func (q *Queue) SetClock(now func() time.Time) { q.now = now }

// Register installs the handler for a task type.
func (q *Queue) Register(typ TaskType, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[typ] = h
}

// Supports reports whether a handler is registered for typ.
func (q *Queue) Supports(typ TaskType) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.handlers[typ]
	return ok
}

// unlock releases q.mu and delivers the events queued while it was held.
// emitMu is taken before q.mu is released so deliveries keep lock order.
func (q *Queue) unlock() {
	fns := q.pending
	q.pending = nil
	q.emitMu.Lock()
	q.mu.Unlock()
	defer q.emitMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// AddTask enqueues a task. priority "" means normal.
func (q *Queue) AddTask(typ TaskType, params map[string]any, priority Priority, deps []string) (AddResult, error) {
	if priority == "" {
		priority = PriorityNormal
	}
	if !priority.Valid() {
		return AddResult{}, &ParamsError{Type: typ, Detail: fmt.Sprintf("unknown priority %q", priority)}
	}
	norm, err := normalizeParams(params)
	if err != nil {
		return AddResult{}, &ParamsError{Type: typ, Detail: err.Error()}
	}

	q.mu.Lock()
	defer q.unlock()

	if _, ok := q.handlers[typ]; !ok {
		return AddResult{}, fmt.Errorf("%q: %w", typ, ErrUnsupportedTaskType)
	}
	if err := q.schemas.validate(typ, norm); err != nil {
		return AddResult{}, err
	}

	q.seq++
	t := &Task{
		ID:           uuid.New().String(),
		Type:         typ,
		Params:       norm,
		Priority:     priority,
		State:        StatePending,
		Dependencies: append([]string(nil), deps...),
		CreatedAt:    q.now(),
		Seq:          q.seq,
	}
	q.tasks[t.ID] = t
	q.transitioned(t, "")
	q.signal()

	return AddResult{TaskID: t.ID, QueuePosition: q.positionLocked(t)}, nil
}

// positionLocked is t's 1-based place among pending tasks in pick order.
func (q *Queue) positionLocked(t *Task) int {
	pos := 1
	for _, o := range q.tasks {
		if o.ID != t.ID && o.State == StatePending && before(o, t) {
			pos++
		}
	}
	return pos
}

// before orders by priority descending, then creation time, then enqueue order.
func before(a, b *Task) bool {
	if ra, rb := a.Priority.rank(), b.Priority.rank(); ra != rb {
		return ra > rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

// transitioned persists the queue and queues the change event. Caller holds q.mu.
func (q *Queue) transitioned(t *Task, old State) {
	q.persistLocked()
	snap := t.clone()
	q.pending = append(q.pending, func() { q.emitter.EmitTaskStateChanged(snap, old) })
	q.log.Debug("task state", zap.String("task", t.ID), zap.String("type", string(t.Type)),
		zap.String("from", string(old)), zap.String("to", string(t.State)))
}

func (q *Queue) persistLocked() {
	if q.persister == nil {
		return
	}
	if err := q.persister.SaveTasks(q.listLocked()); err != nil {
		q.log.Error("persist queue", zap.Error(err))
	}
}

func (q *Queue) listLocked() []Task {
	out := make([]Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, t.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// eligibleLocked reports whether every dependency of t has completed.
// Unknown dependencies keep t waiting.
func (q *Queue) eligibleLocked(t *Task) bool {
	for _, id := range t.Dependencies {
		d, ok := q.tasks[id]
		if !ok || d.State != StateCompleted {
			return false
		}
	}
	return true
}

// processOnce starts the next eligible task if none is running. It reports
// whether a task was started.
func (q *Queue) processOnce() bool {
	q.mu.Lock()
	h, t, ctx := q.pickLocked()
	q.unlock()
	if h == nil {
		return false
	}
	// Started after the running event has been delivered, so observers never
	// see a task finish before it starts.
	go q.execute(ctx, h, t)
	return true
}

func (q *Queue) pickLocked() (Handler, Task, context.Context) {
	if q.running != "" || q.closing {
		return nil, Task{}, nil
	}
	var next *Task
	for _, t := range q.tasks {
		if t.State != StatePending || !q.eligibleLocked(t) {
			continue
		}
		if next == nil || before(t, next) {
			next = t
		}
	}
	if next == nil {
		return nil, Task{}, nil
	}
	h := q.handlers[next.Type]
	if h == nil {
		now := q.now()
		next.State = StateFailed
		next.Error = fmt.Sprintf("%q: %s", next.Type, ErrUnsupportedTaskType)
		next.CompletedAt = &now
		q.transitioned(next, StatePending)
		return nil, Task{}, nil
	}

	now := q.now()
	next.State = StateRunning
	next.StartedAt = &now
	next.Progress = 0
	q.running = next.ID
	ctx, cancel := context.WithCancel(context.Background())
	q.runCancel = cancel
	q.transitioned(next, StatePending)
	q.wg.Add(1)
	return h, next.clone(), ctx
}

func (q *Queue) execute(ctx context.Context, h Handler, t Task) {
	defer q.wg.Done()

	result, err := q.runHandler(ctx, h, t)

	q.mu.Lock()
	defer q.unlock()

	q.running = ""
	if q.runCancel != nil {
		q.runCancel()
		q.runCancel = nil
	}
	cur, ok := q.tasks[t.ID]
	cancelled := q.cancelReq[t.ID]
	delete(q.cancelReq, t.ID)
	if !ok || cur.State != StateRunning {
		q.signal()
		return
	}
	if q.closing && !cancelled {
		// Left running in the snapshot; Load resets it to pending.
		return
	}

	now := q.now()
	cur.CompletedAt = &now
	switch {
	case cancelled:
		cur.State = StateCancelled
	case err != nil:
		cur.State = StateFailed
		cur.Error = err.Error()
		q.log.Warn("task failed", zap.String("task", cur.ID), zap.String("type", string(cur.Type)), zap.Error(err))
	default:
		cur.State = StateCompleted
		cur.Progress = 1
		cur.Result = result
	}
	q.transitioned(cur, StateRunning)
	q.signal()
}

// runHandler calls h.Run and turns a panic into an error.
func (q *Queue) runHandler(ctx context.Context, h Handler, t Task) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Run(ctx, t, func(f float64) { q.UpdateProgress(t.ID, f) })
}

// CancelTask cancels a pending, paused or running task. A running task's
// handler is asked to stop its in-flight operation first.
func (q *Queue) CancelTask(id string) error {
	q.mu.Lock()
	t, ok := q.tasks[id]
	if !ok {
		q.unlock()
		return fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	switch t.State {
	case StatePending, StatePaused:
		old := t.State
		now := q.now()
		t.State = StateCancelled
		t.CompletedAt = &now
		q.transitioned(t, old)
		q.unlock()
		return nil
	case StateRunning:
	default:
		state := t.State
		q.unlock()
		return fmt.Errorf("cancel task %s in state %s: %w", id, state, registry.ErrInvalidState)
	}

	if q.cancelReq[id] {
		q.unlock()
		return nil
	}
	q.cancelReq[id] = true
	h := q.handlers[t.Type]
	cancel := q.runCancel
	snap := t.clone()
	q.unlock()

	if h != nil {
		h.Cancel(snap)
	}
	if cancel != nil {
		cancel()
	}

	q.mu.Lock()
	defer q.unlock()
	if t.State == StateRunning {
		now := q.now()
		t.State = StateCancelled
		t.CompletedAt = &now
		q.transitioned(t, StateRunning)
	}
	return nil
}

// PauseTask holds a pending task back from scheduling.
func (q *Queue) PauseTask(id string) error {
	return q.move(id, StatePending, StatePaused)
}

// ResumeTask returns a paused task to pending.
func (q *Queue) ResumeTask(id string) error {
	return q.move(id, StatePaused, StatePending)
}

func (q *Queue) move(id string, from, to State) error {
	q.mu.Lock()
	defer q.unlock()
	t, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	if t.State != from {
		return fmt.Errorf("task %s is %s, not %s: %w", id, t.State, from, registry.ErrInvalidState)
	}
	t.State = to
	q.transitioned(t, from)
	if to == StatePending {
		q.signal()
	}
	return nil
}

// UpdateProgress sets a running task's progress, clamped to [0,1].
func (q *Queue) UpdateProgress(id string, f float64) error {
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	q.mu.Lock()
	defer q.unlock()
	t, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	if t.State != StateRunning {
		return fmt.Errorf("progress for task %s in state %s: %w", id, t.State, registry.ErrInvalidState)
	}
	t.Progress = f
	q.pending = append(q.pending, func() { q.emitter.EmitTaskProgress(id, f) })
	return nil
}

func (q *Queue) GetTask(id string) (Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	return t.clone(), nil
}

// ListTasks returns every task in enqueue order.
func (q *Queue) ListTasks() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.listLocked()
}

func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Status{Counts: make(map[State]int), Total: len(q.tasks), Running: q.running}
	for _, t := range q.tasks {
		st.Counts[t.State]++
	}
	return st
}

// Load restores the persisted snapshot. Tasks that were running when the
// snapshot was written go back to pending.
func (q *Queue) Load() error {
	if q.persister == nil {
		return nil
	}
	tasks, err := q.persister.LoadTasks()
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	q.mu.Lock()
	defer q.unlock()
	reset := 0
	for i := range tasks {
		t := tasks[i]
		if t.State == StateRunning {
			t.State = StatePending
			t.StartedAt = nil
			t.Progress = 0
			reset++
		}
		q.tasks[t.ID] = &t
		if t.Seq > q.seq {
			q.seq = t.Seq
		}
	}
	if reset > 0 {
		q.persistLocked()
	}
	q.log.Info("queue restored", zap.Int("tasks", len(tasks)), zap.Int("reset", reset))
	q.signal()
	return nil
}

// Run schedules tasks until ctx is done, then stops the running handler and
// waits for it.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		q.processOnce()
		select {
		case <-ctx.Done():
			q.shutdown()
			return
		case <-ticker.C:
		case <-q.wake:
		}
	}
}

func (q *Queue) shutdown() {
	q.mu.Lock()
	q.closing = true
	cancel := q.runCancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
}
