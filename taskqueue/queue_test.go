package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"robonav/registry"
)

// --- Test helpers ---

func newTestQueue(t *testing.T, p Persister) *Queue {
	t.Helper()
	q, err := New(p, 5*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return q
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitState(t *testing.T, q *Queue, id string, want State) {
	t.Helper()
	waitFor(t, fmt.Sprintf("task %s %s", id, want), func() bool {
		task, err := q.GetTask(id)
		return err == nil && task.State == want
	})
}

func pt(x, y float64) map[string]any { return map[string]any{"x": x, "y": y} }

func mustAdd(t *testing.T, q *Queue, typ TaskType, params map[string]any, prio Priority, deps ...string) string {
	t.Helper()
	res, err := q.AddTask(typ, params, prio, deps)
	if err != nil {
		t.Fatalf("AddTask(%s): %v", typ, err)
	}
	return res.TaskID
}

// gate blocks each run until released and records the order tasks started.
type gate struct {
	mu       sync.Mutex
	order    []string
	release  chan struct{}
	cancels  []string
	ctxAlive []bool
	ctxs     map[string]context.Context
}

func newGate() *gate {
	return &gate{release: make(chan struct{}), ctxs: make(map[string]context.Context)}
}

func (g *gate) Run(ctx context.Context, t Task, _ ProgressFunc) (map[string]any, error) {
	g.mu.Lock()
	g.order = append(g.order, t.ID)
	g.ctxs[t.ID] = ctx
	g.mu.Unlock()
	select {
	case <-g.release:
		return map[string]any{"ok": true}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gate) Cancel(t Task) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, t.ID)
	g.ctxAlive = append(g.ctxAlive, g.ctxs[t.ID].Err() == nil)
}

func (g *gate) started() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.order...)
}

type recordingEmitter struct {
	mu       sync.Mutex
	running  map[string]bool
	maxSeen  int
	changes  []string
	progress []float64
}

func (e *recordingEmitter) EmitTaskStateChanged(t Task, old State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running == nil {
		e.running = make(map[string]bool)
	}
	if t.State == StateRunning {
		e.running[t.ID] = true
	} else {
		delete(e.running, t.ID)
	}
	if len(e.running) > e.maxSeen {
		e.maxSeen = len(e.running)
	}
	e.changes = append(e.changes, fmt.Sprintf("%s:%s->%s", t.ID, old, t.State))
}

func (e *recordingEmitter) EmitTaskProgress(_ string, p float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress = append(e.progress, p)
}

type memPersister struct {
	mu    sync.Mutex
	saved []Task
	saves int
}

func (m *memPersister) SaveTasks(tasks []Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = tasks
	m.saves++
	return nil
}

func (m *memPersister) LoadTasks() ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Task(nil), m.saved...), nil
}

// --- AddTask ---

func TestAddTaskUnsupportedType(t *testing.T) {
	q := newTestQueue(t, nil)
	_, err := q.AddTask("teleport", nil, PriorityNormal, nil)
	if !errors.Is(err, ErrUnsupportedTaskType) {
		t.Fatalf("err = %v, want ErrUnsupportedTaskType", err)
	}
	if len(q.ListTasks()) != 0 {
		t.Error("rejected task should not be queued")
	}
}

func TestAddTaskValidatesParams(t *testing.T) {
	q := newTestQueue(t, nil)
	q.Register(TypeMove, newGate())
	q.Register(TypeCaptureVideo, newGate())
	q.Register(TypeUseElevator, newGate())

	tests := []struct {
		name   string
		typ    TaskType
		params map[string]any
		ok     bool
	}{
		{"move ok", TypeMove, pt(1, 2), true},
		{"move int coords", TypeMove, map[string]any{"x": 1, "y": 2}, true},
		{"move missing y", TypeMove, map[string]any{"x": 1.0}, false},
		{"move string x", TypeMove, map[string]any{"x": "1", "y": 2.0}, false},
		{"video ok", TypeCaptureVideo, map[string]any{"duration": 10}, true},
		{"video zero", TypeCaptureVideo, map[string]any{"duration": 0}, false},
		{"video too long", TypeCaptureVideo, map[string]any{"duration": 7200}, false},
		{"elevator ok", TypeUseElevator, map[string]any{"elevator_id": "E1", "floor": 3}, true},
		{"elevator fractional floor", TypeUseElevator, map[string]any{"elevator_id": "E1", "floor": 2.5}, false},
		{"elevator no id", TypeUseElevator, map[string]any{"floor": 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := q.AddTask(tt.typ, tt.params, PriorityNormal, nil)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidParams) {
				t.Fatalf("err = %v, want ErrInvalidParams", err)
			}
		})
	}
}

func TestAddTaskRejectsUnknownPriority(t *testing.T) {
	q := newTestQueue(t, nil)
	q.Register(TypeMove, newGate())
	if _, err := q.AddTask(TypeMove, pt(0, 0), "urgent", nil); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("err = %v, want ErrInvalidParams", err)
	}
}

func TestAddTaskQueuePosition(t *testing.T) {
	q := newTestQueue(t, nil)
	q.Register(TypeMove, newGate())

	r1, _ := q.AddTask(TypeMove, pt(0, 0), PriorityNormal, nil)
	r2, _ := q.AddTask(TypeMove, pt(0, 0), PriorityNormal, nil)
	r3, _ := q.AddTask(TypeMove, pt(0, 0), PriorityCritical, nil)
	r4, _ := q.AddTask(TypeMove, pt(0, 0), PriorityLow, nil)

	if r1.QueuePosition != 1 || r2.QueuePosition != 2 {
		t.Errorf("positions = %d, %d, want 1, 2", r1.QueuePosition, r2.QueuePosition)
	}
	if r3.QueuePosition != 1 {
		t.Errorf("critical position = %d, want 1", r3.QueuePosition)
	}
	if r4.QueuePosition != 4 {
		t.Errorf("low position = %d, want 4", r4.QueuePosition)
	}
	task, _ := q.GetTask(r1.TaskID)
	if task.State != StatePending || task.Priority != PriorityNormal {
		t.Errorf("task = %+v", task)
	}
}

// --- Scheduling ---

func TestHigherPriorityRunsFirst(t *testing.T) {
	q := newTestQueue(t, nil)
	g := newGate()
	q.Register(TypeMove, g)

	normal := mustAdd(t, q, TypeMove, pt(1, 1), PriorityNormal)
	high := mustAdd(t, q, TypeMove, pt(5, 5), PriorityHigh)

	if !q.processOnce() {
		t.Fatal("nothing started")
	}
	waitFor(t, "first start", func() bool { return len(g.started()) == 1 })
	if g.started()[0] != high {
		t.Fatalf("first = %s, want high-priority task %s", g.started()[0], high)
	}
	if q.processOnce() {
		t.Fatal("second task started while one is running")
	}

	g.release <- struct{}{}
	waitState(t, q, high, StateCompleted)
	q.processOnce()
	waitFor(t, "second start", func() bool { return len(g.started()) == 2 })
	if g.started()[1] != normal {
		t.Errorf("second = %s, want %s", g.started()[1], normal)
	}
	g.release <- struct{}{}
	waitState(t, q, normal, StateCompleted)
}

func TestEqualPriorityIsFIFO(t *testing.T) {
	q := newTestQueue(t, nil)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q.SetClock(func() time.Time { return fixed })
	g := newGate()
	q.Register(TypeMove, g)

	ids := []string{
		mustAdd(t, q, TypeMove, pt(1, 1), PriorityNormal),
		mustAdd(t, q, TypeMove, pt(2, 2), PriorityNormal),
		mustAdd(t, q, TypeMove, pt(3, 3), PriorityNormal),
	}
	for i, id := range ids {
		q.processOnce()
		waitFor(t, "start", func() bool { return len(g.started()) == i+1 })
		if g.started()[i] != id {
			t.Fatalf("run %d = %s, want %s", i, g.started()[i], id)
		}
		g.release <- struct{}{}
		waitState(t, q, id, StateCompleted)
	}
}

func TestSingleRunner(t *testing.T) {
	q := newTestQueue(t, nil)
	em := &recordingEmitter{}
	q.SetEmitter(em)

	var active, peak int32
	q.Register(TypeMove, HandlerFunc(func(ctx context.Context, _ Task, _ ProgressFunc) (map[string]any, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&active, -1)
		return nil, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	var ids []string
	prios := []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical}
	for i := 0; i < 12; i++ {
		ids = append(ids, mustAdd(t, q, TypeMove, pt(float64(i), 0), prios[i%4]))
	}
	for _, id := range ids {
		waitState(t, q, id, StateCompleted)
	}
	cancel()
	<-done

	if p := atomic.LoadInt32(&peak); p != 1 {
		t.Errorf("peak concurrent handlers = %d, want 1", p)
	}
	em.mu.Lock()
	defer em.mu.Unlock()
	if em.maxSeen > 1 {
		t.Errorf("emitter saw %d running tasks at once", em.maxSeen)
	}
}

func TestDependencyWaitsForCompletion(t *testing.T) {
	q := newTestQueue(t, nil)
	g := newGate()
	q.Register(TypeMove, g)

	a := mustAdd(t, q, TypeMove, pt(0, 0), PriorityLow)
	b := mustAdd(t, q, TypeMove, pt(1, 1), PriorityCritical, a)

	q.processOnce()
	waitFor(t, "a started", func() bool { return len(g.started()) == 1 })
	if g.started()[0] != a {
		t.Fatalf("started %s before its dependency", g.started()[0])
	}
	if task, _ := q.GetTask(b); task.State != StatePending {
		t.Fatalf("b state = %s while a runs", task.State)
	}

	g.release <- struct{}{}
	waitState(t, q, a, StateCompleted)
	q.processOnce()
	waitState(t, q, b, StateRunning)
	g.release <- struct{}{}
	waitState(t, q, b, StateCompleted)
}

func TestAddTaskCopiesDependencies(t *testing.T) {
	q := newTestQueue(t, nil)
	q.Register(TypeMove, newGate())

	a := mustAdd(t, q, TypeMove, pt(0, 0), PriorityNormal)
	deps := []string{a, "not-yet-known"}
	res, err := q.AddTask(TypeMove, pt(1, 1), PriorityNormal, deps)
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	deps[0] = "changed"

	task, err := q.GetTask(res.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if len(task.Dependencies) != 2 || task.Dependencies[0] != a || task.Dependencies[1] != "not-yet-known" {
		t.Errorf("Dependencies = %v, want [%s not-yet-known]", task.Dependencies, a)
	}
}

func TestFailedDependencyBlocks(t *testing.T) {
	q := newTestQueue(t, nil)
	q.Register(TypeMove, HandlerFunc(func(context.Context, Task, ProgressFunc) (map[string]any, error) {
		return nil, errors.New("bumper pressed")
	}))
	q.Register(TypeOpenDoor, newGate())

	a := mustAdd(t, q, TypeMove, pt(0, 0), PriorityNormal)
	b := mustAdd(t, q, TypeOpenDoor, map[string]any{"door_id": "D1"}, PriorityNormal, a)

	q.processOnce()
	waitState(t, q, a, StateFailed)
	if q.processOnce() {
		t.Fatal("task with failed dependency started")
	}
	if task, _ := q.GetTask(b); task.State != StatePending {
		t.Errorf("b state = %s, want pending", task.State)
	}
}

func TestBlockedChainDoesNotStallIndependentWork(t *testing.T) {
	q := newTestQueue(t, nil)
	g := newGate()
	q.Register(TypeOpenDoor, g)
	q.Register(TypeUseElevator, g)
	q.Register(TypeMove, g)

	// The door task waits on a probe that was never enqueued, so it never
	// becomes eligible.
	door := mustAdd(t, q, TypeOpenDoor, map[string]any{"door_id": "D9"}, PriorityHigh, "missing-probe")
	lift := mustAdd(t, q, TypeUseElevator, map[string]any{"elevator_id": "E1", "floor": 2}, PriorityCritical, door)
	move := mustAdd(t, q, TypeMove, pt(3, 3), PriorityLow)

	for i := 0; i < 5; i++ {
		q.processOnce()
	}
	waitFor(t, "independent task started", func() bool { return len(g.started()) == 1 })
	if g.started()[0] != move {
		t.Fatalf("started %s, want independent task %s", g.started()[0], move)
	}
	g.release <- struct{}{}
	waitState(t, q, move, StateCompleted)

	for i := 0; i < 5; i++ {
		q.processOnce()
	}
	for _, id := range []string{door, lift} {
		if task, _ := q.GetTask(id); task.State != StatePending {
			t.Errorf("%s state = %s, want pending", id, task.State)
		}
	}
}

func TestHandlerFailureIsolation(t *testing.T) {
	q := newTestQueue(t, nil)
	q.Register(TypeStartMapping, HandlerFunc(func(context.Context, Task, ProgressFunc) (map[string]any, error) {
		panic("lidar offline")
	}))
	q.Register(TypeFinishMapping, HandlerFunc(func(context.Context, Task, ProgressFunc) (map[string]any, error) {
		return nil, errors.New("no map in progress")
	}))
	q.Register(TypeMove, HandlerFunc(func(context.Context, Task, ProgressFunc) (map[string]any, error) {
		return map[string]any{"done": true}, nil
	}))

	panicky := mustAdd(t, q, TypeStartMapping, nil, PriorityCritical)
	failing := mustAdd(t, q, TypeFinishMapping, nil, PriorityHigh)
	next := mustAdd(t, q, TypeMove, pt(1, 1), PriorityLow)

	q.processOnce()
	waitState(t, q, panicky, StateFailed)
	q.processOnce()
	waitState(t, q, failing, StateFailed)
	q.processOnce()
	waitState(t, q, next, StateCompleted)

	task, _ := q.GetTask(panicky)
	if task.Error != "handler panic: lidar offline" {
		t.Errorf("panic error = %q", task.Error)
	}
	task, _ = q.GetTask(failing)
	if task.Error != "no map in progress" || task.CompletedAt == nil {
		t.Errorf("failed task = %+v", task)
	}
	task, _ = q.GetTask(next)
	if task.Progress != 1 || task.Result["done"] != true {
		t.Errorf("completed task = %+v", task)
	}
}

// --- Cancel / pause ---

func TestCancelPending(t *testing.T) {
	q := newTestQueue(t, nil)
	q.Register(TypeMove, newGate())
	id := mustAdd(t, q, TypeMove, pt(0, 0), PriorityNormal)

	if err := q.CancelTask(id); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	task, _ := q.GetTask(id)
	if task.State != StateCancelled || task.CompletedAt == nil {
		t.Errorf("task = %+v", task)
	}
	if q.processOnce() {
		t.Error("cancelled task started")
	}
	if err := q.CancelTask(id); !errors.Is(err, registry.ErrInvalidState) {
		t.Errorf("second cancel err = %v, want ErrInvalidState", err)
	}
	if err := q.CancelTask("nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("unknown cancel err = %v, want ErrTaskNotFound", err)
	}
}

func TestCancelRunning(t *testing.T) {
	q := newTestQueue(t, nil)
	g := newGate()
	q.Register(TypeMove, g)
	id := mustAdd(t, q, TypeMove, pt(0, 0), PriorityNormal)
	other := mustAdd(t, q, TypeMove, pt(1, 1), PriorityLow)

	q.processOnce()
	waitState(t, q, id, StateRunning)
	waitFor(t, "handler entered", func() bool { return len(g.started()) == 1 })

	if err := q.CancelTask(id); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	task, _ := q.GetTask(id)
	if task.State != StateCancelled {
		t.Fatalf("state = %s, want cancelled", task.State)
	}
	g.mu.Lock()
	if len(g.cancels) != 1 || !g.ctxAlive[0] {
		t.Errorf("handler cancel hook: calls=%v ctxAlive=%v, want one call before ctx cancel", g.cancels, g.ctxAlive)
	}
	g.mu.Unlock()

	waitFor(t, "slot freed", func() bool { return q.Status().Running == "" })
	q.processOnce()
	waitState(t, q, other, StateRunning)
	g.release <- struct{}{}
	waitState(t, q, other, StateCompleted)

	if task, _ := q.GetTask(id); task.State != StateCancelled {
		t.Errorf("cancelled task became %s", task.State)
	}
}

func TestPauseResume(t *testing.T) {
	q := newTestQueue(t, nil)
	g := newGate()
	q.Register(TypeMove, g)
	id := mustAdd(t, q, TypeMove, pt(0, 0), PriorityNormal)

	if err := q.PauseTask(id); err != nil {
		t.Fatalf("PauseTask: %v", err)
	}
	if q.processOnce() {
		t.Fatal("paused task started")
	}
	if err := q.PauseTask(id); !errors.Is(err, registry.ErrInvalidState) {
		t.Errorf("double pause err = %v", err)
	}
	if err := q.ResumeTask(id); err != nil {
		t.Fatalf("ResumeTask: %v", err)
	}
	if !q.processOnce() {
		t.Fatal("resumed task did not start")
	}
	g.release <- struct{}{}
	waitState(t, q, id, StateCompleted)
}

// --- Progress ---

func TestUpdateProgress(t *testing.T) {
	q := newTestQueue(t, nil)
	em := &recordingEmitter{}
	q.SetEmitter(em)
	g := newGate()
	q.Register(TypeMove, g)
	id := mustAdd(t, q, TypeMove, pt(0, 0), PriorityNormal)

	if err := q.UpdateProgress(id, 0.5); !errors.Is(err, registry.ErrInvalidState) {
		t.Errorf("progress on pending err = %v", err)
	}
	q.processOnce()
	waitState(t, q, id, StateRunning)

	q.UpdateProgress(id, 1.7)
	if task, _ := q.GetTask(id); task.Progress != 1 {
		t.Errorf("progress = %v, want clamped to 1", task.Progress)
	}
	q.UpdateProgress(id, -3)
	if task, _ := q.GetTask(id); task.Progress != 0 {
		t.Errorf("progress = %v, want clamped to 0", task.Progress)
	}
	g.release <- struct{}{}
	waitState(t, q, id, StateCompleted)

	em.mu.Lock()
	defer em.mu.Unlock()
	if len(em.progress) != 2 {
		t.Errorf("progress events = %v", em.progress)
	}
}

// --- Persistence ---

func TestPersistAndLoad(t *testing.T) {
	p := &memPersister{}
	q := newTestQueue(t, p)
	g := newGate()
	q.Register(TypeMove, g)

	done := mustAdd(t, q, TypeMove, pt(0, 0), PriorityHigh)
	q.processOnce()
	g.release <- struct{}{}
	waitState(t, q, done, StateCompleted)

	running := mustAdd(t, q, TypeMove, pt(1, 1), PriorityNormal)
	waiting := mustAdd(t, q, TypeMove, pt(2, 2), PriorityLow, running)
	q.processOnce()
	waitState(t, q, running, StateRunning)

	// Restart: a new queue over the same snapshot.
	q2 := newTestQueue(t, p)
	q2.Register(TypeMove, newGate())
	if err := q2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	tasks := q2.ListTasks()
	if len(tasks) != 3 {
		t.Fatalf("loaded %d tasks, want 3", len(tasks))
	}
	want := map[string]State{done: StateCompleted, running: StatePending, waiting: StatePending}
	for _, task := range tasks {
		if task.State != want[task.ID] {
			t.Errorf("%s state = %s, want %s", task.ID, task.State, want[task.ID])
		}
	}
	if tasks[0].ID != done || tasks[2].ID != waiting {
		t.Errorf("order = %s, %s, %s", tasks[0].ID, tasks[1].ID, tasks[2].ID)
	}
	if tasks[2].Dependencies[0] != running {
		t.Errorf("dependencies = %v", tasks[2].Dependencies)
	}

	next := mustAdd(t, q2, TypeMove, pt(3, 3), PriorityLow)
	task, _ := q2.GetTask(next)
	if task.Seq <= tasks[2].Seq {
		t.Errorf("seq %d not after restored %d", task.Seq, tasks[2].Seq)
	}

	g.release <- struct{}{}
}

func TestStatus(t *testing.T) {
	q := newTestQueue(t, nil)
	g := newGate()
	q.Register(TypeMove, g)
	a := mustAdd(t, q, TypeMove, pt(0, 0), PriorityNormal)
	b := mustAdd(t, q, TypeMove, pt(0, 0), PriorityNormal)
	mustAdd(t, q, TypeMove, pt(0, 0), PriorityNormal)
	q.CancelTask(b)
	q.processOnce()
	waitState(t, q, a, StateRunning)

	st := q.Status()
	if st.Total != 3 || st.Running != a {
		t.Errorf("status = %+v", st)
	}
	if st.Counts[StateRunning] != 1 || st.Counts[StatePending] != 1 || st.Counts[StateCancelled] != 1 {
		t.Errorf("counts = %v", st.Counts)
	}
	g.release <- struct{}{}
	waitState(t, q, a, StateCompleted)
}
