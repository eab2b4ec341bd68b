package taskqueue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnsupportedTaskType = errors.New("unsupported task type")
	ErrTaskNotFound        = errors.New("task not found")
	ErrInvalidParams       = errors.New("invalid task params")
)

type TaskType string

const (
	TypeMove           TaskType = "move"
	TypeMoveAlongRoute TaskType = "moveAlongRoute"
	TypeStartMapping   TaskType = "startMapping"
	TypeFinishMapping  TaskType = "finishMapping"
	TypeUseElevator    TaskType = "useElevator"
	TypeOpenDoor       TaskType = "openDoor"
	TypePickUpCargo    TaskType = "pickUpCargo"
	TypeDeliverCargo   TaskType = "deliverCargo"
	TypeCaptureVideo   TaskType = "captureVideo"
	TypeUpdateSystem   TaskType = "updateSystem"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 0
	}
	return -1
}

// Valid reports whether p is one of the four priorities.
func (p Priority) Valid() bool { return p.rank() >= 0 }

type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StatePaused    State = "paused"
)

// Terminal reports whether s is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

type Task struct {
	ID           string         `json:"id"`
	Type         TaskType       `json:"type"`
	Params       map[string]any `json:"params"`
	Priority     Priority       `json:"priority"`
	State        State          `json:"state"`
	Progress     float64        `json:"progress"`
	Dependencies []string       `json:"dependencies"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`

	// Seq is the enqueue order; it breaks ties between equal CreatedAt.
	Seq int64 `json:"seq"`
}

func (t *Task) clone() Task {
	c := *t
	c.Params = cloneMap(t.Params)
	c.Result = cloneMap(t.Result)
	c.Dependencies = append([]string(nil), t.Dependencies...)
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

type AddResult struct {
	TaskID        string `json:"task_id"`
	QueuePosition int    `json:"queue_position"`
}

type Status struct {
	Counts  map[State]int `json:"counts"`
	Total   int           `json:"total"`
	Running string        `json:"running,omitempty"`
}

// ProgressFunc reports a handler's progress in [0,1].
type ProgressFunc func(fraction float64)

// Handler executes one task type. Run blocks until the work is done or ctx
// ends. Cancel asks the in-flight operation to stop; it is called before
// ctx is cancelled.
type Handler interface {
	Run(ctx context.Context, t Task, progress ProgressFunc) (map[string]any, error)
	Cancel(t Task)
}

// HandlerFunc adapts a function to Handler with a no-op Cancel.
type HandlerFunc func(ctx context.Context, t Task, progress ProgressFunc) (map[string]any, error)

func (f HandlerFunc) Run(ctx context.Context, t Task, progress ProgressFunc) (map[string]any, error) {
	return f(ctx, t, progress)
}

func (f HandlerFunc) Cancel(Task) {}

// Persister stores the full queue snapshot.
type Persister interface {
	SaveTasks(tasks []Task) error
	LoadTasks() ([]Task, error)
}

// EventEmitter is the interface the taskqueue package uses to emit events.
type EventEmitter interface {
	EmitTaskStateChanged(t Task, oldState State)
	EmitTaskProgress(taskID string, progress float64)
}

type nopEmitter struct{}

func (nopEmitter) EmitTaskStateChanged(Task, State) {}
func (nopEmitter) EmitTaskProgress(string, float64) {}
