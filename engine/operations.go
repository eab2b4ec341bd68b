package engine

import (
	"robonav/door"
	"robonav/elevator"
	"robonav/registry"
	"robonav/taskqueue"
)

func (e *Engine) AddTask(typ string, params map[string]any, priority string, deps []string) (taskqueue.AddResult, error) {
	return e.queue.AddTask(taskqueue.TaskType(typ), params, taskqueue.Priority(priority), deps)
}

func (e *Engine) CancelTask(id string) error { return e.queue.CancelTask(id) }

func (e *Engine) PauseTask(id string) error { return e.queue.PauseTask(id) }

func (e *Engine) ResumeTask(id string) error { return e.queue.ResumeTask(id) }

func (e *Engine) GetTask(id string) (taskqueue.Task, error) { return e.queue.GetTask(id) }

func (e *Engine) ListTasks() []taskqueue.Task { return e.queue.ListTasks() }

func (e *Engine) GetQueueStatus() taskqueue.Status { return e.queue.Status() }

// NavigateToFloor starts an elevator session. A robot already on floor gets
// a completed snapshot with ID 0.
func (e *Engine) NavigateToFloor(elevatorID string, floor int) (elevator.Snapshot, error) {
	return e.nav.Start(elevatorID, floor)
}

func (e *Engine) CancelNavigation() error { return e.nav.Cancel() }

func (e *Engine) RequestDoorOpen(id string) (door.Result, error) {
	return e.doors.RequestOpen(id)
}

// ElevatorStatus is an elevator plus the session riding it, if any.
type ElevatorStatus struct {
	registry.Elevator
	Session *elevator.Snapshot `json:"session,omitempty"`
}

func (e *Engine) GetElevatorStatus(id string) (ElevatorStatus, error) {
	el, err := e.nav.Elevator(id)
	if err != nil {
		return ElevatorStatus{}, err
	}
	st := ElevatorStatus{Elevator: el}
	if s, ok := e.nav.Current(); ok && s.ElevatorID == id {
		st.Session = &s
	}
	return st, nil
}

func (e *Engine) ListElevators() []registry.Elevator { return e.nav.Elevators() }

func (e *Engine) GetDoorStatus(id string) (registry.Door, error) { return e.doors.Get(id) }

func (e *Engine) ListDoors() []registry.Door { return e.doors.List() }

// NavigationStatus is the navigator's view of the robot.
type NavigationStatus struct {
	State      elevator.State      `json:"state"`
	RobotFloor *int                `json:"robot_floor,omitempty"`
	Session    *elevator.Snapshot  `json:"session,omitempty"`
	History    []elevator.Snapshot `json:"history"`
}

func (e *Engine) GetNavigationStatus() NavigationStatus {
	st := NavigationStatus{State: e.nav.State(), History: e.nav.History()}
	if f, ok := e.nav.RobotFloor(); ok {
		st.RobotFloor = &f
	}
	if s, ok := e.nav.Current(); ok {
		st.Session = &s
	}
	return st
}

func (e *Engine) SetRobotFloor(floor int) error { return e.nav.SetRobotFloor(floor) }
