package elevator

import (
	"time"
)

// State is a navigation session state.
type State string

const (
	StateIdle               State = "idle"
	StateMovingToElevator   State = "moving_to_elevator"
	StateWaitingForElevator State = "waiting_for_elevator"
	StateWaitingForDoor     State = "waiting_for_door"
	StateEnteringElevator   State = "entering_elevator"
	StateInsideElevator     State = "inside_elevator"
	StateExitingElevator    State = "exiting_elevator"
	StateLeavingElevator    State = "leaving_elevator"
	StateCompleted          State = "completed"
	StateError              State = "error"
)

// Terminal reports whether s ends a session.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// Snapshot is a value copy of a navigation session.
type Snapshot struct {
	ID               uint64     `json:"id"`
	ElevatorID       string     `json:"elevator_id"`
	OriginFloor      int        `json:"origin_floor"`
	DestinationFloor int        `json:"destination_floor"`
	State            State      `json:"state"`
	StartedAt        time.Time  `json:"started_at"`
	RetryCount       int        `json:"retry_count"`
	CallAttempts     int        `json:"call_attempts"`
	MoveID           string     `json:"move_id,omitempty"`
	Error            string     `json:"error,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`

	// Err is the terminal failure with its sentinel intact.
	Err error `json:"-"`
}

// EventEmitter is the interface the elevator package uses to emit events.
type EventEmitter interface {
	EmitSessionStateChanged(snap Snapshot, oldState State)
	EmitRobotFloorChanged(floor int)
}

type nopEmitter struct{}

func (nopEmitter) EmitSessionStateChanged(Snapshot, State) {}
func (nopEmitter) EmitRobotFloorChanged(int)               {}

// Messenger sends commands to elevator controllers.
type Messenger interface {
	CallElevator(token, elevatorID string, fromFloor, toFloor int) error
	RequestFloor(token, elevatorID string, floor int) error
	IsConnected() bool
}
