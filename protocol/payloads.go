package protocol

// --- Robot -> device ---

// DoorCommand asks a door controller to open or close.
type DoorCommand struct {
	DoorID  string `json:"door_id"`
	Command string `json:"command"`
}

// ElevatorCall summons the car to FromFloor for a ride to ToFloor.
type ElevatorCall struct {
	ElevatorID string `json:"elevator_id"`
	FromFloor  int    `json:"from_floor"`
	ToFloor    int    `json:"to_floor"`
}

// ElevatorRequestFloor is sent once the robot is inside the car.
type ElevatorRequestFloor struct {
	ElevatorID string `json:"elevator_id"`
	Floor      int    `json:"floor"`
}

// --- Device -> robot ---

// DeviceStatus is an asynchronous status report. State uses the device's
// own vocabulary; Door and Floor are only set by elevators.
type DeviceStatus struct {
	SenderToken string `json:"sender_token"`
	State       string `json:"state"`
	Floor       *int   `json:"floor,omitempty"`
	Door        string `json:"door,omitempty"`
}

// --- Robot -> monitors ---

type TaskUpdate struct {
	TaskID   string  `json:"task_id"`
	TaskType string  `json:"task_type"`
	State    string  `json:"state"`
	Progress float64 `json:"progress"`
	Error    string  `json:"error,omitempty"`
}

type SessionUpdate struct {
	SessionID        uint64 `json:"session_id"`
	ElevatorID       string `json:"elevator_id"`
	State            string `json:"state"`
	OriginFloor      int    `json:"origin_floor"`
	DestinationFloor int    `json:"destination_floor"`
	Error            string `json:"error,omitempty"`
}

type RobotHeartbeat struct {
	RobotID      string `json:"robot_id"`
	Uptime       int64  `json:"uptime_s"`
	RunningTask  string `json:"running_task,omitempty"`
	PendingTasks int    `json:"pending_tasks"`
	SessionState string `json:"session_state"`
}
