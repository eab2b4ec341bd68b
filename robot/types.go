package robot

import "encoding/json"

// Response is the envelope every robot API endpoint returns.
type Response struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`
}

type MoveRequest struct {
	TargetX   float64  `json:"target_x"`
	TargetY   float64  `json:"target_y"`
	TargetOri *float64 `json:"target_ori,omitempty"`
}

type MoveCreated struct {
	ID string `json:"id"`
}

type Pose struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Ori float64 `json:"ori"`
}

type Status struct {
	Pose         Pose    `json:"pose"`
	Battery      float64 `json:"battery"`
	Charging     bool    `json:"charging"`
	CurrentMove  string  `json:"current_move,omitempty"`
	MoveState    string  `json:"move_state,omitempty"`
	MappingState string  `json:"mapping_state,omitempty"`
}

// Move event states as reported on the topic stream.
const (
	MoveSucceeded = "succeeded"
	MoveFailed    = "failed"
	MoveCancelled = "cancelled"
)

type MoveEvent struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

type MappingStartRequest struct {
	Name string `json:"name"`
}

type MappingFinishRequest struct {
	Save bool `json:"save"`
}

type MappingResult struct {
	MapID string `json:"map_id,omitempty"`
}

const (
	JackUp   = "up"
	JackDown = "down"
)

type JackRequest struct {
	Action string `json:"action"`
}

type RecordRequest struct {
	DurationS int `json:"duration_s"`
}

type RecordResult struct {
	URL string `json:"url"`
}

type UpdateRequest struct {
	Version string `json:"version,omitempty"`
}

type UpdateResult struct {
	Version string `json:"version"`
	Started bool   `json:"started"`
}

// Frame topics on the WebSocket stream.
const (
	TopicPose      = "pose"
	TopicMoveEvent = "move_event"
)

type frameHeader struct {
	Topic string `json:"topic"`
}
