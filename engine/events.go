package engine

import (
	"robonav/elevator"
	"robonav/geom"
	"robonav/motion"
	"robonav/protocol"
	"robonav/registry"
	"robonav/taskqueue"
)

const (
	EventTaskStateChanged EventType = iota + 1
	EventTaskProgress
	EventSessionStateChanged
	EventRobotFloorChanged
	EventDoorStateChanged
	EventDoorOpenRequested
	EventPose
	EventMoveFinished
	EventDeviceStatus
	EventGatewayConnected
	EventGatewayDisconnected
	EventMessagingConnected
	EventMessagingDisconnected
)

// --- Event payloads ---

type TaskStateChangedEvent struct {
	Task     taskqueue.Task
	OldState taskqueue.State
}

type TaskProgressEvent struct {
	TaskID   string
	Progress float64
}

type SessionStateChangedEvent struct {
	Session  elevator.Snapshot
	OldState elevator.State
}

type RobotFloorChangedEvent struct {
	Floor int
}

type DoorStateChangedEvent struct {
	DoorID   string
	OldState registry.DoorState
	NewState registry.DoorState
}

type DoorOpenRequestedEvent struct {
	DoorID string
	Reason string // "request", "proximity" or "reopen"
}

type PoseEvent struct {
	Pose geom.Pose
}

type MoveFinishedEvent struct {
	Move motion.MoveEvent
}

type DeviceStatusEvent struct {
	Kind   registry.Kind
	ID     string
	Status protocol.DeviceStatus
}

type ConnectionEvent struct {
	Detail string
}
