package engine

import (
	"robonav/elevator"
	"robonav/geom"
	"robonav/motion"
	"robonav/registry"
	"robonav/taskqueue"
)

// queueEmitter bridges the taskqueue package's emitter interface to the EventBus.
type queueEmitter struct {
	bus *EventBus
}

func (e *queueEmitter) EmitTaskStateChanged(t taskqueue.Task, old taskqueue.State) {
	e.bus.Emit(Event{Type: EventTaskStateChanged, Payload: TaskStateChangedEvent{Task: t, OldState: old}})
}

func (e *queueEmitter) EmitTaskProgress(taskID string, progress float64) {
	e.bus.Emit(Event{Type: EventTaskProgress, Payload: TaskProgressEvent{TaskID: taskID, Progress: progress}})
}

// navigatorEmitter bridges elevator session events to the EventBus.
type navigatorEmitter struct {
	bus *EventBus
}

func (e *navigatorEmitter) EmitSessionStateChanged(snap elevator.Snapshot, old elevator.State) {
	e.bus.Emit(Event{Type: EventSessionStateChanged, Payload: SessionStateChangedEvent{Session: snap, OldState: old}})
}

func (e *navigatorEmitter) EmitRobotFloorChanged(floor int) {
	e.bus.Emit(Event{Type: EventRobotFloorChanged, Payload: RobotFloorChangedEvent{Floor: floor}})
}

// doorEmitter bridges door monitor events to the EventBus.
type doorEmitter struct {
	bus *EventBus
}

func (e *doorEmitter) EmitDoorStateChanged(id string, old, next registry.DoorState) {
	e.bus.Emit(Event{Type: EventDoorStateChanged, Payload: DoorStateChangedEvent{DoorID: id, OldState: old, NewState: next}})
}

func (e *doorEmitter) EmitDoorOpenRequested(id, reason string) {
	e.bus.Emit(Event{Type: EventDoorOpenRequested, Payload: DoorOpenRequestedEvent{DoorID: id, Reason: reason}})
}

// gatewayEmitter bridges the movement gateway's stream to the EventBus.
type gatewayEmitter struct {
	bus *EventBus
}

func (e *gatewayEmitter) EmitPose(p geom.Pose) {
	e.bus.Emit(Event{Type: EventPose, Payload: PoseEvent{Pose: p}})
}

func (e *gatewayEmitter) EmitMoveEvent(ev motion.MoveEvent) {
	e.bus.Emit(Event{Type: EventMoveFinished, Payload: MoveFinishedEvent{Move: ev}})
}
