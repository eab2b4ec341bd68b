package engine

import (
	"fmt"

	"go.uber.org/zap"

	"robonav/protocol"
	"robonav/taskqueue"
)

func (e *Engine) wireEventHandlers() {
	// Robot stream: poses drive the door monitor, move outcomes resolve
	// whoever is waiting on the move.
	e.Events.SubscribeTypes(func(evt Event) {
		e.doors.OnPose(evt.Payload.(PoseEvent).Pose)
	}, EventPose)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(MoveFinishedEvent).Move
		e.mover.OnMoveEvent(ev)
		e.nav.OnMoveEvent(ev)
	}, EventMoveFinished)

	// Task transitions: history, audit and an outbound task.update
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(TaskStateChangedEvent)
		e.handleTaskStateChanged(ev)
	}, EventTaskStateChanged)

	// Elevator sessions: audit and an outbound session.update
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(SessionStateChangedEvent)
		e.handleSessionStateChanged(ev)
	}, EventSessionStateChanged)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(RobotFloorChangedEvent)
		e.logFn("engine: robot now on floor %d", ev.Floor)
		if e.db != nil {
			e.db.AppendAudit("robot", e.cfg.Messaging.RobotID, "floor", "", fmt.Sprint(ev.Floor), "system")
		}
	}, EventRobotFloorChanged)

	// Doors: audit
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(DoorStateChangedEvent)
		if e.db != nil {
			e.db.AppendAudit("door", ev.DoorID, "state", string(ev.OldState), string(ev.NewState), "system")
		}
	}, EventDoorStateChanged)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(DoorOpenRequestedEvent)
		e.log.Info("door open requested", zap.String("door", ev.DoorID), zap.String("reason", ev.Reason))
	}, EventDoorOpenRequested)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(ConnectionEvent)
		e.logFn("engine: %s", ev.Detail)
	}, EventGatewayConnected, EventGatewayDisconnected, EventMessagingConnected, EventMessagingDisconnected)
}

func (e *Engine) handleTaskStateChanged(ev TaskStateChangedEvent) {
	t := ev.Task
	if e.db == nil {
		return
	}
	if err := e.db.AppendTaskHistory(t.ID, string(t.Type), string(ev.OldState), string(t.State), t.Error); err != nil {
		e.log.Warn("task history", zap.String("task", t.ID), zap.Error(err))
	}
	switch t.State {
	case taskqueue.StatePending:
		if ev.OldState == "" {
			e.db.AppendAudit("task", t.ID, "created", "", string(t.Type), "system")
		}
	case taskqueue.StateCompleted, taskqueue.StateFailed, taskqueue.StateCancelled:
		e.db.AppendAudit("task", t.ID, string(t.State), string(ev.OldState), t.Error, "system")
	}

	e.enqueueEvent(protocol.TypeTaskUpdate, &protocol.TaskUpdate{
		TaskID:   t.ID,
		TaskType: string(t.Type),
		State:    string(t.State),
		Progress: t.Progress,
		Error:    t.Error,
	})
}

func (e *Engine) handleSessionStateChanged(ev SessionStateChangedEvent) {
	s := ev.Session
	e.log.Info("elevator session", zap.Uint64("session", s.ID), zap.String("from", string(ev.OldState)),
		zap.String("to", string(s.State)))
	if e.db == nil {
		return
	}
	if s.State.Terminal() {
		e.db.AppendAudit("session", fmt.Sprint(s.ID), string(s.State), string(ev.OldState),
			fmt.Sprintf("%s %d->%d %s", s.ElevatorID, s.OriginFloor, s.DestinationFloor, s.Error), "system")
	}
	e.enqueueEvent(protocol.TypeSessionUpdate, &protocol.SessionUpdate{
		SessionID:        s.ID,
		ElevatorID:       s.ElevatorID,
		State:            string(s.State),
		OriginFloor:      s.OriginFloor,
		DestinationFloor: s.DestinationFloor,
		Error:            s.Error,
	})
}

// enqueueEvent writes a monitor-bound envelope to the outbox; the drainer
// publishes it on the events topic.
func (e *Engine) enqueueEvent(msgType string, payload any) {
	robotID := e.cfg.Messaging.RobotID
	env, err := protocol.NewEnvelope(msgType,
		protocol.Address{Role: protocol.RoleRobot, Node: robotID},
		protocol.Address{Role: protocol.RoleMonitor},
		payload,
	)
	if err != nil {
		e.log.Warn("build event", zap.String("type", msgType), zap.Error(err))
		return
	}
	data, err := env.Encode()
	if err != nil {
		e.log.Warn("encode event", zap.String("type", msgType), zap.Error(err))
		return
	}
	if err := e.db.EnqueueOutbox(e.cfg.Messaging.EventsTopic, data, msgType, robotID); err != nil {
		e.log.Warn("enqueue event", zap.String("type", msgType), zap.Error(err))
	}
}
