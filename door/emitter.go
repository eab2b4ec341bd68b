package door

import "robonav/registry"

// Reasons passed to EmitDoorOpenRequested.
const (
	ReasonRequest   = "request"
	ReasonProximity = "proximity"
	ReasonReopen    = "reopen"
)

// EventEmitter is the interface the door package uses to emit events.
type EventEmitter interface {
	EmitDoorStateChanged(doorID string, oldState, newState registry.DoorState)
	EmitDoorOpenRequested(doorID, reason string)
}

type nopEmitter struct{}

func (nopEmitter) EmitDoorStateChanged(string, registry.DoorState, registry.DoorState) {}
func (nopEmitter) EmitDoorOpenRequested(string, string)                             {}
