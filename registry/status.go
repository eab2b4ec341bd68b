package registry

import "strings"

// ParseDoorState maps the status vocabulary used by door and elevator
// controllers onto DoorState. Unrecognized tokens map to DoorUnknown.
func ParseDoorState(raw string) DoorState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "open", "opened", "door_open", "1":
		return DoorOpen
	case "closed", "close", "door_closed", "0":
		return DoorClosed
	case "opening", "door_opening":
		return DoorOpening
	case "closing", "door_closing":
		return DoorClosing
	case "error", "fault", "alarm":
		return DoorError
	default:
		return DoorUnknown
	}
}

// ParseElevatorState maps a controller's car state onto ElevatorState.
func ParseElevatorState(raw string) ElevatorState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "available", "idle", "ready", "arrived", "stopped":
		return ElevatorAvailable
	case "moving", "running", "up", "down":
		return ElevatorMoving
	case "closing", "door_closing":
		return ElevatorClosing
	case "error", "fault", "alarm", "out_of_service":
		return ElevatorFault
	default:
		return ElevatorUnknown
	}
}
