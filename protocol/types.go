package protocol

// Message type constants.
const (
	// Robot -> device (published on <command_prefix>/<address token>)
	TypeDoorCommand          = "door.command"
	TypeElevatorCall         = "elevator.call"
	TypeElevatorRequestFloor = "elevator.request_floor"

	// Device -> robot (published on the status topic)
	TypeDeviceStatus = "device.status"

	// Robot -> monitors (published on the events topic)
	TypeTaskUpdate     = "task.update"
	TypeSessionUpdate  = "session.update"
	TypeRobotHeartbeat = "robot.heartbeat"
)

// Roles for Address.Role.
const (
	RoleRobot   = "robot"
	RoleDevice  = "device"
	RoleMonitor = "monitor"
)

// Door commands.
const (
	DoorOpen  = "open"
	DoorClose = "close"
)

// Protocol version.
const Version = 1
