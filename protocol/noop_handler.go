package protocol

// NoOpHandler implements MessageHandler with no-op methods.
// Embed this and override only the methods you need.
type NoOpHandler struct{}

func (NoOpHandler) HandleDoorCommand(*Envelope, *DoorCommand)                   {}
func (NoOpHandler) HandleElevatorCall(*Envelope, *ElevatorCall)                 {}
func (NoOpHandler) HandleElevatorRequestFloor(*Envelope, *ElevatorRequestFloor) {}
func (NoOpHandler) HandleDeviceStatus(*Envelope, *DeviceStatus)                 {}
func (NoOpHandler) HandleTaskUpdate(*Envelope, *TaskUpdate)                     {}
func (NoOpHandler) HandleSessionUpdate(*Envelope, *SessionUpdate)               {}
func (NoOpHandler) HandleRobotHeartbeat(*Envelope, *RobotHeartbeat)             {}

// Compile-time check that NoOpHandler implements MessageHandler.
var _ MessageHandler = NoOpHandler{}
