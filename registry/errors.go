package registry

import "errors"

// Failure kinds shared by the device-facing components. Callers wrap these
// with context and test them with errors.Is.
var (
	ErrUnknownDevice        = errors.New("unknown device")
	ErrInvalidFloor         = errors.New("floor not serviced")
	ErrMessagingUnavailable = errors.New("messaging unavailable")
	ErrMoveFailed           = errors.New("move failed")
	ErrTimeout              = errors.New("timeout")
	ErrInvalidState         = errors.New("invalid state")
	ErrInvalidPolygon       = errors.New("boundary polygon needs at least 3 points")
)
