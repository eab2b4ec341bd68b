package protocol

import (
	"encoding/json"

	"go.uber.org/zap"
)

// FilterFunc returns true if the message should be processed.
type FilterFunc func(hdr *RawHeader) bool

// MessageHandler defines callbacks for all protocol message types.
// Embed NoOpHandler and override only the methods you need.
type MessageHandler interface {
	// Robot -> device
	HandleDoorCommand(env *Envelope, p *DoorCommand)
	HandleElevatorCall(env *Envelope, p *ElevatorCall)
	HandleElevatorRequestFloor(env *Envelope, p *ElevatorRequestFloor)

	// Device -> robot
	HandleDeviceStatus(env *Envelope, p *DeviceStatus)

	// Robot -> monitors
	HandleTaskUpdate(env *Envelope, p *TaskUpdate)
	HandleSessionUpdate(env *Envelope, p *SessionUpdate)
	HandleRobotHeartbeat(env *Envelope, p *RobotHeartbeat)
}

// Ingestor performs two-phase decode and dispatches to a MessageHandler.
type Ingestor struct {
	handler MessageHandler
	filter  FilterFunc
	log     *zap.Logger
}

// NewIngestor creates an ingestor with the given handler and filter.
func NewIngestor(handler MessageHandler, filter FilterFunc, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		handler: handler,
		filter:  filter,
		log:     logger.Named("protocol"),
	}
}

// HandleRaw is the entry point for raw message bytes from the messaging layer.
func (ing *Ingestor) HandleRaw(data []byte) {
	// Phase 1: routing header only
	var hdr RawHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		ing.log.Warn("header decode error", zap.Error(err))
		return
	}

	if IsExpiredHeader(&hdr) {
		ing.log.Debug("dropping expired message", zap.String("id", hdr.ID), zap.String("type", hdr.Type))
		return
	}

	if ing.filter != nil && !ing.filter(&hdr) {
		return
	}

	// Phase 2: full envelope
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		ing.log.Warn("envelope decode error", zap.Error(err))
		return
	}

	switch env.Type {
	case TypeDoorCommand:
		decodeAndCall(ing, ing.handler.HandleDoorCommand, &env)
	case TypeElevatorCall:
		decodeAndCall(ing, ing.handler.HandleElevatorCall, &env)
	case TypeElevatorRequestFloor:
		decodeAndCall(ing, ing.handler.HandleElevatorRequestFloor, &env)
	case TypeDeviceStatus:
		decodeAndCall(ing, ing.handler.HandleDeviceStatus, &env)
	case TypeTaskUpdate:
		decodeAndCall(ing, ing.handler.HandleTaskUpdate, &env)
	case TypeSessionUpdate:
		decodeAndCall(ing, ing.handler.HandleSessionUpdate, &env)
	case TypeRobotHeartbeat:
		decodeAndCall(ing, ing.handler.HandleRobotHeartbeat, &env)
	default:
		ing.log.Warn("unknown message type", zap.String("type", env.Type))
	}
}

// IsEnvelope reports whether data looks like an Envelope rather than a bare
// device payload. Some door controllers publish bare DeviceStatus JSON.
func IsEnvelope(data []byte) bool {
	var hdr RawHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return false
	}
	return hdr.Version > 0 && hdr.Type != ""
}

// decodeAndCall unmarshals the payload and calls the handler method.
func decodeAndCall[T any](ing *Ingestor, fn func(*Envelope, *T), env *Envelope) {
	var p T
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		ing.log.Warn("payload decode error", zap.String("type", env.Type), zap.Error(err))
		return
	}
	fn(env, &p)
}
