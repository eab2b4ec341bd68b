package messaging

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"robonav/protocol"
	"robonav/registry"
)

// Transport is the part of Client the device gateway needs.
type Transport interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler MessageHandler) error
	IsConnected() bool
}

// StatusSink receives device status reports decoded from the status topic.
type StatusSink interface {
	OnDeviceStatus(st protocol.DeviceStatus)
}

// DeviceGateway sends commands to door and elevator controllers on
// <prefix>/<address token> and routes their status reports to a sink.
type DeviceGateway struct {
	transport   Transport
	robotID     string
	prefix      string
	statusTopic string
	log         *zap.Logger
}

func NewDeviceGateway(t Transport, robotID, commandPrefix, statusTopic string, logger *zap.Logger) *DeviceGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceGateway{
		transport:   t,
		robotID:     robotID,
		prefix:      commandPrefix,
		statusTopic: statusTopic,
		log:         logger.Named("devices"),
	}
}

// CommandTopic returns the topic a device with the given token listens on.
func (g *DeviceGateway) CommandTopic(token string) string {
	return g.prefix + "/" + token
}

func (g *DeviceGateway) IsConnected() bool { return g.transport.IsConnected() }

func (g *DeviceGateway) SendDoorCommand(token, doorID, command string) error {
	return g.send(token, protocol.TypeDoorCommand, &protocol.DoorCommand{DoorID: doorID, Command: command})
}

func (g *DeviceGateway) CallElevator(token, elevatorID string, fromFloor, toFloor int) error {
	return g.send(token, protocol.TypeElevatorCall, &protocol.ElevatorCall{
		ElevatorID: elevatorID,
		FromFloor:  fromFloor,
		ToFloor:    toFloor,
	})
}

func (g *DeviceGateway) RequestFloor(token, elevatorID string, floor int) error {
	return g.send(token, protocol.TypeElevatorRequestFloor, &protocol.ElevatorRequestFloor{
		ElevatorID: elevatorID,
		Floor:      floor,
	})
}

func (g *DeviceGateway) send(token, msgType string, payload any) error {
	if !g.transport.IsConnected() {
		return fmt.Errorf("send %s to %s: %w", msgType, token, registry.ErrMessagingUnavailable)
	}
	env, err := protocol.NewEnvelope(msgType,
		protocol.Address{Role: protocol.RoleRobot, Node: g.robotID},
		protocol.Address{Role: protocol.RoleDevice, Node: token},
		payload,
	)
	if err != nil {
		return fmt.Errorf("build %s: %w", msgType, err)
	}
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}
	if err := g.transport.Publish(g.CommandTopic(token), data); err != nil {
		return fmt.Errorf("send %s to %s: %w", msgType, token, err)
	}
	g.log.Debug("sent", zap.String("type", msgType), zap.String("token", token))
	return nil
}

// Listen subscribes to the status topic and forwards every report to sink.
// Envelopes addressed to another robot are dropped; bare DeviceStatus JSON
// from simpler controllers is accepted as is.
func (g *DeviceGateway) Listen(sink StatusSink) error {
	ing := protocol.NewIngestor(&statusHandler{sink: sink}, func(hdr *protocol.RawHeader) bool {
		return hdr.Dst.Node == "" || hdr.Dst.Node == g.robotID
	}, g.log)

	return g.transport.Subscribe(g.statusTopic, func(_ string, data []byte) {
		g.handleStatus(ing, sink, data)
	})
}

func (g *DeviceGateway) handleStatus(ing *protocol.Ingestor, sink StatusSink, data []byte) {
	if protocol.IsEnvelope(data) {
		ing.HandleRaw(data)
		return
	}
	var st protocol.DeviceStatus
	if err := json.Unmarshal(data, &st); err != nil || st.SenderToken == "" {
		g.log.Warn("unrecognized status message", zap.ByteString("data", data))
		return
	}
	sink.OnDeviceStatus(st)
}

type statusHandler struct {
	protocol.NoOpHandler
	sink StatusSink
}

func (h *statusHandler) HandleDeviceStatus(env *protocol.Envelope, p *protocol.DeviceStatus) {
	if p.SenderToken == "" {
		p.SenderToken = env.Src.Node
	}
	h.sink.OnDeviceStatus(*p)
}
