package messaging

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"robonav/config"
	"robonav/protocol"
	"robonav/registry"
	"robonav/store"
)

type published struct {
	topic string
	data  []byte
}

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	failPub   bool
	sent      []published
	subs      map[string]MessageHandler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connected: true, subs: make(map[string]MessageHandler)}
}

func (f *fakeTransport) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPub {
		return errors.New("broker gone")
	}
	f.sent = append(f.sent, published{topic, payload})
	return nil
}

func (f *fakeTransport) Subscribe(topic string, h MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = h
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) deliver(topic string, data []byte) {
	f.mu.Lock()
	h := f.subs[topic]
	f.mu.Unlock()
	if h != nil {
		h(topic, data)
	}
}

type sinkRecorder struct {
	mu       sync.Mutex
	statuses []protocol.DeviceStatus
}

func (s *sinkRecorder) OnDeviceStatus(st protocol.DeviceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
}

func TestDotted(t *testing.T) {
	tests := []struct{ in, want string }{
		{"robonav/events", "robonav.events"},
		{"/robonav/devices/cmd/aa:bb:cc/", "robonav.devices.cmd.aa_bb_cc"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := dotted(tt.in); got != tt.want {
			t.Errorf("dotted(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConnectUnknownBackend(t *testing.T) {
	c := NewClient(&config.MessagingConfig{Backend: "carrier-pigeon"}, nil)
	if err := c.Connect(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if c.IsConnected() {
		t.Error("client should not report connected")
	}
}

func TestGatewaySendsEnvelope(t *testing.T) {
	tr := newFakeTransport()
	gw := NewDeviceGateway(tr, "robot-1", "robonav/devices/cmd", "robonav/devices/status", nil)

	if err := gw.CallElevator("lift-1", "E1", 1, 3); err != nil {
		t.Fatalf("CallElevator: %v", err)
	}
	if len(tr.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(tr.sent))
	}
	if tr.sent[0].topic != "robonav/devices/cmd/lift-1" {
		t.Errorf("topic = %q", tr.sent[0].topic)
	}

	var env protocol.Envelope
	if err := json.Unmarshal(tr.sent[0].data, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != protocol.TypeElevatorCall {
		t.Errorf("type = %q, want %q", env.Type, protocol.TypeElevatorCall)
	}
	if env.Src.Node != "robot-1" || env.Dst.Node != "lift-1" {
		t.Errorf("src/dst = %+v / %+v", env.Src, env.Dst)
	}
	var call protocol.ElevatorCall
	if err := env.DecodePayload(&call); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if call.ElevatorID != "E1" || call.FromFloor != 1 || call.ToFloor != 3 {
		t.Errorf("call = %+v", call)
	}
}

func TestGatewayDisconnected(t *testing.T) {
	tr := newFakeTransport()
	tr.connected = false
	gw := NewDeviceGateway(tr, "robot-1", "cmd", "status", nil)

	err := gw.SendDoorCommand("door-1", "D1", protocol.DoorOpen)
	if !errors.Is(err, registry.ErrMessagingUnavailable) {
		t.Fatalf("err = %v, want ErrMessagingUnavailable", err)
	}
	if len(tr.sent) != 0 {
		t.Errorf("sent = %d, want 0", len(tr.sent))
	}
}

func TestGatewayListen(t *testing.T) {
	tr := newFakeTransport()
	gw := NewDeviceGateway(tr, "robot-1", "cmd", "status", nil)
	sink := &sinkRecorder{}
	if err := gw.Listen(sink); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	floor := 3
	env, _ := protocol.NewEnvelope(protocol.TypeDeviceStatus,
		protocol.Address{Role: protocol.RoleDevice, Node: "lift-1"},
		protocol.Address{Role: protocol.RoleRobot, Node: "robot-1"},
		&protocol.DeviceStatus{State: "available", Floor: &floor, Door: "open"},
	)
	data, _ := env.Encode()
	tr.deliver("status", data)

	other, _ := protocol.NewEnvelope(protocol.TypeDeviceStatus,
		protocol.Address{Role: protocol.RoleDevice, Node: "lift-1"},
		protocol.Address{Role: protocol.RoleRobot, Node: "robot-2"},
		&protocol.DeviceStatus{SenderToken: "lift-1", State: "moving"},
	)
	data, _ = other.Encode()
	tr.deliver("status", data)

	tr.deliver("status", []byte(`{"sender_token":"door-1","state":"OPENED"}`))
	tr.deliver("status", []byte(`{"state":"open"}`))

	if len(sink.statuses) != 2 {
		t.Fatalf("statuses = %d, want 2", len(sink.statuses))
	}
	if sink.statuses[0].SenderToken != "lift-1" {
		t.Errorf("sender from src = %q, want lift-1", sink.statuses[0].SenderToken)
	}
	if sink.statuses[1].SenderToken != "door-1" || sink.statuses[1].State != "OPENED" {
		t.Errorf("bare status = %+v", sink.statuses[1])
	}
}

type fakeOutbox struct {
	mu      sync.Mutex
	pending []*store.OutboxMessage
	acked   []int64
	retried []int64
}

func (f *fakeOutbox) ListPendingOutbox(limit int) ([]*store.OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*store.OutboxMessage(nil), f.pending...), nil
}

func (f *fakeOutbox) AckOutbox(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeOutbox) IncrementOutboxRetries(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, id)
	return nil
}

func TestOutboxDrain(t *testing.T) {
	ob := &fakeOutbox{pending: []*store.OutboxMessage{
		{ID: 1, Topic: "events", Payload: []byte("a")},
		{ID: 2, Topic: "events", Payload: []byte("b")},
	}}
	tr := newFakeTransport()
	d := NewOutboxDrainer(ob, tr, time.Second, nil)

	d.drain()
	if len(ob.acked) != 2 || len(tr.sent) != 2 {
		t.Fatalf("acked = %v, sent = %d", ob.acked, len(tr.sent))
	}

	tr.failPub = true
	d.drain()
	if len(ob.retried) != 2 {
		t.Errorf("retried = %v, want 2 entries", ob.retried)
	}

	tr.connected = false
	d.drain()
	if len(ob.retried) != 2 {
		t.Error("disconnected drain should not touch the outbox")
	}
}

func TestHeartbeat(t *testing.T) {
	tr := newFakeTransport()
	h := NewHeartbeater(tr, "robot-1", "robonav/events", time.Hour, func() protocol.RobotHeartbeat {
		return protocol.RobotHeartbeat{RunningTask: "t1", PendingTasks: 2, SessionState: "idle"}
	}, nil)
	h.Start()
	defer h.Stop()

	if len(tr.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(tr.sent))
	}
	var env protocol.Envelope
	json.Unmarshal(tr.sent[0].data, &env)
	var hb protocol.RobotHeartbeat
	if err := env.DecodePayload(&hb); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if hb.RobotID != "robot-1" || hb.RunningTask != "t1" || hb.PendingTasks != 2 {
		t.Errorf("heartbeat = %+v", hb)
	}
	h.Stop()
}
