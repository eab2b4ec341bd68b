package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	src := Address{Role: RoleRobot, Node: "robot-1"}
	dst := Address{Role: RoleDevice, Node: "lift-aa:bb"}

	env, err := NewEnvelope(TypeElevatorCall, src, dst, &ElevatorCall{
		ElevatorID: "E1",
		FromFloor:  1,
		ToFloor:    3,
	})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.Version != Version {
		t.Errorf("version = %d, want %d", env.Version, Version)
	}
	if env.Src != src {
		t.Errorf("src = %+v, want %+v", env.Src, src)
	}
	if env.ID == "" {
		t.Error("ID should not be empty")
	}

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.ID != env.ID {
		t.Errorf("decoded id = %q, want %q", decoded.ID, env.ID)
	}

	var call ElevatorCall
	if err := decoded.DecodePayload(&call); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if call.FromFloor != 1 || call.ToFloor != 3 {
		t.Errorf("call = %+v, want 1 -> 3", call)
	}
}

func TestNewReply(t *testing.T) {
	reply, err := NewReply(TypeDeviceStatus,
		Address{Role: RoleDevice, Node: "door-1"},
		Address{Role: RoleRobot, Node: "robot-1"},
		"orig-msg-id",
		&DeviceStatus{SenderToken: "door-1", State: "open"},
	)
	if err != nil {
		t.Fatalf("NewReply: %v", err)
	}
	if reply.CorID != "orig-msg-id" {
		t.Errorf("cor = %q, want %q", reply.CorID, "orig-msg-id")
	}
}

func TestExpiry(t *testing.T) {
	env := &Envelope{ExpiresAt: time.Now().UTC().Add(-1 * time.Minute)}
	if !IsExpired(env) {
		t.Error("expected expired envelope to be detected")
	}
	env.ExpiresAt = time.Now().UTC().Add(10 * time.Minute)
	if IsExpired(env) {
		t.Error("expected future-expiry envelope to not be expired")
	}
	env.ExpiresAt = time.Time{}
	if IsExpired(env) {
		t.Error("expected zero-expiry envelope to not be expired")
	}
}

func TestDefaultTTLFor(t *testing.T) {
	if ttl := DefaultTTLFor(TypeDoorCommand); ttl != 15*time.Second {
		t.Errorf("door command TTL = %v, want 15s", ttl)
	}
	if ttl := DefaultTTLFor(TypeRobotHeartbeat); ttl != 90*time.Second {
		t.Errorf("heartbeat TTL = %v, want 90s", ttl)
	}
	if ttl := DefaultTTLFor("unknown.type"); ttl != FallbackTTL {
		t.Errorf("unknown TTL = %v, want %v", ttl, FallbackTTL)
	}
}

func TestIngestorDispatch(t *testing.T) {
	handler := &testHandler{}
	ingestor := NewIngestor(handler, nil, nil)

	floor := 2
	env, _ := NewEnvelope(TypeDeviceStatus,
		Address{Role: RoleDevice, Node: "lift-1"},
		Address{Role: RoleRobot},
		&DeviceStatus{SenderToken: "lift-1", State: "available", Floor: &floor, Door: "open"},
	)
	data, _ := env.Encode()
	ingestor.HandleRaw(data)

	if len(handler.statuses) != 1 {
		t.Fatalf("statuses = %d, want 1", len(handler.statuses))
	}
	got := handler.statuses[0]
	if got.SenderToken != "lift-1" || got.Floor == nil || *got.Floor != 2 || got.Door != "open" {
		t.Errorf("status = %+v", got)
	}
}

func TestIngestorFilter(t *testing.T) {
	handler := &testHandler{}
	ingestor := NewIngestor(handler, func(hdr *RawHeader) bool {
		return hdr.Dst.Node == "robot-1" || hdr.Dst.Node == ""
	}, nil)

	for _, dst := range []string{"robot-1", "robot-2", ""} {
		env, _ := NewEnvelope(TypeDeviceStatus,
			Address{Role: RoleDevice, Node: "d"},
			Address{Role: RoleRobot, Node: dst},
			&DeviceStatus{SenderToken: "d", State: "open"},
		)
		data, _ := env.Encode()
		ingestor.HandleRaw(data)
	}
	if len(handler.statuses) != 2 {
		t.Errorf("statuses = %d, want 2 (robot-2 filtered)", len(handler.statuses))
	}
}

func TestIngestorDropsExpired(t *testing.T) {
	handler := &testHandler{}
	ingestor := NewIngestor(handler, nil, nil)

	env, _ := NewEnvelope(TypeDoorCommand,
		Address{Role: RoleRobot, Node: "robot-1"},
		Address{Role: RoleDevice, Node: "door-1"},
		&DoorCommand{DoorID: "D1", Command: DoorOpen},
	)
	env.ExpiresAt = time.Now().UTC().Add(-1 * time.Minute)
	data, _ := env.Encode()
	ingestor.HandleRaw(data)

	if handler.doorCommands != 0 {
		t.Error("expected handler to NOT be called for expired message")
	}
}

func TestIngestorIgnoresGarbage(t *testing.T) {
	handler := &testHandler{}
	ingestor := NewIngestor(handler, nil, nil)
	ingestor.HandleRaw([]byte("not json"))
	ingestor.HandleRaw([]byte(`{"v":1,"type":"device.status","p":"oops"}`))
	ingestor.HandleRaw([]byte(`{"v":1,"type":"nope.nope","p":{}}`))
	if len(handler.statuses) != 0 {
		t.Errorf("statuses = %d, want 0", len(handler.statuses))
	}
}

func TestIsEnvelope(t *testing.T) {
	env, _ := NewEnvelope(TypeDeviceStatus, Address{}, Address{}, &DeviceStatus{State: "open"})
	data, _ := env.Encode()
	if !IsEnvelope(data) {
		t.Error("encoded envelope not recognized")
	}
	if IsEnvelope([]byte(`{"sender_token":"door-1","state":"open"}`)) {
		t.Error("bare status treated as envelope")
	}
	if IsEnvelope([]byte(`[1,2`)) {
		t.Error("garbage treated as envelope")
	}
}

func TestWireFormatKeys(t *testing.T) {
	env, _ := NewEnvelope(TypeRobotHeartbeat,
		Address{Role: RoleRobot, Node: "robot-1"},
		Address{Role: RoleMonitor},
		&RobotHeartbeat{RobotID: "robot-1", Uptime: 60},
	)
	data, _ := env.Encode()

	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"v", "type", "id", "src", "dst", "ts", "exp", "p"} {
		if _, ok := m[k]; !ok {
			t.Errorf("expected key %q in wire format", k)
		}
	}
	for _, k := range []string{"version", "payload", "timestamp", "expires_at"} {
		if _, ok := m[k]; ok {
			t.Errorf("unexpected long key %q in wire format", k)
		}
	}
}

type testHandler struct {
	NoOpHandler
	statuses     []DeviceStatus
	doorCommands int
}

func (h *testHandler) HandleDeviceStatus(_ *Envelope, p *DeviceStatus) {
	h.statuses = append(h.statuses, *p)
}

func (h *testHandler) HandleDoorCommand(_ *Envelope, _ *DoorCommand) {
	h.doorCommands++
}
