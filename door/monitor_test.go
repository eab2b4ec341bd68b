package door

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"robonav/config"
	"robonav/geom"
	"robonav/registry"
)

type sentCommand struct {
	token, doorID, command string
}

type mockMessenger struct {
	mu        sync.Mutex
	connected bool
	err       error
	sent      []sentCommand
}

func (m *mockMessenger) SendDoorCommand(token, doorID, command string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentCommand{token, doorID, command})
	return nil
}

func (m *mockMessenger) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type mockEmitter struct {
	mu       sync.Mutex
	changes  []string
	requests []string
}

func (e *mockEmitter) EmitDoorStateChanged(id string, old, next registry.DoorState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.changes = append(e.changes, id+":"+string(old)+">"+string(next))
}

func (e *mockEmitter) EmitDoorOpenRequested(id, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, id+":"+reason)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

var corridor = geom.Polygon{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 2}, {X: 0, Y: 2}}

func newTestMonitor(t *testing.T) (*Monitor, *mockMessenger, *mockEmitter, *fakeClock) {
	t.Helper()
	msg := &mockMessenger{connected: true}
	em := &mockEmitter{}
	clk := &fakeClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	m := New(registry.New(), msg, config.DoorConfig{TickInterval: 500 * time.Millisecond, ReopenAfter: 10 * time.Second}, nil)
	m.SetEmitter(em)
	m.SetClock(clk.now)
	if err := m.Register("D1", "door-aa", corridor); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return m, msg, em, clk
}

func TestRegisterDegenerate(t *testing.T) {
	m, _, _, _ := newTestMonitor(t)
	err := m.Register("D2", "door-bb", geom.Polygon{{X: 0, Y: 0}, {X: 1, Y: 1}})
	if !errors.Is(err, registry.ErrInvalidPolygon) {
		t.Fatalf("err = %v, want ErrInvalidPolygon", err)
	}
}

func TestRequestOpen(t *testing.T) {
	m, msg, em, clk := newTestMonitor(t)

	res, err := m.RequestOpen("D1")
	if err != nil {
		t.Fatalf("RequestOpen: %v", err)
	}
	if !res.Accepted || res.State != registry.DoorOpening {
		t.Errorf("result = %+v, want accepted/opening", res)
	}
	if msg.count() != 1 {
		t.Fatalf("sent = %d, want 1", msg.count())
	}
	if s := msg.sent[0]; s.token != "door-aa" || s.doorID != "D1" || s.command != "open" {
		t.Errorf("sent = %+v", s)
	}
	d, _ := m.Get("D1")
	if !d.LastCommandAt.Equal(clk.t) {
		t.Errorf("LastCommandAt = %v, want %v", d.LastCommandAt, clk.t)
	}
	if len(em.requests) != 1 || em.requests[0] != "D1:request" {
		t.Errorf("requests = %v", em.requests)
	}
}

func TestRequestOpenIdempotent(t *testing.T) {
	m, msg, _, _ := newTestMonitor(t)
	m.OnStatusMessage("D1", "open")

	for i := 0; i < 2; i++ {
		res, err := m.RequestOpen("D1")
		if err != nil {
			t.Fatalf("RequestOpen #%d: %v", i, err)
		}
		if !res.Accepted || res.State != registry.DoorOpen {
			t.Errorf("result #%d = %+v", i, res)
		}
	}
	if msg.count() != 0 {
		t.Errorf("sent = %d, want 0 for an open door", msg.count())
	}

	// From closed: two immediate requests send exactly once.
	m.OnStatusMessage("D1", "closed")
	m.RequestOpen("D1")
	m.RequestOpen("D1")
	if msg.count() != 1 {
		t.Errorf("sent = %d, want 1", msg.count())
	}
}

func TestRequestOpenConcurrent(t *testing.T) {
	m, msg, _, _ := newTestMonitor(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RequestOpen("D1")
		}()
	}
	wg.Wait()
	if msg.count() != 1 {
		t.Errorf("sent = %d, want 1", msg.count())
	}
}

func TestRequestOpenErrors(t *testing.T) {
	m, msg, _, _ := newTestMonitor(t)

	if _, err := m.RequestOpen("nope"); !errors.Is(err, registry.ErrUnknownDevice) {
		t.Errorf("unknown door err = %v", err)
	}

	msg.connected = false
	if _, err := m.RequestOpen("D1"); !errors.Is(err, registry.ErrMessagingUnavailable) {
		t.Errorf("disconnected err = %v", err)
	}
	d, _ := m.Get("D1")
	if d.State != registry.DoorUnknown {
		t.Errorf("state after failed send = %q, want unknown", d.State)
	}
}

func TestOnStatusMessage(t *testing.T) {
	m, _, em, clk := newTestMonitor(t)

	tests := []struct {
		raw  string
		want registry.DoorState
	}{
		{"OPENED", registry.DoorOpen},
		{"door_closed", registry.DoorClosed},
		{"0", registry.DoorClosed},
		{"fault", registry.DoorError},
		{"half-open", registry.DoorUnknown},
	}
	for _, tt := range tests {
		got, err := m.OnStatusMessage("D1", tt.raw)
		if err != nil {
			t.Fatalf("OnStatusMessage(%q): %v", tt.raw, err)
		}
		if got != tt.want {
			t.Errorf("OnStatusMessage(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
	d, _ := m.Get("D1")
	if !d.LastSeen.Equal(clk.t) {
		t.Errorf("LastSeen not updated")
	}
	// closed -> closed does not emit.
	if len(em.changes) != 4 {
		t.Errorf("changes = %v, want 4 entries", em.changes)
	}
	if _, err := m.OnStatusMessage("nope", "open"); !errors.Is(err, registry.ErrUnknownDevice) {
		t.Errorf("unknown door err = %v", err)
	}
}

func TestTickOpensDoorOnPose(t *testing.T) {
	m, msg, em, _ := newTestMonitor(t)

	m.Tick()
	if msg.count() != 0 {
		t.Fatalf("sent without pose = %d", msg.count())
	}

	m.OnPose(geom.Pose{X: 10, Y: 10})
	m.Tick()
	if msg.count() != 0 {
		t.Fatalf("sent while outside = %d", msg.count())
	}

	m.OnPose(geom.Pose{X: 1, Y: 1})
	m.Tick()
	m.Tick()
	if msg.count() != 1 {
		t.Fatalf("sent while inside = %d, want 1", msg.count())
	}
	if em.requests[0] != "D1:proximity" {
		t.Errorf("request reason = %v", em.requests)
	}

	m.OnStatusMessage("D1", "open")
	m.Tick()
	if msg.count() != 1 {
		t.Errorf("open door re-requested")
	}
}

func TestTickReopensStuckDoor(t *testing.T) {
	m, msg, em, clk := newTestMonitor(t)
	m.RequestOpen("D1")

	clk.advance(5 * time.Second)
	m.Tick()
	if msg.count() != 1 {
		t.Fatalf("re-requested too early: %d", msg.count())
	}

	for i := 0; i < maxReopens+2; i++ {
		clk.advance(10 * time.Second)
		m.Tick()
	}
	if msg.count() != 1+maxReopens {
		t.Errorf("sent = %d, want %d", msg.count(), 1+maxReopens)
	}
	if d, _ := m.Get("D1"); d.State != registry.DoorOpening {
		t.Errorf("state after reopen cap = %q, want opening", d.State)
	}
	if em.requests[len(em.requests)-1] != "D1:reopen" {
		t.Errorf("last reason = %v", em.requests)
	}

	// A fresh cycle after a status report resets the budget.
	m.OnStatusMessage("D1", "closed")
	m.RequestOpen("D1")
	clk.advance(10 * time.Second)
	m.Tick()
	if msg.count() != 3+maxReopens {
		t.Errorf("sent after reset = %d, want %d", msg.count(), 3+maxReopens)
	}
}

func TestSendOpenLogsRegistryMiss(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	msg := &mockMessenger{connected: true}
	m := New(registry.New(), msg, config.DoorConfig{TickInterval: 500 * time.Millisecond, ReopenAfter: 10 * time.Second}, zap.New(core))

	ghost := registry.Door{Device: registry.Device{ID: "D9", AddressToken: "door-99"}}
	if err := m.sendOpen(ghost); err != nil {
		t.Fatalf("sendOpen: %v", err)
	}
	if msg.count() != 1 {
		t.Errorf("sent = %d, want 1", msg.count())
	}
	if logs.FilterMessage("mark door opening failed").Len() != 1 {
		t.Errorf("registry error not logged; logs = %v", logs.All())
	}
}
