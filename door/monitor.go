// Package door keeps doors in step with the robot: it opens a door as soon as
// the robot's pose enters the door's crossing polygon and tracks the state
// reported by the door controller.
package door

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"robonav/config"
	"robonav/geom"
	"robonav/protocol"
	"robonav/registry"
)

// Re-requests per open cycle before the monitor gives up on a door that
// never reports open.
const maxReopens = 3

// Messenger sends commands to door controllers.
type Messenger interface {
	SendDoorCommand(token, doorID, command string) error
	IsConnected() bool
}

type Result struct {
	Accepted bool               `json:"accepted"`
	State    registry.DoorState `json:"state"`
}

type Monitor struct {
	reg     *registry.Registry
	msg     Messenger
	emitter EventEmitter
	log     *zap.Logger
	now     func() time.Time

	tickInterval time.Duration
	reopenAfter  time.Duration

	mu      sync.Mutex
	pose    *geom.Pose
	reopens map[string]int
}

func New(reg *registry.Registry, msg Messenger, cfg config.DoorConfig, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		reg:          reg,
		msg:          msg,
		emitter:      nopEmitter{},
		log:          logger.Named("door"),
		now:          time.Now,
		tickInterval: cfg.TickInterval,
		reopenAfter:  cfg.ReopenAfter,
		reopens:      make(map[string]int),
	}
}

func (m *Monitor) SetEmitter(e EventEmitter) { m.emitter = e }

// SetClock replaces the monitor's time source.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// Register adds or updates a door. Existing state is kept.
func (m *Monitor) Register(id, addressToken string, boundary geom.Polygon) error {
	return m.reg.RegisterDoor(id, addressToken, boundary)
}

// RequestOpen asks door id to open. A door already open or opening is left
// alone and the call still succeeds.
func (m *Monitor) RequestOpen(id string) (Result, error) {
	return m.requestOpen(id, ReasonRequest)
}

func (m *Monitor) requestOpen(id, reason string) (Result, error) {
	m.mu.Lock()
	d, ok := m.reg.Door(id)
	if !ok {
		m.mu.Unlock()
		return Result{}, fmt.Errorf("door %s: %w", id, registry.ErrUnknownDevice)
	}
	if d.State == registry.DoorOpen || d.State == registry.DoorOpening {
		m.mu.Unlock()
		return Result{Accepted: true, State: d.State}, nil
	}
	delete(m.reopens, id)
	err := m.sendOpen(d)
	m.mu.Unlock()
	if err != nil {
		return Result{State: d.State}, err
	}

	m.emitter.EmitDoorOpenRequested(id, reason)
	m.emitter.EmitDoorStateChanged(id, d.State, registry.DoorOpening)
	return Result{Accepted: true, State: registry.DoorOpening}, nil
}

// sendOpen sends the open command and marks the door opening. Caller holds m.mu.
func (m *Monitor) sendOpen(d registry.Door) error {
	if !m.msg.IsConnected() {
		return fmt.Errorf("open door %s: %w", d.ID, registry.ErrMessagingUnavailable)
	}
	if err := m.msg.SendDoorCommand(d.AddressToken, d.ID, protocol.DoorOpen); err != nil {
		return fmt.Errorf("open door %s: %w", d.ID, err)
	}
	now := m.now()
	if err := m.reg.UpdateDoor(d.ID, func(door *registry.Door) {
		door.State = registry.DoorOpening
		door.LastCommandAt = now
	}); err != nil {
		m.log.Warn("mark door opening failed", zap.String("door", d.ID), zap.Error(err))
	}
	m.log.Debug("open sent", zap.String("door", d.ID))
	return nil
}

// OnStatusMessage applies a status report from the door controller and
// returns the mapped state.
func (m *Monitor) OnStatusMessage(id, raw string) (registry.DoorState, error) {
	state := registry.ParseDoorState(raw)
	if state == registry.DoorUnknown {
		m.log.Debug("unrecognized door status", zap.String("door", id), zap.String("raw", raw))
	}
	now := m.now()

	m.mu.Lock()
	var old registry.DoorState
	err := m.reg.UpdateDoor(id, func(d *registry.Door) {
		old = d.State
		d.State = state
		d.LastSeen = now
		d.Status = raw
	})
	if err == nil && state != registry.DoorOpening {
		delete(m.reopens, id)
	}
	m.mu.Unlock()
	if err != nil {
		return registry.DoorUnknown, err
	}

	if old != state {
		m.emitter.EmitDoorStateChanged(id, old, state)
	}
	return state, nil
}

// OnPose records the latest robot pose for the next Tick.
func (m *Monitor) OnPose(p geom.Pose) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pose = &p
}

// Pose returns the latest robot pose, if any.
func (m *Monitor) Pose() (geom.Pose, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pose == nil {
		return geom.Pose{}, false
	}
	return *m.pose, true
}

// Tick opens every door whose polygon contains the robot and re-requests
// doors that have been opening for longer than reopenAfter.
func (m *Monitor) Tick() {
	pose, havePose := m.Pose()
	now := m.now()

	for _, d := range m.reg.Doors() {
		inside := havePose && d.Boundary.Contains(pose.Point())

		switch d.State {
		case registry.DoorOpen:
			continue
		case registry.DoorOpening:
			if now.Sub(d.LastCommandAt) >= m.reopenAfter {
				m.reopen(d)
			}
		default:
			if inside {
				if _, err := m.requestOpen(d.ID, ReasonProximity); err != nil {
					m.log.Warn("proximity open failed", zap.String("door", d.ID), zap.Error(err))
				}
			}
		}
	}
}

func (m *Monitor) reopen(d registry.Door) {
	m.mu.Lock()
	// Re-read under the lock; a status report may have landed since Tick
	// took its snapshot.
	cur, ok := m.reg.Door(d.ID)
	if !ok || cur.State != registry.DoorOpening || m.reopens[d.ID] >= maxReopens {
		m.mu.Unlock()
		return
	}
	m.reopens[d.ID]++
	attempt := m.reopens[d.ID]
	err := m.sendOpen(cur)
	m.mu.Unlock()

	if err != nil {
		m.log.Warn("reopen failed", zap.String("door", d.ID), zap.Error(err))
		return
	}
	m.log.Info("door still opening, re-requested", zap.String("door", d.ID), zap.Int("attempt", attempt))
	m.emitter.EmitDoorOpenRequested(d.ID, ReasonReopen)
}

// Run ticks until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

func (m *Monitor) Get(id string) (registry.Door, error) {
	d, ok := m.reg.Door(id)
	if !ok {
		return registry.Door{}, fmt.Errorf("door %s: %w", id, registry.ErrUnknownDevice)
	}
	return d, nil
}

func (m *Monitor) List() []registry.Door {
	return m.reg.Doors()
}
