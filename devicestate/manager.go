// Package devicestate keeps the latest reported status of every door and
// elevator: written through to SQL, cached in Redis, and served from the
// registry when the cache is unavailable.
package devicestate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"robonav/protocol"
	"robonav/registry"
)

const opTimeout = 2 * time.Second

// StatusWriter persists a device's last status. Satisfied by *store.DB.
type StatusWriter interface {
	UpdateDeviceStatus(id, status string, seen time.Time) error
}

type Manager struct {
	reg   *registry.Registry
	db    StatusWriter
	redis *RedisStore
	log   *zap.Logger
}

// NewManager builds a manager. db and redis may each be nil.
func NewManager(reg *registry.Registry, db StatusWriter, redis *RedisStore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{reg: reg, db: db, redis: redis, log: logger.Named("devicestate")}
}

// Record stores a status report for device id: SQL first, then Redis.
func (m *Manager) Record(kind registry.Kind, id string, st protocol.DeviceStatus, seen time.Time) {
	s := &DeviceState{
		ID:       id,
		Kind:     kind,
		Raw:      st.State,
		Door:     st.Door,
		LastSeen: seen,
	}
	if st.Floor != nil {
		f := *st.Floor
		s.Floor = &f
	}
	switch kind {
	case registry.KindDoor:
		s.State = string(registry.ParseDoorState(st.State))
	case registry.KindElevator:
		s.State = string(registry.ParseElevatorState(st.State))
		if st.Door != "" {
			s.Door = string(registry.ParseDoorState(st.Door))
		}
	}

	if m.db != nil {
		if err := m.db.UpdateDeviceStatus(id, s.State, seen); err != nil {
			m.log.Warn("persist status", zap.String("device", id), zap.Error(err))
		}
	}
	if m.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if err := m.redis.Set(ctx, s); err != nil {
			m.log.Debug("cache status", zap.String("device", id), zap.Error(err))
		}
	}
}

// Get reads the device state from Redis and falls back to the registry.
func (m *Manager) Get(id string) (*DeviceState, bool) {
	if m.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if s, err := m.redis.Get(ctx, id); err == nil && s != nil {
			return s, true
		}
	}
	return m.fromRegistry(id)
}

// All returns every registered device's state, preferring cached entries.
func (m *Manager) All() []*DeviceState {
	var out []*DeviceState
	for _, d := range m.reg.Doors() {
		if s, ok := m.Get(d.ID); ok {
			out = append(out, s)
		}
	}
	for _, e := range m.reg.Elevators() {
		if s, ok := m.Get(e.ID); ok {
			out = append(out, s)
		}
	}
	return out
}

// SyncFromRegistry rebuilds the Redis cache from the registry. Called on startup.
func (m *Manager) SyncFromRegistry() error {
	if m.redis == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.redis.FlushAll(ctx); err != nil {
		return err
	}
	n := 0
	for _, id := range m.ids() {
		s, ok := m.fromRegistry(id)
		if !ok {
			continue
		}
		if err := m.redis.Set(ctx, s); err != nil {
			return err
		}
		n++
	}
	m.log.Info("synced device states to redis", zap.Int("devices", n))
	return nil
}

func (m *Manager) ids() []string {
	var ids []string
	for _, d := range m.reg.Doors() {
		ids = append(ids, d.ID)
	}
	for _, e := range m.reg.Elevators() {
		ids = append(ids, e.ID)
	}
	return ids
}

func (m *Manager) fromRegistry(id string) (*DeviceState, bool) {
	if d, ok := m.reg.Door(id); ok {
		return &DeviceState{
			ID:       d.ID,
			Kind:     registry.KindDoor,
			State:    string(d.State),
			Raw:      d.Status,
			LastSeen: d.LastSeen,
		}, true
	}
	if e, ok := m.reg.Elevator(id); ok {
		return &DeviceState{
			ID:       e.ID,
			Kind:     registry.KindElevator,
			State:    string(e.State),
			Floor:    e.CurrentFloor,
			Door:     string(e.DoorState),
			Raw:      e.Status,
			LastSeen: e.LastSeen,
		}, true
	}
	return nil, false
}
