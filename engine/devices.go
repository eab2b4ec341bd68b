package engine

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"robonav/config"
	"robonav/geom"
	"robonav/protocol"
	"robonav/registry"
	"robonav/store"
)

type doorDescriptor struct {
	Boundary geom.Polygon `json:"boundary"`
}

type FloorSpec struct {
	Floor   int        `json:"floor"`
	Waiting geom.Point `json:"waiting"`
	Entry   geom.Point `json:"entry"`
}

type elevatorDescriptor struct {
	Floors []FloorSpec `json:"floors"`
}

// ElevatorSpec describes an elevator to register.
type ElevatorSpec struct {
	ID           string      `json:"id"`
	AddressToken string      `json:"address_token"`
	Floors       []FloorSpec `json:"floors"`
}

func (s ElevatorSpec) elevator() registry.Elevator {
	e := registry.Elevator{
		Device:        registry.Device{ID: s.ID, AddressToken: s.AddressToken},
		WaitingPoints: make(map[int]geom.Point, len(s.Floors)),
		EntryPoints:   make(map[int]geom.Point, len(s.Floors)),
	}
	for _, f := range s.Floors {
		e.ServicedFloors = append(e.ServicedFloors, f.Floor)
		e.WaitingPoints[f.Floor] = f.Waiting
		e.EntryPoints[f.Floor] = f.Entry
	}
	return e
}

func polygonFrom(pts []config.PointConfig) geom.Polygon {
	poly := make(geom.Polygon, len(pts))
	for i, p := range pts {
		poly[i] = geom.Point{X: p.X, Y: p.Y}
	}
	return poly
}

func specFromSeed(s config.ElevatorSeed) ElevatorSpec {
	spec := ElevatorSpec{ID: s.ID, AddressToken: s.AddressToken}
	for _, f := range s.Floors {
		spec.Floors = append(spec.Floors, FloorSpec{
			Floor:   f.Floor,
			Waiting: geom.Point{X: f.Waiting.X, Y: f.Waiting.Y},
			Entry:   geom.Point{X: f.Entry.X, Y: f.Entry.Y},
		})
	}
	return spec
}

// RegisterDoor adds or updates a door and persists its descriptor.
func (e *Engine) RegisterDoor(id, addressToken string, boundary geom.Polygon) error {
	if err := e.doors.Register(id, addressToken, boundary); err != nil {
		return err
	}
	desc, _ := json.Marshal(doorDescriptor{Boundary: boundary})
	return e.persistDevice(registry.KindDoor, id, addressToken, string(desc))
}

// RegisterElevator adds or updates an elevator and persists its descriptor.
func (e *Engine) RegisterElevator(spec ElevatorSpec) error {
	if err := e.reg.RegisterElevator(spec.elevator()); err != nil {
		return err
	}
	desc, _ := json.Marshal(elevatorDescriptor{Floors: spec.Floors})
	return e.persistDevice(registry.KindElevator, spec.ID, spec.AddressToken, string(desc))
}

func (e *Engine) persistDevice(kind registry.Kind, id, token, descriptor string) error {
	if e.db == nil {
		return nil
	}
	err := e.db.UpsertDevice(&store.DeviceRecord{ID: id, Kind: string(kind), AddressToken: token, Descriptor: descriptor})
	if err != nil {
		return fmt.Errorf("persist %s %s: %w", kind, id, err)
	}
	e.db.AppendAudit(string(kind), id, "registered", "", token, "system")
	return nil
}

// loadDevices restores devices saved by earlier runs, then applies the
// config seeds on top.
func (e *Engine) loadDevices() {
	if e.db != nil {
		records, err := e.db.ListDevices()
		if err != nil {
			e.log.Warn("list devices", zap.Error(err))
		}
		for _, r := range records {
			if err := e.restoreDevice(r); err != nil {
				e.log.Warn("restore device", zap.String("device", r.ID), zap.Error(err))
			}
		}
		if len(records) > 0 {
			e.logFn("engine: restored %d devices", len(records))
		}
	}

	for _, d := range e.cfg.Devices.Doors {
		if err := e.RegisterDoor(d.ID, d.AddressToken, polygonFrom(d.Boundary)); err != nil {
			e.log.Warn("seed door", zap.String("door", d.ID), zap.Error(err))
		}
	}
	for _, s := range e.cfg.Devices.Elevators {
		if err := e.RegisterElevator(specFromSeed(s)); err != nil {
			e.log.Warn("seed elevator", zap.String("elevator", s.ID), zap.Error(err))
		}
	}
}

func (e *Engine) restoreDevice(r *store.DeviceRecord) error {
	switch registry.Kind(r.Kind) {
	case registry.KindDoor:
		var d doorDescriptor
		if err := json.Unmarshal([]byte(r.Descriptor), &d); err != nil {
			return err
		}
		return e.doors.Register(r.ID, r.AddressToken, d.Boundary)
	case registry.KindElevator:
		var d elevatorDescriptor
		if err := json.Unmarshal([]byte(r.Descriptor), &d); err != nil {
			return err
		}
		return e.reg.RegisterElevator(ElevatorSpec{ID: r.ID, AddressToken: r.AddressToken, Floors: d.Floors}.elevator())
	default:
		return fmt.Errorf("unknown kind %q", r.Kind)
	}
}

// OnDeviceStatus routes a status report to the component owning the sender.
func (e *Engine) OnDeviceStatus(st protocol.DeviceStatus) {
	kind, id, ok := e.reg.LookupToken(st.SenderToken)
	if !ok {
		e.log.Debug("status from unknown sender", zap.String("token", st.SenderToken))
		return
	}
	var err error
	switch kind {
	case registry.KindDoor:
		_, err = e.doors.OnStatusMessage(id, st.State)
	case registry.KindElevator:
		err = e.nav.OnElevatorStatus(id, st)
	}
	if err != nil {
		e.log.Warn("device status", zap.String("device", id), zap.Error(err))
		return
	}
	if e.devState != nil {
		e.devState.Record(kind, id, st, e.now())
	}
	e.Events.Emit(Event{Type: EventDeviceStatus, Payload: DeviceStatusEvent{Kind: kind, ID: id, Status: st}})
}
