// Package registry holds the static descriptors of the doors and elevators
// the robot interacts with, plus their last reported status.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"robonav/geom"
)

type DoorState string

const (
	DoorClosed  DoorState = "closed"
	DoorOpening DoorState = "opening"
	DoorOpen    DoorState = "open"
	DoorClosing DoorState = "closing"
	DoorError   DoorState = "error"
	DoorUnknown DoorState = "unknown"
)

// ElevatorState is the motion state of the car itself.
type ElevatorState string

const (
	ElevatorAvailable ElevatorState = "available"
	ElevatorMoving    ElevatorState = "moving"
	ElevatorClosing   ElevatorState = "closing"
	ElevatorFault     ElevatorState = "error"
	ElevatorUnknown   ElevatorState = "unknown"
)

type Kind string

const (
	KindDoor     Kind = "door"
	KindElevator Kind = "elevator"
)

type Device struct {
	ID           string    `json:"id"`
	AddressToken string    `json:"address_token"`
	LastSeen     time.Time `json:"last_seen"`
	Status       string    `json:"status"`
}

type Door struct {
	Device
	Boundary      geom.Polygon `json:"boundary"`
	State         DoorState    `json:"state"`
	LastCommandAt time.Time    `json:"last_command_at"`
}

type Elevator struct {
	Device
	ServicedFloors []int              `json:"serviced_floors"`
	CurrentFloor   *int               `json:"current_floor"`
	TargetFloor    *int               `json:"target_floor"`
	DoorState      DoorState          `json:"door_state"`
	State          ElevatorState      `json:"state"`
	WaitingPoints  map[int]geom.Point `json:"waiting_points"`
	EntryPoints    map[int]geom.Point `json:"entry_points"`
}

// Serves reports whether floor is one of the elevator's serviced floors.
func (e *Elevator) Serves(floor int) bool {
	for _, f := range e.ServicedFloors {
		if f == floor {
			return true
		}
	}
	return false
}

func (d *Door) clone() Door {
	c := *d
	c.Boundary = append(geom.Polygon(nil), d.Boundary...)
	return c
}

func (e *Elevator) clone() Elevator {
	c := *e
	c.ServicedFloors = append([]int(nil), e.ServicedFloors...)
	if e.CurrentFloor != nil {
		f := *e.CurrentFloor
		c.CurrentFloor = &f
	}
	if e.TargetFloor != nil {
		f := *e.TargetFloor
		c.TargetFloor = &f
	}
	c.WaitingPoints = make(map[int]geom.Point, len(e.WaitingPoints))
	for k, v := range e.WaitingPoints {
		c.WaitingPoints[k] = v
	}
	c.EntryPoints = make(map[int]geom.Point, len(e.EntryPoints))
	for k, v := range e.EntryPoints {
		c.EntryPoints[k] = v
	}
	return c
}

type tokenRef struct {
	kind Kind
	id   string
}

// Registry is safe for concurrent use. Getters return copies.
type Registry struct {
	mu        sync.RWMutex
	doors     map[string]*Door
	elevators map[string]*Elevator
	tokens    map[string]tokenRef
}

func New() *Registry {
	return &Registry{
		doors:     make(map[string]*Door),
		elevators: make(map[string]*Elevator),
		tokens:    make(map[string]tokenRef),
	}
}

// RegisterDoor inserts or updates a door descriptor. Runtime state of an
// existing door is kept.
func (r *Registry) RegisterDoor(id, addressToken string, boundary geom.Polygon) error {
	if id == "" {
		return fmt.Errorf("register door: empty id")
	}
	if !boundary.Valid() {
		return fmt.Errorf("register door %s: %w", id, ErrInvalidPolygon)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.doors[id]
	if !ok {
		d = &Door{Device: Device{ID: id}, State: DoorUnknown}
		r.doors[id] = d
	}
	r.retoken(d.AddressToken, addressToken, tokenRef{KindDoor, id})
	d.AddressToken = addressToken
	d.Boundary = append(geom.Polygon(nil), boundary...)
	return nil
}

// RegisterElevator inserts or updates an elevator descriptor. Every serviced
// floor needs a waiting point and an entry point.
func (r *Registry) RegisterElevator(e Elevator) error {
	if e.ID == "" {
		return fmt.Errorf("register elevator: empty id")
	}
	if len(e.ServicedFloors) == 0 {
		return fmt.Errorf("register elevator %s: no serviced floors", e.ID)
	}
	for _, f := range e.ServicedFloors {
		if _, ok := e.WaitingPoints[f]; !ok {
			return fmt.Errorf("register elevator %s: floor %d has no waiting point", e.ID, f)
		}
		if _, ok := e.EntryPoints[f]; !ok {
			return fmt.Errorf("register elevator %s: floor %d has no entry point", e.ID, f)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	in := e.clone()
	sort.Ints(in.ServicedFloors)
	existing, ok := r.elevators[e.ID]
	if ok {
		r.retoken(existing.AddressToken, in.AddressToken, tokenRef{KindElevator, e.ID})
		existing.AddressToken = in.AddressToken
		existing.ServicedFloors = in.ServicedFloors
		existing.WaitingPoints = in.WaitingPoints
		existing.EntryPoints = in.EntryPoints
		return nil
	}
	if in.DoorState == "" {
		in.DoorState = DoorUnknown
	}
	if in.State == "" {
		in.State = ElevatorUnknown
	}
	r.elevators[e.ID] = &in
	r.retoken("", in.AddressToken, tokenRef{KindElevator, e.ID})
	return nil
}

func (r *Registry) retoken(prev, next string, ref tokenRef) {
	if prev != "" {
		delete(r.tokens, prev)
	}
	if next != "" {
		r.tokens[next] = ref
	}
}

func (r *Registry) Door(id string) (Door, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.doors[id]
	if !ok {
		return Door{}, false
	}
	return d.clone(), true
}

func (r *Registry) Elevator(id string) (Elevator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.elevators[id]
	if !ok {
		return Elevator{}, false
	}
	return e.clone(), true
}

// Doors returns all doors ordered by ID.
func (r *Registry) Doors() []Door {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Door, 0, len(r.doors))
	for _, d := range r.doors {
		out = append(out, d.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Elevators returns all elevators ordered by ID.
func (r *Registry) Elevators() []Elevator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Elevator, 0, len(r.elevators))
	for _, e := range r.elevators {
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LookupToken resolves a messaging sender token to a registered device.
func (r *Registry) LookupToken(token string) (Kind, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.tokens[token]
	return ref.kind, ref.id, ok
}

// UpdateDoor applies fn to the stored door under the registry lock.
func (r *Registry) UpdateDoor(id string, fn func(d *Door)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doors[id]
	if !ok {
		return fmt.Errorf("door %s: %w", id, ErrUnknownDevice)
	}
	fn(d)
	return nil
}

// UpdateElevator applies fn to the stored elevator under the registry lock.
func (r *Registry) UpdateElevator(id string, fn func(e *Elevator)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.elevators[id]
	if !ok {
		return fmt.Errorf("elevator %s: %w", id, ErrUnknownDevice)
	}
	fn(e)
	return nil
}
