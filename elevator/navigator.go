// Package elevator drives the robot through a floor change with one
// elevator: walk to the waiting point, call the car, board, ride and alight.
package elevator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"robonav/config"
	"robonav/geom"
	"robonav/motion"
	"robonav/protocol"
	"robonav/registry"
)

const historySize = 16

var errCancelled = errors.New("cancelled")

type Navigator struct {
	reg     *registry.Registry
	msg     Messenger
	gw      motion.Gateway
	emitter EventEmitter
	log     *zap.Logger
	now     func() time.Time
	cfg     config.NavigatorConfig

	mu             sync.Mutex
	session        *Snapshot
	stateEnteredAt time.Time
	lastCallAt     time.Time
	history        []Snapshot
	robotFloor     *int
	nextID         uint64
	pending        []func()
}

func New(reg *registry.Registry, msg Messenger, gw motion.Gateway, cfg config.NavigatorConfig, logger *zap.Logger) *Navigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Navigator{
		reg:     reg,
		msg:     msg,
		gw:      gw,
		emitter: nopEmitter{},
		log:     logger.Named("elevator"),
		now:     time.Now,
		cfg:     cfg,
	}
	if cfg.StartFloor != nil {
		f := *cfg.StartFloor
		n.robotFloor = &f
	}
	return n
}

func (n *Navigator) SetEmitter(e EventEmitter) { n.emitter = e }

// SetClock replaces the navigator's time source.
func (n *Navigator) SetClock(now func() time.Time) { n.now = now }

// unlock releases n.mu and then runs the emits queued while it was held.
func (n *Navigator) unlock() {
	fns := n.pending
	n.pending = nil
	n.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// NavigateToFloor starts a floor change and reports whether it was accepted.
func (n *Navigator) NavigateToFloor(elevatorID string, floor int) (bool, error) {
	_, err := n.Start(elevatorID, floor)
	return err == nil, err
}

// Start validates the request and begins a session. When the robot is
// already on floor it returns a completed snapshot with ID 0 and starts
// nothing.
func (n *Navigator) Start(elevatorID string, floor int) (Snapshot, error) {
	n.mu.Lock()
	defer n.unlock()

	e, ok := n.reg.Elevator(elevatorID)
	if !ok {
		return Snapshot{}, fmt.Errorf("elevator %s: %w", elevatorID, registry.ErrUnknownDevice)
	}
	if !e.Serves(floor) {
		return Snapshot{}, fmt.Errorf("elevator %s floor %d: %w", elevatorID, floor, registry.ErrInvalidFloor)
	}
	if n.session != nil {
		return Snapshot{}, fmt.Errorf("session %d active: %w", n.session.ID, registry.ErrInvalidState)
	}

	origin, ok := n.originFloor(e)
	if !ok {
		return Snapshot{}, fmt.Errorf("robot floor unknown: %w", registry.ErrInvalidState)
	}
	if floor == origin {
		return Snapshot{ElevatorID: elevatorID, OriginFloor: origin, DestinationFloor: floor, State: StateCompleted}, nil
	}
	if !e.Serves(origin) {
		return Snapshot{}, fmt.Errorf("elevator %s does not serve origin floor %d: %w", elevatorID, origin, registry.ErrInvalidFloor)
	}
	if !n.msg.IsConnected() {
		return Snapshot{}, fmt.Errorf("navigate: %w", registry.ErrMessagingUnavailable)
	}

	n.nextID++
	n.session = &Snapshot{
		ID:               n.nextID,
		ElevatorID:       elevatorID,
		OriginFloor:      origin,
		DestinationFloor: floor,
		State:            StateIdle,
		StartedAt:        n.now(),
	}
	n.log.Info("session started", zap.Uint64("session", n.nextID), zap.String("elevator", elevatorID),
		zap.Int("from", origin), zap.Int("to", floor))
	n.enter(StateMovingToElevator)
	return n.snapshotLocked(), nil
}

func (n *Navigator) originFloor(e registry.Elevator) (int, bool) {
	if n.robotFloor != nil {
		return *n.robotFloor, true
	}
	if e.CurrentFloor != nil {
		return *e.CurrentFloor, true
	}
	return 0, false
}

// snapshotLocked returns the active session, or the most recent finished
// one when the session ended during this call.
func (n *Navigator) snapshotLocked() Snapshot {
	if n.session != nil {
		return *n.session
	}
	if len(n.history) > 0 {
		return n.history[len(n.history)-1]
	}
	return Snapshot{State: StateIdle}
}

// enter transitions the session to state and runs its entry action.
// Caller holds n.mu and n.session is non-nil.
func (n *Navigator) enter(state State) {
	s := n.session
	old := s.State
	s.State = state
	n.stateEnteredAt = n.now()
	n.log.Info("transition", zap.Uint64("session", s.ID), zap.String("from", string(old)), zap.String("to", string(state)))
	if state.Terminal() {
		n.finish()
		snap := n.history[len(n.history)-1]
		n.pending = append(n.pending, func() { n.emitter.EmitSessionStateChanged(snap, old) })
		return
	}
	snap := *s
	n.pending = append(n.pending, func() { n.emitter.EmitSessionStateChanged(snap, old) })

	e, ok := n.reg.Elevator(s.ElevatorID)
	if !ok {
		n.fail(fmt.Errorf("elevator %s: %w", s.ElevatorID, registry.ErrUnknownDevice))
		return
	}

	switch state {
	case StateMovingToElevator:
		n.issueMove(e.WaitingPoints[s.OriginFloor])
	case StateWaitingForElevator:
		n.sendCall(e)
		if s.State == StateWaitingForElevator && carWaiting(e, s.OriginFloor) {
			n.enter(StateWaitingForDoor)
		}
	case StateWaitingForDoor:
		if doorReady(e, s.OriginFloor) {
			n.enter(StateEnteringElevator)
		}
	case StateEnteringElevator:
		n.issueMove(e.EntryPoints[s.OriginFloor])
	case StateInsideElevator:
		n.sendRequestFloor(e)
	case StateExitingElevator:
		n.issueMove(e.WaitingPoints[s.DestinationFloor])
	case StateLeavingElevator:
		n.setRobotFloor(s.DestinationFloor)
		dest := s.DestinationFloor
		n.reg.UpdateElevator(s.ElevatorID, func(e *registry.Elevator) {
			e.CurrentFloor = &dest
			e.TargetFloor = nil
		})
		n.enter(StateCompleted)
	}
}

// issueMove starts a move and records its id as the one outstanding move.
func (n *Navigator) issueMove(p geom.Point) {
	s := n.session
	id, err := n.gw.CreateMove(context.Background(), motion.TargetAt(p))
	if err != nil {
		n.fail(fmt.Errorf("%s: create move: %w", s.State, err))
		return
	}
	s.MoveID = id
}

func (n *Navigator) sendCall(e registry.Elevator) {
	s := n.session
	if s.CallAttempts >= n.cfg.MaxCallAttempts {
		n.fail(fmt.Errorf("elevator %s did not answer %d calls: %w", e.ID, s.CallAttempts, registry.ErrTimeout))
		return
	}
	if err := n.msg.CallElevator(e.AddressToken, e.ID, s.OriginFloor, s.DestinationFloor); err != nil {
		n.fail(fmt.Errorf("call elevator %s: %w", e.ID, err))
		return
	}
	if s.CallAttempts > 0 {
		s.RetryCount++
	}
	s.CallAttempts++
	n.lastCallAt = n.now()
	origin := s.OriginFloor
	n.reg.UpdateElevator(e.ID, func(e *registry.Elevator) { e.TargetFloor = &origin })
}

func (n *Navigator) sendRequestFloor(e registry.Elevator) {
	s := n.session
	if err := n.msg.RequestFloor(e.AddressToken, e.ID, s.DestinationFloor); err != nil {
		n.fail(fmt.Errorf("request floor %d: %w", s.DestinationFloor, err))
		return
	}
	dest := s.DestinationFloor
	n.reg.UpdateElevator(e.ID, func(e *registry.Elevator) { e.TargetFloor = &dest })
}

// fail ends the session in Error, cancelling any outstanding move.
func (n *Navigator) fail(err error) {
	s := n.session
	if s == nil || s.State.Terminal() {
		return
	}
	if s.MoveID != "" {
		if cerr := n.gw.CancelCurrentMove(context.Background()); cerr != nil {
			n.log.Warn("cancel move failed", zap.String("move", s.MoveID), zap.Error(cerr))
		}
		s.MoveID = ""
	}
	s.Err = err
	s.Error = err.Error()
	n.log.Warn("session failed", zap.Uint64("session", s.ID), zap.String("state", string(s.State)), zap.Error(err))
	n.enter(StateError)
}

// finish archives the terminal session and returns the navigator to idle.
func (n *Navigator) finish() {
	s := n.session
	now := n.now()
	s.FinishedAt = &now
	s.MoveID = ""
	n.history = append(n.history, *s)
	if len(n.history) > historySize {
		n.history = n.history[len(n.history)-historySize:]
	}
	n.session = nil
}

func (n *Navigator) setRobotFloor(f int) {
	n.robotFloor = &f
	n.pending = append(n.pending, func() { n.emitter.EmitRobotFloorChanged(f) })
}

// doorReady is the boarding check: car at floor, door open, car not
// moving or closing.
// carWaiting reports whether the car is idle at floor with its door open.
func carWaiting(e registry.Elevator, floor int) bool {
	return e.State == registry.ElevatorAvailable && e.CurrentFloor != nil && *e.CurrentFloor == floor &&
		e.DoorState == registry.DoorOpen
}

func doorReady(e registry.Elevator, floor int) bool {
	if e.CurrentFloor == nil || *e.CurrentFloor != floor {
		return false
	}
	if e.DoorState != registry.DoorOpen {
		return false
	}
	return e.State != registry.ElevatorMoving && e.State != registry.ElevatorClosing && e.State != registry.ElevatorFault
}

// OnMoveEvent advances the session when ev finishes the outstanding move.
// Events for any other move are ignored.
func (n *Navigator) OnMoveEvent(ev motion.MoveEvent) {
	n.mu.Lock()
	defer n.unlock()

	s := n.session
	if s == nil || s.MoveID == "" || ev.MoveID != s.MoveID {
		return
	}
	s.MoveID = ""
	if ev.Outcome != motion.OutcomeSucceeded {
		reason := ev.Reason
		if reason == "" {
			reason = string(ev.Outcome)
		}
		n.fail(fmt.Errorf("%s: move %s: %s: %w", s.State, ev.MoveID, reason, registry.ErrMoveFailed))
		return
	}

	switch s.State {
	case StateMovingToElevator:
		n.enter(StateWaitingForElevator)
	case StateEnteringElevator:
		n.enter(StateInsideElevator)
	case StateExitingElevator:
		n.enter(StateLeavingElevator)
	}
}

// OnElevatorStatus records a status report for elevator id and advances the
// session if it is waiting on that elevator.
func (n *Navigator) OnElevatorStatus(id string, st protocol.DeviceStatus) error {
	now := n.now()
	err := n.reg.UpdateElevator(id, func(e *registry.Elevator) {
		if st.State != "" {
			e.State = registry.ParseElevatorState(st.State)
			e.Status = st.State
		}
		if st.Floor != nil {
			f := *st.Floor
			e.CurrentFloor = &f
		}
		if st.Door != "" {
			e.DoorState = registry.ParseDoorState(st.Door)
		}
		e.LastSeen = now
	})
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.unlock()

	s := n.session
	if s == nil || s.ElevatorID != id {
		return nil
	}
	e, _ := n.reg.Elevator(id)

	switch s.State {
	case StateWaitingForElevator:
		if carWaiting(e, s.OriginFloor) {
			n.enter(StateWaitingForDoor)
		}
	case StateWaitingForDoor:
		if doorReady(e, s.OriginFloor) {
			n.enter(StateEnteringElevator)
		}
	case StateInsideElevator:
		if doorReady(e, s.DestinationFloor) {
			n.enter(StateExitingElevator)
		}
	}
	return nil
}

// Tick enforces the session timeout, the elevator wait ceiling and the call
// retry policy.
func (n *Navigator) Tick() {
	n.mu.Lock()
	defer n.unlock()

	s := n.session
	if s == nil {
		return
	}
	now := n.now()
	if now.Sub(s.StartedAt) >= n.cfg.SessionTimeout {
		n.fail(fmt.Errorf("session exceeded %s in %s: %w", n.cfg.SessionTimeout, s.State, registry.ErrTimeout))
		return
	}
	if s.State != StateWaitingForElevator {
		return
	}
	if now.Sub(n.stateEnteredAt) >= n.cfg.WaitTimeout {
		n.fail(fmt.Errorf("waited %s for elevator %s: %w", n.cfg.WaitTimeout, s.ElevatorID, registry.ErrTimeout))
		return
	}
	if now.Sub(n.lastCallAt) >= n.cfg.CallRetryInterval {
		e, ok := n.reg.Elevator(s.ElevatorID)
		if !ok {
			n.fail(fmt.Errorf("elevator %s: %w", s.ElevatorID, registry.ErrUnknownDevice))
			return
		}
		n.log.Info("re-sending elevator call", zap.Uint64("session", s.ID), zap.Int("attempt", s.CallAttempts+1))
		n.sendCall(e)
	}
}

// Run ticks until ctx is done.
func (n *Navigator) Run(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Tick()
		}
	}
}

// Cancel stops the active session. The outstanding move, if any, is
// cancelled on the robot.
func (n *Navigator) Cancel() error {
	n.mu.Lock()
	defer n.unlock()
	if n.session == nil {
		return fmt.Errorf("no active session: %w", registry.ErrInvalidState)
	}
	n.fail(errCancelled)
	return nil
}

// Current returns the active session.
func (n *Navigator) Current() (Snapshot, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session == nil {
		return Snapshot{}, false
	}
	return *n.session, true
}

// Session returns the active or a recently finished session by id.
func (n *Navigator) Session(id uint64) (Snapshot, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session != nil && n.session.ID == id {
		return *n.session, true
	}
	for i := len(n.history) - 1; i >= 0; i-- {
		if n.history[i].ID == id {
			return n.history[i], true
		}
	}
	return Snapshot{}, false
}

// History returns finished sessions, oldest first.
func (n *Navigator) History() []Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Snapshot(nil), n.history...)
}

// State returns the state of the active session, or idle.
func (n *Navigator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session == nil {
		return StateIdle
	}
	return n.session.State
}

func (n *Navigator) Elevator(id string) (registry.Elevator, error) {
	e, ok := n.reg.Elevator(id)
	if !ok {
		return registry.Elevator{}, fmt.Errorf("elevator %s: %w", id, registry.ErrUnknownDevice)
	}
	return e, nil
}

func (n *Navigator) Elevators() []registry.Elevator {
	return n.reg.Elevators()
}

func (n *Navigator) RobotFloor() (int, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.robotFloor == nil {
		return 0, false
	}
	return *n.robotFloor, true
}

// SetRobotFloor tells the navigator which floor the robot is on. Not allowed
// during a session.
func (n *Navigator) SetRobotFloor(f int) error {
	n.mu.Lock()
	defer n.unlock()
	if n.session != nil {
		return fmt.Errorf("set robot floor during session %d: %w", n.session.ID, registry.ErrInvalidState)
	}
	n.setRobotFloor(f)
	return nil
}
