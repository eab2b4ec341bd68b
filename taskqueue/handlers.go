package taskqueue

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"robonav/door"
	"robonav/elevator"
	"robonav/motion"
	"robonav/registry"
)

// Navigator is the part of elevator.Navigator the useElevator handler needs.
type Navigator interface {
	Start(elevatorID string, floor int) (elevator.Snapshot, error)
	Session(id uint64) (elevator.Snapshot, bool)
	Current() (elevator.Snapshot, bool)
	Cancel() error
}

// Doors is the part of door.Monitor the openDoor handler needs.
type Doors interface {
	RequestOpen(id string) (door.Result, error)
	Get(id string) (registry.Door, error)
}

type Deps struct {
	Mover           *motion.Mover
	Navigator       Navigator
	Doors           Doors
	DoorOpenTimeout time.Duration
	PollInterval    time.Duration
}

// sessionProgress is the useElevator progress reported on entering each
// navigator state.
var sessionProgress = map[elevator.State]float64{
	elevator.StateMovingToElevator:   0.1,
	elevator.StateWaitingForElevator: 0.2,
	elevator.StateWaitingForDoor:     0.3,
	elevator.StateEnteringElevator:   0.4,
	elevator.StateInsideElevator:     0.6,
	elevator.StateExitingElevator:    0.8,
	elevator.StateLeavingElevator:    0.9,
}

// RegisterDefaultHandlers installs the built-in handlers. Handlers that need
// an optional robot capability are only registered when the gateway has it,
// so tasks of those types are rejected at AddTask.
func RegisterDefaultHandlers(q *Queue, d Deps) {
	if d.PollInterval <= 0 {
		d.PollInterval = 200 * time.Millisecond
	}
	if d.DoorOpenTimeout <= 0 {
		d.DoorOpenTimeout = 30 * time.Second
	}

	if d.Mover != nil {
		gw := d.Mover.Gateway()
		q.Register(TypeMove, &moveHandler{mover: d.Mover, log: q.log})
		q.Register(TypeMoveAlongRoute, &routeHandler{mover: d.Mover, log: q.log})
		if mp, ok := gw.(motion.Mapper); ok {
			q.Register(TypeStartMapping, HandlerFunc(startMapping(mp)))
			q.Register(TypeFinishMapping, HandlerFunc(finishMapping(mp)))
		}
		if j, ok := gw.(motion.Jacker); ok {
			q.Register(TypePickUpCargo, &cargoHandler{mover: d.Mover, jack: j.JackUp, log: q.log})
			q.Register(TypeDeliverCargo, &cargoHandler{mover: d.Mover, jack: j.JackDown, log: q.log})
		}
		if c, ok := gw.(motion.Camera); ok {
			q.Register(TypeCaptureVideo, HandlerFunc(captureVideo(c)))
		}
		if u, ok := gw.(motion.Updater); ok {
			q.Register(TypeUpdateSystem, HandlerFunc(updateSystem(u)))
		}
	}
	if d.Navigator != nil {
		q.Register(TypeUseElevator, &elevatorHandler{nav: d.Navigator, poll: d.PollInterval, log: q.log})
	}
	if d.Doors != nil {
		q.Register(TypeOpenDoor, HandlerFunc(openDoor(d.Doors, d.PollInterval, d.DoorOpenTimeout)))
	}
}

func paramFloat(p map[string]any, key string) (float64, bool) {
	v, ok := p[key].(float64)
	return v, ok
}

func paramString(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

func paramBool(p map[string]any, key string, def bool) bool {
	if b, ok := p[key].(bool); ok {
		return b
	}
	return def
}

func targetFrom(p map[string]any) motion.Target {
	x, _ := paramFloat(p, "x")
	y, _ := paramFloat(p, "y")
	t := motion.Target{X: x, Y: y}
	if o, ok := paramFloat(p, "orientation"); ok {
		t.Orientation = &o
	}
	return t
}

// cancelMove stops the robot's in-flight move. The task is cancelled even
// when the robot refuses.
func cancelMove(m *motion.Mover, log *zap.Logger, t Task) {
	if err := m.Gateway().CancelCurrentMove(context.Background()); err != nil {
		log.Warn("cancel move failed", zap.String("task", t.ID), zap.String("type", string(t.Type)), zap.Error(err))
	}
}

type moveHandler struct {
	mover *motion.Mover
	log   *zap.Logger
}

func (h *moveHandler) Run(ctx context.Context, t Task, _ ProgressFunc) (map[string]any, error) {
	ev, err := h.mover.MoveTo(ctx, targetFrom(t.Params))
	if err != nil {
		return nil, err
	}
	return map[string]any{"move_id": ev.MoveID}, nil
}

func (h *moveHandler) Cancel(t Task) { cancelMove(h.mover, h.log, t) }

type routeHandler struct {
	mover *motion.Mover
	log   *zap.Logger
}

func (h *routeHandler) Run(ctx context.Context, t Task, progress ProgressFunc) (map[string]any, error) {
	points, _ := t.Params["points"].([]any)
	for i, raw := range points {
		p, _ := raw.(map[string]any)
		if _, err := h.mover.MoveTo(ctx, targetFrom(p)); err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		progress(float64(i+1) / float64(len(points)))
	}
	return map[string]any{"points": len(points)}, nil
}

func (h *routeHandler) Cancel(t Task) { cancelMove(h.mover, h.log, t) }

// cargoHandler drives to the cargo point and then raises or lowers the jack.
type cargoHandler struct {
	mover *motion.Mover
	jack  func(ctx context.Context) error
	log   *zap.Logger
}

func (h *cargoHandler) Run(ctx context.Context, t Task, progress ProgressFunc) (map[string]any, error) {
	if _, err := h.mover.MoveTo(ctx, targetFrom(t.Params)); err != nil {
		return nil, err
	}
	progress(0.5)
	if err := h.jack(ctx); err != nil {
		return nil, fmt.Errorf("jack: %w", err)
	}
	return map[string]any{}, nil
}

func (h *cargoHandler) Cancel(t Task) { cancelMove(h.mover, h.log, t) }

func startMapping(mp motion.Mapper) HandlerFunc {
	return func(ctx context.Context, t Task, _ ProgressFunc) (map[string]any, error) {
		if err := mp.StartMapping(ctx, paramString(t.Params, "name")); err != nil {
			return nil, fmt.Errorf("start mapping: %w", err)
		}
		return map[string]any{}, nil
	}
}

func finishMapping(mp motion.Mapper) HandlerFunc {
	return func(ctx context.Context, t Task, _ ProgressFunc) (map[string]any, error) {
		id, err := mp.FinishMapping(ctx, paramBool(t.Params, "save", true))
		if err != nil {
			return nil, fmt.Errorf("finish mapping: %w", err)
		}
		return map[string]any{"map_id": id}, nil
	}
}

func captureVideo(c motion.Camera) HandlerFunc {
	return func(ctx context.Context, t Task, _ ProgressFunc) (map[string]any, error) {
		secs, _ := paramFloat(t.Params, "duration")
		d := time.Duration(math.Round(secs * float64(time.Second)))
		url, err := c.Record(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("record: %w", err)
		}
		return map[string]any{"url": url}, nil
	}
}

func updateSystem(u motion.Updater) HandlerFunc {
	return func(ctx context.Context, t Task, _ ProgressFunc) (map[string]any, error) {
		v, err := u.UpdateSystem(ctx, paramString(t.Params, "version"))
		if err != nil {
			return nil, fmt.Errorf("update system: %w", err)
		}
		return map[string]any{"version": v}, nil
	}
}

func openDoor(doors Doors, poll, timeout time.Duration) HandlerFunc {
	return func(ctx context.Context, t Task, progress ProgressFunc) (map[string]any, error) {
		id := paramString(t.Params, "door_id")
		res, err := doors.RequestOpen(id)
		if err != nil {
			return nil, err
		}
		if res.State == registry.DoorOpen {
			return map[string]any{"state": string(res.State)}, nil
		}
		progress(0.5)

		deadline := time.NewTimer(timeout)
		defer deadline.Stop()
		ticker := time.NewTicker(poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-deadline.C:
				return nil, fmt.Errorf("door %s not open after %s: %w", id, timeout, registry.ErrTimeout)
			case <-ticker.C:
				d, err := doors.Get(id)
				if err != nil {
					return nil, err
				}
				switch d.State {
				case registry.DoorOpen:
					return map[string]any{"state": string(d.State)}, nil
				case registry.DoorError:
					return nil, fmt.Errorf("door %s reported error", id)
				}
			}
		}
	}
}

// elevatorHandler runs one navigator session and follows it to the end.
type elevatorHandler struct {
	nav  Navigator
	poll time.Duration
	log  *zap.Logger

	mu      sync.Mutex
	session uint64
}

func (h *elevatorHandler) Run(ctx context.Context, t Task, progress ProgressFunc) (map[string]any, error) {
	id := paramString(t.Params, "elevator_id")
	floor, _ := paramFloat(t.Params, "floor")

	snap, err := h.nav.Start(id, int(floor))
	if err != nil {
		return nil, err
	}
	if snap.ID == 0 {
		return sessionResult(snap), nil
	}
	h.mu.Lock()
	h.session = snap.ID
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.session = 0
		h.mu.Unlock()
	}()

	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()
	last := elevator.StateIdle
	for {
		if snap.State != last {
			if f, ok := sessionProgress[snap.State]; ok {
				progress(f)
			}
			last = snap.State
		}
		switch snap.State {
		case elevator.StateCompleted:
			return sessionResult(snap), nil
		case elevator.StateError:
			return nil, fmt.Errorf("elevator session %d: %s", snap.ID, snap.Error)
		}

		select {
		case <-ctx.Done():
			h.Cancel(t)
			return nil, ctx.Err()
		case <-ticker.C:
		}
		s, ok := h.nav.Session(snap.ID)
		if !ok {
			return nil, fmt.Errorf("elevator session %d lost", snap.ID)
		}
		snap = s
	}
}

// Cancel stops the navigator session only if it is the one this handler started.
func (h *elevatorHandler) Cancel(t Task) {
	h.mu.Lock()
	id := h.session
	h.mu.Unlock()
	if id == 0 {
		return
	}
	if cur, ok := h.nav.Current(); ok && cur.ID == id {
		if err := h.nav.Cancel(); err != nil {
			h.log.Warn("cancel elevator session failed", zap.String("task", t.ID), zap.Uint64("session", id), zap.Error(err))
		}
	}
}

func sessionResult(s elevator.Snapshot) map[string]any {
	return map[string]any{
		"session_id":  s.ID,
		"elevator_id": s.ElevatorID,
		"floor":       s.DestinationFloor,
	}
}
