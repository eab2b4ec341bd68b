package motion

import (
	"context"
	"fmt"
	"sync"

	"robonav/registry"
)

const maxOrphans = 64

// Mover runs blocking moves on top of a Gateway. Feed it every MoveEvent via
// OnMoveEvent; MoveTo returns when the event for its move arrives.
type Mover struct {
	gw Gateway

	mu      sync.Mutex
	waiters map[string]chan MoveEvent
	orphans []MoveEvent
}

func NewMover(gw Gateway) *Mover {
	return &Mover{gw: gw, waiters: make(map[string]chan MoveEvent)}
}

func (m *Mover) Gateway() Gateway { return m.gw }

// OnMoveEvent resolves the waiter for ev.MoveID. Events for moves nobody is
// waiting on yet are kept briefly, since the robot can report completion
// before CreateMove has returned to the caller.
func (m *Mover) OnMoveEvent(ev MoveEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.waiters[ev.MoveID]; ok {
		delete(m.waiters, ev.MoveID)
		ch <- ev
		return
	}
	m.orphans = append(m.orphans, ev)
	if len(m.orphans) > maxOrphans {
		m.orphans = m.orphans[len(m.orphans)-maxOrphans:]
	}
}

// MoveTo issues a move and waits for it to finish. A failed or cancelled move
// returns an error wrapping registry.ErrMoveFailed. If ctx ends first the
// move is cancelled on the robot.
func (m *Mover) MoveTo(ctx context.Context, t Target) (MoveEvent, error) {
	id, err := m.gw.CreateMove(ctx, t)
	if err != nil {
		return MoveEvent{}, fmt.Errorf("create move: %w", err)
	}

	ch := make(chan MoveEvent, 1)
	m.mu.Lock()
	if ev, ok := m.takeOrphan(id); ok {
		ch <- ev
	} else {
		m.waiters[id] = ch
	}
	m.mu.Unlock()

	select {
	case ev := <-ch:
		if ev.Outcome != OutcomeSucceeded {
			return ev, fmt.Errorf("move %s %s: %s: %w", id, ev.Outcome, ev.Reason, registry.ErrMoveFailed)
		}
		return ev, nil
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.waiters, id)
		m.mu.Unlock()
		m.gw.CancelCurrentMove(context.Background())
		return MoveEvent{MoveID: id, Outcome: OutcomeCancelled}, ctx.Err()
	}
}

func (m *Mover) takeOrphan(id string) (MoveEvent, bool) {
	for i, ev := range m.orphans {
		if ev.MoveID == id {
			m.orphans = append(m.orphans[:i], m.orphans[i+1:]...)
			return ev, true
		}
	}
	return MoveEvent{}, false
}
