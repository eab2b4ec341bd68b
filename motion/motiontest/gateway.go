// Package motiontest provides an in-memory motion.Gateway for tests.
package motiontest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"robonav/geom"
	"robonav/motion"
)

// Gateway records every call. Moves stay outstanding until Complete is
// called, unless AutoOutcome is set, in which case each move is finished
// asynchronously with that outcome.
type Gateway struct {
	mu          sync.Mutex
	emitter     motion.Emitter
	next        int
	moves       []motion.Target
	ids         []string
	cancels     int
	CreateErr   error
	AutoOutcome motion.Outcome

	Mapping  []string
	Jacks    []string
	Records  []time.Duration
	Updates  []string
	CapErr   error
	VideoURL string
}

func New() *Gateway { return &Gateway{VideoURL: "http://robot/video/1.mp4"} }

func (g *Gateway) Name() string { return "fake" }
func (g *Gateway) Ping() error  { return nil }

func (g *Gateway) Start(e motion.Emitter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.emitter = e
}

func (g *Gateway) Stop() {}

func (g *Gateway) CreateMove(_ context.Context, t motion.Target) (string, error) {
	g.mu.Lock()
	if g.CreateErr != nil {
		err := g.CreateErr
		g.mu.Unlock()
		return "", err
	}
	g.next++
	id := fmt.Sprintf("move-%d", g.next)
	g.moves = append(g.moves, t)
	g.ids = append(g.ids, id)
	auto := g.AutoOutcome
	g.mu.Unlock()

	if auto != "" {
		go g.Complete(id, auto, "")
	}
	return id, nil
}

func (g *Gateway) CancelCurrentMove(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels++
	return nil
}

// Complete reports the end of move id to the registered emitter.
func (g *Gateway) Complete(id string, outcome motion.Outcome, reason string) {
	g.mu.Lock()
	e := g.emitter
	g.mu.Unlock()
	if e != nil {
		e.EmitMoveEvent(motion.MoveEvent{MoveID: id, Outcome: outcome, Reason: reason})
	}
}

// Pose reports a robot pose to the registered emitter.
func (g *Gateway) Pose(x, y float64) {
	g.mu.Lock()
	e := g.emitter
	g.mu.Unlock()
	if e != nil {
		e.EmitPose(geom.Pose{X: x, Y: y})
	}
}

// LastMove returns the most recent move id and target.
func (g *Gateway) LastMove() (string, motion.Target, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.ids) == 0 {
		return "", motion.Target{}, false
	}
	n := len(g.ids) - 1
	return g.ids[n], g.moves[n], true
}

func (g *Gateway) Moves() []motion.Target {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]motion.Target(nil), g.moves...)
}

func (g *Gateway) Cancels() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancels
}

func (g *Gateway) StartMapping(_ context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Mapping = append(g.Mapping, "start:"+name)
	return g.CapErr
}

func (g *Gateway) FinishMapping(_ context.Context, save bool) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Mapping = append(g.Mapping, fmt.Sprintf("finish:%v", save))
	return "map-1", g.CapErr
}

func (g *Gateway) JackUp(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Jacks = append(g.Jacks, "up")
	return g.CapErr
}

func (g *Gateway) JackDown(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Jacks = append(g.Jacks, "down")
	return g.CapErr
}

func (g *Gateway) Record(_ context.Context, d time.Duration) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Records = append(g.Records, d)
	return g.VideoURL, g.CapErr
}

func (g *Gateway) UpdateSystem(_ context.Context, version string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Updates = append(g.Updates, version)
	if version == "" {
		version = "latest"
	}
	return version, g.CapErr
}

// Emitter collects emitted events.
type Emitter struct {
	mu     sync.Mutex
	Poses  []geom.Pose
	Events []motion.MoveEvent
	OnMove func(motion.MoveEvent)
}

func (e *Emitter) EmitPose(p geom.Pose) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Poses = append(e.Poses, p)
}

func (e *Emitter) EmitMoveEvent(ev motion.MoveEvent) {
	e.mu.Lock()
	e.Events = append(e.Events, ev)
	fn := e.OnMove
	e.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}
