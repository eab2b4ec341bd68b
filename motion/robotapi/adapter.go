// Package robotapi adapts the robot's own REST + WebSocket API to
// motion.Gateway and the optional capability interfaces.
package robotapi

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"robonav/geom"
	"robonav/motion"
	"robonav/robot"
)

// Config holds the configuration for creating a robot API adapter.
type Config struct {
	BaseURL        string
	StreamURL      string
	Timeout        time.Duration
	ReconnectDelay time.Duration
}

// Adapter wraps a robot.Client and robot.Stream to implement
// motion.Gateway, motion.Mapper, motion.Jacker, motion.Camera and
// motion.Updater.
type Adapter struct {
	client *robot.Client
	cfg    Config
	log    *zap.Logger

	mu     sync.Mutex
	stream *robot.Stream
}

// New creates a new robot API adapter.
func New(cfg Config, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		client: robot.NewClient(cfg.BaseURL, cfg.Timeout),
		cfg:    cfg,
		log:    logger.Named("robotapi"),
	}
}

// Client exposes the underlying REST client.
func (a *Adapter) Client() *robot.Client { return a.client }

// --- motion.Gateway ---

func (a *Adapter) CreateMove(ctx context.Context, t motion.Target) (string, error) {
	return a.client.CreateMove(ctx, &robot.MoveRequest{
		TargetX:   t.X,
		TargetY:   t.Y,
		TargetOri: t.Orientation,
	})
}

func (a *Adapter) CancelCurrentMove(ctx context.Context) error {
	return a.client.CancelMove(ctx)
}

func (a *Adapter) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
	defer cancel()
	_, err := a.client.GetStatus(ctx)
	return err
}

func (a *Adapter) Name() string {
	return "robot API"
}

func (a *Adapter) Start(e motion.Emitter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stream != nil {
		return
	}
	a.stream = robot.NewStream(a.cfg.StreamURL, a.cfg.ReconnectDelay, &bridge{emitter: e}, a.log)
	a.stream.Start()
}

func (a *Adapter) Stop() {
	a.mu.Lock()
	s := a.stream
	a.stream = nil
	a.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}

// StreamConnected reports whether the event stream is up.
func (a *Adapter) StreamConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream != nil && a.stream.IsConnected()
}

// Reconfigure applies new endpoints. The stream restarts if it was running.
func (a *Adapter) Reconfigure(cfg Config, e motion.Emitter) {
	a.client.Reconfigure(cfg.BaseURL, cfg.Timeout)
	a.mu.Lock()
	running := a.stream != nil
	a.cfg = cfg
	a.mu.Unlock()
	if running {
		a.Stop()
		a.Start(e)
	}
}

// --- capabilities ---

func (a *Adapter) StartMapping(ctx context.Context, name string) error {
	return a.client.StartMapping(ctx, name)
}

func (a *Adapter) FinishMapping(ctx context.Context, save bool) (string, error) {
	res, err := a.client.FinishMapping(ctx, save)
	if err != nil {
		return "", err
	}
	return res.MapID, nil
}

func (a *Adapter) JackUp(ctx context.Context) error   { return a.client.Jack(ctx, robot.JackUp) }
func (a *Adapter) JackDown(ctx context.Context) error { return a.client.Jack(ctx, robot.JackDown) }

func (a *Adapter) Record(ctx context.Context, d time.Duration) (string, error) {
	secs := int(math.Ceil(d.Seconds()))
	if secs <= 0 {
		return "", fmt.Errorf("record: duration must be positive")
	}
	return a.client.Record(ctx, secs)
}

func (a *Adapter) UpdateSystem(ctx context.Context, version string) (string, error) {
	res, err := a.client.UpdateSystem(ctx, version)
	if err != nil {
		return "", err
	}
	if !res.Started {
		return "", fmt.Errorf("update to %q not started", res.Version)
	}
	return res.Version, nil
}

// bridge translates robot stream frames into motion events.
type bridge struct {
	emitter motion.Emitter
}

func (b *bridge) OnPose(p robot.Pose) {
	b.emitter.EmitPose(geom.Pose{X: p.X, Y: p.Y, Orientation: p.Ori})
}

func (b *bridge) OnMoveEvent(ev robot.MoveEvent) {
	b.emitter.EmitMoveEvent(motion.MoveEvent{
		MoveID:  ev.ID,
		Outcome: MapOutcome(ev.State),
		Reason:  ev.Reason,
	})
}
