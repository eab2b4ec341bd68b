// Package motion defines the vendor-neutral movement gateway the navigator,
// the door monitor and the task handlers drive the robot through.
package motion

import (
	"context"

	"robonav/geom"
)

// Gateway is the vendor-neutral interface for robot locomotion.
// Implementations wrap vendor-specific APIs.
type Gateway interface {
	// CreateMove starts a point-to-point move and returns its id.
	CreateMove(ctx context.Context, t Target) (string, error)

	// CancelCurrentMove cancels whatever move is in flight.
	CancelCurrentMove(ctx context.Context) error

	// Ping checks connectivity to the robot.
	Ping() error

	// Name returns a human-readable name for this gateway.
	Name() string

	// Start begins delivering pose and move events to e. Events arrive on
	// the gateway's own goroutines.
	Start(e Emitter)

	// Stop ends event delivery.
	Stop()
}

type Target struct {
	X           float64  `json:"x"`
	Y           float64  `json:"y"`
	Orientation *float64 `json:"orientation,omitempty"`
}

// TargetAt is a Target without orientation.
func TargetAt(p geom.Point) Target {
	return Target{X: p.X, Y: p.Y}
}

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

type MoveEvent struct {
	MoveID  string  `json:"move_id"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

// Emitter receives gateway events.
type Emitter interface {
	EmitPose(p geom.Pose)
	EmitMoveEvent(ev MoveEvent)
}
