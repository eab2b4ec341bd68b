package motion

import (
	"context"
	"time"
)

// Task handlers type-assert Gateway to the capability interfaces below.

type Mapper interface {
	StartMapping(ctx context.Context, name string) error
	// FinishMapping returns the id of the saved map, if any.
	FinishMapping(ctx context.Context, save bool) (string, error)
}

type Jacker interface {
	JackUp(ctx context.Context) error
	JackDown(ctx context.Context) error
}

type Camera interface {
	// Record captures video for d and returns where it can be fetched.
	Record(ctx context.Context, d time.Duration) (string, error)
}

type Updater interface {
	// UpdateSystem triggers a software update and returns the target version.
	UpdateSystem(ctx context.Context, version string) (string, error)
}
