package devicestate

import (
	"time"

	"robonav/registry"
)

// DeviceState is the last status a door or elevator reported.
type DeviceState struct {
	ID       string        `json:"id"`
	Kind     registry.Kind `json:"kind"`
	State    string        `json:"state"`
	Floor    *int          `json:"floor,omitempty"`
	Door     string        `json:"door,omitempty"`
	Raw      string        `json:"raw,omitempty"`
	LastSeen time.Time     `json:"last_seen"`
}
