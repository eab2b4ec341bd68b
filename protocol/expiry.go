package protocol

import "time"

// Default TTLs by message type. Device commands go stale quickly: a door
// opened a minute late is worse than a re-request.
var defaultTTLs = map[string]time.Duration{
	TypeDoorCommand:          15 * time.Second,
	TypeElevatorCall:         30 * time.Second,
	TypeElevatorRequestFloor: 30 * time.Second,

	TypeDeviceStatus: 30 * time.Second,

	TypeRobotHeartbeat: 90 * time.Second,

	TypeTaskUpdate:    30 * time.Minute,
	TypeSessionUpdate: 30 * time.Minute,
}

// FallbackTTL is used when no specific TTL is configured.
const FallbackTTL = 10 * time.Minute

// DefaultTTLFor returns the default TTL for a message type.
func DefaultTTLFor(msgType string) time.Duration {
	if ttl, ok := defaultTTLs[msgType]; ok {
		return ttl
	}
	return FallbackTTL
}

// IsExpired returns true if the envelope has passed its expiry time.
func IsExpired(env *Envelope) bool {
	return expired(env.ExpiresAt)
}

// IsExpiredHeader checks expiry using only the raw header.
func IsExpiredHeader(hdr *RawHeader) bool {
	return expired(hdr.ExpiresAt)
}

func expired(exp time.Time) bool {
	if exp.IsZero() {
		return false
	}
	return time.Now().UTC().After(exp)
}
