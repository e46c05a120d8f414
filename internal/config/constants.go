package config

import "time"

// Transport timing
const (
	DialTimeout  = 10 * time.Second
	WriteTimeout = 10 * time.Second
)

// PongWait is how long the transport waits for an inbound heartbeat
// before treating the connection as dead.
func PongWait(heartbeat time.Duration) time.Duration {
	return heartbeat * 5 / 2
}

// Invite countdown tick
const InviteTickInterval = time.Second

// Transcript archive write timeout
const ArchiveTimeout = 5 * time.Second
