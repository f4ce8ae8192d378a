package domain

import "time"

// ReasonNoData is reported while no status record has ever arrived.
const ReasonNoData = "no data received yet"

// LivenessState is whether the status feed is considered reachable.
type LivenessState struct {
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at"`
	// Reason explains an offline state. Empty while online.
	Reason string `json:"reason,omitempty"`
}
