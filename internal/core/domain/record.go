package domain

import "time"

// Feed paths published by the arm.
const (
	PathRobotStatus = "robot_status"
	PathStatistics  = "statistics"
)

// FeedRecord is one raw record as delivered by a feed.
type FeedRecord struct {
	Path       string    `json:"path"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// LivenessTransition is a persisted online/offline change.
type LivenessTransition struct {
	ID     uint      `gorm:"primaryKey" json:"id"`
	Online bool      `json:"online"`
	Reason string    `json:"reason"`
	At     time.Time `gorm:"index" json:"at"`
}
