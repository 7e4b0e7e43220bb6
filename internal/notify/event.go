// Package notify fans rider notifications out to in-process subscribers and
// to Google Cloud Pub/Sub.
package notify

import "time"

// Kind identifies a notification.
type Kind string

// Notification kinds.
const (
	KindAchievementUnlocked Kind = "achievement-unlocked"
	KindChallengeCompleted  Kind = "challenge-completed"
	KindStreakUpdated       Kind = "streak-updated"
)

// Event is a single notification.
type Event struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	RideID     string         `json:"rideId,omitempty"`
	Wallet     string         `json:"wallet,omitempty"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}
