package presence

import "time"

// Status is a user's availability state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Valid reports whether s is one of the closed availability states.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// Record is a user's presence as known to this client. It is the payload of
// presence.update events and the shape of the persisted snapshot.
type Record struct {
	UserID       string    `json:"userId"`
	Status       Status    `json:"status"`
	LastSeen     time.Time `json:"lastSeen"`
	CustomStatus string    `json:"customStatus,omitempty"`
}

// Heartbeat is the lightweight payload of presence.heartbeat events. It
// confirms continued online presence without carrying full state.
type Heartbeat struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// SnapshotKey is the KV key the local user's presence is persisted under.
const SnapshotKey = "presence.self"
