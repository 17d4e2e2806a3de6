package chat

import "time"

// Type classifies message content.
type Type string

const (
	TypeText       Type = "text"
	TypeImage      Type = "image"
	TypeVideo      Type = "video"
	TypeAudio      Type = "audio"
	TypeEntryShare Type = "entry_share"
)

// Status is the delivery state of a message.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// statusRank orders the authoritative delivery states. Failed sits outside
// the order: it is reachable only from sending and exited only via retry.
var statusRank = map[Status]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Rank returns the position of s in sending < sent < delivered < read,
// and false for failed (which is not part of the monotonic order).
func (s Status) Rank() (int, bool) {
	r, ok := statusRank[s]
	return r, ok
}

// Valid reports whether s is one of the closed delivery states.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == StatusFailed
}

// Message is a single chat message as held in a timeline.
// RecipientID is empty for the public room.
type Message struct {
	ID           string    `json:"id"`
	SenderID     string    `json:"senderId"`
	RecipientID  string    `json:"recipientId,omitempty"`
	Content      string    `json:"content"`
	Type         Type      `json:"type"`
	RelatedID    string    `json:"relatedId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	Status       Status    `json:"status"`
	IsOptimistic bool      `json:"isOptimistic"`
}

// Before reports whether m sorts before other in the (CreatedAt, ID)
// timeline order. ID is the deterministic tiebreak for equal timestamps.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}
