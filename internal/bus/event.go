package bus

import "time"

// Event kinds published on the bus. Subscriptions filter by namespace
// prefix, so "presence." matches both presence kinds.
const (
	KindPresenceUpdate    = "presence.update"
	KindPresenceHeartbeat = "presence.heartbeat"
	KindChatMessage       = "chat.message"
	KindTimelineUpdated   = "timeline.updated"
	KindRelayConnected    = "relay.connected"
	KindRelayDisconnected = "relay.disconnected"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
