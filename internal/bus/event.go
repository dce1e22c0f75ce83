package bus

import "time"

// Event kinds published by the client core. Subscribers filter by prefix,
// e.g. "thread." or "realtime.".
const (
	KindSessionChanged     = "session.changed"
	KindThreadState        = "thread.state_changed"
	KindThreadUpdated      = "thread.updated"
	KindThreadClosed       = "thread.closed"
	KindRealtimeConnection = "realtime.connection"
	KindOutboxSent         = "outbox.sent"
	KindOutboxFailed       = "outbox.failed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
