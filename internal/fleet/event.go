package fleet

import "time"

// Event names pushed to real-time viewers.
const (
	EventConnected         = "connected"
	EventHostsUpdate       = "hosts_update"
	EventAlertAcknowledged = "alert_acknowledged"
	EventPing              = "ping"
)

// Event is the envelope for every push message.
type Event struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Snapshot is the payload of connected and hosts_update events.
type Snapshot struct {
	Hosts  []Host  `json:"hosts"`
	Alerts []Alert `json:"alerts"`
}

// NewEvent stamps an event with at in UTC.
func NewEvent(name string, data interface{}, at time.Time) Event {
	return Event{Event: name, Data: data, Timestamp: at.UTC()}
}
