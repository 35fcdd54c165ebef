package realtime

import (
	"encoding/json"
	"time"
)

// Kind names one server-pushed event. The vocabulary is a fixed contract
// with the backend; frames carrying any other name are dropped at the
// parse boundary before they reach application logic.
type Kind string

const (
	KindConnected       Kind = "connected"
	KindNewEmail        Kind = "newEmail"
	KindEmailUpdated    Kind = "emailUpdated"
	KindEmailSent       Kind = "emailSent"
	KindProviderExpired Kind = "providerExpired"
	KindError           Kind = "error"
)

var knownKinds = map[Kind]bool{
	KindConnected:       true,
	KindNewEmail:        true,
	KindEmailUpdated:    true,
	KindEmailSent:       true,
	KindProviderExpired: true,
	KindError:           true,
}

// Event is one notification from the update channel. Events are
// invalidation signals only: consumers refetch the affected views and never
// apply an event payload as a patch, so ordering relative to REST responses
// does not matter.
type Event struct {
	Kind       Kind      `json:"event"`
	ProviderID string    `json:"providerId,omitempty"`
	MessageID  string    `json:"messageId,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ParseEvent decodes one wire frame into an Event. Malformed frames and
// frames with an unrecognized event name return ok=false and are discarded
// silently; they are expected noise, not application errors.
func ParseEvent(data []byte) (Event, bool) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, false
	}
	if !knownKinds[ev.Kind] {
		return Event{}, false
	}
	return ev, true
}
