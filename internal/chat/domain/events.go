package domain

import "encoding/json"

// BusEventType is the closed set of event bus notifications.
type BusEventType string

const (
	// EventMessageInserted a message row was inserted
	EventMessageInserted BusEventType = "message_inserted"
	// EventParticipantChanged a participation row changed, directory must reload
	EventParticipantChanged BusEventType = "participant_changed"
	// EventPresenceSync a full presence snapshot for one conversation
	EventPresenceSync BusEventType = "presence_sync"
)

// BusEvent is the wire record delivered on both channel classes. Presence
// always carries the complete snapshot, never a delta.
type BusEvent struct {
	Type           BusEventType    `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Message        *Message        `json:"message,omitempty"`
	Presence       map[string]bool `json:"presence,omitempty"`
}

// Encode serializes the event for the bus.
func (e BusEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeBusEvent parses a bus payload.
func DecodeBusEvent(data []byte) (BusEvent, error) {
	var e BusEvent
	err := json.Unmarshal(data, &e)
	return e, err
}
