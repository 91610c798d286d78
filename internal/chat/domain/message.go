package domain

import (
	"encoding/json"
	"time"
)

// MessageStatus tracks the optimistic write lifecycle of a message.
type MessageStatus string

const (
	// StatusPending provisional record, persistence not yet acknowledged
	StatusPending MessageStatus = "pending"
	// StatusSent authoritative record returned by the gateway
	StatusSent MessageStatus = "sent"
	// StatusFailed persistence write failed, record kept visible
	StatusFailed MessageStatus = "failed"
)

// Message is one chat message. ID is the deduplication key: two records with
// the same ID are the same message regardless of which source produced them.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	Payload        Payload
	CreatedAt      time.Time
	IsRead         bool
	Status         MessageStatus
}

// Before reports timeline order: creation time ascending, ties broken by ID.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

type wireMessage struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	SenderID       string          `json:"sender_id"`
	Content        string          `json:"content"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	IsRead         bool            `json:"is_read"`
	Status         MessageStatus   `json:"status,omitempty"`
}

// MarshalJSON encodes the payload union with its type envelope.
func (m Message) MarshalJSON() ([]byte, error) {
	raw, err := EncodePayload(m.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Payload:        raw,
		CreatedAt:      m.CreatedAt,
		IsRead:         m.IsRead,
		Status:         m.Status,
	})
}

// UnmarshalJSON decodes the payload union at the wire boundary.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	payload, err := DecodePayload(w.Payload)
	if err != nil {
		return err
	}
	status := w.Status
	if status == "" {
		status = StatusSent
	}
	*m = Message{
		ID:             w.ID,
		ConversationID: w.ConversationID,
		SenderID:       w.SenderID,
		Content:        w.Content,
		Payload:        payload,
		CreatedAt:      w.CreatedAt,
		IsRead:         w.IsRead,
		Status:         status,
	}
	return nil
}
