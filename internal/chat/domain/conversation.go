package domain

import (
	"fmt"
	"time"
)

// ConversationKind is the closed set of conversation kinds.
type ConversationKind string

const (
	// KindSupport general support thread with the marketplace
	KindSupport ConversationKind = "support"
	// KindInquiry product inquiry between a buyer and a store
	KindInquiry ConversationKind = "inquiry"
	// KindOrder conversation linked to an order
	KindOrder ConversationKind = "order"
	// KindProduct conversation linked to a catalog product
	KindProduct ConversationKind = "product"
)

// ContextType tags the optional business context of a conversation.
type ContextType string

const (
	//ContextOrder conversation opened from an order
	ContextOrder ContextType = "order"
	//ContextProduct conversation opened from a product page
	ContextProduct ContextType = "product"
	//ContextSupport conversation opened from the support entry point
	ContextSupport ContextType = "support"
)

// PreviewLimit bounds the last-message preview length, in runes.
const PreviewLimit = 80

// Conversation is one thread between a fixed set of participants. UnreadCount
// is scoped to the requesting actor and is always >= 0.
type Conversation struct {
	ID                 string           `json:"id"`
	Kind               ConversationKind `json:"kind"`
	ContextType        ContextType      `json:"context_type,omitempty"`
	ContextID          string           `json:"context_id,omitempty"`
	Title              string           `json:"title,omitempty"`
	StoreID            string           `json:"store_id,omitempty"`
	CreatorID          string           `json:"creator_id"`
	UpdatedAt          time.Time        `json:"updated_at"`
	LastMessagePreview string           `json:"last_message_preview,omitempty"`
	EphemeralDuration  time.Duration    `json:"ephemeral_duration,omitempty"` // 0 = keep forever
	Participants       []string         `json:"participants"`
	UnreadCount        int              `json:"unread_count"`
}

// DedupKey identifies the logical conversation for idempotent find-or-create.
// Contextual conversations collapse on their context, the rest on
// (kind, store, creator) so re-initiating contact reuses the same thread.
func (c *Conversation) DedupKey() string {
	if c.ContextType != "" && c.ContextID != "" {
		return fmt.Sprintf("ctx:%s:%s", c.ContextType, c.ContextID)
	}
	return fmt.Sprintf("%s:%s:%s", c.Kind, c.StoreID, c.CreatorID)
}

// HasParticipant reports whether actorID takes part in the conversation.
func (c *Conversation) HasParticipant(actorID string) bool {
	for _, p := range c.Participants {
		if p == actorID {
			return true
		}
	}
	return false
}

// TruncatePreview bounds s to PreviewLimit runes.
func TruncatePreview(s string) string {
	runes := []rune(s)
	if len(runes) <= PreviewLimit {
		return s
	}
	return string(runes[:PreviewLimit])
}
