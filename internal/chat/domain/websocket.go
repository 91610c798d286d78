package domain

import "encoding/json"

// Action websocket request action
type Action string

const (
	// ListConversations websocket action list_conversations
	ListConversations Action = "list_conversations"
	// ActivateConversation websocket action activate
	ActivateConversation Action = "activate"
	// DeactivateConversation websocket action deactivate
	DeactivateConversation Action = "deactivate"
	// SendMessage websocket action send_message
	SendMessage Action = "send_message"
	// SetTyping websocket action set_typing
	SetTyping Action = "set_typing"
	// StartInquiry websocket action start_inquiry
	StartInquiry Action = "start_inquiry"
	// OpenContextual websocket action open_contextual
	OpenContextual Action = "open_contextual"
	// SetEphemeral websocket action set_ephemeral
	SetEphemeral Action = "set_ephemeral"

	// ConversationsUpdated pushed when the directory changes
	ConversationsUpdated Action = "conversations_updated"
	// MessagesUpdated pushed when the active timeline changes
	MessagesUpdated Action = "messages_updated"
	// TypingUpdated pushed when the typing snapshot changes
	TypingUpdated Action = "typing_updated"
	// Notice pushed for non-fatal user-visible failures
	Notice Action = "notice"
)

// WSRequest websocket Request
type WSRequest struct {
	Action         string          `json:"action"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Content        string          `json:"content,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Typing         bool            `json:"typing,omitempty"`
	StoreID        string          `json:"store_id,omitempty"`
	OwnerID        string          `json:"owner_id,omitempty"`
	ContextType    string          `json:"context_type,omitempty"`
	ContextID      string          `json:"context_id,omitempty"`
	Title          string          `json:"title,omitempty"`
	Participants   []string        `json:"participants,omitempty"`
	Ephemeral      string          `json:"ephemeral,omitempty"` // Go duration string, "" clears
}

// WSResponse websocket Response
type WSResponse struct {
	Action  string                 `json:"action"`
	Success bool                   `json:"success"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Error   string                 `json:"error,omitempty"`
}
