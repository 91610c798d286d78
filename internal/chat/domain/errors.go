package domain

import "errors"

// Error taxonomy of the sync engine. Externally caused failures are caught at
// the boundary, logged and surfaced as non-fatal notices; only
// ErrNoActiveConversation is a caller contract violation.
var (
	// ErrNoActiveConversation send or typing without an active target.
	ErrNoActiveConversation = errors.New("no active conversation")

	// ErrPersistence a gateway write or fetch failed; optimistic state is kept.
	ErrPersistence = errors.New("persistence failure")

	// ErrConversationLookup a directory fetch failed; last-known-good state is kept.
	ErrConversationLookup = errors.New("conversation lookup failure")

	// ErrNotParticipant the actor does not belong to the conversation.
	ErrNotParticipant = errors.New("actor is not a participant")
)
