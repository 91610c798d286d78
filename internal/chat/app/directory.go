package app

import (
	"context"
	"fmt"
	"time"

	"marketplace_chat_service/internal/chat/domain"
	"marketplace_chat_service/internal/chat/repository"
)

// Directory owns the actor's conversation list, ordered most-recently-active
// first, each entry annotated with its unread count and latest preview.
// Fetching (LoadAll) is separated from state transitions (Replace, Upsert...)
// so the session loop stays the only writer.
type Directory struct {
	actorID  string
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository

	list []domain.Conversation
}

// NewDirectory create a Directory for one actor
func NewDirectory(actorID string, convRepo repository.ConversationRepository, msgRepo repository.MessageRepository) *Directory {
	return &Directory{
		actorID:  actorID,
		convRepo: convRepo,
		msgRepo:  msgRepo,
	}
}

// LoadAll fetches every conversation the actor participates in or created.
// Participation rows can lag conversation visibility during creation races,
// so both lookups run and their union feeds one batched fetch. Unread counts
// come from a second batched query merged by id. LoadAll only fetches; the
// caller replaces directory state with the result.
func (d *Directory) LoadAll(ctx context.Context) ([]domain.Conversation, error) {
	participating, err := d.convRepo.IDsByParticipant(ctx, d.actorID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConversationLookup, err)
	}
	created, err := d.convRepo.IDsByCreator(ctx, d.actorID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConversationLookup, err)
	}

	ids := unionIDs(participating, created)
	if len(ids) == 0 {
		return nil, nil
	}

	convs, err := d.convRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConversationLookup, err)
	}

	unread, err := d.msgRepo.CountUnread(ctx, d.actorID, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConversationLookup, err)
	}

	for i := range convs {
		convs[i].UnreadCount = unread[convs[i].ID]
	}
	return convs, nil
}

// Replace swaps in a freshly loaded list. Idempotent: stale entries never
// accrete across reloads.
func (d *Directory) Replace(list []domain.Conversation) {
	d.list = list
}

// UpsertFromEvent applies a message-insert event to a conversation already in
// the directory: move to front, refresh the preview, and bump the unread
// count only when the author is someone else and the conversation is not the
// active one. Returns false when the conversation is unknown, in which case
// the caller must trigger a full reload instead of synthesizing a partial
// entry.
func (d *Directory) UpsertFromEvent(msg domain.Message, activeID string) bool {
	idx := -1
	for i := range d.list {
		if d.list[i].ID == msg.ConversationID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	conv := d.list[idx]
	conv.LastMessagePreview = domain.TruncatePreview(msg.Content)
	conv.UpdatedAt = msg.CreatedAt
	if msg.SenderID != d.actorID && msg.ConversationID != activeID {
		conv.UnreadCount++
	}

	d.list = append(d.list[:idx], d.list[idx+1:]...)
	d.list = append([]domain.Conversation{conv}, d.list...)
	return true
}

// Touch optimistically reorders the directory for a locally sent message.
func (d *Directory) Touch(convID, preview string, at time.Time) {
	for i := range d.list {
		if d.list[i].ID == convID {
			conv := d.list[i]
			conv.LastMessagePreview = domain.TruncatePreview(preview)
			conv.UpdatedAt = at
			d.list = append(d.list[:i], d.list[i+1:]...)
			d.list = append([]domain.Conversation{conv}, d.list...)
			return
		}
	}
}

// ResetUnread zeroes the local unread count of one conversation.
func (d *Directory) ResetUnread(convID string) {
	for i := range d.list {
		if d.list[i].ID == convID {
			d.list[i].UnreadCount = 0
			return
		}
	}
}

// SetEphemeral updates the local ephemeral policy field.
func (d *Directory) SetEphemeral(convID string, duration time.Duration) {
	for i := range d.list {
		if d.list[i].ID == convID {
			d.list[i].EphemeralDuration = duration
			return
		}
	}
}

// Find returns a copy of the conversation with the given id.
func (d *Directory) Find(convID string) (domain.Conversation, bool) {
	for i := range d.list {
		if d.list[i].ID == convID {
			return d.list[i], true
		}
	}
	return domain.Conversation{}, false
}

// Snapshot returns a copy of the ordered list.
func (d *Directory) Snapshot() []domain.Conversation {
	out := make([]domain.Conversation, len(d.list))
	copy(out, d.list)
	return out
}

func unionIDs(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var ids []string
	for _, id := range append(append([]string{}, a...), b...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
