package app

import (
	"sort"

	"marketplace_chat_service/internal/chat/domain"
)

// Timeline owns the message set of the single active conversation. The merge
// map keyed by message id is the source of truth: merging is idempotent and
// order-independent, so the batched fetch and realtime events can arrive in
// any relative order and converge to the same sequence.
type Timeline struct {
	byID map[string]domain.Message
}

// NewTimeline create an empty Timeline
func NewTimeline() *Timeline {
	return &Timeline{byID: make(map[string]domain.Message)}
}

// Merge inserts or overwrites each record by its identifier. Replaying the
// same record is a no-op after the first application.
func (t *Timeline) Merge(msgs ...domain.Message) {
	for _, m := range msgs {
		t.byID[m.ID] = m
	}
}

// Swap atomically replaces the provisional record with the authoritative one:
// both changes land in a single state transition so no intermediate view
// contains both or neither.
func (t *Timeline) Swap(tmpID string, authoritative domain.Message) {
	delete(t.byID, tmpID)
	t.byID[authoritative.ID] = authoritative
}

// MarkFailed flags the provisional record after a failed persistence write.
// The record stays visible; it is never silently dropped.
func (t *Timeline) MarkFailed(tmpID string) {
	if m, ok := t.byID[tmpID]; ok {
		m.Status = domain.StatusFailed
		t.byID[tmpID] = m
	}
}

// MarkReadLocal flags every unread message authored by someone other than
// actorID and returns their ids for the batched persistence write.
func (t *Timeline) MarkReadLocal(actorID string) []string {
	var ids []string
	for id, m := range t.byID {
		if m.SenderID != actorID && !m.IsRead {
			m.IsRead = true
			t.byID[id] = m
			ids = append(ids, id)
		}
	}
	return ids
}

// Contains reports whether the id is present in the merge map.
func (t *Timeline) Contains(id string) bool {
	_, ok := t.byID[id]
	return ok
}

// Len reports the number of distinct messages.
func (t *Timeline) Len() int { return len(t.byID) }

// Clear drops all state. Per-conversation state is not retained across
// navigation away.
func (t *Timeline) Clear() {
	t.byID = make(map[string]domain.Message)
}

// Ordered re-derives the visible list: creation time ascending, ties broken
// by identifier.
func (t *Timeline) Ordered() []domain.Message {
	msgs := make([]domain.Message, 0, len(t.byID))
	for _, m := range t.byID {
		msgs = append(msgs, m)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
	return msgs
}
