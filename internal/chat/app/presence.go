package app

// PresenceTracker holds who is currently typing in the active conversation.
// Purely in-memory: reset on deactivation, never persisted. Every sync event
// replaces the whole map, treating the latest snapshot as authoritative, so a
// missed delta can never leave a stuck "still typing" flag.
type PresenceTracker struct {
	actorID string
	typing  map[string]bool
}

// NewPresenceTracker create a PresenceTracker for one actor
func NewPresenceTracker(actorID string) *PresenceTracker {
	return &PresenceTracker{
		actorID: actorID,
		typing:  make(map[string]bool),
	}
}

// ApplySnapshot replaces the typing map from a full presence snapshot,
// excluding the actor's own flag.
func (p *PresenceTracker) ApplySnapshot(snapshot map[string]bool) {
	next := make(map[string]bool, len(snapshot))
	for actor, typing := range snapshot {
		if actor == p.actorID {
			continue
		}
		if typing {
			next[actor] = true
		}
	}
	p.typing = next
}

// Reset drops all presence state.
func (p *PresenceTracker) Reset() {
	p.typing = make(map[string]bool)
}

// Snapshot returns a copy of the typing map.
func (p *PresenceTracker) Snapshot() map[string]bool {
	out := make(map[string]bool, len(p.typing))
	for actor, typing := range p.typing {
		out[actor] = typing
	}
	return out
}
