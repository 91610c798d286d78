package app

import (
	"context"
	"sync"

	"marketplace_chat_service/internal/chat/domain"
	"marketplace_chat_service/internal/chat/repository"
)

// SubscriptionState is the lifecycle of the per-conversation channel:
// Inactive -> Subscribing -> Subscribed -> Inactive. There is no
// Subscribed -> Subscribed self transition: the current channel is torn down
// before a different conversation is subscribed.
type SubscriptionState int

const (
	// StateInactive no conversation channel open
	StateInactive SubscriptionState = iota
	// StateSubscribing channel subscription in flight
	StateSubscribing
	// StateSubscribed channel delivering events
	StateSubscribed
)

// EventRouter owns the two bus channel classes: the per-actor global channel,
// held for the whole session, and at most one per-conversation channel at a
// time. Teardown of the old conversation channel is synchronous and happens
// under the same lock as the new subscribe, so two conversations' events can
// never cross-talk.
type EventRouter struct {
	bus repository.EventBus

	mu     sync.Mutex
	global repository.Subscription
	conv   repository.Subscription
	convID string
	state  SubscriptionState
}

// NewEventRouter create an EventRouter on the given bus
func NewEventRouter(bus repository.EventBus) *EventRouter {
	return &EventRouter{bus: bus}
}

// SubscribeGlobal opens the actor's global channel for the session lifetime.
func (r *EventRouter) SubscribeGlobal(ctx context.Context, actorID string, handler func(domain.BusEvent)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.global != nil {
		r.global.Close()
	}
	sub, err := r.bus.Subscribe(ctx, repository.UserChannel(actorID), handler)
	if err != nil {
		return err
	}
	r.global = sub
	return nil
}

// SwitchTo tears down any current conversation channel, then subscribes the
// new one.
func (r *EventRouter) SwitchTo(ctx context.Context, convID string, handler func(domain.BusEvent)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked()

	r.state = StateSubscribing
	sub, err := r.bus.Subscribe(ctx, repository.ConversationChannel(convID), handler)
	if err != nil {
		r.state = StateInactive
		return err
	}
	r.conv = sub
	r.convID = convID
	r.state = StateSubscribed
	return nil
}

// LeaveConversation synchronously closes the conversation channel, if any.
func (r *EventRouter) LeaveConversation() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked()
}

func (r *EventRouter) leaveLocked() {
	if r.conv != nil {
		r.conv.Close()
		r.conv = nil
	}
	r.convID = ""
	r.state = StateInactive
}

// State reports the conversation channel state.
func (r *EventRouter) State() SubscriptionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ActiveChannel reports which conversation channel is open, if any.
func (r *EventRouter) ActiveChannel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.convID
}

// Close tears down both channel classes, on logout or session teardown.
func (r *EventRouter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked()
	if r.global != nil {
		r.global.Close()
		r.global = nil
	}
}
