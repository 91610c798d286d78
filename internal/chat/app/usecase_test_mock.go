package app

import (
	"context"
	"time"

	"marketplace_chat_service/internal/chat/domain"
	"marketplace_chat_service/internal/chat/repository"

	"github.com/stretchr/testify/mock"
)

// MockConversationRepository Mock ConversationRepository
type MockConversationRepository struct {
	mock.Mock
}

// IDsByParticipant moke find conversation ids by participant
func (m *MockConversationRepository) IDsByParticipant(ctx context.Context, actorID string) ([]string, error) {
	args := m.Called(ctx, actorID)
	if args.Get(0) != nil {
		return args.Get(0).([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

// IDsByCreator moke find conversation ids by creator
func (m *MockConversationRepository) IDsByCreator(ctx context.Context, actorID string) ([]string, error) {
	args := m.Called(ctx, actorID)
	if args.Get(0) != nil {
		return args.Get(0).([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

// FindByIDs moke batched conversation load
func (m *MockConversationRepository) FindByIDs(ctx context.Context, ids []string) ([]domain.Conversation, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

// FindOrCreate moke idempotent conversation open
func (m *MockConversationRepository) FindOrCreate(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error) {
	args := m.Called(ctx, conv)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

// Touch moke bump conversation recency
func (m *MockConversationRepository) Touch(ctx context.Context, convID, preview string, at time.Time) error {
	args := m.Called(ctx, convID, preview, at)
	return args.Error(0)
}

// SetEphemeral moke set retention policy
func (m *MockConversationRepository) SetEphemeral(ctx context.Context, convID string, d time.Duration) error {
	args := m.Called(ctx, convID, d)
	return args.Error(0)
}

// MockMessageRepository Mock MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

// FindByConversation moke full timeline fetch
func (m *MockMessageRepository) FindByConversation(ctx context.Context, convID string) ([]domain.Message, error) {
	args := m.Called(ctx, convID)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// Insert moke persist message
func (m *MockMessageRepository) Insert(ctx context.Context, msg domain.Message) (*domain.Message, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// MarkReadBatch moke batched read flag update
func (m *MockMessageRepository) MarkReadBatch(ctx context.Context, ids []string) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

// CountUnread moke per-conversation unread aggregation
func (m *MockMessageRepository) CountUnread(ctx context.Context, actorID string, convIDs []string) (map[string]int, error) {
	args := m.Called(ctx, actorID, convIDs)
	if args.Get(0) != nil {
		return args.Get(0).(map[string]int), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockSubscription Mock Subscription
type MockSubscription struct {
	mock.Mock
}

// Close moke subscription close
func (m *MockSubscription) Close() {
	m.Called()
}

// MockEventBus Mock EventBus
type MockEventBus struct {
	mock.Mock
}

// Publish moke publisher
func (m *MockEventBus) Publish(ctx context.Context, channel string, ev domain.BusEvent) error {
	args := m.Called(ctx, channel, ev)
	return args.Error(0)
}

// Subscribe moke subscriber
func (m *MockEventBus) Subscribe(ctx context.Context, channel string, handler func(domain.BusEvent)) (repository.Subscription, error) {
	args := m.Called(ctx, channel, handler)
	if args.Get(0) != nil {
		return args.Get(0).(repository.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

// TrackPresence moke typing flag update
func (m *MockEventBus) TrackPresence(ctx context.Context, convID, actorID string, typing bool) (map[string]bool, error) {
	args := m.Called(ctx, convID, actorID, typing)
	if args.Get(0) != nil {
		return args.Get(0).(map[string]bool), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockNotifier Mock Notifier
type MockNotifier struct {
	mock.Mock
}

// NotifyMessage moke notification fanout
func (m *MockNotifier) NotifyMessage(ctx context.Context, conv domain.Conversation, msg domain.Message, recipients []string) error {
	args := m.Called(ctx, conv, msg, recipients)
	return args.Error(0)
}
