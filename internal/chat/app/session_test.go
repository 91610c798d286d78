package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketplace_chat_service/internal/chat/domain"
	"marketplace_chat_service/internal/chat/repository"
	"marketplace_chat_service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 10 * time.Millisecond

// sessionFixture wires a ChatSession onto mocks and captures the bus handlers
// so tests can inject realtime events directly.
type sessionFixture struct {
	convRepo *MockConversationRepository
	msgRepo  *MockMessageRepository
	bus      *MockEventBus
	notifier *MockNotifier
	session  *ChatSession

	globalHandler func(domain.BusEvent)
	convHandler   func(domain.BusEvent)
	notices       chan string
}

func newSessionFixture(t *testing.T, directory []domain.Conversation) *sessionFixture {
	t.Helper()
	logger.SetNewNop()

	f := &sessionFixture{
		convRepo: new(MockConversationRepository),
		msgRepo:  new(MockMessageRepository),
		bus:      new(MockEventBus),
		notifier: new(MockNotifier),
	}

	ids := make([]string, 0, len(directory))
	for _, c := range directory {
		ids = append(ids, c.ID)
	}
	f.convRepo.On("IDsByParticipant", mock.Anything, "me").Return(ids, nil)
	f.convRepo.On("IDsByCreator", mock.Anything, "me").Return([]string{}, nil)
	if len(ids) > 0 {
		f.convRepo.On("FindByIDs", mock.Anything, mock.Anything).Return(directory, nil)
		f.msgRepo.On("CountUnread", mock.Anything, "me", mock.Anything).Return(map[string]int{}, nil)
	}

	globalSub := new(MockSubscription)
	globalSub.On("Close").Return().Maybe()
	f.bus.On("Subscribe", mock.Anything, repository.UserChannel("me"), mock.Anything).
		Run(func(args mock.Arguments) {
			f.globalHandler = args.Get(2).(func(domain.BusEvent))
		}).
		Return(globalSub, nil)

	f.notices = make(chan string, 16)
	f.session = NewChatSession("me", f.convRepo, f.msgRepo, f.bus, f.notifier)
	f.session.OnNotice = func(text string) { f.notices <- text }
	require.NoError(t, f.session.Start(context.Background()))
	f.session.settle()
	t.Cleanup(f.session.Close)
	return f
}

// expectConversationChannel arms the per-conversation subscribe and captures
// its handler.
func (f *sessionFixture) expectConversationChannel(convID string) *MockSubscription {
	sub := new(MockSubscription)
	sub.On("Close").Return().Maybe()
	f.bus.On("Subscribe", mock.Anything, repository.ConversationChannel(convID), mock.Anything).
		Run(func(args mock.Arguments) {
			f.convHandler = args.Get(2).(func(domain.BusEvent))
		}).
		Return(sub, nil)
	return sub
}

func (f *sessionFixture) activate(t *testing.T, convID string, history []domain.Message) {
	t.Helper()
	f.expectConversationChannel(convID)
	f.msgRepo.On("FindByConversation", mock.Anything, convID).Return(history, nil)
	require.NoError(t, f.session.Activate(context.Background(), convID))
	f.session.settle()
}

func TestChatSession_StartLoadsDirectory(t *testing.T) {
	now := time.Now().UTC()
	f := newSessionFixture(t, []domain.Conversation{conv("conv-a", now), conv("conv-b", now.Add(-time.Hour))})

	list := f.session.Conversations()
	require.Len(t, list, 2)
	assert.Equal(t, "conv-a", list[0].ID)
}

func TestChatSession_ActivateFetchesAndMarksRead(t *testing.T) {
	now := time.Now().UTC()
	f := newSessionFixture(t, []domain.Conversation{conv("conv-a", now)})

	history := []domain.Message{
		msgAt("m-1", "conv-a", "them", now.Add(-2*time.Minute)),
		msgAt("m-2", "conv-a", "them", now.Add(-time.Minute)),
	}
	marked := make(chan []string, 1)
	f.msgRepo.On("MarkReadBatch", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { marked <- args.Get(1).([]string) }).
		Return(nil)

	f.activate(t, "conv-a", history)

	msgs := f.session.Messages()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.True(t, m.IsRead)
	}

	select {
	case ids := <-marked:
		assert.ElementsMatch(t, []string{"m-1", "m-2"}, ids)
	case <-time.After(waitFor):
		t.Fatal("mark read batch never issued")
	}

	got, _ := f.session.conversation("conv-a")
	assert.Zero(t, got.UnreadCount)
}

func TestChatSession_ReactivationIsIdempotent(t *testing.T) {
	now := time.Now().UTC()
	f := newSessionFixture(t, []domain.Conversation{conv("conv-a", now)})

	f.expectConversationChannel("conv-a")
	f.msgRepo.On("FindByConversation", mock.Anything, "conv-a").Return([]domain.Message{}, nil).Once()

	ctx := context.Background()
	require.NoError(t, f.session.Activate(ctx, "conv-a"))
	require.NoError(t, f.session.Activate(ctx, "conv-a"))
	f.session.settle()

	assert.Equal(t, "conv-a", f.session.ActiveConversationID())
	f.bus.AssertNumberOfCalls(t, "Subscribe", 2) // global + one conversation channel
}

func TestChatSession_SendOptimisticThenSwap(t *testing.T) {
	now := time.Now().UTC()
	f := newSessionFixture(t, []domain.Conversation{conv("conv-a", now)})
	f.activate(t, "conv-a", nil)

	notified := make(chan []string, 1)
	f.convRepo.On("Touch", mock.Anything, "conv-a", mock.Anything, mock.Anything).Return(nil)
	f.bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.notifier.On("NotifyMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { notified <- args.Get(3).([]string) }).
		Return(nil)

	var tmpID string
	f.msgRepo.On("Insert", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			provisional := args.Get(1).(domain.Message)
			tmpID = provisional.ID
			assert.Equal(t, domain.StatusPending, provisional.Status)
		}).
		Return(&domain.Message{
			ID:             "srv-42",
			ConversationID: "conv-a",
			SenderID:       "me",
			Content:        "hello",
			CreatedAt:      now,
			Status:         domain.StatusSent,
		}, nil)

	require.NoError(t, f.session.Send(context.Background(), "hello", nil))
	f.session.settle()

	msgs := f.session.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-42", msgs[0].ID)
	assert.Equal(t, domain.StatusSent, msgs[0].Status)
	assert.NotEqual(t, tmpID, msgs[0].ID)

	select {
	case recipients := <-notified:
		assert.Equal(t, []string{"them"}, recipients)
	case <-time.After(waitFor):
		t.Fatal("notification fanout never ran")
	}
}

func TestChatSession_SendEchoAfterSwapDoesNotDuplicate(t *testing.T) {
	now := time.Now().UTC()
	f := newSessionFixture(t, []domain.Conversation{conv("conv-a", now)})
	f.activate(t, "conv-a", nil)

	stored := domain.Message{
		ID: "srv-42", ConversationID: "conv-a", SenderID: "me",
		Content: "hello", CreatedAt: now, Status: domain.StatusSent,
	}
	f.msgRepo.On("Insert", mock.Anything, mock.Anything).Return(&stored, nil)
	f.convRepo.On("Touch", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.notifier.On("NotifyMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.session.Send(context.Background(), "hello", nil))

	// the publish loops back on the conversation channel
	f.convHandler(domain.BusEvent{Type: domain.EventMessageInserted, ConversationID: "conv-a", Message: &stored})
	f.session.settle()

	assert.Len(t, f.session.Messages(), 1)
}

func TestChatSession_SendFailureKeepsFailedRecord(t *testing.T) {
	now := time.Now().UTC()
	f := newSessionFixture(t, []domain.Conversation{conv("conv-a", now)})
	f.activate(t, "conv-a", nil)

	f.msgRepo.On("Insert", mock.Anything, mock.Anything).Return(nil, errors.New("gateway timeout"))

	err := f.session.Send(context.Background(), "hello", nil)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	f.session.settle()

	msgs := f.session.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.StatusFailed, msgs[0].Status)

	select {
	case notice := <-f.notices:
		assert.NotEmpty(t, notice)
	case <-time.After(waitFor):
		t.Fatal("failure notice never surfaced")
	}
}

func TestChatSession_SendWithoutActiveConversation(t *testing.T) {
	f := newSessionFixture(t, nil)

	err := f.session.Send(context.Background(), "hello", nil)
	assert.ErrorIs(t, err, domain.ErrNoActiveConversation)

	assert.ErrorIs(t, f.session.SetTyping(context.Background(), true), domain.ErrNoActiveConversation)
}

func TestChatSession_ActivateRejectsNonParticipant(t *testing.T) {
	now := time.Now().UTC()
	foreign := domain.Conversation{
		ID:           "conv-x",
		Kind:         domain.KindInquiry,
		CreatorID:    "someone-else",
		UpdatedAt:    now,
		Participants: []string{"someone-else", "them"},
	}
	f := newSessionFixture(t, []domain.Conversation{foreign})

	err := f.session.Activate(context.Background(), "conv-x")
	assert.ErrorIs(t, err, domain.ErrNotParticipant)
	assert.Empty(t, f.session.ActiveConversationID())
}

func TestChatSession_IncomingOnActiveConversationStaysRead(t *testing.T) {
	now := time.Now().UTC()
	f := newSessionFixture(t, []domain.Conversation{conv("conv-a", now)})
	f.activate(t, "conv-a", nil)

	marked := make(chan []string, 1)
	f.msgRepo.On("MarkReadBatch", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { marked <- args.Get(1).([]string) }).
		Return(nil)

	incoming := msgAt("m-9", "conv-a", "them", now)
	f.convHandler(domain.BusEvent{Type: domain.EventMessageInserted, ConversationID: "conv-a", Message: &incoming})
	f.session.settle()

	msgs := f.session.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsRead)

	got, _ := f.session.conversation("conv-a")
	assert.Zero(t, got.UnreadCount)

	select {
	case ids := <-marked:
		assert.Equal(t, []string{"m-9"}, ids)
	case <-time.After(waitFor):
		t.Fatal("mark read batch never issued")
	}
}

func TestChatSession_IncomingOnBackgroundConversationBumpsUnread(t *testing.T) {
	now := time.Now().UTC()
	f := newSessionFixture(t, []domain.Conversation{conv("conv-a", now), conv("conv-b", now.Add(-time.Hour))})
	f.activate(t, "conv-a", nil)

	incoming := msgAt("m-9", "conv-b", "them", now)
	f.globalHandler(domain.BusEvent{Type: domain.EventMessageInserted, ConversationID: "conv-b", Message: &incoming})
	f.session.settle()

	// the background conversation moves to the front with one unread
	list := f.session.Conversations()
	require.Len(t, list, 2)
	assert.Equal(t, "conv-b", list[0].ID)
	assert.Equal(t, 1, list[0].UnreadCount)

	// the active timeline is untouched
	assert.Empty(t, f.session.Messages())
}

func TestChatSession_UnknownConversationTriggersReload(t *testing.T) {
	now := time.Now().UTC()
	logger.SetNewNop()

	convRepo := new(MockConversationRepository)
	msgRepo := new(MockMessageRepository)
	bus := new(MockEventBus)

	globalSub := new(MockSubscription)
	globalSub.On("Close").Return().Maybe()
	bus.On("Subscribe", mock.Anything, repository.UserChannel("me"), mock.Anything).Return(globalSub, nil)

	// first load sees conv-a only, the reload also sees conv-new
	convRepo.On("IDsByParticipant", mock.Anything, "me").Return([]string{"conv-a"}, nil).Once()
	convRepo.On("IDsByParticipant", mock.Anything, "me").Return([]string{"conv-a", "conv-new"}, nil)
	convRepo.On("IDsByCreator", mock.Anything, "me").Return([]string{}, nil)
	convRepo.On("FindByIDs", mock.Anything, []string{"conv-a"}).
		Return([]domain.Conversation{conv("conv-a", now)}, nil)
	convRepo.On("FindByIDs", mock.Anything, []string{"conv-a", "conv-new"}).
		Return([]domain.Conversation{conv("conv-new", now), conv("conv-a", now.Add(-time.Hour))}, nil)
	msgRepo.On("CountUnread", mock.Anything, "me", mock.Anything).Return(map[string]int{"conv-new": 1}, nil)

	s := NewChatSession("me", convRepo, msgRepo, bus, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()
	s.settle()

	incoming := msgAt("m-1", "conv-new", "them", now)
	s.handleBusEvent(domain.BusEvent{Type: domain.EventMessageInserted, ConversationID: "conv-new", Message: &incoming})

	assert.Eventually(t, func() bool {
		for _, c := range s.Conversations() {
			if c.ID == "conv-new" && c.UnreadCount == 1 {
				return true
			}
		}
		return false
	}, waitFor, tick, "reload never surfaced the new conversation")
}

func TestChatSession_DoubleInitiationResolvesToOneConversation(t *testing.T) {
	now := time.Now().UTC()
	f := newSessionFixture(t, nil)

	winner := conv("conv-win", now)
	f.convRepo.On("FindOrCreate", mock.Anything, mock.Anything).Return(&winner, nil)
	f.expectConversationChannel("conv-win")
	f.msgRepo.On("FindByConversation", mock.Anything, "conv-win").Return([]domain.Message{}, nil)

	ctx := context.Background()
	first, err := f.session.StartInquiry(ctx, "store-1", "them")
	require.NoError(t, err)
	second, err := f.session.StartInquiry(ctx, "store-1", "them")
	require.NoError(t, err)

	assert.Equal(t, "conv-win", first)
	assert.Equal(t, first, second)
	assert.Equal(t, "conv-win", f.session.ActiveConversationID())
}

func TestChatSession_TypingSnapshotIsAuthoritative(t *testing.T) {
	now := time.Now().UTC()
	f := newSessionFixture(t, []domain.Conversation{conv("conv-a", now)})
	f.activate(t, "conv-a", nil)

	f.bus.On("TrackPresence", mock.Anything, "conv-a", "me", true).
		Return(map[string]bool{"me": true, "them": true}, nil)
	require.NoError(t, f.session.SetTyping(context.Background(), true))

	f.convHandler(domain.BusEvent{
		Type:           domain.EventPresenceSync,
		ConversationID: "conv-a",
		Presence:       map[string]bool{"me": true, "them": true},
	})
	f.session.settle()
	assert.Equal(t, map[string]bool{"them": true}, f.session.TypingUsers())

	// the next snapshot no longer lists them: the flag clears without any
	// explicit stop event
	f.convHandler(domain.BusEvent{
		Type:           domain.EventPresenceSync,
		ConversationID: "conv-a",
		Presence:       map[string]bool{"me": true},
	})
	f.session.settle()
	assert.Empty(t, f.session.TypingUsers())
}

func TestChatSession_DeactivateClearsPerConversationState(t *testing.T) {
	now := time.Now().UTC()
	f := newSessionFixture(t, []domain.Conversation{conv("conv-a", now)})
	f.activate(t, "conv-a", []domain.Message{msgAt("m-1", "conv-a", "me", now)})

	f.convHandler(domain.BusEvent{
		Type:           domain.EventPresenceSync,
		ConversationID: "conv-a",
		Presence:       map[string]bool{"them": true},
	})
	f.session.settle()
	require.NotEmpty(t, f.session.Messages())
	require.NotEmpty(t, f.session.TypingUsers())

	f.session.Deactivate()
	f.session.settle()

	assert.Empty(t, f.session.ActiveConversationID())
	assert.Empty(t, f.session.Messages())
	assert.Empty(t, f.session.TypingUsers())
}

func TestChatSession_SetEphemeralUpdatesDirectory(t *testing.T) {
	now := time.Now().UTC()
	f := newSessionFixture(t, []domain.Conversation{conv("conv-a", now)})

	f.convRepo.On("SetEphemeral", mock.Anything, "conv-a", 24*time.Hour).Return(nil)
	require.NoError(t, f.session.SetEphemeral(context.Background(), "conv-a", 24*time.Hour))
	f.session.settle()

	got, ok := f.session.conversation("conv-a")
	require.True(t, ok)
	assert.Equal(t, 24*time.Hour, got.EphemeralDuration)
	f.convRepo.AssertExpectations(t)
}
