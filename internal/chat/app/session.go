package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketplace_chat_service/internal/chat/domain"
	"marketplace_chat_service/internal/chat/repository"
	"marketplace_chat_service/pkg"
	errprocess "marketplace_chat_service/pkg/err"
	"marketplace_chat_service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const backgroundCallTimeout = 10 * time.Second

type eventKind int

const (
	evDirectoryLoaded eventKind = iota
	evActivated
	evTimelineLoaded
	evDeactivated
	evOptimisticInsert
	evSwapProvisional
	evSendFailed
	evBusMessage
	evBusPresence
	evEphemeralSet
	evBarrier
)

// sessionEvent is the closed union fed into the reducer loop. Every state
// transition of the session is one of these, applied on the loop goroutine.
type sessionEvent struct {
	kind          eventKind
	convID        string
	tmpID         string
	message       domain.Message
	messages      []domain.Message
	conversations []domain.Conversation
	presence      map[string]bool
	duration      time.Duration
	done          chan struct{}
}

// ChatSession is the session-scoped sync engine for one authenticated actor:
// constructed on login (connection), destroyed on logout (Close). All mutable
// state (directory list, timeline merge map, typing map) is owned by a single
// reducer goroutine; entry points and bus callbacks post events into it, so
// an interleaved update can never overwrite a concurrent one.
type ChatSession struct {
	actorID string

	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
	bus      repository.EventBus
	notifier repository.Notifier

	router    *EventRouter
	directory *Directory
	timeline  *Timeline
	tracker   *PresenceTracker

	mu       sync.RWMutex
	activeID string

	events    chan sessionEvent
	closed    chan struct{}
	closeOnce sync.Once

	// Change callbacks, set before Start. They run on the loop goroutine
	// with fresh snapshots; the websocket handler uses them to push state.
	OnConversations func([]domain.Conversation)
	OnMessages      func([]domain.Message)
	OnTyping        func(map[string]bool)
	OnNotice        func(string)
}

// NewChatSession create a ChatSession for one actor
func NewChatSession(
	actorID string,
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	bus repository.EventBus,
	notifier repository.Notifier,
) *ChatSession {
	return &ChatSession{
		actorID:   actorID,
		convRepo:  convRepo,
		msgRepo:   msgRepo,
		bus:       bus,
		notifier:  notifier,
		router:    NewEventRouter(bus),
		directory: NewDirectory(actorID, convRepo, msgRepo),
		timeline:  NewTimeline(),
		tracker:   NewPresenceTracker(actorID),
		events:    make(chan sessionEvent, 256),
		closed:    make(chan struct{}),
	}
}

// Start runs the reducer loop, opens the actor's global channel and performs
// the initial directory load.
func (s *ChatSession) Start(ctx context.Context) error {
	go s.run()

	if err := s.router.SubscribeGlobal(ctx, s.actorID, s.handleBusEvent); err != nil {
		return errprocess.Wrap("subscribe global channel", err)
	}

	list, err := s.directory.LoadAll(ctx)
	if err != nil {
		s.notify("Could not load your conversations")
		return err
	}
	s.dispatch(sessionEvent{kind: evDirectoryLoaded, conversations: list})
	return nil
}

// Close tears down both channel classes and stops the loop. Idempotent.
func (s *ChatSession) Close() {
	s.closeOnce.Do(func() {
		s.router.Close()
		close(s.closed)
	})
}

// ActorID returns the session's actor.
func (s *ChatSession) ActorID() string { return s.actorID }

// Conversations returns the current directory snapshot.
func (s *ChatSession) Conversations() []domain.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.directory.Snapshot()
}

// Messages returns the active conversation's ordered timeline.
func (s *ChatSession) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeline.Ordered()
}

// ActiveConversationID returns the active conversation, "" when none.
func (s *ChatSession) ActiveConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// TypingUsers returns the typing snapshot for the active conversation.
func (s *ChatSession) TypingUsers() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracker.Snapshot()
}

// Activate makes convID the active conversation: tears down the previous
// conversation channel, subscribes the new one, fetches the full message set
// and merges it into whatever optimistic or raced records are already there,
// then marks the conversation read. Activating the already active
// conversation is a no-op.
func (s *ChatSession) Activate(ctx context.Context, convID string) error {
	if convID == "" {
		return domain.ErrNoActiveConversation
	}
	if conv, ok := s.conversation(convID); ok && !conv.HasParticipant(s.actorID) && conv.CreatorID != s.actorID {
		return domain.ErrNotParticipant
	}

	// the router's channel state is updated synchronously, so it is the
	// reliable idempotence check even while the reducer is still catching up
	if s.router.ActiveChannel() == convID {
		return nil
	}

	s.dispatch(sessionEvent{kind: evActivated, convID: convID})

	// the subscription must be live before the fetch so no insert slips
	// into the gap; the merge map absorbs any overlap
	if err := s.router.SwitchTo(ctx, convID, s.handleBusEvent); err != nil {
		s.notify("Could not open the conversation")
		return errprocess.Wrap(fmt.Sprintf("open conversation channel: %v", err), domain.ErrConversationLookup)
	}

	msgs, err := s.msgRepo.FindByConversation(ctx, convID)
	if err != nil {
		s.notify("Could not load messages")
		return errprocess.Wrap(fmt.Sprintf("load timeline: %v", err), domain.ErrPersistence)
	}
	s.dispatch(sessionEvent{kind: evTimelineLoaded, convID: convID, messages: msgs})
	return nil
}

// Deactivate clears the active conversation: the channel teardown is
// synchronous, so a following Activate can never receive the old
// conversation's events.
func (s *ChatSession) Deactivate() {
	s.router.LeaveConversation()
	s.dispatch(sessionEvent{kind: evDeactivated})
}

// Send runs the optimistic write pipeline: render a provisional record
// immediately, persist, atomically swap in the authoritative record, then
// fan out best-effort notifications. A persistence failure marks the
// provisional record failed but never drops it.
func (s *ChatSession) Send(ctx context.Context, content string, payload domain.Payload) error {
	s.mu.RLock()
	convID := s.activeID
	s.mu.RUnlock()
	if convID == "" {
		return domain.ErrNoActiveConversation
	}
	if payload == nil {
		payload = domain.TextPayload{}
	}

	provisional := domain.Message{
		ID:             uuid.New().String(),
		ConversationID: convID,
		SenderID:       s.actorID,
		Content:        content,
		Payload:        payload,
		CreatedAt:      time.Now().UTC(),
		Status:         domain.StatusPending,
	}
	s.dispatch(sessionEvent{kind: evOptimisticInsert, message: provisional})

	stored, err := s.msgRepo.Insert(ctx, provisional)
	if err != nil {
		s.dispatch(sessionEvent{kind: evSendFailed, tmpID: provisional.ID, convID: convID})
		s.notify("Message could not be delivered")
		return errprocess.Wrap(fmt.Sprintf("persist message: %v", err), domain.ErrPersistence)
	}

	s.dispatch(sessionEvent{kind: evSwapProvisional, tmpID: provisional.ID, message: *stored})

	conv, _ := s.conversation(convID)
	go s.fanOut(conv, *stored)
	return nil
}

// SetTyping broadcasts the actor's typing state on the active conversation's
// presence channel. The bus publishes the resulting full snapshot; receivers
// treat it as authoritative.
func (s *ChatSession) SetTyping(ctx context.Context, typing bool) error {
	s.mu.RLock()
	convID := s.activeID
	s.mu.RUnlock()
	if convID == "" {
		return domain.ErrNoActiveConversation
	}

	if _, err := s.bus.TrackPresence(ctx, convID, s.actorID, typing); err != nil {
		return errprocess.Set(fmt.Sprintf("presence track failed on %s: %v", convID, err))
	}
	return nil
}

// StartInquiry opens (or reuses) the inquiry conversation between the actor
// and a store. Idempotent: initiating twice in rapid succession resolves to
// one conversation.
func (s *ChatSession) StartInquiry(ctx context.Context, storeID, ownerID string) (string, error) {
	conv := &domain.Conversation{
		ID:           uuid.New().String(),
		Kind:         domain.KindInquiry,
		Title:        "Product Inquiry",
		StoreID:      storeID,
		CreatorID:    s.actorID,
		UpdatedAt:    time.Now().UTC(),
		Participants: []string{s.actorID, ownerID},
	}
	return s.openConversation(ctx, conv)
}

// OpenContextual opens (or reuses) the conversation tied to a business
// context: an order, a product, or the support entry point.
func (s *ChatSession) OpenContextual(ctx context.Context, ctxType domain.ContextType, ctxID string, participants []string, title, storeID string) (string, error) {
	kind := domain.KindInquiry
	switch ctxType {
	case domain.ContextSupport:
		kind = domain.KindSupport
		if title == "" {
			title = "Support"
		}
	case domain.ContextOrder:
		kind = domain.KindOrder
		if title == "" {
			title = "Order Inquiry"
		}
	case domain.ContextProduct:
		kind = domain.KindProduct
		if title == "" {
			title = "Product Inquiry"
		}
	}

	final := pkg.AppendIfMissing(append([]string{}, participants...), s.actorID)

	conv := &domain.Conversation{
		ID:           uuid.New().String(),
		Kind:         kind,
		ContextType:  ctxType,
		ContextID:    ctxID,
		Title:        title,
		StoreID:      storeID,
		CreatorID:    s.actorID,
		UpdatedAt:    time.Now().UTC(),
		Participants: final,
	}
	return s.openConversation(ctx, conv)
}

// SetEphemeral persists the per-conversation ephemeral retention policy.
// The policy is declarative; no sweep runs here.
func (s *ChatSession) SetEphemeral(ctx context.Context, convID string, d time.Duration) error {
	if err := s.convRepo.SetEphemeral(ctx, convID, d); err != nil {
		s.notify("Could not update the retention policy")
		return errprocess.Wrap(fmt.Sprintf("set retention policy: %v", err), domain.ErrPersistence)
	}
	s.dispatch(sessionEvent{kind: evEphemeralSet, convID: convID, duration: d})
	return nil
}

func (s *ChatSession) openConversation(ctx context.Context, conv *domain.Conversation) (string, error) {
	got, err := s.convRepo.FindOrCreate(ctx, conv)
	if err != nil {
		s.notify("Failed to initiate the conversation")
		return "", errprocess.Wrap(fmt.Sprintf("initiate conversation: %v", err), domain.ErrConversationLookup)
	}

	go s.refreshDirectory()

	println("DEBUG openConversation got.ID=", got.ID)
	if err := s.Activate(ctx, got.ID); err != nil {
		return got.ID, err
	}
	return got.ID, nil
}

// handleBusEvent routes decoded bus events into the reducer. Both channel
// classes share it: duplicate delivery of a message event is absorbed by the
// idempotent merge.
func (s *ChatSession) handleBusEvent(ev domain.BusEvent) {
	switch ev.Type {
	case domain.EventMessageInserted:
		if ev.Message == nil {
			return
		}
		s.dispatch(sessionEvent{kind: evBusMessage, message: *ev.Message})
	case domain.EventParticipantChanged:
		go s.refreshDirectory()
	case domain.EventPresenceSync:
		s.dispatch(sessionEvent{kind: evBusPresence, convID: ev.ConversationID, presence: ev.Presence})
	}
}

func (s *ChatSession) run() {
	for {
		select {
		case ev := <-s.events:
			s.apply(ev)
		case <-s.closed:
			return
		}
	}
}

func (s *ChatSession) dispatch(ev sessionEvent) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

// apply is the single state transition function. It folds one event over the
// current state under the write lock, then fires change callbacks with
// fresh snapshots.
func (s *ChatSession) apply(ev sessionEvent) {
	var convsChanged, msgsChanged, typingChanged bool

	s.mu.Lock()
	switch ev.kind {
	case evDirectoryLoaded:
		s.directory.Replace(ev.conversations)
		if s.activeID != "" {
			// an active conversation is read by definition
			s.directory.ResetUnread(s.activeID)
		}
		convsChanged = true

	case evActivated:
		s.timeline.Clear()
		s.tracker.Reset()
		s.activeID = ev.convID
		s.directory.ResetUnread(ev.convID)
		convsChanged, msgsChanged, typingChanged = true, true, true

	case evTimelineLoaded:
		if s.activeID == ev.convID {
			s.timeline.Merge(ev.messages...)
			s.markActiveRead()
			msgsChanged, convsChanged = true, true
		}

	case evDeactivated:
		s.timeline.Clear()
		s.tracker.Reset()
		s.activeID = ""
		msgsChanged, typingChanged = true, true

	case evOptimisticInsert:
		if s.activeID == ev.message.ConversationID {
			s.timeline.Merge(ev.message)
			msgsChanged = true
		}
		s.directory.Touch(ev.message.ConversationID, ev.message.Content, ev.message.CreatedAt)
		convsChanged = true

	case evSwapProvisional:
		if s.activeID == ev.message.ConversationID {
			s.timeline.Swap(ev.tmpID, ev.message)
			msgsChanged = true
		}
		s.directory.Touch(ev.message.ConversationID, ev.message.Content, ev.message.CreatedAt)
		convsChanged = true

	case evSendFailed:
		if s.activeID == ev.convID {
			s.timeline.MarkFailed(ev.tmpID)
			msgsChanged = true
		}

	case evBusMessage:
		known := s.directory.UpsertFromEvent(ev.message, s.activeID)
		if !known {
			// unknown conversation: a partial entry would permanently
			// miss participants and title, reload instead
			go s.refreshDirectory()
		}
		convsChanged = known
		if s.activeID == ev.message.ConversationID {
			s.timeline.Merge(ev.message)
			if ev.message.SenderID != s.actorID {
				s.markActiveRead()
			}
			msgsChanged, convsChanged = true, true
		}

	case evBusPresence:
		if s.activeID == ev.convID {
			s.tracker.ApplySnapshot(ev.presence)
			typingChanged = true
		}

	case evEphemeralSet:
		s.directory.SetEphemeral(ev.convID, ev.duration)
		convsChanged = true

	case evBarrier:
	}

	var convs []domain.Conversation
	var msgs []domain.Message
	var typing map[string]bool
	if convsChanged && s.OnConversations != nil {
		convs = s.directory.Snapshot()
	}
	if msgsChanged && s.OnMessages != nil {
		msgs = s.timeline.Ordered()
	}
	if typingChanged && s.OnTyping != nil {
		typing = s.tracker.Snapshot()
	}
	s.mu.Unlock()

	if convs != nil {
		s.OnConversations(convs)
	}
	if msgs != nil {
		s.OnMessages(msgs)
	}
	if typing != nil {
		s.OnTyping(typing)
	}
	if ev.done != nil {
		close(ev.done)
	}
}

// markActiveRead flags others' unread messages locally and issues the batched
// persistence write. Called with the write lock held.
func (s *ChatSession) markActiveRead() {
	ids := s.timeline.MarkReadLocal(s.actorID)
	s.directory.ResetUnread(s.activeID)
	if len(ids) > 0 {
		go s.markReadRemote(ids)
	}
}

func (s *ChatSession) markReadRemote(ids []string) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundCallTimeout)
	defer cancel()
	if err := s.msgRepo.MarkReadBatch(ctx, ids); err != nil {
		logger.Log.Errorf("mark read batch failed:", err, zap.Int("count", len(ids)))
	}
}

func (s *ChatSession) refreshDirectory() {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundCallTimeout)
	defer cancel()

	list, err := s.directory.LoadAll(ctx)
	if err != nil {
		// keep last-known-good state; clearing would read as message loss
		logger.Log.Errorf("directory reload failed:", err, zap.String("actor", s.actorID))
		s.notify("Could not refresh your conversations")
		return
	}
	s.dispatch(sessionEvent{kind: evDirectoryLoaded, conversations: list})
}

// fanOut runs the best-effort side of the pipeline: bump the conversation
// row, publish the insert on both channel classes, notify the other
// participants. None of these can roll the message back.
func (s *ChatSession) fanOut(conv domain.Conversation, m domain.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundCallTimeout)
	defer cancel()

	if err := s.convRepo.Touch(ctx, m.ConversationID, m.Content, m.CreatedAt); err != nil {
		logger.Log.Errorf("conversation touch failed:", err, zap.String("conversation", m.ConversationID))
	}

	insert := domain.BusEvent{
		Type:           domain.EventMessageInserted,
		ConversationID: m.ConversationID,
		Message:        &m,
	}
	if err := s.bus.Publish(ctx, repository.ConversationChannel(m.ConversationID), insert); err != nil {
		logger.Log.Errorf("conversation channel publish failed:", err)
	}

	var recipients []string
	for _, p := range conv.Participants {
		if p == s.actorID {
			continue
		}
		recipients = append(recipients, p)
		if err := s.bus.Publish(ctx, repository.UserChannel(p), insert); err != nil {
			logger.Log.Errorf("user channel publish failed:", err, zap.String("recipient", p))
		}
	}

	if s.notifier != nil && len(recipients) > 0 {
		if err := s.notifier.NotifyMessage(ctx, conv, m, recipients); err != nil {
			logger.Log.Errorf("notification fanout failed:", err)
		}
	}
}

func (s *ChatSession) conversation(convID string) (domain.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.directory.Find(convID)
}

func (s *ChatSession) notify(msg string) {
	if s.OnNotice != nil {
		s.OnNotice(msg)
	}
}

// settle waits until every event dispatched so far has been applied.
func (s *ChatSession) settle() {
	done := make(chan struct{})
	s.dispatch(sessionEvent{kind: evBarrier, done: done})
	select {
	case <-done:
	case <-s.closed:
	}
}
