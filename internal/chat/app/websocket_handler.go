package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"marketplace_chat_service/internal/chat/domain"
	"marketplace_chat_service/internal/chat/repository"
	"marketplace_chat_service/pkg/logger"
	"marketplace_chat_service/pkg/middlewares"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// ChatWebsocketHandler owns the shared backends and spins up one ChatSession
// per websocket connection
type ChatWebsocketHandler struct {
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
	bus      repository.EventBus
	notifier repository.Notifier
}

// NewChatWebsocketHandler create ChatWebsocketHandler
func NewChatWebsocketHandler(
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	bus repository.EventBus,
	notifier repository.Notifier,
) *ChatWebsocketHandler {
	return &ChatWebsocketHandler{
		convRepo: convRepo,
		msgRepo:  msgRepo,
		bus:      bus,
		notifier: notifier,
	}
}

// wsConn serializes writes; push callbacks and request replies share the
// connection and gorilla allows only one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) send(resp domain.WSResponse) {
	b, _ := json.Marshal(resp)
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		logger.Log.Errorf("write message error:", err)
	}
}

func (w *wsConn) push(action domain.Action, payload map[string]interface{}) {
	w.send(domain.WSResponse{Action: string(action), Success: true, Payload: payload})
}

// HandleConnection is the websocket entry point. The session lives exactly
// as long as the connection: its global subscription opens here and every
// channel is torn down on return.
func (h *ChatWebsocketHandler) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	tokenActor := conn.Locals(middlewares.TokenActorID)
	actorID, ok := tokenActor.(string)
	if !ok || actorID == "" {
		logger.Log.Error("websocket connection without actor identity")
		conn.Close()
		return
	}
	logger.Log.Info("websocket connected", zap.String("actorID", actorID))

	out := &wsConn{conn: conn}
	session := NewChatSession(actorID, h.convRepo, h.msgRepo, h.bus, h.notifier)
	session.OnConversations = func(convs []domain.Conversation) {
		out.push(domain.ConversationsUpdated, map[string]interface{}{"conversations": convs})
	}
	session.OnMessages = func(msgs []domain.Message) {
		out.push(domain.MessagesUpdated, map[string]interface{}{"messages": msgs})
	}
	session.OnTyping = func(typing map[string]bool) {
		out.push(domain.TypingUpdated, map[string]interface{}{"typing": typing})
	}
	session.OnNotice = func(text string) {
		out.push(domain.Notice, map[string]interface{}{"text": text})
	}

	ticker := time.NewTicker(10 * time.Minute)
	ctxClose, cancel := context.WithCancel(context.Background())

	defer func() {
		ticker.Stop()
		logger.Log.Info("websocket close", zap.String("actorID", actorID))
		session.Close()
		conn.Close()
		cancel()
	}()

	// close/ping/pong are handled inside fiber's read loop, the handlers
	// only surface them for logging
	conn.SetCloseHandler(func(code int, text string) error {
		logger.Log.Infof("WebSocket closed:", conn.RemoteAddr())
		return nil
	})
	conn.SetPongHandler(func(appData string) error {
		logger.Log.Infof("Received PONG:", appData)
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(appData),
			time.Now().Add(time.Second),
		)
	})

	if err := session.Start(ctx); err != nil {
		logger.Log.Errorf("session start failed:", err, zap.String("actorID", actorID))
		return
	}
	// the initial directory lands via OnConversations once loaded

	// keepalive ping
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(time.Second)); err != nil {
					logger.Log.Errorf("Ping error:", err)
					return
				}
			case <-ctxClose.Done():
				return
			}
		}
	}()

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Log.Infof("Connection closed:", err)
			} else {
				logger.Log.Errorf("websocket read error:", err)
			}
			return
		}
		h.execWebsocketAction(ctx, out, session, mt, message)
	}
}

func (h *ChatWebsocketHandler) execWebsocketAction(ctx context.Context, out *wsConn, session *ChatSession, mt int, msg []byte) {
	switch mt {
	case websocket.TextMessage:
		h.textMessageAction(ctx, out, session, msg)
	default:
		h.sendError(out, "unknown action")
	}
}

func (h *ChatWebsocketHandler) textMessageAction(ctx context.Context, out *wsConn, session *ChatSession, msg []byte) {
	var req domain.WSRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		logger.Log.Errorf("json unmarshal error:", err)
		h.sendError(out, "malformed request")
		return
	}

	resp := domain.WSResponse{Action: req.Action, Success: false, Payload: map[string]interface{}{}}
	switch req.Action {
	case string(domain.ListConversations):
		resp.Success = true
		resp.Payload["conversations"] = session.Conversations()

	case string(domain.ActivateConversation):
		if err := session.Activate(ctx, req.ConversationID); err != nil {
			resp.Error = err.Error()
		} else {
			resp.Success = true
			resp.Payload["conversation_id"] = req.ConversationID
		}

	case string(domain.DeactivateConversation):
		session.Deactivate()
		resp.Success = true

	case string(domain.SendMessage):
		payload, err := domain.DecodePayload(req.Payload)
		if err != nil {
			resp.Error = err.Error()
			break
		}
		if err := session.Send(ctx, req.Content, payload); err != nil {
			resp.Error = err.Error()
		} else {
			resp.Success = true
		}

	case string(domain.SetTyping):
		if err := session.SetTyping(ctx, req.Typing); err != nil {
			resp.Error = err.Error()
		} else {
			resp.Success = true
		}

	case string(domain.StartInquiry):
		convID, err := session.StartInquiry(ctx, req.StoreID, req.OwnerID)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Success = true
			resp.Payload["conversation_id"] = convID
		}

	case string(domain.OpenContextual):
		convID, err := session.OpenContextual(ctx,
			domain.ContextType(req.ContextType), req.ContextID,
			req.Participants, req.Title, req.StoreID)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Success = true
			resp.Payload["conversation_id"] = convID
		}

	case string(domain.SetEphemeral):
		var d time.Duration
		if req.Ephemeral != "" {
			var err error
			d, err = time.ParseDuration(req.Ephemeral)
			if err != nil {
				resp.Error = "invalid ephemeral duration"
				break
			}
		}
		if err := session.SetEphemeral(ctx, req.ConversationID, d); err != nil {
			resp.Error = err.Error()
		} else {
			resp.Success = true
		}

	default:
		h.sendError(out, "unknown message type")
		return
	}

	if resp.Error != "" {
		logger.Log.Error("websocket err",
			zap.String("ActorID", session.ActorID()),
			zap.String("Action", req.Action),
			zap.String("err", resp.Error))
	}
	out.send(resp)
}

func (h *ChatWebsocketHandler) sendError(out *wsConn, errorMsg string) {
	out.send(domain.WSResponse{
		Action:  "error",
		Success: false,
		Payload: map[string]interface{}{"error": errorMsg},
	})
}
