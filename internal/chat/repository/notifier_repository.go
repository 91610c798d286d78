package repository

import (
	"context"
	"encoding/json"
	"time"

	"marketplace_chat_service/internal/chat/domain"

	"github.com/segmentio/kafka-go"
)

// Notifier fans a new-message notification out to the other participants.
// Delivery is best-effort: a notification failure never rolls back the
// message itself.
type Notifier interface {
	NotifyMessage(ctx context.Context, conv domain.Conversation, m domain.Message, recipients []string) error
}

type messageNotification struct {
	RecipientID    string    `json:"recipient_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Preview        string    `json:"preview"`
	Title          string    `json:"title,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// KafkaNotifier publishes notifications on the shared notification topic,
// keyed by recipient so one user's notifications stay ordered.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier create KafkaNotifier
func NewKafkaNotifier(writer *kafka.Writer) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

// NotifyMessage implements Notifier.
func (n *KafkaNotifier) NotifyMessage(ctx context.Context, conv domain.Conversation, m domain.Message, recipients []string) error {
	if len(recipients) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(recipients))
	for _, recipient := range recipients {
		value, err := json.Marshal(messageNotification{
			RecipientID:    recipient,
			ConversationID: conv.ID,
			SenderID:       m.SenderID,
			Preview:        domain.TruncatePreview(m.Content),
			Title:          conv.Title,
			CreatedAt:      m.CreatedAt,
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(recipient),
			Value: value,
		})
	}
	return n.writer.WriteMessages(ctx, msgs...)
}
