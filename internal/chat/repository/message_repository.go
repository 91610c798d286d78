package repository

import (
	"context"
	"time"

	"marketplace_chat_service/internal/chat/domain"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageRepository is the message side of the persistence gateway. Insert
// assigns the authoritative identifier; the provisional client id never
// reaches storage.
type MessageRepository interface {
	FindByConversation(ctx context.Context, convID string) ([]domain.Message, error)
	Insert(ctx context.Context, m domain.Message) (*domain.Message, error)
	MarkReadBatch(ctx context.Context, ids []string) error
	CountUnread(ctx context.Context, actorID string, convIDs []string) (map[string]int, error)
}

type messageDoc struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	SenderID       string    `bson:"sender_id"`
	Content        string    `bson:"content"`
	Payload        []byte    `bson:"payload,omitempty"`
	CreatedAt      time.Time `bson:"created_at"`
	IsRead         bool      `bson:"is_read"`
}

type mongoMessageRepository struct {
	coll *mongo.Collection
}

// NewMongoMessageRepository create a MessageRepository on the chat_messages collection
func NewMongoMessageRepository(db *mongo.Database) MessageRepository {
	return &mongoMessageRepository{
		coll: db.Collection("chat_messages"),
	}
}

// FindByConversation returns the full message set ordered by creation time,
// ties by id, so every client derives the same sequence.
func (r *mongoMessageRepository) FindByConversation(ctx context.Context, convID string) ([]domain.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.M{"conversation_id": convID}, opts)
	if err != nil {
		return nil, err
	}

	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	msgs := make([]domain.Message, 0, len(docs))
	for _, d := range docs {
		m, err := docToMessage(d)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Insert stores the record under a fresh server-assigned id and stamp and
// returns the authoritative message.
func (r *mongoMessageRepository) Insert(ctx context.Context, m domain.Message) (*domain.Message, error) {
	payload, err := domain.EncodePayload(m.Payload)
	if err != nil {
		return nil, err
	}

	doc := messageDoc{
		ID:             uuid.New().String(),
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Payload:        payload,
		CreatedAt:      time.Now().UTC(),
		IsRead:         false,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return nil, err
	}

	stored, err := docToMessage(doc)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// MarkReadBatch flips the read flag on every id in one batched update.
func (r *mongoMessageRepository) MarkReadBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"is_read": true}},
	)
	return err
}

// CountUnread aggregates, per conversation, the messages not yet read that
// were authored by someone other than actorID.
func (r *mongoMessageRepository) CountUnread(ctx context.Context, actorID string, convIDs []string) (map[string]int, error) {
	if len(convIDs) == 0 {
		return map[string]int{}, nil
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"conversation_id": bson.M{"$in": convIDs},
			"is_read":         false,
			"sender_id":       bson.M{"$ne": actorID},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":          "$conversation_id",
			"unread_count": bson.M{"$sum": 1},
		}}},
	}

	cur, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}

	var results []struct {
		ConversationID string `bson:"_id"`
		UnreadCount    int    `bson:"unread_count"`
	}
	if err := cur.All(ctx, &results); err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(results))
	for _, res := range results {
		counts[res.ConversationID] = res.UnreadCount
	}
	return counts, nil
}

func docToMessage(d messageDoc) (domain.Message, error) {
	payload, err := domain.DecodePayload(d.Payload)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Content:        d.Content,
		Payload:        payload,
		CreatedAt:      d.CreatedAt,
		IsRead:         d.IsRead,
		Status:         domain.StatusSent,
	}, nil
}
