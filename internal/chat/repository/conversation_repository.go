package repository

import (
	"context"
	"time"

	"marketplace_chat_service/internal/chat/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationRepository is the conversation side of the persistence gateway.
// FindOrCreate is idempotent per dedup key: two concurrent initiations of the
// same logical conversation resolve to one row.
type ConversationRepository interface {
	IDsByParticipant(ctx context.Context, actorID string) ([]string, error)
	IDsByCreator(ctx context.Context, actorID string) ([]string, error)
	FindByIDs(ctx context.Context, ids []string) ([]domain.Conversation, error)
	FindOrCreate(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error)
	Touch(ctx context.Context, convID, preview string, at time.Time) error
	SetEphemeral(ctx context.Context, convID string, d time.Duration) error
}

type conversationRow struct {
	ID                 string `gorm:"primaryKey;type:varchar(36)"`
	Kind               string `gorm:"type:varchar(16);index"`
	ContextType        string `gorm:"type:varchar(16)"`
	ContextID          string `gorm:"type:varchar(64)"`
	Title              string
	StoreID            string `gorm:"type:varchar(36);index"`
	CreatorID          string `gorm:"type:varchar(36);index"`
	DedupKey           string `gorm:"type:varchar(160);uniqueIndex"`
	LastMessagePreview string
	EphemeralSeconds   int64
	CreatedAt          time.Time
	UpdatedAt          time.Time `gorm:"index"`
}

func (conversationRow) TableName() string { return "conversations" }

type participantRow struct {
	ConversationID string `gorm:"primaryKey;type:varchar(36)"`
	ActorID        string `gorm:"primaryKey;type:varchar(36);index"`
	JoinedAt       time.Time
}

func (participantRow) TableName() string { return "conversation_participants" }

type pgConversationRepository struct {
	db *gorm.DB
}

// NewPgConversationRepository creates the gorm-backed conversation repository
// and migrates its tables.
func NewPgConversationRepository(db *gorm.DB) (ConversationRepository, error) {
	if err := db.AutoMigrate(&conversationRow{}, &participantRow{}); err != nil {
		return nil, err
	}
	return &pgConversationRepository{db: db}, nil
}

func (r *pgConversationRepository) IDsByParticipant(ctx context.Context, actorID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&participantRow{}).
		Where("actor_id = ?", actorID).
		Pluck("conversation_id", &ids).Error
	return ids, err
}

func (r *pgConversationRepository) IDsByCreator(ctx context.Context, actorID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&conversationRow{}).
		Where("creator_id = ?", actorID).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *pgConversationRepository) FindByIDs(ctx context.Context, ids []string) ([]domain.Conversation, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var rows []conversationRow
	if err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("updated_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	participants, err := r.participantsByConversation(ctx, ids)
	if err != nil {
		return nil, err
	}

	convs := make([]domain.Conversation, 0, len(rows))
	for _, row := range rows {
		convs = append(convs, rowToConversation(row, participants[row.ID]))
	}
	return convs, nil
}

// FindOrCreate inserts with ON CONFLICT DO NOTHING on the dedup key and then
// reads back whichever row won, so a concurrent double initiation converges
// on a single conversation.
func (r *pgConversationRepository) FindOrCreate(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error) {
	row := conversationToRow(conv)

	var winner conversationRow
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedup_key"}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return res.Error
		}

		if err := tx.Where("dedup_key = ?", row.DedupKey).First(&winner).Error; err != nil {
			return err
		}

		if res.RowsAffected > 0 {
			parts := make([]participantRow, 0, len(conv.Participants))
			for _, p := range conv.Participants {
				parts = append(parts, participantRow{
					ConversationID: winner.ID,
					ActorID:        p,
					JoinedAt:       time.Now(),
				})
			}
			if len(parts) > 0 {
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&parts).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	participants, err := r.participantsByConversation(ctx, []string{winner.ID})
	if err != nil {
		return nil, err
	}
	got := rowToConversation(winner, participants[winner.ID])
	return &got, nil
}

func (r *pgConversationRepository) Touch(ctx context.Context, convID, preview string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&conversationRow{}).
		Where("id = ?", convID).
		Updates(map[string]interface{}{
			"last_message_preview": domain.TruncatePreview(preview),
			"updated_at":           at,
		}).Error
}

func (r *pgConversationRepository) SetEphemeral(ctx context.Context, convID string, d time.Duration) error {
	return r.db.WithContext(ctx).
		Model(&conversationRow{}).
		Where("id = ?", convID).
		Update("ephemeral_seconds", int64(d.Seconds())).Error
}

func (r *pgConversationRepository) participantsByConversation(ctx context.Context, ids []string) (map[string][]string, error) {
	var rows []participantRow
	if err := r.db.WithContext(ctx).
		Where("conversation_id IN ?", ids).
		Order("joined_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	grouped := make(map[string][]string, len(ids))
	for _, p := range rows {
		grouped[p.ConversationID] = append(grouped[p.ConversationID], p.ActorID)
	}
	return grouped, nil
}

func conversationToRow(c *domain.Conversation) conversationRow {
	return conversationRow{
		ID:                 c.ID,
		Kind:               string(c.Kind),
		ContextType:        string(c.ContextType),
		ContextID:          c.ContextID,
		Title:              c.Title,
		StoreID:            c.StoreID,
		CreatorID:          c.CreatorID,
		DedupKey:           c.DedupKey(),
		LastMessagePreview: c.LastMessagePreview,
		EphemeralSeconds:   int64(c.EphemeralDuration.Seconds()),
		UpdatedAt:          c.UpdatedAt,
	}
}

func rowToConversation(row conversationRow, participants []string) domain.Conversation {
	return domain.Conversation{
		ID:                 row.ID,
		Kind:               domain.ConversationKind(row.Kind),
		ContextType:        domain.ContextType(row.ContextType),
		ContextID:          row.ContextID,
		Title:              row.Title,
		StoreID:            row.StoreID,
		CreatorID:          row.CreatorID,
		UpdatedAt:          row.UpdatedAt,
		LastMessagePreview: row.LastMessagePreview,
		EphemeralDuration:  time.Duration(row.EphemeralSeconds) * time.Second,
		Participants:       participants,
	}
}
