package database

import (
	"context"
	"time"

	"git.solsynth.dev/hypernet/kolab/pkg/internal/models"
	jsoniter "github.com/json-iterator/go"
	"gorm.io/gorm"
)

type ConversationStore struct {
	db *gorm.DB
}

func NewConversationStore(db *gorm.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

func (v *ConversationStore) Create(ctx context.Context, conversation *models.Conversation) error {
	return v.db.WithContext(ctx).Create(conversation).Error
}

func (v *ConversationStore) Get(ctx context.Context, id string) (models.Conversation, error) {
	var conversation models.Conversation
	if err := v.db.WithContext(ctx).
		Where("id = ?", id).
		First(&conversation).Error; err != nil {
		return conversation, err
	}
	return conversation, nil
}

func (v *ConversationStore) ListByParticipant(ctx context.Context, userId string) ([]models.Conversation, error) {
	needle, _ := jsoniter.MarshalToString([]string{userId})

	var conversations []models.Conversation
	if err := v.db.WithContext(ctx).
		Where("participants @> ?::jsonb", needle).
		Order("last_message_at DESC NULLS LAST").
		Order("created_at DESC").
		Find(&conversations).Error; err != nil {
		return conversations, err
	}
	return conversations, nil
}

func (v *ConversationStore) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	tx := v.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", id).
		Where("last_message_at IS NULL OR last_message_at < ?", at).
		Updates(map[string]any{
			"last_message_at": at,
			"updated_at":      time.Now(),
		})
	return tx.Error
}
