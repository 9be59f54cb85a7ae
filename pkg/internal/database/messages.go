package database

import (
	"context"
	"errors"
	"time"

	"git.solsynth.dev/hypernet/kolab/pkg/internal/models"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

type MessageStore struct {
	db *gorm.DB
}

func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{db: db}
}

func (v *MessageStore) Append(ctx context.Context, message *models.Message) error {
	return v.db.WithContext(ctx).Create(message).Error
}

func (v *MessageStore) Latest(ctx context.Context, conversationId string) (*models.Message, error) {
	var message models.Message
	if err := v.db.WithContext(ctx).
		Where("conversation_id = ?", conversationId).
		Order("timestamp DESC").
		Order("seq DESC").
		First(&message).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &message, nil
}

func (v *MessageStore) List(ctx context.Context, conversationId string, before *time.Time, take int) ([]models.Message, error) {
	tx := v.db.WithContext(ctx).Where("conversation_id = ?", conversationId)
	if before != nil {
		tx = tx.Where("timestamp < ?", *before)
	}

	var messages []models.Message
	if err := tx.
		Order("timestamp DESC").
		Order("seq DESC").
		Limit(take).
		Find(&messages).Error; err != nil {
		return messages, err
	}
	return lo.Reverse(messages), nil
}

func (v *MessageStore) Get(ctx context.Context, conversationId, messageId string) (models.Message, error) {
	var message models.Message
	if err := v.db.WithContext(ctx).
		Where("conversation_id = ? AND message_id = ?", conversationId, messageId).
		First(&message).Error; err != nil {
		return message, err
	}
	return message, nil
}

func (v *MessageStore) SoftDelete(ctx context.Context, conversationId, messageId string) error {
	tx := v.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ? AND message_id = ?", conversationId, messageId).
		Update("deleted", true)
	if tx.Error != nil {
		return tx.Error
	} else if tx.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (v *MessageStore) MarkRead(ctx context.Context, conversationId, messageId, userId string) error {
	tx := v.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ? AND message_id = ?", conversationId, messageId).
		Update("read_by", gorm.Expr(
			"CASE WHEN read_by @> to_jsonb(ARRAY[?::text]) THEN read_by ELSE COALESCE(read_by, '[]'::jsonb) || to_jsonb(ARRAY[?::text]) END",
			userId, userId,
		))
	if tx.Error != nil {
		return tx.Error
	} else if tx.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
