package database

import (
	"context"
	"time"

	"git.solsynth.dev/hypernet/kolab/pkg/internal/models"
	"gorm.io/gorm"
)

type CallStore struct {
	db *gorm.DB
}

func NewCallStore(db *gorm.DB) *CallStore {
	return &CallStore{db: db}
}

func (v *CallStore) Create(ctx context.Context, call *models.Call) error {
	call.Version = 1
	return v.db.WithContext(ctx).Create(call).Error
}

func (v *CallStore) Get(ctx context.Context, sessionId string) (models.Call, error) {
	var call models.Call
	if err := v.db.WithContext(ctx).
		Where("session_id = ?", sessionId).
		First(&call).Error; err != nil {
		return call, err
	}
	return call, nil
}

func (v *CallStore) Save(ctx context.Context, call *models.Call) error {
	now := time.Now()
	tx := v.db.WithContext(ctx).
		Model(&models.Call{}).
		Where("session_id = ? AND version = ?", call.SessionID, call.Version).
		Updates(map[string]any{
			"participants": call.Participants,
			"status":       call.Status,
			"meeting_id":   call.MeetingID,
			"connected_at": call.ConnectedAt,
			"ended_at":     call.EndedAt,
			"updated_at":   now,
			"version":      call.Version + 1,
		})
	if tx.Error != nil {
		return tx.Error
	} else if tx.RowsAffected == 0 {
		return ErrStaleRecord
	}
	call.Version++
	call.UpdatedAt = now
	return nil
}

func (v *CallStore) FindOngoing(ctx context.Context, conversationId string) (models.Call, error) {
	var call models.Call
	if err := v.db.WithContext(ctx).
		Where("conversation_id = ?", conversationId).
		Where("status IN ?", []string{models.CallStatusRinging, models.CallStatusActive}).
		Order("created_at DESC").
		First(&call).Error; err != nil {
		return call, err
	}
	return call, nil
}

func (v *CallStore) ListRingingBefore(ctx context.Context, deadline time.Time) ([]models.Call, error) {
	var calls []models.Call
	if err := v.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.CallStatusRinging, deadline).
		Find(&calls).Error; err != nil {
		return calls, err
	}
	return calls, nil
}

func NewGormStores(db *gorm.DB) Stores {
	return Stores{
		Conversations: NewConversationStore(db),
		Messages:      NewMessageStore(db),
		Calls:         NewCallStore(db),
	}
}
