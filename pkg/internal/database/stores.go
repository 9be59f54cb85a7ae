package database

import (
	"context"
	"errors"
	"time"

	"git.solsynth.dev/hypernet/kolab/pkg/internal/models"
)

// ErrStaleRecord is returned by conditional writes when the stored version moved on.
var ErrStaleRecord = errors.New("record was modified concurrently")

// Missing records are reported as gorm.ErrRecordNotFound and key collisions as
// gorm.ErrDuplicatedKey by every implementation.

type ConversationRepository interface {
	Create(ctx context.Context, conversation *models.Conversation) error
	Get(ctx context.Context, id string) (models.Conversation, error)
	ListByParticipant(ctx context.Context, userId string) ([]models.Conversation, error)
	// TouchLastMessage only moves the last message timestamp forward.
	TouchLastMessage(ctx context.Context, id string, at time.Time) error
}

type MessageRepository interface {
	Append(ctx context.Context, message *models.Message) error
	// Latest returns nil when the conversation has no message yet.
	Latest(ctx context.Context, conversationId string) (*models.Message, error)
	// List returns messages in append order, the newest `take` ones before the cursor.
	List(ctx context.Context, conversationId string, before *time.Time, take int) ([]models.Message, error)
	Get(ctx context.Context, conversationId, messageId string) (models.Message, error)
	SoftDelete(ctx context.Context, conversationId, messageId string) error
	// MarkRead adds the reader to the message read list, repeated reads are no-ops.
	MarkRead(ctx context.Context, conversationId, messageId, userId string) error
}

type CallRepository interface {
	Create(ctx context.Context, call *models.Call) error
	Get(ctx context.Context, sessionId string) (models.Call, error)
	// Save writes the call only if the stored version still equals call.Version,
	// and bumps the version on success.
	Save(ctx context.Context, call *models.Call) error
	FindOngoing(ctx context.Context, conversationId string) (models.Call, error)
	ListRingingBefore(ctx context.Context, deadline time.Time) ([]models.Call, error)
}

type Stores struct {
	Conversations ConversationRepository
	Messages      MessageRepository
	Calls         CallRepository
}
