package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"git.solsynth.dev/hypernet/kolab/pkg/internal/cache"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/database"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/metrics"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/models"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/realtime"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

const (
	defaultMessageTake = 50
	maxMessageTake     = 100
	maxAppendAttempts  = 3
)

type MessageService struct {
	conversations database.ConversationRepository
	messages      database.MessageRepository
	publisher     Publisher
	ledger        cache.Ledger
	sendTTL       time.Duration

	locks *keyedLocker
	now   func() time.Time

	readMu    sync.Mutex
	readQueue map[readReceipt]struct{}
}

func NewMessageService(
	conversations database.ConversationRepository,
	messages database.MessageRepository,
	publisher Publisher,
	ledger cache.Ledger,
	sendTTL time.Duration,
) *MessageService {
	if sendTTL <= 0 {
		sendTTL = 10 * time.Minute
	}
	return &MessageService{
		conversations: conversations,
		messages:      messages,
		publisher:     publisher,
		ledger:        ledger,
		sendTTL:       sendTTL,
		locks:         newKeyedLocker(),
		now:           time.Now,
		readQueue:     make(map[readReceipt]struct{}),
	}
}

type SendMessageInput struct {
	ConversationID string
	Type           models.MessageType
	Content        string
	MediaURL       *string
	FileName       *string
	FileSize       *int64
	Duration       *float64
	ReplyTo        *string
	ClientTempID   *string
}

// SendMessage appends the message and fans it out to every participant, the sender included.
//
// Appends of one conversation are serialised here, so timestamps and sequence numbers grow
// with append order and the fan-out leaves in the same order.
func (v *MessageService) SendMessage(ctx context.Context, senderId string, in SendMessageInput) (models.Message, error) {
	conversation, err := getConversationAsParticipant(ctx, v.conversations, in.ConversationID, senderId)
	if err != nil {
		return models.Message{}, err
	}

	if len(in.Type) == 0 {
		in.Type = models.MessageTypeText
	}
	in.Type = strings.ToUpper(in.Type)
	if !lo.Contains(models.MessageTypes, in.Type) {
		return models.Message{}, NewError(KindInvalidArgument, "unknown message type %q", in.Type)
	}
	if in.Type == models.MessageTypeText {
		in.Content = strings.TrimSpace(in.Content)
		if len(in.Content) == 0 {
			return models.Message{}, NewError(KindInvalidArgument, "empty message was not allowed")
		}
	} else if len(strings.TrimSpace(in.Content)) == 0 && (in.MediaURL == nil || len(*in.MediaURL) == 0) {
		return models.Message{}, NewError(KindInvalidArgument, "%s message needs a media reference", strings.ToLower(in.Type))
	}
	if in.ClientTempID != nil && len(*in.ClientTempID) == 0 {
		in.ClientTempID = nil
	}

	unlock := v.locks.Lock(conversation.ID)
	defer unlock()

	if message, ok := v.lookupResend(ctx, senderId, in); ok {
		log.Debug().Str("message", message.MessageID).Msg("Resend recognised, echoing stored message.")
		v.publishSent(conversation, message, in.ClientTempID)
		return message, nil
	}

	message, err := v.appendMessage(ctx, senderId, in)
	if err != nil {
		return models.Message{}, err
	}
	metrics.MessagesSent.WithLabelValues(message.Type).Inc()

	if err := v.conversations.TouchLastMessage(ctx, conversation.ID, message.Timestamp); err != nil {
		log.Warn().Err(err).Str("conversation", conversation.ID).Msg("Unable to update last message timestamp.")
	}
	if in.ClientTempID != nil {
		if err := v.ledger.Remember(ctx, resendKey(senderId, *in.ClientTempID), message.MessageID, v.sendTTL); err != nil {
			log.Warn().Err(err).Msg("Unable to remember client temp id, a resend may duplicate.")
		}
	}

	v.publishSent(conversation, message, in.ClientTempID)
	return message, nil
}

func resendKey(senderId, clientTempId string) string {
	return "send:" + senderId + ":" + clientTempId
}

func (v *MessageService) lookupResend(ctx context.Context, senderId string, in SendMessageInput) (models.Message, bool) {
	if in.ClientTempID == nil {
		return models.Message{}, false
	}
	messageId, ok, err := v.ledger.Lookup(ctx, resendKey(senderId, *in.ClientTempID))
	if err != nil {
		log.Warn().Err(err).Msg("Unable to look up client temp id, treating as a new message.")
		return models.Message{}, false
	} else if !ok {
		return models.Message{}, false
	}
	message, err := v.messages.Get(ctx, in.ConversationID, messageId)
	if err != nil {
		return models.Message{}, false
	}
	return message, true
}

func (v *MessageService) nextTimestamp(latest *models.Message) time.Time {
	ts := v.now().UTC().Truncate(time.Microsecond)
	if latest != nil && !ts.After(latest.Timestamp) {
		ts = latest.Timestamp.Add(time.Microsecond)
	}
	return ts
}

func (v *MessageService) appendMessage(ctx context.Context, senderId string, in SendMessageInput) (models.Message, error) {
	var message models.Message
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		latest, err := v.messages.Latest(ctx, in.ConversationID)
		if err != nil {
			return models.Message{}, dependencyError(err, "unable to read conversation history")
		}

		message = models.Message{
			ConversationID: in.ConversationID,
			Timestamp:      v.nextTimestamp(latest),
			Seq:            1,
			MessageID:      uuid.NewString(),
			SenderID:       senderId,
			Type:           in.Type,
			Content:        in.Content,
			MediaURL:       in.MediaURL,
			FileName:       in.FileName,
			FileSize:       in.FileSize,
			Duration:       in.Duration,
			ReplyTo:        in.ReplyTo,
			ReadBy:         []string{senderId},
		}
		if latest != nil {
			message.Seq = latest.Seq + 1
		}
		message.CreatedAt = message.Timestamp

		err = v.messages.Append(ctx, &message)
		if err == nil {
			return message, nil
		} else if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.Message{}, dependencyError(err, "unable to store message")
		}
		// Another writer took the slot, read the new tail and try again.
	}
	return models.Message{}, NewError(KindConflict, "conversation is too busy, try again")
}

func (v *MessageService) publishSent(conversation models.Conversation, message models.Message, clientTempId *string) {
	v.publisher.PublishToUsers(conversation.Participants, realtime.PrefixUser, models.NewEvent(
		models.EventMessageSent,
		models.MessageSentPayload{Message: message, ClientTempID: clientTempId},
	))
}

// GetMessages returns up to take messages before the cursor in append order.
func (v *MessageService) GetMessages(ctx context.Context, conversationId, userId string, before *time.Time, take int) ([]models.Message, error) {
	if _, err := getConversationAsParticipant(ctx, v.conversations, conversationId, userId); err != nil {
		return nil, err
	}

	if take <= 0 {
		take = defaultMessageTake
	} else if take > maxMessageTake {
		take = maxMessageTake
	}

	messages, err := v.messages.List(ctx, conversationId, before, take)
	if err != nil {
		return nil, dependencyError(err, "unable to read messages")
	}
	return lo.Map(messages, func(item models.Message, _ int) models.Message {
		if item.Deleted {
			item.Content = ""
			item.MediaURL = nil
			item.FileName = nil
		}
		return item
	}), nil
}

// DeleteMessage soft deletes a message, only its sender may do so.
func (v *MessageService) DeleteMessage(ctx context.Context, conversationId, messageId, userId string) error {
	conversation, err := getConversationAsParticipant(ctx, v.conversations, conversationId, userId)
	if err != nil {
		return err
	}

	message, err := v.messages.Get(ctx, conversationId, messageId)
	if err != nil {
		return storeError(err, "message")
	} else if message.SenderID != userId {
		return NewError(KindForbidden, "only the sender can delete this message")
	} else if message.Deleted {
		return nil
	}

	if err := v.messages.SoftDelete(ctx, conversationId, messageId); err != nil {
		return storeError(err, "message")
	}

	v.publisher.PublishToUsers(conversation.Participants, realtime.PrefixUser, models.NewEvent(
		models.EventMessageDeleted,
		models.MessageDeletedPayload{ConversationID: conversationId, MessageID: messageId},
	))
	return nil
}
