package services

import (
	"context"
	"errors"
	"sort"
	"strings"

	"git.solsynth.dev/hypernet/kolab/pkg/internal/database"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/models"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

type ConversationService struct {
	conversations database.ConversationRepository
	pairs         *keyedLocker
}

func NewConversationService(conversations database.ConversationRepository) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		pairs:         newKeyedLocker(),
	}
}

// DirectConversationID is the same for both orders of the pair.
func DirectConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return "dm_" + pair[0] + "_" + pair[1]
}

type CreateConversationInput struct {
	Type         models.ConversationType
	Name         string
	Description  string
	Avatar       *string
	Participants []string
}

// CreateConversation always counts the creator in, a DM needs exactly one other user.
// A pair of users shares one DM, asking for it again returns the stored conversation.
func (v *ConversationService) CreateConversation(ctx context.Context, creatorId string, in CreateConversationInput) (models.Conversation, error) {
	participants := lo.Uniq(append([]string{creatorId}, lo.Map(in.Participants, func(item string, _ int) string {
		return strings.TrimSpace(item)
	})...))
	if lo.Contains(participants, "") {
		return models.Conversation{}, NewError(KindInvalidArgument, "participant id cannot be empty")
	}

	in.Type = strings.ToUpper(strings.TrimSpace(in.Type))
	conversation := models.Conversation{
		ID:           uuid.NewString(),
		Type:         in.Type,
		Description:  in.Description,
		Avatar:       in.Avatar,
		Participants: participants,
		CreatedBy:    creatorId,
	}

	switch in.Type {
	case models.ConversationTypeDirect:
		if len(participants) != 2 {
			return conversation, NewError(KindInvalidArgument, "direct conversations need exactly two participants")
		}
		conversation.ID = DirectConversationID(participants[0], participants[1])
		return v.findOrCreateDirect(ctx, conversation)
	case models.ConversationTypeGroup:
		if len(strings.TrimSpace(in.Name)) == 0 {
			return conversation, NewError(KindInvalidArgument, "group conversations need a name")
		}
		conversation.Name = strings.TrimSpace(in.Name)
		conversation.Admins = []string{creatorId}
	default:
		return conversation, NewError(KindInvalidArgument, "unknown conversation type %q", in.Type)
	}

	if err := v.conversations.Create(ctx, &conversation); err != nil {
		return conversation, storeError(err, "conversation")
	}
	return conversation, nil
}

func (v *ConversationService) findOrCreateDirect(ctx context.Context, conversation models.Conversation) (models.Conversation, error) {
	unlock := v.pairs.Lock(conversation.ID)
	defer unlock()

	if existing, err := v.conversations.Get(ctx, conversation.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return conversation, storeError(err, "conversation")
	}

	if err := v.conversations.Create(ctx, &conversation); errors.Is(err, gorm.ErrDuplicatedKey) {
		// Another node created the pair first.
		existing, err := v.conversations.Get(ctx, conversation.ID)
		if err != nil {
			return conversation, storeError(err, "conversation")
		}
		return existing, nil
	} else if err != nil {
		return conversation, storeError(err, "conversation")
	}
	return conversation, nil
}

func (v *ConversationService) ListConversations(ctx context.Context, userId string) ([]models.Conversation, error) {
	conversations, err := v.conversations.ListByParticipant(ctx, userId)
	if err != nil {
		return nil, storeError(err, "conversations")
	}
	return conversations, nil
}

// GetConversation returns the conversation if the user takes part in it.
func (v *ConversationService) GetConversation(ctx context.Context, id, userId string) (models.Conversation, error) {
	return getConversationAsParticipant(ctx, v.conversations, id, userId)
}

func getConversationAsParticipant(ctx context.Context, repo database.ConversationRepository, id, userId string) (models.Conversation, error) {
	if len(id) == 0 {
		return models.Conversation{}, NewError(KindInvalidArgument, "conversation id is required")
	}
	conversation, err := repo.Get(ctx, id)
	if err != nil {
		return conversation, storeError(err, "conversation")
	}
	if !conversation.HasParticipant(userId) {
		return conversation, NewError(KindForbidden, "you are not a participant in this conversation")
	}
	return conversation, nil
}
