package services

import (
	"context"

	"git.solsynth.dev/hypernet/kolab/pkg/internal/models"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/realtime"
	"github.com/samber/lo"
)

// SetTyping relays a typing signal to every other participant and to the conversation channel,
// never back to the typist.
func (v *MessageService) SetTyping(ctx context.Context, conversationId, userId string, isTyping bool) (int, error) {
	conversation, err := getConversationAsParticipant(ctx, v.conversations, conversationId, userId)
	if err != nil {
		return 0, err
	}

	action := lo.Ternary(isTyping, models.EventUserTyping, models.EventUserStoppedTyping)
	channels := lo.Map(conversation.Others(userId), func(item string, _ int) string {
		return realtime.UserChannel(item)
	})
	channels = append(channels, realtime.ConversationChannel(conversationId))
	delivered := v.publisher.Broadcast(channels, userId, models.NewEvent(
		action,
		models.TypingPayload{UserID: userId, ConversationID: conversationId},
	))
	return delivered, nil
}
