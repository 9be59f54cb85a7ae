package services

import (
	"context"

	"github.com/rs/zerolog/log"
)

type readReceipt struct {
	conversationId string
	messageId      string
	userId         string
}

// MarkRead queues a read receipt, receipts are written in batches by FlushReadReceipts.
func (v *MessageService) MarkRead(ctx context.Context, conversationId, messageId, userId string) error {
	if _, err := getConversationAsParticipant(ctx, v.conversations, conversationId, userId); err != nil {
		return err
	}
	if len(messageId) == 0 {
		return NewError(KindInvalidArgument, "message id is required")
	}
	if _, err := v.messages.Get(ctx, conversationId, messageId); err != nil {
		return storeError(err, "message")
	}

	v.readMu.Lock()
	v.readQueue[readReceipt{conversationId, messageId, userId}] = struct{}{}
	v.readMu.Unlock()
	return nil
}

func (v *MessageService) FlushReadReceipts(ctx context.Context) int {
	v.readMu.Lock()
	queue := v.readQueue
	v.readQueue = make(map[readReceipt]struct{})
	v.readMu.Unlock()

	if len(queue) == 0 {
		return 0
	}

	var count int
	for receipt := range queue {
		if err := v.messages.MarkRead(ctx, receipt.conversationId, receipt.messageId, receipt.userId); err != nil {
			log.Error().Err(err).Str("message", receipt.messageId).Msg("An error occurred when flushing read receipt...")
			continue
		}
		count++
	}
	log.Debug().Int("count", count).Msg("Flushed read receipts.")
	return count
}
