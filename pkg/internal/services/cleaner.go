package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DoRingExpiry is the cron entry cancelling unanswered calls.
func DoRingExpiry(calls *CallService) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		log.Debug().Msg("Now expiring unanswered calls...")
		count, err := calls.ExpireRingingCalls(ctx)
		if err != nil {
			log.Error().Err(err).Msg("An error occurred when expiring ringing calls...")
			return
		}
		log.Debug().Int("affected", count).Msg("Expire unanswered calls accomplished.")
	}
}

// DoFlushReadReceipts is the cron entry writing queued read receipts.
func DoFlushReadReceipts(messages *MessageService) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		messages.FlushReadReceipts(ctx)
	}
}
