package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"git.solsynth.dev/hypernet/kolab/pkg/internal/cache"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/database"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/models"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/realtime"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessageFansOutToEveryParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conversation := f.group(t, "alice", "bob", "carol")

	phone := f.hub.Register("alice")
	laptop := f.hub.Register("alice")
	bob := f.hub.Register("bob")
	outsider := f.hub.Register("mallory")

	message, err := f.messages.SendMessage(ctx, "alice", SendMessageInput{
		ConversationID: conversation.ID,
		Content:        "  see you at the library  ",
		ClientTempID:   lo.ToPtr("tmp-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "see you at the library", message.Content)
	assert.Equal(t, models.MessageTypeText, message.Type)
	assert.Equal(t, int64(1), message.Seq)
	assert.EqualValues(t, []string{"alice"}, message.ReadBy)

	for _, c := range []struct {
		name   string
		events []received
	}{
		{"phone", recv(phone)},
		{"laptop", recv(laptop)},
		{"bob", recv(bob)},
	} {
		require.Len(t, c.events, 1, c.name)
		assert.Equal(t, models.EventMessageSent, c.events[0].Action)

		var payload models.MessageSentPayload
		c.events[0].decode(t, &payload)
		assert.Equal(t, message.MessageID, payload.Message.MessageID)
		require.NotNil(t, payload.ClientTempID)
		assert.Equal(t, "tmp-1", *payload.ClientTempID)
	}
	assert.Empty(t, recv(outsider))

	stored, err := f.conversations.GetConversation(ctx, conversation.ID, "bob")
	require.NoError(t, err)
	require.NotNil(t, stored.LastMessageAt)
	assert.True(t, stored.LastMessageAt.Equal(message.Timestamp))
}

func TestSendMessageTimestampsStrictlyIncrease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conversation := f.group(t, "alice", "bob")

	frozen := time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)
	f.messages.now = func() time.Time { return frozen }

	var sent []models.Message
	for i := 0; i < 5; i++ {
		message, err := f.messages.SendMessage(ctx, "alice", SendMessageInput{
			ConversationID: conversation.ID,
			Content:        fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
		sent = append(sent, message)
	}

	for i := 1; i < len(sent); i++ {
		assert.True(t, sent[i].Timestamp.After(sent[i-1].Timestamp))
		assert.Equal(t, sent[i-1].Seq+1, sent[i].Seq)
	}

	listed, err := f.messages.GetMessages(ctx, conversation.ID, "bob", nil, 0)
	require.NoError(t, err)
	assert.Equal(t,
		lo.Map(sent, func(item models.Message, _ int) string { return item.MessageID }),
		lo.Map(listed, func(item models.Message, _ int) string { return item.MessageID }),
	)
}

func TestSendMessageConcurrentDeliveryOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conversation := f.group(t, "alice", "bob")
	watcher := f.hub.Register("bob")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.messages.SendMessage(ctx, lo.Ternary(i%2 == 0, "alice", "bob"), SendMessageInput{
				ConversationID: conversation.ID,
				Content:        fmt.Sprintf("message %d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	listed, err := f.messages.GetMessages(ctx, conversation.ID, "alice", nil, 100)
	require.NoError(t, err)
	require.Len(t, listed, 20)
	for i := 1; i < len(listed); i++ {
		assert.True(t, listed[i].Timestamp.After(listed[i-1].Timestamp))
	}

	var delivered []string
	for _, event := range recv(watcher) {
		var payload models.MessageSentPayload
		event.decode(t, &payload)
		delivered = append(delivered, payload.Message.MessageID)
	}
	assert.Equal(t, lo.Map(listed, func(item models.Message, _ int) string { return item.MessageID }), delivered)
}

func TestSendMessageRejectsBadRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conversation := f.group(t, "alice", "bob")

	_, err := f.messages.SendMessage(ctx, "alice", SendMessageInput{ConversationID: "missing", Content: "hi"})
	requireKind(t, err, KindNotFound)

	_, err = f.messages.SendMessage(ctx, "mallory", SendMessageInput{ConversationID: conversation.ID, Content: "hi"})
	requireKind(t, err, KindForbidden)

	_, err = f.messages.SendMessage(ctx, "alice", SendMessageInput{ConversationID: "", Content: "hi"})
	requireKind(t, err, KindInvalidArgument)

	_, err = f.messages.SendMessage(ctx, "alice", SendMessageInput{ConversationID: conversation.ID, Content: "   "})
	requireKind(t, err, KindInvalidArgument)

	_, err = f.messages.SendMessage(ctx, "alice", SendMessageInput{ConversationID: conversation.ID, Type: "STICKER", Content: "x"})
	requireKind(t, err, KindInvalidArgument)

	_, err = f.messages.SendMessage(ctx, "alice", SendMessageInput{ConversationID: conversation.ID, Type: models.MessageTypeImage})
	requireKind(t, err, KindInvalidArgument)

	message, err := f.messages.SendMessage(ctx, "alice", SendMessageInput{
		ConversationID: conversation.ID,
		Type:           "image",
		MediaURL:       lo.ToPtr("https://files.test/cat.png"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.MessageTypeImage, message.Type)
}

func TestSendMessageResendIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conversation := f.group(t, "alice", "bob")
	bob := f.hub.Register("bob")

	in := SendMessageInput{ConversationID: conversation.ID, Content: "hello", ClientTempID: lo.ToPtr("tmp-9")}
	first, err := f.messages.SendMessage(ctx, "alice", in)
	require.NoError(t, err)
	second, err := f.messages.SendMessage(ctx, "alice", in)
	require.NoError(t, err)
	assert.Equal(t, first.MessageID, second.MessageID)

	listed, err := f.messages.GetMessages(ctx, conversation.ID, "alice", nil, 0)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
	assert.Len(t, recv(bob), 2)

	// The same temp id from another sender is a different message.
	third, err := f.messages.SendMessage(ctx, "bob", SendMessageInput{ConversationID: conversation.ID, Content: "hello", ClientTempID: lo.ToPtr("tmp-9")})
	require.NoError(t, err)
	assert.NotEqual(t, first.MessageID, third.MessageID)
}

func TestTypingSkipsTheTypist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conversation := f.group(t, "alice", "bob", "carol")
	alice := f.hub.Register("alice")
	bob := f.hub.Register("bob")
	carol := f.hub.Register("carol")
	room := f.hub.Register("bob")
	require.True(t, f.hub.Join(alice, realtime.ConversationChannel(conversation.ID)))
	require.True(t, f.hub.Join(bob, realtime.ConversationChannel(conversation.ID)))
	require.True(t, f.hub.Join(room, realtime.ConversationChannel(conversation.ID)))

	delivered, err := f.messages.SetTyping(ctx, conversation.ID, "alice", true)
	require.NoError(t, err)
	assert.Equal(t, 3, delivered)

	_, err = f.messages.SetTyping(ctx, conversation.ID, "alice", false)
	require.NoError(t, err)

	assert.Empty(t, recv(alice))
	assert.Equal(t, []string{models.EventUserTyping, models.EventUserStoppedTyping}, actionsOf(recv(bob)))
	assert.Equal(t, []string{models.EventUserTyping, models.EventUserStoppedTyping}, actionsOf(recv(room)))
	events := recv(carol)
	require.Len(t, events, 2)
	var payload models.TypingPayload
	events[0].decode(t, &payload)
	assert.Equal(t, models.TypingPayload{UserID: "alice", ConversationID: conversation.ID}, payload)

	_, err = f.messages.SetTyping(ctx, conversation.ID, "mallory", true)
	requireKind(t, err, KindForbidden)
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conversation := f.group(t, "alice", "bob")
	bob := f.hub.Register("bob")

	message, err := f.messages.SendMessage(ctx, "alice", SendMessageInput{ConversationID: conversation.ID, Content: "oops"})
	require.NoError(t, err)
	recv(bob)

	requireKind(t, f.messages.DeleteMessage(ctx, conversation.ID, message.MessageID, "bob"), KindForbidden)
	requireKind(t, f.messages.DeleteMessage(ctx, conversation.ID, "missing", "alice"), KindNotFound)

	require.NoError(t, f.messages.DeleteMessage(ctx, conversation.ID, message.MessageID, "alice"))
	require.NoError(t, f.messages.DeleteMessage(ctx, conversation.ID, message.MessageID, "alice"))
	assert.Equal(t, []string{models.EventMessageDeleted}, actionsOf(recv(bob)))

	listed, err := f.messages.GetMessages(ctx, conversation.ID, "bob", nil, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.True(t, listed[0].Deleted)
	assert.Empty(t, listed[0].Content)
}

func TestGetMessagesPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conversation := f.group(t, "alice", "bob")

	var sent []models.Message
	for i := 0; i < 3; i++ {
		message, err := f.messages.SendMessage(ctx, "alice", SendMessageInput{ConversationID: conversation.ID, Content: fmt.Sprint(i)})
		require.NoError(t, err)
		sent = append(sent, message)
	}

	latest, err := f.messages.GetMessages(ctx, conversation.ID, "bob", nil, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, sent[1].MessageID, latest[0].MessageID)
	assert.Equal(t, sent[2].MessageID, latest[1].MessageID)

	older, err := f.messages.GetMessages(ctx, conversation.ID, "bob", &latest[0].Timestamp, 2)
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, sent[0].MessageID, older[0].MessageID)

	_, err = f.messages.GetMessages(ctx, conversation.ID, "mallory", nil, 2)
	requireKind(t, err, KindForbidden)
}

func TestReadReceiptsAreFlushedInBatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conversation := f.group(t, "alice", "bob")

	message, err := f.messages.SendMessage(ctx, "alice", SendMessageInput{ConversationID: conversation.ID, Content: "read me"})
	require.NoError(t, err)

	require.NoError(t, f.messages.MarkRead(ctx, conversation.ID, message.MessageID, "bob"))
	require.NoError(t, f.messages.MarkRead(ctx, conversation.ID, message.MessageID, "bob"))
	requireKind(t, f.messages.MarkRead(ctx, conversation.ID, "missing", "bob"), KindNotFound)

	assert.Equal(t, 1, f.messages.FlushReadReceipts(ctx))
	assert.Equal(t, 0, f.messages.FlushReadReceipts(ctx))

	stored, err := f.stores.Messages.Get(ctx, conversation.ID, message.MessageID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, stored.ReadBy)
}

type brokenMessageStore struct {
	database.MessageRepository
}

func (brokenMessageStore) Append(context.Context, *models.Message) error {
	return errors.New("disk full")
}

func TestSendMessageStoreFailureReturnsNoMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conversation := f.group(t, "alice", "bob")
	bob := f.hub.Register("bob")

	messages := NewMessageService(
		f.stores.Conversations,
		brokenMessageStore{f.stores.Messages},
		f.hub,
		cache.NewMemoryLedger(),
		time.Minute,
	)
	message, err := messages.SendMessage(ctx, "alice", SendMessageInput{ConversationID: conversation.ID, Content: "hi"})
	requireKind(t, err, KindDependencyFailure)
	assert.Zero(t, message)
	assert.Empty(t, recv(bob))

	stored, err := f.messages.GetMessages(ctx, conversation.ID, "alice", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, stored)
}
