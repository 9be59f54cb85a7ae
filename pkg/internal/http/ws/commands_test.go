package ws

import (
	"context"
	"testing"
	"time"

	"git.solsynth.dev/hypernet/kolab/pkg/internal/cache"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/database"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/models"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/realtime"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/services"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopProvider struct{}

func (nopProvider) CreateMeeting(_ context.Context, sessionId string) (models.Meeting, error) {
	return models.Meeting{MeetingID: "m-" + sessionId, RoomName: sessionId}, nil
}

func (nopProvider) CreateAttendee(_ context.Context, _ models.Meeting, account models.Account, _ bool) (models.Attendee, error) {
	return models.Attendee{AttendeeID: account.ID + "#1", UserID: account.ID, JoinToken: "token-" + account.ID}, nil
}

func (nopProvider) DeleteMeeting(context.Context, models.Meeting) error {
	return nil
}

type packet struct {
	Action    string              `json:"action"`
	Kind      string              `json:"kind"`
	Message   string              `json:"message"`
	Retryable bool                `json:"retryable"`
	Payload   jsoniter.RawMessage `json:"payload"`
}

func outbox(c *realtime.Conn) []packet {
	var out []packet
	for {
		select {
		case raw := <-c.Outbox():
			var item packet
			_ = jsoniter.Unmarshal(raw, &item)
			out = append(out, item)
		default:
			return out
		}
	}
}

func newTestGateway(t *testing.T) (*Gateway, models.Conversation) {
	t.Helper()
	hub := realtime.NewHub(64)
	stores := database.NewMemoryStores()
	conversations := services.NewConversationService(stores.Conversations)
	messages := services.NewMessageService(stores.Conversations, stores.Messages, hub, cache.NewMemoryLedger(), time.Minute)
	calls := services.NewCallService(stores.Calls, stores.Conversations, nopProvider{}, hub, services.CallOptions{})

	conversation, err := conversations.CreateConversation(context.Background(), "alice", services.CreateConversationInput{
		Type:         models.ConversationTypeGroup,
		Name:         "lab partners",
		Participants: []string{"bob"},
	})
	require.NoError(t, err)

	gateway := NewGateway(hub, services.NewAuthenticator("secret", ""), conversations, messages, calls, time.Second)
	return gateway, conversation
}

func TestDispatchRejectsMalformedCommands(t *testing.T) {
	gateway, _ := newTestGateway(t)
	conn := gateway.hub.Register("alice")

	gateway.dispatch(conn, models.Account{ID: "alice"}, []byte("hello?"))
	gateway.dispatch(conn, models.Account{ID: "alice"}, []byte(`{"action":"messages.shout"}`))
	gateway.dispatch(conn, models.Account{ID: "alice"}, []byte(`{"action":"messages.send","payload":{}}`))

	replies := outbox(conn)
	require.Len(t, replies, 3)
	for _, reply := range replies {
		assert.Equal(t, "error", reply.Action)
		assert.Equal(t, services.KindInvalidArgument, reply.Kind)
		assert.NotEmpty(t, reply.Message)
	}
}

func TestDispatchSendMessage(t *testing.T) {
	gateway, conversation := newTestGateway(t)
	alice := gateway.hub.Register("alice")
	bob := gateway.hub.Register("bob")

	gateway.dispatch(alice, models.Account{ID: "alice"}, []byte(`{"action":"messages.send","payload":{"conversationId":"`+conversation.ID+`","content":"hi","clientTempId":"t-1"}}`))

	replies := outbox(alice)
	require.Len(t, replies, 2)
	assert.Equal(t, models.EventMessageSent, replies[0].Action)
	assert.Equal(t, "messages.send.ack", replies[1].Action)

	var ack models.MessageSentPayload
	require.NoError(t, jsoniter.Unmarshal(replies[1].Payload, &ack))
	assert.Equal(t, "hi", ack.Message.Content)
	require.NotNil(t, ack.ClientTempID)
	assert.Equal(t, "t-1", *ack.ClientTempID)

	assert.Equal(t, []string{models.EventMessageSent}, actions(outbox(bob)))
}

func TestDispatchSendMessageValidatesMedia(t *testing.T) {
	gateway, conversation := newTestGateway(t)
	alice := gateway.hub.Register("alice")
	bob := gateway.hub.Register("bob")

	for _, payload := range []string{
		`{"conversationId":"` + conversation.ID + `","type":"IMAGE","mediaUrl":"not a link"}`,
		`{"conversationId":"` + conversation.ID + `","type":"FILE","mediaUrl":"https://cdn.test/a.pdf","fileSize":-1}`,
		`{"conversationId":"` + conversation.ID + `","type":"AUDIO","mediaUrl":"https://cdn.test/a.ogg","duration":-2.5}`,
	} {
		gateway.dispatch(alice, models.Account{ID: "alice"}, []byte(`{"action":"messages.send","payload":`+payload+`}`))
		replies := outbox(alice)
		require.Len(t, replies, 1, payload)
		assert.Equal(t, "error", replies[0].Action)
		assert.Equal(t, services.KindInvalidArgument, replies[0].Kind)
	}
	assert.Empty(t, outbox(bob))

	gateway.dispatch(alice, models.Account{ID: "alice"}, []byte(`{"action":"messages.send","payload":{"conversationId":"`+conversation.ID+`","type":"FILE","mediaUrl":"https://cdn.test/a.pdf","fileSize":2048}}`))
	assert.Equal(t, []string{models.EventMessageSent, "messages.send.ack"}, actions(outbox(alice)))
}

func TestDispatchCallFailureRepliesCallError(t *testing.T) {
	gateway, _ := newTestGateway(t)
	conn := gateway.hub.Register("bob")

	gateway.dispatch(conn, models.Account{ID: "bob"}, []byte(`{"action":"calls.accept","payload":{"sessionId":"missing"}}`))

	replies := outbox(conn)
	require.Len(t, replies, 1)
	assert.Equal(t, models.EventCallError, replies[0].Action)
	assert.Equal(t, services.KindNotFound, replies[0].Kind)

	var payload models.CallErrorPayload
	require.NoError(t, jsoniter.Unmarshal(replies[0].Payload, &payload))
	assert.Equal(t, "missing", payload.SessionID)
	assert.Equal(t, services.KindNotFound, payload.Kind)
}

func TestDispatchCallRoundTrip(t *testing.T) {
	gateway, _ := newTestGateway(t)
	alice := gateway.hub.Register("alice")
	bob := gateway.hub.Register("bob")

	gateway.dispatch(alice, models.Account{ID: "alice", Name: "Alice"}, []byte(`{"action":"calls.initiate","payload":{"callType":"DIRECT","participantIds":["bob"]}}`))
	replies := outbox(alice)
	require.Equal(t, []string{models.EventCallRinging, "calls.initiate.ack"}, actions(replies))

	var call models.Call
	require.NoError(t, jsoniter.Unmarshal(replies[1].Payload, &call))
	assert.Equal(t, []string{models.EventIncomingCall}, actions(outbox(bob)))

	gateway.dispatch(bob, models.Account{ID: "bob"}, []byte(`{"action":"channels.join","payload":{"channel":"call:`+call.SessionID+`"}}`))
	assert.Equal(t, []string{"channels.join.ack"}, actions(outbox(bob)))
	assert.True(t, bob.InChannel(realtime.CallChannel(call.SessionID)))

	gateway.dispatch(bob, models.Account{ID: "bob"}, []byte(`{"action":"calls.accept","payload":{"sessionId":"`+call.SessionID+`"}}`))
	assert.Equal(t, []string{models.EventCallConnected, "calls.accept.ack"}, actions(outbox(bob)))
	assert.Equal(t, []string{models.EventCallConnected}, actions(outbox(alice)))

	gateway.dispatch(bob, models.Account{ID: "bob"}, []byte(`{"action":"calls.leave","payload":{"sessionId":"`+call.SessionID+`"}}`))
	assert.Equal(t, []string{models.EventCallEnded, "calls.leave.ack"}, actions(outbox(bob)))
	assert.Equal(t, []string{models.EventCallEnded}, actions(outbox(alice)))
	assert.False(t, bob.InChannel(realtime.CallChannel(call.SessionID)))

	gateway.dispatch(bob, models.Account{ID: "bob"}, []byte(`{"action":"channels.join","payload":{"channel":"call:`+call.SessionID+`"}}`))
	replies = outbox(bob)
	require.Len(t, replies, 1)
	assert.Equal(t, "error", replies[0].Action)
	assert.Equal(t, services.KindConflict, replies[0].Kind)
	assert.False(t, bob.InChannel(realtime.CallChannel(call.SessionID)))
	assert.Zero(t, gateway.hub.Subscribers(realtime.CallChannel(call.SessionID)))
}

func TestJoinChannelChecksMembership(t *testing.T) {
	gateway, conversation := newTestGateway(t)
	bob := gateway.hub.Register("bob")
	mallory := gateway.hub.Register("mallory")
	channel := realtime.ConversationChannel(conversation.ID)

	gateway.dispatch(mallory, models.Account{ID: "mallory"}, []byte(`{"action":"channels.join","payload":{"channel":"`+channel+`"}}`))
	gateway.dispatch(mallory, models.Account{ID: "mallory"}, []byte(`{"action":"channels.join","payload":{"channel":"user:bob"}}`))
	gateway.dispatch(mallory, models.Account{ID: "mallory"}, []byte(`{"action":"channels.join","payload":{"channel":"bogus"}}`))
	replies := outbox(mallory)
	require.Len(t, replies, 3)
	assert.Equal(t, services.KindForbidden, replies[0].Kind)
	assert.Equal(t, services.KindForbidden, replies[1].Kind)
	assert.Equal(t, services.KindInvalidArgument, replies[2].Kind)
	assert.False(t, mallory.InChannel(channel))

	gateway.dispatch(bob, models.Account{ID: "bob"}, []byte(`{"action":"channels.join","payload":{"channel":"`+channel+`"}}`))
	assert.Equal(t, []string{"channels.join.ack"}, actions(outbox(bob)))
	assert.True(t, bob.InChannel(channel))

	gateway.dispatch(bob, models.Account{ID: "bob"}, []byte(`{"action":"channels.leave","payload":{"channel":"user:bob"}}`))
	gateway.dispatch(bob, models.Account{ID: "bob"}, []byte(`{"action":"channels.leave","payload":{"channel":"`+channel+`"}}`))
	replies = outbox(bob)
	require.Len(t, replies, 2)
	assert.Equal(t, "error", replies[0].Action)
	assert.Equal(t, "channels.leave.ack", replies[1].Action)
	assert.False(t, bob.InChannel(channel))
}

func TestPing(t *testing.T) {
	gateway, _ := newTestGateway(t)
	conn := gateway.hub.Register("alice")
	gateway.dispatch(conn, models.Account{ID: "alice"}, []byte(`{"action":"ping"}`))
	assert.Equal(t, []string{"ping.ack"}, actions(outbox(conn)))
}

func actions(items []packet) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Action)
	}
	return out
}
