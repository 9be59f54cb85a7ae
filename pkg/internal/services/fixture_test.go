package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"git.solsynth.dev/hypernet/kolab/pkg/internal/cache"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/database"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/models"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/realtime"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu sync.Mutex

	created  int
	deleted  []string
	attendee map[string]int

	meetingErr   error
	blockMeeting bool
	attendeeErr map[string]error
	deleteErr   error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		attendee:    make(map[string]int),
		attendeeErr: make(map[string]error),
	}
}

func (v *fakeProvider) CreateMeeting(ctx context.Context, sessionId string) (models.Meeting, error) {
	v.mu.Lock()
	if v.blockMeeting {
		v.mu.Unlock()
		<-ctx.Done()
		return models.Meeting{}, ctx.Err()
	}
	defer v.mu.Unlock()
	if v.meetingErr != nil {
		return models.Meeting{}, v.meetingErr
	}
	v.created++
	return models.Meeting{MeetingID: "m-" + sessionId, RoomName: sessionId, Endpoint: "media.test"}, nil
}

func (v *fakeProvider) CreateAttendee(_ context.Context, _ models.Meeting, account models.Account, _ bool) (models.Attendee, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.attendeeErr[account.ID]; err != nil {
		return models.Attendee{}, err
	}
	v.attendee[account.ID]++
	return models.Attendee{
		AttendeeID: fmt.Sprintf("%s#%d", account.ID, v.attendee[account.ID]),
		UserID:     account.ID,
		JoinToken:  "token-" + account.ID,
	}, nil
}

func (v *fakeProvider) DeleteMeeting(_ context.Context, meeting models.Meeting) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deleted = append(v.deleted, meeting.MeetingID)
	return v.deleteErr
}

func (v *fakeProvider) meetingsCreated() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.created
}

func (v *fakeProvider) meetingsDeleted() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.deleted...)
}

type fixture struct {
	hub      *realtime.Hub
	stores   database.Stores
	provider *fakeProvider

	conversations *ConversationService
	messages      *MessageService
	calls         *CallService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hub := realtime.NewHub(256)
	stores := database.NewMemoryStores()
	provider := newFakeProvider()

	return &fixture{
		hub:           hub,
		stores:        stores,
		provider:      provider,
		conversations: NewConversationService(stores.Conversations),
		messages:      NewMessageService(stores.Conversations, stores.Messages, hub, cache.NewMemoryLedger(), time.Minute),
		calls: NewCallService(stores.Calls, stores.Conversations, provider, hub, CallOptions{
			ProviderTimeout: time.Second,
			RingTimeout:     time.Minute,
		}),
	}
}

func (f *fixture) group(t *testing.T, creator string, others ...string) models.Conversation {
	t.Helper()
	conversation, err := f.conversations.CreateConversation(context.Background(), creator, CreateConversationInput{
		Type:         models.ConversationTypeGroup,
		Name:         "study group",
		Participants: others,
	})
	require.NoError(t, err)
	return conversation
}

type received struct {
	Action  string              `json:"action"`
	Kind    string              `json:"kind"`
	Payload jsoniter.RawMessage `json:"payload"`
}

func (r received) decode(t *testing.T, out any) {
	t.Helper()
	require.NoError(t, jsoniter.Unmarshal(r.Payload, out))
}

func recv(c *realtime.Conn) []received {
	var out []received
	for {
		select {
		case packet := <-c.Outbox():
			var event received
			_ = jsoniter.Unmarshal(packet, &event)
			out = append(out, event)
		default:
			return out
		}
	}
}

func actionsOf(events []received) []string {
	out := make([]string, 0, len(events))
	for _, event := range events {
		out = append(out, event.Action)
	}
	return out
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, KindOf(err), err.Error())
}
