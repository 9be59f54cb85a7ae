package services

import (
	"context"
	"fmt"
	"time"

	"git.solsynth.dev/hypernet/kolab/pkg/internal/models"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
	"github.com/spf13/viper"
)

// MediaProvider is the external conferencing service calls are bridged to.
// CreateMeeting must be idempotent per session id.
type MediaProvider interface {
	CreateMeeting(ctx context.Context, sessionId string) (models.Meeting, error)
	CreateAttendee(ctx context.Context, meeting models.Meeting, account models.Account, isOwner bool) (models.Attendee, error)
	DeleteMeeting(ctx context.Context, meeting models.Meeting) error
}

type LiveKitProvider struct {
	rooms    *lksdk.RoomServiceClient
	endpoint string
	key      string
	secret   string

	emptyTimeout    uint32
	maxParticipants uint32
	tokenDuration   time.Duration
}

func NewLiveKitProvider() *LiveKitProvider {
	endpoint := viper.GetString("calling.endpoint")
	key := viper.GetString("calling.api_key")
	secret := viper.GetString("calling.api_secret")

	return &LiveKitProvider{
		rooms:           lksdk.NewRoomServiceClient("https://"+endpoint, key, secret),
		endpoint:        endpoint,
		key:             key,
		secret:          secret,
		emptyTimeout:    viper.GetUint32("calling.empty_timeout_duration"),
		maxParticipants: viper.GetUint32("calling.max_participants"),
		tokenDuration:   time.Second * time.Duration(viper.GetInt("calling.token_duration")),
	}
}

// CreateMeeting names the room after the session, creating an existing room returns it unchanged.
func (v *LiveKitProvider) CreateMeeting(ctx context.Context, sessionId string) (models.Meeting, error) {
	room, err := v.rooms.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:            sessionId,
		EmptyTimeout:    v.emptyTimeout,
		MaxParticipants: v.maxParticipants,
	})
	if err != nil {
		return models.Meeting{}, fmt.Errorf("remote livekit error: %v", err)
	}

	return models.Meeting{
		MeetingID: room.GetSid(),
		RoomName:  room.GetName(),
		Endpoint:  v.endpoint,
	}, nil
}

func (v *LiveKitProvider) CreateAttendee(_ context.Context, meeting models.Meeting, account models.Account, isOwner bool) (models.Attendee, error) {
	grant := &auth.VideoGrant{
		Room:      meeting.RoomName,
		RoomJoin:  true,
		RoomAdmin: isOwner,
	}

	identity := fmt.Sprintf("%s#%s", account.ID, uuid.NewString()[:8])
	metadata, _ := jsoniter.MarshalToString(account)

	duration := v.tokenDuration
	if duration <= 0 {
		duration = time.Hour
	}
	tk := auth.NewAccessToken(v.key, v.secret)
	tk.AddGrant(grant).
		SetIdentity(identity).
		SetName(account.DisplayName()).
		SetMetadata(metadata).
		SetValidFor(duration)

	jwt, err := tk.ToJWT()
	if err != nil {
		return models.Attendee{}, err
	}

	return models.Attendee{
		AttendeeID: identity,
		UserID:     account.ID,
		JoinToken:  jwt,
	}, nil
}

func (v *LiveKitProvider) DeleteMeeting(ctx context.Context, meeting models.Meeting) error {
	_, err := v.rooms.DeleteRoom(ctx, &livekit.DeleteRoomRequest{
		Room: meeting.RoomName,
	})
	return err
}
