package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"git.solsynth.dev/hypernet/kolab/pkg/internal/database"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/metrics"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/models"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/realtime"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

const maxSaveAttempts = 3

type CallOptions struct {
	ProviderTimeout time.Duration
	RingTimeout     time.Duration
}

// CallService drives the call session state machine.
//
// Every transition of one session runs under that session's lock and is written with a
// conditional save on the record version, so two instances can never both move a call
// out of RINGING.
type CallService struct {
	calls         database.CallRepository
	conversations database.ConversationRepository
	provider      MediaProvider
	publisher     Publisher

	providerTimeout time.Duration
	ringTimeout     time.Duration

	sessions *keyedLocker
	founding *keyedLocker
	now      func() time.Time
}

func NewCallService(
	calls database.CallRepository,
	conversations database.ConversationRepository,
	provider MediaProvider,
	publisher Publisher,
	opts CallOptions,
) *CallService {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 10 * time.Second
	}
	if opts.RingTimeout <= 0 {
		opts.RingTimeout = time.Minute
	}
	return &CallService{
		calls:           calls,
		conversations:   conversations,
		provider:        provider,
		publisher:       publisher,
		providerTimeout: opts.ProviderTimeout,
		ringTimeout:     opts.RingTimeout,
		sessions:        newKeyedLocker(),
		founding:        newKeyedLocker(),
		now:             time.Now,
	}
}

type InitiateCallInput struct {
	CallType       models.CallType
	ParticipantIDs []string
	ConversationID *string
}

type ConnectResult struct {
	Call      models.Call                `json:"call"`
	Meeting   models.Meeting             `json:"meeting"`
	Attendees map[string]models.Attendee `json:"attendees"`
}

type LeaveResult struct {
	Call       models.Call `json:"call"`
	NewOwnerID string      `json:"newOwnerId"`
}

func (v *CallService) InitiateCall(ctx context.Context, caller models.Account, in InitiateCallInput) (models.Call, error) {
	in.CallType = strings.ToUpper(in.CallType)
	invitees := lo.Uniq(lo.Map(in.ParticipantIDs, func(item string, _ int) string {
		return strings.TrimSpace(item)
	}))
	if lo.Contains(invitees, "") {
		return models.Call{}, NewError(KindInvalidArgument, "participant id cannot be empty")
	} else if lo.Contains(invitees, caller.ID) {
		return models.Call{}, NewError(KindInvalidArgument, "you cannot call yourself")
	}
	if in.ConversationID != nil && len(*in.ConversationID) == 0 {
		in.ConversationID = nil
	}

	var conversation *models.Conversation
	if in.ConversationID != nil {
		out, err := getConversationAsParticipant(ctx, v.conversations, *in.ConversationID, caller.ID)
		if err != nil {
			return models.Call{}, err
		}
		conversation = &out
	}

	switch in.CallType {
	case models.CallTypeDirect:
		if len(invitees) != 1 {
			return models.Call{}, NewError(KindInvalidArgument, "direct calls must have exactly one recipient")
		}
	case models.CallTypeGroup:
		if conversation == nil {
			return models.Call{}, NewError(KindInvalidArgument, "group calls require a conversation id")
		}
		if len(invitees) == 0 {
			invitees = conversation.Others(caller.ID)
		}
		if len(invitees) == 0 {
			return models.Call{}, NewError(KindInvalidArgument, "nobody else is in this conversation")
		}
	default:
		return models.Call{}, NewError(KindInvalidArgument, "unknown call type %q", in.CallType)
	}
	if conversation != nil {
		for _, id := range invitees {
			if !conversation.HasParticipant(id) {
				return models.Call{}, NewError(KindInvalidArgument, "user %s is not a participant of this conversation", id)
			}
		}

		unlock := v.founding.Lock(conversation.ID)
		defer unlock()
		if ongoing, err := v.calls.FindOngoing(ctx, conversation.ID); err == nil {
			return models.Call{}, conflictError(ongoing.Status, "this conversation already has an ongoing call")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Call{}, storeError(err, "call")
		}
	}

	now := v.now()
	call := models.Call{
		SessionID:      uuid.NewString(),
		CallType:       in.CallType,
		InitiatorID:    caller.ID,
		ConversationID: in.ConversationID,
		Status:         models.CallStatusRinging,
		CreatedAt:      now,
	}
	call.Participants = append(call.Participants, models.CallParticipant{
		UserID:   caller.ID,
		Status:   models.ParticipantStatusJoined,
		IsOwner:  true,
		JoinedAt: &now,
	})
	for _, id := range invitees {
		call.Participants = append(call.Participants, models.CallParticipant{
			UserID: id,
			Status: models.ParticipantStatusInvited,
		})
	}

	if err := v.calls.Create(ctx, &call); err != nil {
		return call, storeError(err, "call")
	}
	metrics.CallTransitions.WithLabelValues(models.CallStatusRinging).Inc()
	log.Info().Str("session", call.SessionID).Str("caller", caller.ID).Strs("invitees", invitees).Msg("Call initiated.")

	ringing := models.CallRingingPayload{SessionID: call.SessionID, RecipientIDs: invitees}
	if call.CallType == models.CallTypeDirect {
		ringing.RecipientID = invitees[0]
	}
	v.publisher.Publish(realtime.UserChannel(caller.ID), models.NewEvent(models.EventCallRinging, ringing))
	v.publisher.PublishToUsers(invitees, realtime.PrefixUser, models.NewEvent(models.EventIncomingCall, models.IncomingCallPayload{
		SessionID:      call.SessionID,
		CallerID:       caller.ID,
		CallerName:     caller.DisplayName(),
		CallType:       call.CallType,
		ConversationID: call.ConversationID,
	}))

	return call, nil
}

// GetCall returns the call to one of its participants.
func (v *CallService) GetCall(ctx context.Context, sessionId, userId string) (models.Call, error) {
	call, err := v.calls.Get(ctx, sessionId)
	if err != nil {
		return call, storeError(err, "call")
	}
	if _, ok := call.Participant(userId); !ok {
		return call, NewError(KindForbidden, "you are not a participant in this call")
	}
	return call, nil
}

func (v *CallService) mutate(ctx context.Context, sessionId string, fn func(call *models.Call) error) (models.Call, error) {
	unlock := v.sessions.Lock(sessionId)
	defer unlock()
	return v.mutateLocked(ctx, sessionId, fn)
}

// mutateLocked reloads the call on every attempt so fn always validates against the stored state.
func (v *CallService) mutateLocked(ctx context.Context, sessionId string, fn func(call *models.Call) error) (models.Call, error) {
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		call, err := v.calls.Get(ctx, sessionId)
		if err != nil {
			return call, storeError(err, "call")
		}
		if err := fn(&call); err != nil {
			return call, err
		}
		if err := v.calls.Save(ctx, &call); err == nil {
			return call, nil
		} else if !errors.Is(err, database.ErrStaleRecord) {
			return call, dependencyError(err, "unable to update call")
		}
		log.Debug().Str("session", sessionId).Int("attempt", attempt).Msg("Call record moved on, retrying transition.")
	}
	return models.Call{}, NewError(KindConflict, "call is being modified concurrently, refresh and try again")
}

func checkAccept(call models.Call, userId string) error {
	if !models.CanTransitCall(call.Status, models.CallStatusActive) {
		return conflictError(call.Status, "call is not ringing, current status: %s", call.Status)
	}
	participant, ok := call.Participant(userId)
	if !ok {
		return NewError(KindForbidden, "you are not a participant in this call")
	} else if userId == call.InitiatorID {
		return NewError(KindForbidden, "the caller cannot accept their own call")
	} else if participant.Status != models.ParticipantStatusInvited {
		return conflictError(call.Status, "you can no longer accept this call, participant status: %s", participant.Status)
	}
	return nil
}

// AcceptAndConnect creates the media session and one attendee per current participant.
//
// The meeting id is stored while the call is still ringing. When an attendee cannot be
// created the call stays ringing with that id, and a retry reuses the same meeting since
// the provider is idempotent per session id.
func (v *CallService) AcceptAndConnect(ctx context.Context, sessionId string, recipient models.Account) (ConnectResult, error) {
	unlock := v.sessions.Lock(sessionId)
	defer unlock()

	call, err := v.calls.Get(ctx, sessionId)
	if err != nil {
		return ConnectResult{}, storeError(err, "call")
	}
	if err := checkAccept(call, recipient.ID); err != nil {
		return ConnectResult{}, err
	}

	pctx, cancel := context.WithTimeout(ctx, v.providerTimeout)
	defer cancel()

	meeting, err := v.provider.CreateMeeting(pctx, call.SessionID)
	if err != nil {
		metrics.ProviderFailures.WithLabelValues("create_meeting").Inc()
		return ConnectResult{}, v.connectionFailed(call, dependencyError(err, "unable to create media session"))
	}
	if len(meeting.RoomName) == 0 {
		meeting.RoomName = call.SessionID
	}

	if call.MeetingID == nil || *call.MeetingID != meeting.MeetingID {
		call, err = v.mutateLocked(ctx, sessionId, func(call *models.Call) error {
			if err := checkAccept(*call, recipient.ID); err != nil {
				return err
			}
			call.MeetingID = lo.ToPtr(meeting.MeetingID)
			return nil
		})
		if err != nil {
			v.discardIfTerminated(ctx, call, meeting)
			return ConnectResult{}, err
		}
	}

	attendees := make(map[string]models.Attendee)
	for _, participant := range call.Participants {
		if !participant.IsActive() {
			continue
		}
		account := lo.Ternary(participant.UserID == recipient.ID, recipient, models.Account{ID: participant.UserID})
		attendee, err := v.provider.CreateAttendee(pctx, meeting, account, participant.IsOwner)
		if err != nil {
			metrics.ProviderFailures.WithLabelValues("create_attendee").Inc()
			log.Warn().Err(err).Str("session", sessionId).Str("user", participant.UserID).
				Msg("Unable to create attendee, call stays ringing for a retry.")
			return ConnectResult{}, v.connectionFailed(call, dependencyError(err, "unable to create attendee"))
		}
		attendees[participant.UserID] = attendee
	}

	now := v.now()
	call, err = v.mutateLocked(ctx, sessionId, func(call *models.Call) error {
		if err := checkAccept(*call, recipient.ID); err != nil {
			return err
		}
		for idx := range call.Participants {
			participant := &call.Participants[idx]
			if !participant.IsActive() {
				continue
			}
			attendee, ok := attendees[participant.UserID]
			if !ok {
				return conflictError(call.Status, "participants changed while connecting, try again")
			}
			participant.Status = models.ParticipantStatusJoined
			participant.AttendeeID = lo.ToPtr(attendee.AttendeeID)
			if participant.JoinedAt == nil {
				participant.JoinedAt = &now
			}
		}
		call.Status = models.CallStatusActive
		call.ConnectedAt = &now
		return nil
	})
	if err != nil {
		v.discardIfTerminated(ctx, call, meeting)
		return ConnectResult{}, err
	}
	metrics.CallTransitions.WithLabelValues(models.CallStatusActive).Inc()
	log.Info().Str("session", sessionId).Str("meeting", meeting.MeetingID).Msg("Call connected.")

	for _, userId := range lo.Keys(attendees) {
		v.publisher.Publish(realtime.UserChannel(userId), models.NewEvent(models.EventCallConnected, models.CallConnectedPayload{
			SessionID: sessionId,
			Meeting:   meeting,
			Attendees: attendeesFor(attendees, userId),
		}))
	}

	return ConnectResult{
		Call:      call,
		Meeting:   meeting,
		Attendees: attendeesFor(attendees, recipient.ID),
	}, nil
}

// discardIfTerminated drops a meeting created for a call that got cancelled or rejected meanwhile.
// The room is named after the session, so it must survive when another node connected the call.
func (v *CallService) discardIfTerminated(ctx context.Context, call models.Call, meeting models.Meeting) {
	if len(call.SessionID) == 0 || !models.IsTerminalCallStatus(call.Status) {
		return
	}
	v.discardMeeting(ctx, meeting)
}

// attendeesFor keeps every attendee id but only the viewer's own join token.
func attendeesFor(attendees map[string]models.Attendee, viewerId string) map[string]models.Attendee {
	out := make(map[string]models.Attendee, len(attendees))
	for userId, attendee := range attendees {
		if userId != viewerId {
			attendee.JoinToken = ""
		}
		out[userId] = attendee
	}
	return out
}

func (v *CallService) connectionFailed(call models.Call, err *Error) error {
	v.publisher.PublishToUsers(call.ActiveParticipantIDs(), realtime.PrefixUser, models.NewEvent(
		models.EventCallConnectionFail,
		models.CallErrorPayload{SessionID: call.SessionID, Error: err.Message, Kind: err.Kind},
	))
	return err
}

// RejectCall marks one invitee as rejected. The call itself is rejected once every invitee did.
func (v *CallService) RejectCall(ctx context.Context, sessionId, userId string) (models.Call, error) {
	var rejected bool
	call, err := v.mutate(ctx, sessionId, func(call *models.Call) error {
		rejected = false
		if !models.CanTransitCall(call.Status, models.CallStatusRejected) {
			return conflictError(call.Status, "call is not ringing, current status: %s", call.Status)
		}
		idx := lo.IndexOf(call.ParticipantIDs(), userId)
		if idx < 0 {
			return NewError(KindForbidden, "you are not a participant in this call")
		} else if userId == call.InitiatorID {
			return NewError(KindInvalidArgument, "the caller cancels a call instead of rejecting it")
		}
		participant := &call.Participants[idx]
		if !models.CanTransitParticipant(participant.Status, models.ParticipantStatusRejected) {
			return conflictError(call.Status, "you can no longer reject this call, participant status: %s", participant.Status)
		}

		now := v.now()
		participant.Status = models.ParticipantStatusRejected
		participant.LeftAt = &now

		if lo.EveryBy(call.Invitees(), func(item models.CallParticipant) bool {
			return item.Status == models.ParticipantStatusRejected
		}) {
			call.Status = models.CallStatusRejected
			call.EndedAt = &now
			finishParticipants(call, now)
			rejected = true
		}
		return nil
	})
	if err != nil {
		return call, err
	}

	if rejected {
		metrics.CallTransitions.WithLabelValues(models.CallStatusRejected).Inc()
		log.Info().Str("session", sessionId).Msg("Call rejected by every invitee.")
		v.publisher.Publish(realtime.UserChannel(call.InitiatorID), models.NewEvent(models.EventCallRejected, models.CallRejectedPayload{
			SessionID: sessionId,
			UserID:    userId,
		}))
		v.discardCallMeeting(ctx, call)
		v.publisher.CloseChannel(realtime.CallChannel(sessionId))
	}
	return call, nil
}

// CancelCall lets the initiator withdraw a call that nobody picked up yet.
func (v *CallService) CancelCall(ctx context.Context, sessionId, callerId string) (models.Call, error) {
	call, err := v.mutate(ctx, sessionId, func(call *models.Call) error {
		if call.InitiatorID != callerId {
			return NewError(KindForbidden, "only the caller can cancel this call")
		} else if !models.CanTransitCall(call.Status, models.CallStatusCancelled) {
			return conflictError(call.Status, "call is not ringing, current status: %s", call.Status)
		}
		now := v.now()
		call.Status = models.CallStatusCancelled
		call.EndedAt = &now
		finishParticipants(call, now)
		return nil
	})
	if err != nil {
		return call, err
	}

	v.afterTerminated(ctx, call, callerId)
	return call, nil
}

// LeaveCall removes the user from an active call. A group owner leaving with others still
// around must name the next owner, the hand over is written together with the leave.
func (v *CallService) LeaveCall(ctx context.Context, sessionId, userId string, newOwnerId *string) (LeaveResult, error) {
	if newOwnerId != nil && len(strings.TrimSpace(*newOwnerId)) == 0 {
		newOwnerId = nil
	}

	var ended bool
	call, err := v.mutate(ctx, sessionId, func(call *models.Call) error {
		ended = false
		if models.IsTerminalCallStatus(call.Status) {
			return conflictError(call.Status, "call is already over, current status: %s", call.Status)
		} else if call.Status != models.CallStatusActive {
			return conflictError(call.Status, "call has not connected yet, cancel or reject it instead")
		}
		idx := lo.IndexOf(call.ParticipantIDs(), userId)
		if idx < 0 {
			return NewError(KindForbidden, "you are not a participant in this call")
		}
		leaving := &call.Participants[idx]
		if !models.CanTransitParticipant(leaving.Status, models.ParticipantStatusLeft) {
			return conflictError(call.Status, "you are no longer in this call, participant status: %s", leaving.Status)
		}

		now := v.now()
		remaining := lo.Without(call.ActiveParticipantIDs(), userId)

		if call.CallType == models.CallTypeGroup && len(remaining) > 0 {
			if leaving.IsOwner {
				if newOwnerId == nil {
					return NewError(KindInvalidArgument, "the owner must name a new owner before leaving")
				} else if !lo.Contains(remaining, *newOwnerId) {
					return NewError(KindInvalidArgument, "new owner %s is not in this call", *newOwnerId)
				}
				for i := range call.Participants {
					call.Participants[i].IsOwner = call.Participants[i].UserID == *newOwnerId
				}
			} else if newOwnerId != nil {
				return NewError(KindInvalidArgument, "only the owner can hand over ownership")
			}
		}

		leaving.Status = models.ParticipantStatusLeft
		leaving.LeftAt = &now
		leaving.IsOwner = false

		if call.CallType == models.CallTypeDirect || len(remaining) == 0 {
			call.Status = models.CallStatusEnded
			call.EndedAt = &now
			finishParticipants(call, now)
			ended = true
		}
		return nil
	})
	if err != nil {
		return LeaveResult{}, err
	}

	if ended {
		v.afterTerminated(ctx, call, userId)
		return LeaveResult{Call: call}, nil
	}

	owner, _ := call.Owner()
	v.publisher.Publish(realtime.CallChannel(sessionId), models.NewEvent(models.EventCallParticipantLeft, models.CallParticipantLeftPayload{
		SessionID:  sessionId,
		UserID:     userId,
		NewOwnerID: owner.UserID,
	}))
	return LeaveResult{Call: call, NewOwnerID: owner.UserID}, nil
}

// EndCall closes an active call for everyone.
func (v *CallService) EndCall(ctx context.Context, sessionId, userId string) (models.Call, error) {
	call, err := v.mutate(ctx, sessionId, func(call *models.Call) error {
		if _, ok := call.Participant(userId); !ok {
			return NewError(KindForbidden, "you are not a participant in this call")
		} else if !models.CanTransitCall(call.Status, models.CallStatusEnded) {
			return conflictError(call.Status, "call is not active, current status: %s", call.Status)
		}
		now := v.now()
		call.Status = models.CallStatusEnded
		call.EndedAt = &now
		finishParticipants(call, now)
		return nil
	})
	if err != nil {
		return call, err
	}

	v.afterTerminated(ctx, call, userId)
	return call, nil
}

// ExpireRingingCalls cancels calls nobody answered within the ring timeout.
func (v *CallService) ExpireRingingCalls(ctx context.Context) (int, error) {
	deadline := v.now().Add(-v.ringTimeout)
	calls, err := v.calls.ListRingingBefore(ctx, deadline)
	if err != nil {
		return 0, storeError(err, "calls")
	}

	var count int
	for _, item := range calls {
		call, err := v.mutate(ctx, item.SessionID, func(call *models.Call) error {
			if !models.CanTransitCall(call.Status, models.CallStatusCancelled) {
				return conflictError(call.Status, "call is not ringing anymore")
			}
			now := v.now()
			call.Status = models.CallStatusCancelled
			call.EndedAt = &now
			finishParticipants(call, now)
			return nil
		})
		if err != nil {
			if !IsKind(err, KindConflict) {
				log.Warn().Err(err).Str("session", item.SessionID).Msg("Unable to expire ringing call.")
			}
			continue
		}
		v.afterTerminated(ctx, call, "")
		count++
	}
	return count, nil
}

// finishParticipants moves everyone still in the call to LEFT and clears ownership.
func finishParticipants(call *models.Call, now time.Time) {
	for idx := range call.Participants {
		participant := &call.Participants[idx]
		if participant.IsActive() {
			participant.Status = models.ParticipantStatusLeft
			participant.LeftAt = &now
		}
		participant.IsOwner = false
	}
}

func (v *CallService) afterTerminated(ctx context.Context, call models.Call, endedBy string) {
	metrics.CallTransitions.WithLabelValues(call.Status).Inc()
	log.Info().Str("session", call.SessionID).Str("status", call.Status).Str("by", endedBy).Msg("Call terminated.")

	v.discardCallMeeting(ctx, call)
	v.publisher.PublishToUsers(call.ParticipantIDs(), realtime.PrefixUser, models.NewEvent(models.EventCallEnded, models.CallEndedPayload{
		SessionID: call.SessionID,
		EndedBy:   endedBy,
		Status:    call.Status,
	}))
	v.publisher.CloseChannel(realtime.CallChannel(call.SessionID))
}

func (v *CallService) discardCallMeeting(ctx context.Context, call models.Call) {
	if call.MeetingID == nil {
		return
	}
	v.discardMeeting(ctx, models.Meeting{MeetingID: *call.MeetingID, RoomName: call.SessionID})
}

// discardMeeting is best effort, the call record is the source of truth.
func (v *CallService) discardMeeting(ctx context.Context, meeting models.Meeting) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.providerTimeout)
	defer cancel()
	if err := v.provider.DeleteMeeting(dctx, meeting); err != nil {
		metrics.ProviderFailures.WithLabelValues("delete_meeting").Inc()
		log.Error().Err(err).Str("meeting", meeting.MeetingID).Msg("Unable to delete meeting at provider side.")
	}
}
