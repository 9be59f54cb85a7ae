package models

import (
	"time"

	"github.com/samber/lo"
	"gorm.io/datatypes"
)

type CallType = string

const (
	CallTypeDirect = CallType("DIRECT")
	CallTypeGroup  = CallType("GROUP")
)

type CallStatus = string

const (
	CallStatusRinging   = CallStatus("RINGING")
	CallStatusActive    = CallStatus("ACTIVE")
	CallStatusRejected  = CallStatus("REJECTED")
	CallStatusCancelled = CallStatus("CANCELLED")
	CallStatusEnded     = CallStatus("ENDED")
)

// CallTransitions lists the legal call status transitions. Terminal statuses have no entry.
var CallTransitions = map[CallStatus][]CallStatus{
	CallStatusRinging: {CallStatusActive, CallStatusRejected, CallStatusCancelled},
	CallStatusActive:  {CallStatusEnded},
}

func CanTransitCall(from, to CallStatus) bool {
	return lo.Contains(CallTransitions[from], to)
}

func IsTerminalCallStatus(status CallStatus) bool {
	_, ok := CallTransitions[status]
	return !ok
}

type ParticipantStatus = string

const (
	ParticipantStatusInvited  = ParticipantStatus("INVITED")
	ParticipantStatusJoined   = ParticipantStatus("JOINED")
	ParticipantStatusRejected = ParticipantStatus("REJECTED")
	ParticipantStatusLeft     = ParticipantStatus("LEFT")
)

// ParticipantTransitions is the per participant status machine.
var ParticipantTransitions = map[ParticipantStatus][]ParticipantStatus{
	ParticipantStatusInvited: {ParticipantStatusJoined, ParticipantStatusRejected, ParticipantStatusLeft},
	ParticipantStatusJoined:  {ParticipantStatusLeft},
}

func CanTransitParticipant(from, to ParticipantStatus) bool {
	return lo.Contains(ParticipantTransitions[from], to)
}

type CallParticipant struct {
	UserID     string            `json:"userId"`
	Status     ParticipantStatus `json:"status"`
	AttendeeID *string           `json:"attendeeId,omitempty"`
	IsOwner    bool              `json:"isOwner"`
	JoinedAt   *time.Time        `json:"joinedAt,omitempty"`
	LeftAt     *time.Time        `json:"leftAt,omitempty"`
}

// IsActive reports whether the participant still counts towards the call.
func (v CallParticipant) IsActive() bool {
	return v.Status != ParticipantStatusLeft && v.Status != ParticipantStatusRejected
}

// Call is one call attempt. Version is bumped on every write and guards conditional updates.
type Call struct {
	SessionID      string                               `json:"sessionId" gorm:"primaryKey;size:64"`
	CallType       CallType                             `json:"callType" gorm:"size:16"`
	InitiatorID    string                               `json:"initiatorId" gorm:"size:64"`
	ConversationID *string                              `json:"conversationId" gorm:"index;size:160"`
	Participants   datatypes.JSONSlice[CallParticipant] `json:"participants"`
	Status         CallStatus                           `json:"status" gorm:"index;size:16"`
	MeetingID      *string                              `json:"meetingId"`
	Version        int                                  `json:"version"`
	CreatedAt      time.Time                            `json:"createdAt" gorm:"index"`
	UpdatedAt      time.Time                            `json:"updatedAt"`
	ConnectedAt    *time.Time                           `json:"connectedAt"`
	EndedAt        *time.Time                           `json:"endedAt"`
}

func (v Call) Participant(userId string) (CallParticipant, bool) {
	return lo.Find(v.Participants, func(item CallParticipant) bool {
		return item.UserID == userId
	})
}

func (v Call) ParticipantIDs() []string {
	return lo.Map(v.Participants, func(item CallParticipant, _ int) string {
		return item.UserID
	})
}

// ActiveParticipantIDs returns the users who neither left nor rejected.
func (v Call) ActiveParticipantIDs() []string {
	return lo.FilterMap(v.Participants, func(item CallParticipant, _ int) (string, bool) {
		return item.UserID, item.IsActive()
	})
}

// Invitees returns every participant except the initiator.
func (v Call) Invitees() []CallParticipant {
	return lo.Filter(v.Participants, func(item CallParticipant, _ int) bool {
		return item.UserID != v.InitiatorID
	})
}

func (v Call) Owner() (CallParticipant, bool) {
	return lo.Find(v.Participants, func(item CallParticipant) bool {
		return item.IsOwner
	})
}

// Clone copies the participant list so mutations never leak into a shared record.
func (v Call) Clone() Call {
	out := v
	out.Participants = make(datatypes.JSONSlice[CallParticipant], len(v.Participants))
	copy(out.Participants, v.Participants)
	return out
}

// Meeting is the media session created at the provider for one call.
type Meeting struct {
	MeetingID string `json:"meetingId"`
	RoomName  string `json:"roomName"`
	Endpoint  string `json:"endpoint"`
}

// Attendee is the per participant credential issued by the provider.
// JoinToken is only ever sent to its owner.
type Attendee struct {
	AttendeeID string `json:"attendeeId"`
	UserID     string `json:"userId"`
	JoinToken  string `json:"joinToken,omitempty"`
}
