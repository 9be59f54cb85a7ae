package models

import jsoniter "github.com/json-iterator/go"

const (
	EventMessageSent         = "MESSAGE_SENT"
	EventMessageDeleted      = "MESSAGE_DELETED"
	EventUserTyping          = "USER_TYPING"
	EventUserStoppedTyping   = "USER_STOPPED_TYPING"
	EventIncomingCall        = "INCOMING_CALL"
	EventCallRinging         = "CALL_RINGING"
	EventCallConnected       = "CALL_CONNECTED"
	EventCallRejected        = "CALL_REJECTED"
	EventCallEnded           = "CALL_ENDED"
	EventCallParticipantLeft = "CALL_PARTICIPANT_LEFT"
	EventCallConnectionFail  = "CALL_CONNECTION_FAILED"
	EventCallError           = "CALL_ERROR"
)

// UnifiedCommand is the single envelope on the realtime channel.
// Server events use Action as the event type, client commands use it as the command name.
type UnifiedCommand struct {
	Action    string `json:"action"`
	Message   string `json:"message,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

func (v UnifiedCommand) Marshal() []byte {
	data, _ := jsoniter.Marshal(v)
	return data
}

func NewEvent(action string, payload any) UnifiedCommand {
	return UnifiedCommand{Action: action, Payload: payload}
}

// Event payloads

type MessageSentPayload struct {
	Message      Message `json:"message"`
	ClientTempID *string `json:"clientTempId,omitempty"`
}

type MessageDeletedPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type TypingPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

type IncomingCallPayload struct {
	SessionID      string   `json:"sessionId"`
	CallerID       string   `json:"callerId"`
	CallerName     string   `json:"callerName"`
	CallType       CallType `json:"callType"`
	ConversationID *string  `json:"conversationId,omitempty"`
}

type CallRingingPayload struct {
	SessionID    string   `json:"sessionId"`
	RecipientID  string   `json:"recipientId,omitempty"`
	RecipientIDs []string `json:"recipientIds,omitempty"`
}

type CallConnectedPayload struct {
	SessionID string              `json:"sessionId"`
	Meeting   Meeting             `json:"meeting"`
	Attendees map[string]Attendee `json:"attendees"`
}

type CallRejectedPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type CallEndedPayload struct {
	SessionID string     `json:"sessionId"`
	EndedBy   string     `json:"endedBy"`
	Status    CallStatus `json:"status"`
}

type CallParticipantLeftPayload struct {
	SessionID  string `json:"sessionId"`
	UserID     string `json:"userId"`
	NewOwnerID string `json:"newOwnerId,omitempty"`
}

type CallErrorPayload struct {
	SessionID string `json:"sessionId,omitempty"`
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
}
