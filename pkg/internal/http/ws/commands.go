package ws

import (
	"context"
	"errors"
	"strings"
	"time"

	"git.solsynth.dev/hypernet/kolab/pkg/internal/http/exts"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/models"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/realtime"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/services"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type command struct {
	Action  string              `json:"action"`
	Payload jsoniter.RawMessage `json:"payload"`
}

type commandHandler func(ctx context.Context, conn *realtime.Conn, user models.Account, payload jsoniter.RawMessage) (any, error)

func (v *Gateway) commandTable() map[string]commandHandler {
	return map[string]commandHandler{
		"messages.send":   v.sendMessage,
		"messages.typing": v.setTyping,
		"messages.read":   v.markRead,
		"calls.initiate":  v.initiateCall,
		"calls.accept":    v.acceptCall,
		"calls.reject":    v.rejectCall,
		"calls.cancel":    v.cancelCall,
		"calls.leave":     v.leaveCall,
		"calls.end":       v.endCall,
		"channels.join":   v.joinChannel,
		"channels.leave":  v.leaveChannel,
		"ping":            v.ping,
	}
}

func (v *Gateway) dispatch(conn *realtime.Conn, user models.Account, packet []byte) {
	var task command
	if err := jsoniter.Unmarshal(packet, &task); err != nil {
		v.reply(conn, errorPacket("error", services.NewError(services.KindInvalidArgument, "unable to unmarshal your command, requires json request")))
		return
	}

	handler, ok := v.handlers[task.Action]
	if !ok {
		v.reply(conn, errorPacket("error", services.NewError(services.KindInvalidArgument, "unknown action %q", task.Action)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	result, err := handler(ctx, conn, user, task.Payload)
	if err != nil {
		if strings.HasPrefix(task.Action, "calls.") {
			var sid struct {
				SessionID string `json:"sessionId"`
			}
			_ = jsoniter.Unmarshal(task.Payload, &sid)
			packet := errorPacket(models.EventCallError, err)
			packet.Payload = models.CallErrorPayload{SessionID: sid.SessionID, Error: packet.Message, Kind: packet.Kind}
			v.reply(conn, packet)
		} else {
			v.reply(conn, errorPacket("error", err))
		}
		return
	}
	v.reply(conn, models.UnifiedCommand{Action: task.Action + ".ack", Payload: result})
}

func (v *Gateway) reply(conn *realtime.Conn, packet models.UnifiedCommand) {
	ctx, cancel := context.WithTimeout(context.Background(), v.replyTimeout)
	defer cancel()
	if err := conn.Reply(ctx, packet.Marshal()); err != nil {
		log.Warn().Err(err).Str("conn", conn.ID).Str("action", packet.Action).Msg("Unable to deliver command reply.")
	}
}

func errorPacket(action string, err error) models.UnifiedCommand {
	packet := models.UnifiedCommand{Action: action, Kind: services.KindOf(err), Message: err.Error()}
	var se *services.Error
	if errors.As(err, &se) {
		packet.Message = se.Message
		packet.Retryable = se.Retryable()
	} else {
		log.Error().Err(err).Msg("Unhandled error occurred when dealing command.")
		packet.Message = "internal server error"
	}
	return packet
}

func bind(payload jsoniter.RawMessage, out any) error {
	if len(payload) == 0 {
		payload = jsoniter.RawMessage("{}")
	}
	if err := jsoniter.Unmarshal(payload, out); err != nil {
		return services.NewError(services.KindInvalidArgument, "malformed payload: %v", err)
	}
	if err := exts.ValidateStruct(out); err != nil {
		return services.NewError(services.KindInvalidArgument, "%v", err)
	}
	return nil
}

func (v *Gateway) sendMessage(ctx context.Context, _ *realtime.Conn, user models.Account, payload jsoniter.RawMessage) (any, error) {
	var data struct {
		ConversationID string   `json:"conversationId" validate:"required"`
		Type           string   `json:"type"`
		Content        string   `json:"content" validate:"max=8192"`
		MediaURL       *string  `json:"mediaUrl" validate:"omitempty,url"`
		FileName       *string  `json:"fileName"`
		FileSize       *int64   `json:"fileSize" validate:"omitempty,min=0"`
		Duration       *float64 `json:"duration" validate:"omitempty,min=0"`
		ReplyTo        *string  `json:"replyTo"`
		ClientTempID   *string  `json:"clientTempId" validate:"omitempty,max=128"`
	}
	if err := bind(payload, &data); err != nil {
		return nil, err
	}

	message, err := v.messages.SendMessage(ctx, user.ID, services.SendMessageInput{
		ConversationID: data.ConversationID,
		Type:           data.Type,
		Content:        data.Content,
		MediaURL:       data.MediaURL,
		FileName:       data.FileName,
		FileSize:       data.FileSize,
		Duration:       data.Duration,
		ReplyTo:        data.ReplyTo,
		ClientTempID:   data.ClientTempID,
	})
	if err != nil {
		return nil, err
	}
	return models.MessageSentPayload{Message: message, ClientTempID: data.ClientTempID}, nil
}

func (v *Gateway) setTyping(ctx context.Context, _ *realtime.Conn, user models.Account, payload jsoniter.RawMessage) (any, error) {
	var data struct {
		ConversationID string `json:"conversationId" validate:"required"`
		IsTyping       *bool  `json:"isTyping"`
	}
	if err := bind(payload, &data); err != nil {
		return nil, err
	}
	delivered, err := v.messages.SetTyping(ctx, data.ConversationID, user.ID, lo.FromPtrOr(data.IsTyping, true))
	if err != nil {
		return nil, err
	}
	return map[string]int{"delivered": delivered}, nil
}

func (v *Gateway) markRead(ctx context.Context, _ *realtime.Conn, user models.Account, payload jsoniter.RawMessage) (any, error) {
	var data struct {
		ConversationID string `json:"conversationId" validate:"required"`
		MessageID      string `json:"messageId" validate:"required"`
	}
	if err := bind(payload, &data); err != nil {
		return nil, err
	}
	return nil, v.messages.MarkRead(ctx, data.ConversationID, data.MessageID, user.ID)
}

func (v *Gateway) initiateCall(ctx context.Context, _ *realtime.Conn, user models.Account, payload jsoniter.RawMessage) (any, error) {
	var data struct {
		CallType       string   `json:"callType" validate:"required"`
		ParticipantIDs []string `json:"participantIds"`
		ConversationID *string  `json:"conversationId"`
		CallerName     string   `json:"callerName" validate:"max=256"`
	}
	if err := bind(payload, &data); err != nil {
		return nil, err
	}
	if len(user.Name) == 0 {
		user.Name = data.CallerName
	}
	return v.calls.InitiateCall(ctx, user, services.InitiateCallInput{
		CallType:       data.CallType,
		ParticipantIDs: data.ParticipantIDs,
		ConversationID: data.ConversationID,
	})
}

type sessionPayload struct {
	SessionID string `json:"sessionId" validate:"required"`
}

func (v *Gateway) acceptCall(ctx context.Context, _ *realtime.Conn, user models.Account, payload jsoniter.RawMessage) (any, error) {
	var data sessionPayload
	if err := bind(payload, &data); err != nil {
		return nil, err
	}
	return v.calls.AcceptAndConnect(ctx, data.SessionID, user)
}

func (v *Gateway) rejectCall(ctx context.Context, _ *realtime.Conn, user models.Account, payload jsoniter.RawMessage) (any, error) {
	var data sessionPayload
	if err := bind(payload, &data); err != nil {
		return nil, err
	}
	return v.calls.RejectCall(ctx, data.SessionID, user.ID)
}

func (v *Gateway) cancelCall(ctx context.Context, _ *realtime.Conn, user models.Account, payload jsoniter.RawMessage) (any, error) {
	var data sessionPayload
	if err := bind(payload, &data); err != nil {
		return nil, err
	}
	return v.calls.CancelCall(ctx, data.SessionID, user.ID)
}

func (v *Gateway) leaveCall(ctx context.Context, conn *realtime.Conn, user models.Account, payload jsoniter.RawMessage) (any, error) {
	var data struct {
		SessionID  string  `json:"sessionId" validate:"required"`
		NewOwnerID *string `json:"newOwnerId"`
	}
	if err := bind(payload, &data); err != nil {
		return nil, err
	}
	result, err := v.calls.LeaveCall(ctx, data.SessionID, user.ID, data.NewOwnerID)
	if err != nil {
		return nil, err
	}
	v.hub.Leave(conn, realtime.CallChannel(data.SessionID))
	return result, nil
}

func (v *Gateway) endCall(ctx context.Context, _ *realtime.Conn, user models.Account, payload jsoniter.RawMessage) (any, error) {
	var data sessionPayload
	if err := bind(payload, &data); err != nil {
		return nil, err
	}
	return v.calls.EndCall(ctx, data.SessionID, user.ID)
}

type channelPayload struct {
	Channel string `json:"channel" validate:"required"`
}

func (v *Gateway) joinChannel(ctx context.Context, conn *realtime.Conn, user models.Account, payload jsoniter.RawMessage) (any, error) {
	var data channelPayload
	if err := bind(payload, &data); err != nil {
		return nil, err
	}

	prefix, id, ok := realtime.ParseChannel(data.Channel)
	if !ok {
		return nil, services.NewError(services.KindInvalidArgument, "malformed channel name %q", data.Channel)
	}
	switch prefix {
	case realtime.PrefixConversation:
		if err := v.joinConversation(ctx, conn, user, id); err != nil {
			return nil, err
		}
	case realtime.PrefixCall:
		call, err := v.calls.GetCall(ctx, id, user.ID)
		if err != nil {
			return nil, err
		} else if models.IsTerminalCallStatus(call.Status) {
			return nil, &services.Error{
				Kind:    services.KindConflict,
				Message: "call is already over, current status: " + call.Status,
				Status:  call.Status,
			}
		}
		v.hub.Join(conn, data.Channel)
	case realtime.PrefixUser:
		if id != user.ID {
			return nil, services.NewError(services.KindForbidden, "you cannot subscribe to another user's mailbox")
		}
	default:
		return nil, services.NewError(services.KindInvalidArgument, "unknown channel kind %q", prefix)
	}
	return channelPayload{Channel: data.Channel}, nil
}

func (v *Gateway) joinConversation(ctx context.Context, conn *realtime.Conn, user models.Account, conversationId string) error {
	if _, err := v.conversations.GetConversation(ctx, conversationId, user.ID); err != nil {
		return err
	}
	v.hub.Join(conn, realtime.ConversationChannel(conversationId))
	return nil
}

func (v *Gateway) leaveChannel(_ context.Context, conn *realtime.Conn, user models.Account, payload jsoniter.RawMessage) (any, error) {
	var data channelPayload
	if err := bind(payload, &data); err != nil {
		return nil, err
	}
	if data.Channel == realtime.UserChannel(user.ID) {
		return nil, services.NewError(services.KindInvalidArgument, "the user mailbox cannot be left")
	}
	v.hub.Leave(conn, data.Channel)
	return channelPayload{Channel: data.Channel}, nil
}

func (v *Gateway) ping(_ context.Context, _ *realtime.Conn, _ models.Account, _ jsoniter.RawMessage) (any, error) {
	return map[string]any{"pong": time.Now().UnixMilli()}, nil
}
