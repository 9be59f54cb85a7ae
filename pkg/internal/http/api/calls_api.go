package api

import (
	"git.solsynth.dev/hypernet/kolab/pkg/internal/http/exts"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
)

func (v *Server) startCall(c *fiber.Ctx) error {
	user := exts.GetUser(c)

	var data struct {
		CallType       string   `json:"callType" validate:"required"`
		ParticipantIDs []string `json:"participantIds"`
		ConversationID *string  `json:"conversationId"`
		CallerName     string   `json:"callerName" validate:"max=256"`
	}

	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}
	if len(user.Name) == 0 {
		user.Name = data.CallerName
	}

	call, err := v.Calls.InitiateCall(c.Context(), user, services.InitiateCallInput{
		CallType:       data.CallType,
		ParticipantIDs: data.ParticipantIDs,
		ConversationID: data.ConversationID,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(call)
}

func (v *Server) getCall(c *fiber.Ctx) error {
	user := exts.GetUser(c)

	if call, err := v.Calls.GetCall(c.Context(), c.Params("session"), user.ID); err != nil {
		return err
	} else {
		return c.JSON(call)
	}
}

func (v *Server) acceptCall(c *fiber.Ctx) error {
	user := exts.GetUser(c)

	if result, err := v.Calls.AcceptAndConnect(c.Context(), c.Params("session"), user); err != nil {
		return err
	} else {
		return c.JSON(result)
	}
}

func (v *Server) rejectCall(c *fiber.Ctx) error {
	user := exts.GetUser(c)

	if call, err := v.Calls.RejectCall(c.Context(), c.Params("session"), user.ID); err != nil {
		return err
	} else {
		return c.JSON(call)
	}
}

func (v *Server) cancelCall(c *fiber.Ctx) error {
	user := exts.GetUser(c)

	if call, err := v.Calls.CancelCall(c.Context(), c.Params("session"), user.ID); err != nil {
		return err
	} else {
		return c.JSON(call)
	}
}

func (v *Server) leaveCall(c *fiber.Ctx) error {
	user := exts.GetUser(c)

	var data struct {
		NewOwnerID *string `json:"newOwnerId"`
	}
	if len(c.Body()) > 0 {
		if err := exts.BindAndValidate(c, &data); err != nil {
			return err
		}
	}

	if result, err := v.Calls.LeaveCall(c.Context(), c.Params("session"), user.ID, data.NewOwnerID); err != nil {
		return err
	} else {
		return c.JSON(result)
	}
}

func (v *Server) endCall(c *fiber.Ctx) error {
	user := exts.GetUser(c)

	if call, err := v.Calls.EndCall(c.Context(), c.Params("session"), user.ID); err != nil {
		return err
	} else {
		return c.JSON(call)
	}
}
