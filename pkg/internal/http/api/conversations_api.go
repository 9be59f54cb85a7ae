package api

import (
	"git.solsynth.dev/hypernet/kolab/pkg/internal/http/exts"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
)

func (v *Server) listConversations(c *fiber.Ctx) error {
	user := exts.GetUser(c)

	if conversations, err := v.Conversations.ListConversations(c.Context(), user.ID); err != nil {
		return err
	} else {
		return c.JSON(conversations)
	}
}

func (v *Server) getConversation(c *fiber.Ctx) error {
	user := exts.GetUser(c)

	if conversation, err := v.Conversations.GetConversation(c.Context(), c.Params("conversationId"), user.ID); err != nil {
		return err
	} else {
		return c.JSON(conversation)
	}
}

func (v *Server) createConversation(c *fiber.Ctx) error {
	user := exts.GetUser(c)

	var data struct {
		Type         string   `json:"type" validate:"required"`
		Name         string   `json:"name" validate:"max=256"`
		Description  string   `json:"description" validate:"max=4096"`
		Avatar       *string  `json:"avatar"`
		Participants []string `json:"participants" validate:"required,min=1"`
	}

	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	conversation, err := v.Conversations.CreateConversation(c.Context(), user.ID, services.CreateConversationInput{
		Type:         data.Type,
		Name:         data.Name,
		Description:  data.Description,
		Avatar:       data.Avatar,
		Participants: data.Participants,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(conversation)
}
