package api

import (
	"time"

	"git.solsynth.dev/hypernet/kolab/pkg/internal/http/exts"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/models"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
)

func (v *Server) listMessages(c *fiber.Ctx) error {
	user := exts.GetUser(c)
	take := c.QueryInt("take", 0)

	var before *time.Time
	if raw := c.Query("before"); len(raw) > 0 {
		cursor, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "before must be a RFC3339 timestamp")
		}
		before = &cursor
	}

	messages, err := v.Messages.GetMessages(c.Context(), c.Params("conversationId"), user.ID, before, take)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"count": len(messages),
		"data":  messages,
	})
}

func (v *Server) sendMessage(c *fiber.Ctx) error {
	user := exts.GetUser(c)

	var data struct {
		Type         string   `json:"type"`
		Content      string   `json:"content" validate:"max=8192"`
		MediaURL     *string  `json:"mediaUrl" validate:"omitempty,url"`
		FileName     *string  `json:"fileName"`
		FileSize     *int64   `json:"fileSize" validate:"omitempty,min=0"`
		Duration     *float64 `json:"duration" validate:"omitempty,min=0"`
		ReplyTo      *string  `json:"replyTo"`
		ClientTempID *string  `json:"clientTempId" validate:"omitempty,max=128"`
	}

	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	message, err := v.Messages.SendMessage(c.Context(), user.ID, services.SendMessageInput{
		ConversationID: c.Params("conversationId"),
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
		return err
	}

	return c.JSON(models.MessageSentPayload{Message: message, ClientTempID: data.ClientTempID})
}

func (v *Server) deleteMessage(c *fiber.Ctx) error {
	user := exts.GetUser(c)

	if err := v.Messages.DeleteMessage(c.Context(), c.Params("conversationId"), c.Params("messageId"), user.ID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusOK)
}

func (v *Server) markRead(c *fiber.Ctx) error {
	user := exts.GetUser(c)

	if err := v.Messages.MarkRead(c.Context(), c.Params("conversationId"), c.Params("messageId"), user.ID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (v *Server) setTyping(c *fiber.Ctx) error {
	user := exts.GetUser(c)

	var data struct {
		IsTyping *bool `json:"isTyping"`
	}
	if len(c.Body()) > 0 {
		if err := exts.BindAndValidate(c, &data); err != nil {
			return err
		}
	}

	isTyping := data.IsTyping == nil || *data.IsTyping
	delivered, err := v.Messages.SetTyping(c.Context(), c.Params("conversationId"), user.ID, isTyping)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"delivered": delivered})
}
