package api

import (
	"git.solsynth.dev/hypernet/kolab/pkg/internal/http/exts"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/http/ws"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
)

type Server struct {
	Auth          *services.Authenticator
	Conversations *services.ConversationService
	Messages      *services.MessageService
	Calls         *services.CallService
	Gateway       *ws.Gateway
}

func (v *Server) MapAPIs(app *fiber.App, baseURL string) {
	api := app.Group(baseURL).Name("API")
	{
		if v.Gateway != nil {
			api.Get("/ws", v.Gateway.Upgrade, v.Gateway.Handler())
		}

		authenticated := exts.AuthMiddleware(v.Auth)

		conversations := api.Group("/conversations", authenticated).Name("Conversations API")
		{
			conversations.Get("/", v.listConversations)
			conversations.Post("/", v.createConversation)
			conversations.Get("/:conversationId", v.getConversation)
			conversations.Get("/:conversationId/messages", v.listMessages)
			conversations.Post("/:conversationId/messages", v.sendMessage)
			conversations.Delete("/:conversationId/messages/:messageId", v.deleteMessage)
			conversations.Post("/:conversationId/messages/:messageId/read", v.markRead)
			conversations.Post("/:conversationId/typing", v.setTyping)
		}

		calls := api.Group("/calls", authenticated).Name("Calls API")
		{
			calls.Post("/", v.startCall)
			calls.Get("/:session", v.getCall)
			calls.Post("/:session/accept", v.acceptCall)
			calls.Post("/:session/reject", v.rejectCall)
			calls.Post("/:session/cancel", v.cancelCall)
			calls.Post("/:session/leave", v.leaveCall)
			calls.Post("/:session/end", v.endCall)
		}
	}
}
