package ws

import (
	"context"
	"time"

	"git.solsynth.dev/hypernet/kolab/pkg/internal/http/exts"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/models"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/realtime"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/services"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

const (
	pingInterval   = 30 * time.Second
	writeTimeout   = 10 * time.Second
	commandTimeout = 30 * time.Second
)

// Gateway is the realtime endpoint. Every socket becomes one registered connection,
// outgoing packets are written by a single writer goroutine.
type Gateway struct {
	hub           *realtime.Hub
	auth          *services.Authenticator
	conversations *services.ConversationService
	messages      *services.MessageService
	calls         *services.CallService

	replyTimeout time.Duration
	handlers     map[string]commandHandler
}

func NewGateway(
	hub *realtime.Hub,
	auth *services.Authenticator,
	conversations *services.ConversationService,
	messages *services.MessageService,
	calls *services.CallService,
	replyTimeout time.Duration,
) *Gateway {
	if replyTimeout <= 0 {
		replyTimeout = 5 * time.Second
	}
	v := &Gateway{
		hub:           hub,
		auth:          auth,
		conversations: conversations,
		messages:      messages,
		calls:         calls,
		replyTimeout:  replyTimeout,
	}
	v.handlers = v.commandTable()
	return v
}

// Upgrade authenticates the handshake, nothing is registered for a rejected credential.
func (v *Gateway) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	account, err := v.auth.Identify(exts.ExtractToken(c))
	if err != nil {
		return err
	}
	c.Locals("user", account)
	c.Locals("roomId", c.Query("roomId"))
	return c.Next()
}

func (v *Gateway) Handler() fiber.Handler {
	return websocket.New(v.serve)
}

func (v *Gateway) serve(c *websocket.Conn) {
	user := c.Locals("user").(models.Account)
	conn := v.hub.Register(user.ID)

	if roomId, _ := c.Locals("roomId").(string); len(roomId) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		if err := v.joinConversation(ctx, conn, user, roomId); err != nil {
			log.Warn().Err(err).Str("user", user.ID).Str("room", roomId).Msg("Unable to join requested room on handshake.")
		}
		cancel()
	}

	written := make(chan struct{})
	go v.writeLoop(c, conn, written)

	for {
		_, packet, err := c.ReadMessage()
		if err != nil {
			break
		}
		v.dispatch(conn, user, packet)
	}

	v.hub.Unregister(conn)
	<-written
}

func (v *Gateway) writeLoop(c *websocket.Conn, conn *realtime.Conn, written chan struct{}) {
	defer close(written)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case packet := <-conn.Outbox():
			_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.WriteMessage(websocket.TextMessage, packet); err != nil {
				log.Debug().Err(err).Str("conn", conn.ID).Msg("Unable to write to websocket, closing.")
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}
