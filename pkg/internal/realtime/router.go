package realtime

import (
	"strings"
	"sync"

	"git.solsynth.dev/hypernet/kolab/pkg/internal/metrics"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const (
	PrefixUser         = "user"
	PrefixCall         = "call"
	PrefixConversation = "conversation"
)

func ChannelName(prefix, id string) string {
	return prefix + ":" + id
}

func UserChannel(userId string) string {
	return ChannelName(PrefixUser, userId)
}

func CallChannel(sessionId string) string {
	return ChannelName(PrefixCall, sessionId)
}

func ConversationChannel(conversationId string) string {
	return ChannelName(PrefixConversation, conversationId)
}

// ParseChannel splits a channel name into its prefix and id.
func ParseChannel(channel string) (string, string, bool) {
	prefix, id, ok := strings.Cut(channel, ":")
	if !ok || len(prefix) == 0 || len(id) == 0 {
		return "", "", false
	}
	return prefix, id, true
}

// Hub is both the connection registry and the channel router.
//
// Lock order is connection first, hub second. A connection is added to its own
// channel set before it becomes a subscriber and removed from the subscriber set
// before it forgets the channel, so a subscriber always has the matching entry.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*Conn
	channels map[string]map[string]*Conn

	bufferSize int
}

func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		conns:      make(map[string]*Conn),
		channels:   make(map[string]map[string]*Conn),
		bufferSize: bufferSize,
	}
}

// Register records a new connection of an authenticated user and joins its mailbox.
func (h *Hub) Register(userId string) *Conn {
	c := newConn(uuid.NewString(), userId, h.bufferSize)

	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()

	h.Join(c, UserChannel(userId))
	metrics.OpenConnections.Inc()

	log.Debug().Str("conn", c.ID).Str("user", userId).Msg("Realtime connection registered.")
	return c
}

// Unregister removes the connection from every channel. Calling it twice is harmless.
func (h *Hub) Unregister(c *Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true

	h.mu.Lock()
	for channel := range c.channels {
		h.removeSubscriber(channel, c)
	}
	delete(h.conns, c.ID)
	h.mu.Unlock()

	c.channels = make(map[string]struct{})
	close(c.done)
	metrics.OpenConnections.Dec()

	log.Debug().Str("conn", c.ID).Str("user", c.UserID).Msg("Realtime connection unregistered.")
}

// Join subscribes the connection, it reports false once the connection is closed.
func (h *Hub) Join(c *Conn, channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.channels[channel] = struct{}{}

	h.mu.Lock()
	subscribers, ok := h.channels[channel]
	if !ok {
		subscribers = make(map[string]*Conn)
		h.channels[channel] = subscribers
	}
	subscribers[c.ID] = c
	h.mu.Unlock()
	return true
}

func (h *Hub) Leave(c *Conn, channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h.mu.Lock()
	h.removeSubscriber(channel, c)
	h.mu.Unlock()

	delete(c.channels, channel)
}

// CloseChannel drops every subscriber of a channel.
func (h *Hub) CloseChannel(channel string) {
	h.mu.Lock()
	subscribers := h.channels[channel]
	delete(h.channels, channel)
	h.mu.Unlock()

	for _, c := range subscribers {
		c.mu.Lock()
		delete(c.channels, channel)
		c.mu.Unlock()
	}
}

func (h *Hub) removeSubscriber(channel string, c *Conn) {
	if subscribers, ok := h.channels[channel]; ok {
		delete(subscribers, c.ID)
		if len(subscribers) == 0 {
			delete(h.channels, channel)
		}
	}
}

// Publish encodes the event once and hands it to every current subscriber without blocking.
// It returns how many connections accepted the event.
func (h *Hub) Publish(channel string, event models.UnifiedCommand) int {
	h.mu.RLock()
	subscribers := lo.Values(h.channels[channel])
	h.mu.RUnlock()
	return h.fanOut(subscribers, channel, event)
}

// Broadcast delivers the event once to each connection subscribed to any of the channels.
// Connections of skipUserId are left out.
func (h *Hub) Broadcast(channels []string, skipUserId string, event models.UnifiedCommand) int {
	targets := make(map[string]*Conn)
	h.mu.RLock()
	for _, channel := range channels {
		for id, c := range h.channels[channel] {
			if c.UserID != skipUserId {
				targets[id] = c
			}
		}
	}
	h.mu.RUnlock()
	return h.fanOut(lo.Values(targets), strings.Join(channels, ","), event)
}

func (h *Hub) fanOut(subscribers []*Conn, channel string, event models.UnifiedCommand) int {
	if len(subscribers) == 0 {
		return 0
	}

	packet := event.Marshal()
	delivered := 0
	for _, c := range subscribers {
		if c.deliver(packet) {
			delivered++
		} else {
			metrics.EventsDropped.WithLabelValues(event.Action).Inc()
			log.Warn().
				Str("conn", c.ID).
				Str("channel", channel).
				Str("event", event.Action).
				Msg("Dropped realtime event, subscriber is not keeping up.")
		}
	}
	metrics.EventsPublished.WithLabelValues(event.Action).Add(float64(delivered))
	return delivered
}

// PublishToUsers publishes the same event to the prefix:<userId> channel of every user.
func (h *Hub) PublishToUsers(userIds []string, prefix string, event models.UnifiedCommand) int {
	delivered := 0
	for _, userId := range lo.Uniq(userIds) {
		delivered += h.Publish(ChannelName(prefix, userId), event)
	}
	return delivered
}

func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

func (h *Hub) CheckOnline(userId string) bool {
	return h.Subscribers(UserChannel(userId)) > 0
}

func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
