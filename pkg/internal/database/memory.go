package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"git.solsynth.dev/hypernet/kolab/pkg/internal/models"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// The memory stores mirror the per key atomicity of the relational backend.
// Every read hands out a copy, so callers can never mutate stored state in place.

type MemoryConversationStore struct {
	mu    sync.RWMutex
	items map[string]models.Conversation
}

func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{items: make(map[string]models.Conversation)}
}

func copyConversation(v models.Conversation) models.Conversation {
	v.Participants = append([]string(nil), v.Participants...)
	v.Admins = append([]string(nil), v.Admins...)
	if v.LastMessageAt != nil {
		v.LastMessageAt = lo.ToPtr(*v.LastMessageAt)
	}
	return v
}

func (v *MemoryConversationStore) Create(_ context.Context, conversation *models.Conversation) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.items[conversation.ID]; ok {
		return gorm.ErrDuplicatedKey
	}
	now := time.Now()
	if conversation.CreatedAt.IsZero() {
		conversation.CreatedAt = now
	}
	conversation.UpdatedAt = now
	v.items[conversation.ID] = copyConversation(*conversation)
	return nil
}

func (v *MemoryConversationStore) Get(_ context.Context, id string) (models.Conversation, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	item, ok := v.items[id]
	if !ok {
		return models.Conversation{}, gorm.ErrRecordNotFound
	}
	return copyConversation(item), nil
}

func (v *MemoryConversationStore) ListByParticipant(_ context.Context, userId string) ([]models.Conversation, error) {
	v.mu.RLock()
	var out []models.Conversation
	for _, item := range v.items {
		if item.HasParticipant(userId) {
			out = append(out, copyConversation(item))
		}
	}
	v.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (v *MemoryConversationStore) TouchLastMessage(_ context.Context, id string, at time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	item, ok := v.items[id]
	if !ok {
		return nil
	}
	if item.LastMessageAt == nil || item.LastMessageAt.Before(at) {
		item.LastMessageAt = lo.ToPtr(at)
		item.UpdatedAt = time.Now()
		v.items[id] = item
	}
	return nil
}

type MemoryMessageStore struct {
	mu    sync.RWMutex
	items map[string][]models.Message
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{items: make(map[string][]models.Message)}
}

func (v *MemoryMessageStore) Append(_ context.Context, message *models.Message) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	list := v.items[message.ConversationID]
	for _, item := range list {
		if item.Timestamp.Equal(message.Timestamp) || item.MessageID == message.MessageID {
			return gorm.ErrDuplicatedKey
		}
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}

	list = append(list, *message)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Timestamp.Equal(list[j].Timestamp) {
			return list[i].Seq < list[j].Seq
		}
		return list[i].Timestamp.Before(list[j].Timestamp)
	})
	v.items[message.ConversationID] = list
	return nil
}

func (v *MemoryMessageStore) Latest(_ context.Context, conversationId string) (*models.Message, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	list := v.items[conversationId]
	if len(list) == 0 {
		return nil, nil
	}
	return lo.ToPtr(list[len(list)-1]), nil
}

func (v *MemoryMessageStore) List(_ context.Context, conversationId string, before *time.Time, take int) ([]models.Message, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	list := v.items[conversationId]
	if before != nil {
		list = lo.Filter(list, func(item models.Message, _ int) bool {
			return item.Timestamp.Before(*before)
		})
	}
	if take > 0 && len(list) > take {
		list = list[len(list)-take:]
	}
	out := make([]models.Message, len(list))
	copy(out, list)
	return out, nil
}

func (v *MemoryMessageStore) Get(_ context.Context, conversationId, messageId string) (models.Message, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	item, ok := lo.Find(v.items[conversationId], func(item models.Message) bool {
		return item.MessageID == messageId
	})
	if !ok {
		return models.Message{}, gorm.ErrRecordNotFound
	}
	return item, nil
}

func (v *MemoryMessageStore) SoftDelete(_ context.Context, conversationId, messageId string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	list := v.items[conversationId]
	for idx := range list {
		if list[idx].MessageID == messageId {
			list[idx].Deleted = true
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (v *MemoryMessageStore) MarkRead(_ context.Context, conversationId, messageId, userId string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	list := v.items[conversationId]
	for idx := range list {
		if list[idx].MessageID != messageId {
			continue
		}
		if !lo.Contains(list[idx].ReadBy, userId) {
			readBy := make([]string, 0, len(list[idx].ReadBy)+1)
			readBy = append(readBy, list[idx].ReadBy...)
			list[idx].ReadBy = append(readBy, userId)
		}
		return nil
	}
	return gorm.ErrRecordNotFound
}

type MemoryCallStore struct {
	mu    sync.RWMutex
	items map[string]models.Call
}

func NewMemoryCallStore() *MemoryCallStore {
	return &MemoryCallStore{items: make(map[string]models.Call)}
}

func (v *MemoryCallStore) Create(_ context.Context, call *models.Call) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.items[call.SessionID]; ok {
		return gorm.ErrDuplicatedKey
	}
	now := time.Now()
	call.Version = 1
	if call.CreatedAt.IsZero() {
		call.CreatedAt = now
	}
	call.UpdatedAt = now
	v.items[call.SessionID] = call.Clone()
	return nil
}

func (v *MemoryCallStore) Get(_ context.Context, sessionId string) (models.Call, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	item, ok := v.items[sessionId]
	if !ok {
		return models.Call{}, gorm.ErrRecordNotFound
	}
	return item.Clone(), nil
}

func (v *MemoryCallStore) Save(_ context.Context, call *models.Call) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	item, ok := v.items[call.SessionID]
	if !ok || item.Version != call.Version {
		return ErrStaleRecord
	}
	call.Version++
	call.UpdatedAt = time.Now()
	v.items[call.SessionID] = call.Clone()
	return nil
}

func (v *MemoryCallStore) FindOngoing(_ context.Context, conversationId string) (models.Call, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var found *models.Call
	for _, item := range v.items {
		if item.ConversationID == nil || *item.ConversationID != conversationId {
			continue
		}
		if item.Status != models.CallStatusRinging && item.Status != models.CallStatusActive {
			continue
		}
		if found == nil || item.CreatedAt.After(found.CreatedAt) {
			found = lo.ToPtr(item.Clone())
		}
	}
	if found == nil {
		return models.Call{}, gorm.ErrRecordNotFound
	}
	return *found, nil
}

func (v *MemoryCallStore) ListRingingBefore(_ context.Context, deadline time.Time) ([]models.Call, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []models.Call
	for _, item := range v.items {
		if item.Status == models.CallStatusRinging && item.CreatedAt.Before(deadline) {
			out = append(out, item.Clone())
		}
	}
	return out, nil
}

func NewMemoryStores() Stores {
	return Stores{
		Conversations: NewMemoryConversationStore(),
		Messages:      NewMemoryMessageStore(),
		Calls:         NewMemoryCallStore(),
	}
}
