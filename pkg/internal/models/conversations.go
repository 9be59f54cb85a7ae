package models

import (
	"time"

	"github.com/samber/lo"
	"gorm.io/datatypes"
)

type ConversationType = string

const (
	ConversationTypeDirect = ConversationType("DM")
	ConversationTypeGroup  = ConversationType("GROUP")
)

type Conversation struct {
	ID            string                      `json:"conversationId" gorm:"primaryKey;size:160"`
	Type          ConversationType            `json:"type" gorm:"size:16"`
	Name          string                      `json:"name"`
	Description   string                      `json:"description"`
	Avatar        *string                     `json:"avatar"`
	Participants  datatypes.JSONSlice[string] `json:"participants"`
	Admins        datatypes.JSONSlice[string] `json:"admins"`
	CreatedBy     string                      `json:"createdBy" gorm:"size:64"`
	CreatedAt     time.Time                   `json:"createdAt"`
	UpdatedAt     time.Time                   `json:"updatedAt"`
	LastMessageAt *time.Time                  `json:"lastMessageAt" gorm:"index"`
}

func (v Conversation) HasParticipant(userId string) bool {
	return lo.Contains(v.Participants, userId)
}

func (v Conversation) IsAdmin(userId string) bool {
	return lo.Contains(v.Admins, userId)
}

// Others returns every participant except the given user.
func (v Conversation) Others(userId string) []string {
	return lo.Without(v.Participants, userId)
}
