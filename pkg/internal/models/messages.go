package models

import (
	"time"

	"gorm.io/datatypes"
)

type MessageType = string

const (
	MessageTypeText  = MessageType("TEXT")
	MessageTypeAudio = MessageType("AUDIO")
	MessageTypeImage = MessageType("IMAGE")
	MessageTypeVideo = MessageType("VIDEO")
	MessageTypeFile  = MessageType("FILE")
)

var MessageTypes = []MessageType{
	MessageTypeText,
	MessageTypeAudio,
	MessageTypeImage,
	MessageTypeVideo,
	MessageTypeFile,
}

// MessageReactions maps an emoji to the users who reacted with it.
type MessageReactions = map[string][]string

// Message is keyed by (ConversationID, Timestamp). Seq breaks ordering ties inside one conversation.
type Message struct {
	ConversationID string                               `json:"conversationId" gorm:"primaryKey;size:160"`
	Timestamp      time.Time                            `json:"timestamp" gorm:"primaryKey"`
	Seq            int64                                `json:"seq" gorm:"index"`
	MessageID      string                               `json:"messageId" gorm:"uniqueIndex;size:64"`
	SenderID       string                               `json:"senderId" gorm:"size:64"`
	Type           MessageType                          `json:"type" gorm:"size:16"`
	Content        string                               `json:"content"`
	MediaURL       *string                              `json:"mediaUrl"`
	FileName       *string                              `json:"fileName"`
	FileSize       *int64                               `json:"fileSize"`
	Duration       *float64                             `json:"duration"`
	ReplyTo        *string                              `json:"replyTo"`
	ReadBy         datatypes.JSONSlice[string]          `json:"readBy"`
	Reactions      datatypes.JSONType[MessageReactions] `json:"reactions"`
	Deleted        bool                                 `json:"deleted"`
	CreatedAt      time.Time                            `json:"createdAt"`
}
