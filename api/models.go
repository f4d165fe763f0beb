package api

import (
	"errors"
	"time"
)

// Storage layer errors the REST handlers translate into HTTP statuses.
var (
	// ErrChatNotFound is returned when no chat exists for the given ID.
	ErrChatNotFound = errors.New("chat not found")
	// ErrChatBlocked is returned when a participant has blocked the chat.
	ErrChatBlocked = errors.New("chat is blocked")
)

// A Chat represents a persisted conversation between exactly two users
// about one post. At most one chat exists per (post, pair of users); it
// is created lazily on first send and deleted only by explicit user
// action.
type Chat struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	UserIDs   []string  `json:"user_ids"`
	Messages  []Message `json:"messages"`
	BlockedBy string    `json:"blocked_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// A Message represents a single persisted chat message. Messages are
// immutable once appended; CreatedAt is assigned by the server at
// append time.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// A Report represents a moderation report filed by one chat participant
// against the other.
type Report struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chat_id"`
	ReporterID string    `json:"reporter_id"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}
