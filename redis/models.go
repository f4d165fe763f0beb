package redis

import (
	"time"

	"github.com/share-dish/chat-backend/api"
)

// A message represents a cached chat message.
type message struct {
	ID        string    `redis:"id"`
	ChatID    string    `redis:"chat_id"`
	SenderID  string    `redis:"sender_id"`
	Text      string    `redis:"text"`
	CreatedAt time.Time `redis:"created_at"`
}

func (m message) APIMessage() api.Message {
	return api.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Text:      m.Text,
		CreatedAt: m.CreatedAt,
	}
}
