package postgres

import (
	"time"

	"github.com/share-dish/chat-backend/api"
)

// A chat represents a conversation row. The two participants are stored
// in normalized order (UserA < UserB) so the unique index on
// (post_id, user_a, user_b) enforces at most one chat per post and
// pair of users.
type chat struct {
	ID        string        `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	PostID    string        `bun:",notnull"`
	UserA     string        `bun:",notnull"`
	UserB     string        `bun:",notnull"`
	BlockedBy string        `bun:",nullzero"`
	CreatedAt time.Time     `bun:",nullzero,default:now()"`
	Messages  []chatMessage `bun:"rel:has-many,join:id=chat_id"`
}

// A chatMessage represents a single message row, append-only.
type chatMessage struct {
	ID          string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	ChatID      string    `bun:",notnull"`
	SenderID    string    `bun:",notnull"`
	MessageText string    `bun:"message_text,notnull"`
	CreatedAt   time.Time `bun:",nullzero,default:now()"`
}

// A user is the slice of the marketplace's user record this subsystem
// reads: display name only.
type user struct {
	ID        string `bun:",pk,type:uuid"`
	FirstName string `bun:",notnull"`
	LastName  string `bun:",notnull"`
}

type report struct {
	ID         string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	ChatID     string    `bun:",notnull"`
	ReporterID string    `bun:",notnull"`
	Reason     string    `bun:",notnull"`
	CreatedAt  time.Time `bun:",nullzero,default:now()"`
}

func (c chat) APIChat() api.Chat {
	msgs := make([]api.Message, len(c.Messages))
	for i, m := range c.Messages {
		msgs[i] = m.APIMessage()
	}

	return api.Chat{
		ID:        c.ID,
		PostID:    c.PostID,
		UserIDs:   []string{c.UserA, c.UserB},
		Messages:  msgs,
		BlockedBy: c.BlockedBy,
		CreatedAt: c.CreatedAt,
	}
}

func (m chatMessage) APIMessage() api.Message {
	return api.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Text:      m.MessageText,
		CreatedAt: m.CreatedAt,
	}
}

func (r report) APIReport() api.Report {
	return api.Report{
		ID:         r.ID,
		ChatID:     r.ChatID,
		ReporterID: r.ReporterID,
		Reason:     r.Reason,
		CreatedAt:  r.CreatedAt,
	}
}
