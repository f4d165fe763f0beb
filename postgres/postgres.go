package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/share-dish/chat-backend/api"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Postgres provides the durable chat store in PostgreSQL.
type Postgres struct {
	bun *bun.DB
}

// Connect connects to the database and pings it to ensure the
// connection is working.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		bun: db,
	}, nil
}

// pairKey returns the two user IDs in normalized storage order, so a
// pair of users always maps to the same (user_a, user_b) columns.
func pairKey(userID1, userID2 string) (string, string) {
	if userID1 > userID2 {
		return userID2, userID1
	}
	return userID1, userID2
}

// ListChats returns all chats the user participates in, most recent
// first, with their messages in append order.
func (pg *Postgres) ListChats(ctx context.Context, userID string) ([]api.Chat, error) {
	var chats []chat
	err := pg.bun.NewSelect().
		Model(&chats).
		Relation("Messages", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("created_at ASC")
		}).
		Where("user_a = ? OR user_b = ?", userID, userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	out := make([]api.Chat, len(chats))
	for i, c := range chats {
		out[i] = c.APIChat()
	}
	return out, nil
}

// GetChat returns a single chat without its messages. The message
// history is served separately so the caller can merge in cached
// entries.
func (pg *Postgres) GetChat(ctx context.Context, chatID string) (api.Chat, error) {
	var c chat
	err := pg.bun.NewSelect().
		Model(&c).
		Where("id = ?", chatID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return api.Chat{}, api.ErrChatNotFound
		}
		return api.Chat{}, fmt.Errorf("scan: %w", err)
	}
	return c.APIChat(), nil
}

// ListMessages returns the messages of a chat in append order,
// excluding the given message IDs.
func (pg *Postgres) ListMessages(ctx context.Context, chatID string, excludeMsgIDs ...string) ([]api.Message, error) {
	var msgs []chatMessage
	q := pg.bun.NewSelect().
		Model(&msgs).
		Where("chat_id = ?", chatID).
		Order("created_at ASC")

	if len(excludeMsgIDs) > 0 {
		q = q.Where("id NOT IN (?)", bun.In(excludeMsgIDs))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	out := make([]api.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.APIMessage()
	}
	return out, nil
}

// SendMessage locates or lazily creates the chat for the given post and
// pair of users and appends a message to it. The append is a single
// insert; the returned message carries the server-assigned timestamp.
// Returns api.ErrChatBlocked if a participant has blocked the chat.
func (pg *Postgres) SendMessage(ctx context.Context, postID, senderID, receiverID, text string) (api.Message, error) {
	userA, userB := pairKey(senderID, receiverID)

	c, err := pg.findChat(ctx, postID, userA, userB)
	if errors.Is(err, sql.ErrNoRows) {
		// Lazily create the chat. ON CONFLICT DO NOTHING makes two
		// concurrent first-sends converge on the same row.
		_, err = pg.bun.NewInsert().
			Model(&chat{PostID: postID, UserA: userA, UserB: userB}).
			On("CONFLICT (post_id, user_a, user_b) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return api.Message{}, fmt.Errorf("insert chat: %w", err)
		}
		c, err = pg.findChat(ctx, postID, userA, userB)
	}
	if err != nil {
		return api.Message{}, fmt.Errorf("find chat: %w", err)
	}

	if c.BlockedBy != "" {
		return api.Message{}, api.ErrChatBlocked
	}

	m := &chatMessage{
		ChatID:      c.ID,
		SenderID:    senderID,
		MessageText: text,
	}
	if _, err := pg.bun.NewInsert().Model(m).Exec(ctx); err != nil {
		return api.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m.APIMessage(), nil
}

func (pg *Postgres) findChat(ctx context.Context, postID, userA, userB string) (chat, error) {
	var c chat
	err := pg.bun.NewSelect().
		Model(&c).
		Where("post_id = ?", postID).
		Where("user_a = ?", userA).
		Where("user_b = ?", userB).
		Scan(ctx)
	return c, err
}

// DeleteChat removes a chat and its messages. This is the only deletion
// path for chat history.
func (pg *Postgres) DeleteChat(ctx context.Context, chatID string) error {
	if _, err := pg.bun.NewDelete().
		Model((*chatMessage)(nil)).
		Where("chat_id = ?", chatID).
		Exec(ctx); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}

	res, err := pg.bun.NewDelete().
		Model((*chat)(nil)).
		Where("id = ?", chatID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return api.ErrChatNotFound
	}
	return nil
}

// BlockChat records that a participant blocked the chat. Subsequent
// sends into the chat fail with api.ErrChatBlocked.
func (pg *Postgres) BlockChat(ctx context.Context, chatID, userID string) error {
	res, err := pg.bun.NewUpdate().
		Model((*chat)(nil)).
		Set("blocked_by = ?", userID).
		Where("id = ?", chatID).
		Where("user_a = ? OR user_b = ?", userID, userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return api.ErrChatNotFound
	}
	return nil
}

// InsertReport stores a moderation report against a chat.
func (pg *Postgres) InsertReport(ctx context.Context, r api.Report) (api.Report, error) {
	if _, err := pg.GetChat(ctx, r.ChatID); err != nil {
		return api.Report{}, err
	}

	rm := &report{
		ChatID:     r.ChatID,
		ReporterID: r.ReporterID,
		Reason:     r.Reason,
	}
	if _, err := pg.bun.NewInsert().Model(rm).Exec(ctx); err != nil {
		return api.Report{}, fmt.Errorf("insert: %w", err)
	}
	return rm.APIReport(), nil
}

// GetUserName returns the display name of a user.
func (pg *Postgres) GetUserName(ctx context.Context, userID string) (string, error) {
	var u user
	err := pg.bun.NewSelect().
		Model(&u).
		Where("id = ?", userID).
		Scan(ctx)
	if err != nil {
		return "", fmt.Errorf("scan: %w", err)
	}
	return u.FirstName + " " + u.LastName, nil
}
