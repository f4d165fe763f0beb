// Package relay implements the real-time chat relay: a WebSocket
// endpoint through which clients join per-post chat rooms and personal
// notification rooms, send messages, and receive fan-out events.
//
// Messages are persisted before anything is broadcast. A client never
// observes a message that a crash could later erase.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/share-dish/chat-backend/api"
	"github.com/share-dish/chat-backend/api/validator"
)

// A Store persists chat messages. SendMessage locates or creates the
// chat for (postID, pair of users) and appends atomically; the returned
// message carries the server-assigned timestamp.
type Store interface {
	SendMessage(ctx context.Context, postID, senderID, receiverID, text string) (api.Message, error)
}

// A Users store resolves display names for notifications.
type Users interface {
	GetUserName(ctx context.Context, userID string) (string, error)
}

// A Cache receives appended messages so the REST read path's cache
// stays warm. Cache failures never fail a send.
type Cache interface {
	InsertMessage(ctx context.Context, msg api.Message) error
}

// Relay accepts WebSocket connections and relays chat messages between
// them.
type Relay struct {
	Logger *slog.Logger
	Store  Store
	Users  Users
	Cache  Cache // optional
	Val    *validator.Validator

	hub      *Hub
	upgrader websocket.Upgrader
}

// New creates a relay and starts its hub. The hub runs until ctx is
// cancelled. rdb enables the cross-instance bridge and may be nil.
func New(ctx context.Context, logger *slog.Logger, store Store, users Users, cache Cache, val *validator.Validator, rdb *redis.Client) *Relay {
	return &Relay{
		Logger: logger,
		Store:  store,
		Users:  users,
		Cache:  cache,
		Val:    val,
		hub:    NewHub(ctx, logger, rdb),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Presence exposes the hub's presence registry.
func (r *Relay) Presence() *Presence {
	return r.hub.Presence()
}

// ServeHTTP upgrades the connection and starts the client pumps.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.Logger.Error("Upgrade failed", "error", err.Error())
		return
	}
	r.Logger.Info("Connection opened", "remote", conn.RemoteAddr().String())

	c := &Client{
		relay: r,
		conn:  conn,
		send:  make(chan []byte, 256),
	}
	go c.writePump()
	go c.readPump(context.Background())
}

// handleSend runs the send-message operation for one inbound event:
// check the sender identity, persist, then fan out. Persistence
// failures abort the whole operation; no partial broadcast occurs.
func (r *Relay) handleSend(ctx context.Context, c *Client, data SendMessage) {
	if c.userID == "" {
		c.sendError("User not authenticated")
		return
	}

	msg, err := r.Store.SendMessage(ctx, data.PostID, c.userID, data.ReceiverID, data.Text)
	if err != nil {
		if errors.Is(err, api.ErrChatBlocked) {
			c.sendError("Chat is blocked")
			return
		}
		r.Logger.Error("Could not save message", "post_id", data.PostID, "error", err.Error())
		c.sendError("Failed to save message")
		return
	}

	if r.Cache != nil {
		if err := r.Cache.InsertMessage(ctx, msg); err != nil {
			r.Logger.Error("Could not cache message", "error", err.Error())
		}
	}

	senderName, err := r.Users.GetUserName(ctx, c.userID)
	if err != nil {
		r.Logger.Error("Could not resolve sender name", "user_id", c.userID, "error", err.Error())
		senderName = "Someone"
	}

	// Conversation update to everyone viewing the post room.
	payload, err := encodeEvent(EventReceiveMessage, ReceiveMessage{
		Sender:    c.userID,
		Text:      data.Text,
		CreatedAt: msg.CreatedAt,
	})
	if err != nil {
		r.Logger.Error("Could not encode event", "error", err.Error())
		return
	}
	r.hub.Broadcast(ctx, data.PostID, payload)

	// Truncated notification to the receiver's personal room. Sent
	// regardless of whether the receiver is viewing the conversation;
	// clients deduplicate.
	notif, err := encodeEvent(EventNewMessage, NewMessage{
		SenderID:   c.userID,
		SenderName: senderName,
		PostID:     data.PostID,
		Text:       preview(data.Text),
		Timestamp:  msg.CreatedAt,
	})
	if err != nil {
		r.Logger.Error("Could not encode event", "error", err.Error())
		return
	}
	r.hub.Broadcast(ctx, userRoom(data.ReceiverID), notif)
}
