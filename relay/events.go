package relay

import (
	"encoding/json"
	"time"
)

// Event names carried in the wire envelope. The client-to-server events
// mirror what the web client emits; the server-to-client events are the
// two fan-out channels plus the per-connection error channel.
const (
	EventJoinUserRoom   = "joinUserRoom"
	EventJoinRoom       = "joinRoom"
	EventSendMessage    = "sendMessage"
	EventReceiveMessage = "receiveMessage"
	EventNewMessage     = "newMessage"
	EventError          = "error"
)

// An Envelope frames every message on the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JoinUserRoom subscribes the connection to the user's personal
// notification room.
type JoinUserRoom struct {
	UserID string `json:"userId" validate:"required"`
}

// JoinRoom subscribes the connection to a post's chat room and records
// the user as the connection's sender identity.
type JoinRoom struct {
	PostID string `json:"postId" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

// SendMessage asks the relay to persist and fan out a message.
type SendMessage struct {
	PostID     string `json:"postId" validate:"required"`
	ReceiverID string `json:"receiverId" validate:"required"`
	Text       string `json:"text" validate:"required"`
}

// ReceiveMessage is broadcast to everyone in the post room, including
// the sender's own connections.
type ReceiveMessage struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage is the truncated notification delivered to the receiver's
// personal room, whether or not they are viewing the conversation.
type NewMessage struct {
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	PostID     string    `json:"postId"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrorEvent is reported only to the connection that caused it.
type ErrorEvent struct {
	Message string `json:"message"`
}

func encodeEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// userRoom names the personal notification room of a user.
func userRoom(userID string) string {
	return "user_" + userID
}

// previewLen is the number of characters kept in a notification
// preview.
const previewLen = 50

// preview truncates text to the first previewLen characters and adds an
// ellipsis when the original is longer. Counted in runes so a multibyte
// character is never split.
func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLen {
		return text
	}
	return string(runes[:previewLen]) + "..."
}
