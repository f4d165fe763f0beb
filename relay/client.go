package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// A Client is one WebSocket connection. Its read pump processes inbound
// events strictly one at a time, so the persistence call of one send
// completes before the next event on this connection is handled.
type Client struct {
	relay *Relay
	conn  *websocket.Conn
	send  chan []byte

	// userID is the sender identity for this connection, set by the
	// most recent joinRoom. Only the read pump touches it.
	userID string
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.relay.hub.Unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.relay.Logger.Error("Read failed", "error", err.Error())
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.sendError("Invalid message envelope")
			continue
		}
		c.handleEvent(ctx, env)
	}
}

func (c *Client) handleEvent(ctx context.Context, env Envelope) {
	switch env.Event {
	case EventJoinUserRoom:
		var data JoinUserRoom
		if !c.decode(env.Data, &data) {
			return
		}
		c.relay.hub.JoinUserRoom(data.UserID, c)

	case EventJoinRoom:
		var data JoinRoom
		if !c.decode(env.Data, &data) {
			return
		}
		// Last joinRoom wins as the sender identity; the client
		// protocol has no verification of the claimed user.
		c.userID = data.UserID
		c.relay.hub.JoinRoom(data.PostID, c)

	case EventSendMessage:
		var data SendMessage
		if !c.decode(env.Data, &data) {
			return
		}
		c.relay.handleSend(ctx, c, data)

	default:
		c.sendError("Unknown event")
	}
}

// decode unmarshals and validates an event payload, reporting an error
// event to this connection on failure.
func (c *Client) decode(raw json.RawMessage, data any) bool {
	if err := json.Unmarshal(raw, data); err != nil {
		c.sendError("Invalid event payload")
		return false
	}
	if errs := c.relay.Val.ValidateStruct(data); len(errs) > 0 {
		c.sendError("Missing required fields")
		return false
	}
	return true
}

// sendError reports an error to this connection only. Other subscribers
// never see it.
func (c *Client) sendError(msg string) {
	payload, err := encodeEvent(EventError, ErrorEvent{Message: msg})
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
