package relay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// bridgeChannelPrefix namespaces the Redis pub/sub channels used for
// cross-instance room delivery.
const bridgeChannelPrefix = "room:"

// A Hub owns room membership and the presence registry. All mutations
// arrive over channels and are applied by the single run goroutine, so
// no event ever observes a half-applied join or leave.
//
// When a Redis client is configured, every broadcast is also published
// so relay instances behind a load balancer deliver each other's room
// events. Local delivery never depends on Redis.
type Hub struct {
	logger   *slog.Logger
	rdb      *redis.Client
	instance string

	// ctx bounds the lifetime of the run and bridge goroutines; channel
	// sends bail out once it is done so late callers never block on a
	// stopped loop.
	ctx context.Context

	presence *Presence
	rooms    map[string]map[*Client]struct{}

	joins      chan roomJoin
	unregister chan *Client
	broadcasts chan roomMessage
}

type roomJoin struct {
	room   string
	userID string // non-empty for personal-room joins, recorded in presence
	client *Client
}

type roomMessage struct {
	room    string
	payload []byte
}

// bridgeEnvelope is the wire format on the Redis bridge. Origin lets an
// instance skip its own publications, which it has already delivered
// locally.
type bridgeEnvelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

// NewHub creates a hub and starts its event loop. The loop stops when
// ctx is cancelled. rdb may be nil, in which case the hub is
// single-instance.
func NewHub(ctx context.Context, logger *slog.Logger, rdb *redis.Client) *Hub {
	h := &Hub{
		logger:     logger,
		rdb:        rdb,
		instance:   newInstanceID(),
		ctx:        ctx,
		presence:   NewPresence(),
		rooms:      make(map[string]map[*Client]struct{}),
		joins:      make(chan roomJoin),
		unregister: make(chan *Client),
		broadcasts: make(chan roomMessage, 256),
	}
	go h.run()
	if h.rdb != nil {
		go h.runBridge()
	}
	return h
}

func newInstanceID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// JoinUserRoom subscribes the connection to the user's personal room
// and records it in the presence registry.
func (h *Hub) JoinUserRoom(userID string, c *Client) {
	select {
	case h.joins <- roomJoin{room: userRoom(userID), userID: userID, client: c}:
	case <-h.ctx.Done():
	}
}

// JoinRoom subscribes the connection to a post's chat room.
func (h *Hub) JoinRoom(postID string, c *Client) {
	select {
	case h.joins <- roomJoin{room: postID, client: c}:
	case <-h.ctx.Done():
	}
}

// Unregister removes a disconnected client from every room and from the
// presence registry, and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// Broadcast delivers the payload to every local connection in the room
// and, if bridged, publishes it for other instances.
func (h *Hub) Broadcast(ctx context.Context, room string, payload []byte) {
	select {
	case h.broadcasts <- roomMessage{room: room, payload: payload}:
	case <-h.ctx.Done():
		return
	}
	if h.rdb != nil {
		h.publish(ctx, room, payload)
	}
}

// Presence exposes the registry for read-side callers.
func (h *Hub) Presence() *Presence {
	return h.presence
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case j := <-h.joins:
			if _, ok := h.rooms[j.room]; !ok {
				h.rooms[j.room] = make(map[*Client]struct{})
			}
			h.rooms[j.room][j.client] = struct{}{}
			if j.userID != "" {
				h.presence.Join(j.userID, j.client)
			}

		case c := <-h.unregister:
			for room, members := range h.rooms {
				delete(members, c)
				if len(members) == 0 {
					delete(h.rooms, room)
				}
			}
			if userID, ok := h.presence.Leave(c); ok {
				h.logger.Info("Connection left", "user_id", userID)
			}
			close(c.send)

		case m := <-h.broadcasts:
			h.deliver(m.room, m.payload)
		}
	}
}

// deliver fans a payload out to the local members of a room. A client
// whose send buffer is full is skipped rather than letting one slow
// reader stall the room.
func (h *Hub) deliver(room string, payload []byte) {
	for c := range h.rooms[room] {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("Dropped event for slow connection", "room", room)
		}
	}
}

func (h *Hub) publish(ctx context.Context, room string, payload []byte) {
	env, err := json.Marshal(bridgeEnvelope{Origin: h.instance, Payload: payload})
	if err != nil {
		h.logger.Error("Could not encode bridge envelope", "error", err.Error())
		return
	}
	if err := h.rdb.Publish(ctx, bridgeChannelPrefix+room, env).Err(); err != nil {
		h.logger.Error("Could not publish to bridge", "room", room, "error", err.Error())
	}
}

// runBridge pumps room events published by other instances into the
// local broadcast stream until the hub's context is cancelled.
func (h *Hub) runBridge() {
	pubsub := h.rdb.PSubscribe(h.ctx, bridgeChannelPrefix+"*")
	go func() {
		<-h.ctx.Done()
		_ = pubsub.Close()
	}()
	for msg := range pubsub.Channel() {
		var env bridgeEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			h.logger.Error("Could not decode bridge envelope", "error", err.Error())
			continue
		}
		if env.Origin == h.instance {
			continue
		}
		room := msg.Channel[len(bridgeChannelPrefix):]
		select {
		case h.broadcasts <- roomMessage{room: room, payload: env.Payload}:
		case <-h.ctx.Done():
			return
		}
	}
}
