package relay

import "sync"

// Presence maps user IDs to their live connections. It is advisory
// routing state only: it is rebuilt entirely from join and disconnect
// events and holds nothing durable. A user may have several
// connections at once (multiple tabs or devices); none are
// deduplicated.
//
// The hub goroutine is the only writer, but the registry is guarded
// anyway so read-side callers never race it.
type Presence struct {
	mu    sync.RWMutex
	conns map[*Client]string
	users map[string]map[*Client]struct{}
}

// NewPresence returns an empty registry.
func NewPresence() *Presence {
	return &Presence{
		conns: make(map[*Client]string),
		users: make(map[string]map[*Client]struct{}),
	}
}

// Join records that the connection represents the user. A connection
// may re-join under a different user (the wire protocol allows a
// re-login on the same socket); the old user's entry is removed so the
// connection only ever maps to one user.
func (p *Presence) Join(userID string, c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.conns[c]; ok && old != userID {
		p.removeLocked(old, c)
	}

	p.conns[c] = userID
	if _, ok := p.users[userID]; !ok {
		p.users[userID] = make(map[*Client]struct{})
	}
	p.users[userID][c] = struct{}{}
}

func (p *Presence) removeLocked(userID string, c *Client) {
	if conns, ok := p.users[userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(p.users, userID)
		}
	}
}

// Leave removes the connection's entry, if any, and reports which user
// it belonged to. Other connections of the same user are untouched.
func (p *Presence) Leave(c *Client) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	userID, ok := p.conns[c]
	if !ok {
		return "", false
	}
	delete(p.conns, c)
	p.removeLocked(userID, c)
	return userID, true
}

// Online reports whether the user has at least one live connection.
func (p *Presence) Online(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.users[userID]) > 0
}

// Connections returns the number of live connections for the user.
func (p *Presence) Connections(userID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.users[userID])
}
