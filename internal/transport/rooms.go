package transport

import (
	"sync"

	"github.com/sessiond/sessiond/internal/session"
)

// roomSet multiplexes one Session's raw-byte subscription across every
// WebSocket client currently joined to that session's room, so N
// attached clients cost the Session exactly one Subscribe call. Mirrors
// the single-logical-bus room semantics the relay package gives its
// wing broadcast groups, narrowed to one room per session id.
type roomSet struct {
	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	subID   int
	clients map[*wsClient]struct{}
}

func newRoomSet() *roomSet {
	return &roomSet{rooms: make(map[string]*room)}
}

// join adds c to sess's room. If the room didn't already exist, join
// subscribes to the session's raw output and returns the new channel
// for the caller to forward; an existing room returns a nil channel.
func (rs *roomSet) join(sess *session.Session, c *wsClient) (frames <-chan []byte, isNew bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rm, ok := rs.rooms[sess.ID]
	if !ok {
		subID, ch := sess.Subscribe()
		rm = &room{subID: subID, clients: make(map[*wsClient]struct{})}
		rs.rooms[sess.ID] = rm
		rm.clients[c] = struct{}{}
		return ch, true
	}
	rm.clients[c] = struct{}{}
	return nil, false
}

// leave removes c from sess's room, tearing down the room's
// subscription if c was the last client in it.
func (rs *roomSet) leave(sess *session.Session, c *wsClient) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rm, ok := rs.rooms[sess.ID]
	if !ok {
		return
	}
	delete(rm.clients, c)
	if len(rm.clients) == 0 {
		sess.Unsubscribe(rm.subID)
		delete(rs.rooms, sess.ID)
	}
}

// broadcast delivers payload to every client currently in sessionID's
// room. Clients not in any room for sessionID are unaffected.
func (rs *roomSet) broadcast(sessionID string, payload []byte) {
	rs.mu.Lock()
	rm, ok := rs.rooms[sessionID]
	var clients []*wsClient
	if ok {
		clients = make([]*wsClient, 0, len(rm.clients))
		for c := range rm.clients {
			clients = append(clients, c)
		}
	}
	rs.mu.Unlock()
	for _, c := range clients {
		c.enqueue(payload)
	}
}

// drop removes sessionID's room entirely and returns the clients that
// were in it, so the caller can notify them the session is gone.
func (rs *roomSet) drop(sessionID string) []*wsClient {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rm, ok := rs.rooms[sessionID]
	if !ok {
		return nil
	}
	clients := make([]*wsClient, 0, len(rm.clients))
	for c := range rm.clients {
		clients = append(clients, c)
	}
	delete(rs.rooms, sessionID)
	return clients
}
