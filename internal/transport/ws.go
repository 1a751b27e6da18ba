package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/sessiond/sessiond/internal/logger"
)

// envelope is the common shape of every WebSocket message, client or
// server, dispatched on Type. Grounded on relay/pty_relay.go's
// ws.Envelope + type-switch pattern, widened to carry session_id since
// this is one logical bus multiplexing many session rooms rather than
// one socket per session.
type envelope struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type inputMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
}

type resizeMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

type connectedEvent struct {
	Type string `json:"type"`
}

type joinedEvent struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Session   sessionView `json:"session"`
}

type leftEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type outputEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
}

type resizedEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

type terminatedEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// outboundQueueLen bounds a client's pending-event channel; once full,
// Transport treats the client as too slow to keep up and disconnects it
// rather than applying backpressure to a Session's PTY reader.
const outboundQueueLen = 256

// outboundRate caps how fast queued events are drained onto the wire
// for a single client, so one fast-typing terminal can't starve the
// write loop's timeout budget for everyone sharing the connection.
const outboundRate = 60 // events/sec

// wsClient is one WebSocket connection on the shared bus. It may be
// joined to any number of session rooms at once.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	mu     sync.Mutex
	joined map[string]struct{}
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn:   conn,
		send:   make(chan []byte, outboundQueueLen),
		closed: make(chan struct{}),
		joined: make(map[string]struct{}),
	}
}

// enqueue queues an already-encoded event for delivery. A full queue
// means this client can't keep up; it is disconnected rather than
// blocking whatever produced payload.
func (c *wsClient) enqueue(payload []byte) {
	if payload == nil {
		return
	}
	select {
	case c.send <- payload:
	default:
		logger.Warn("transport: dropping slow websocket client")
		c.kill()
	}
}

func (c *wsClient) kill() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close(websocket.StatusPolicyViolation, "slow consumer")
	})
}

func (c *wsClient) writeLoop(ctx context.Context) {
	limiter := rate.NewLimiter(rate.Limit(outboundRate), outboundRate)
	for {
		select {
		case payload := <-c.send:
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.conn.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return
			}
		case <-c.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (t *Transport) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		logger.Warn("transport: websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	c := newWSClient(conn)
	defer t.leaveAll(c)

	go c.writeLoop(ctx)
	c.enqueue(encode(connectedEvent{Type: "connected"}))

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		t.dispatch(ctx, c, data)
	}
}

// dispatch decodes one client event and applies it, per §6's
// client→server event set: join/leave/input/resize/terminate.
func (t *Transport) dispatch(ctx context.Context, c *wsClient, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.enqueue(encode(errorEvent{Type: "error", Message: "malformed envelope"}))
		return
	}

	switch env.Type {
	case "connect":
		// connected was already sent on accept; nothing further to do.
	case "join":
		t.handleJoin(c, env.SessionID)
	case "leave":
		t.handleLeave(c, env.SessionID)
	case "input":
		var m inputMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return
		}
		sess, err := t.reg.Get(m.SessionID)
		if err != nil {
			c.enqueue(encode(errorEvent{Type: "error", Message: err.Error()}))
			return
		}
		if err := sess.Write([]byte(m.Data)); err != nil {
			c.enqueue(encode(errorEvent{Type: "error", Message: err.Error()}))
		}
	case "resize":
		var m resizeMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return
		}
		sess, err := t.reg.Get(m.SessionID)
		if err != nil {
			c.enqueue(encode(errorEvent{Type: "error", Message: err.Error()}))
			return
		}
		if err := sess.Resize(m.Cols, m.Rows); err != nil {
			c.enqueue(encode(errorEvent{Type: "error", Message: err.Error()}))
			return
		}
		t.rooms.broadcast(m.SessionID, encode(resizedEvent{Type: "resized", SessionID: m.SessionID, Cols: m.Cols, Rows: m.Rows}))
	case "terminate":
		ctx2, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		t.reg.Terminate(ctx2, env.SessionID)
		cancel()
	default:
		c.enqueue(encode(errorEvent{Type: "error", Message: "unknown event type"}))
	}
}

// handleJoin attaches c to sessionID's room, starting the room's
// forwarding goroutine the first time anyone joins it. Late joiners see
// only output produced from this point on; a client wanting scrollback
// fetches a tail over HTTP first.
func (t *Transport) handleJoin(c *wsClient, sessionID string) {
	sess, err := t.reg.Get(sessionID)
	if err != nil {
		c.enqueue(encode(errorEvent{Type: "error", Message: err.Error()}))
		return
	}
	frames, isNew := t.rooms.join(sess, c)
	c.mu.Lock()
	c.joined[sessionID] = struct{}{}
	c.mu.Unlock()
	if isNew {
		go t.forwardRoom(sessionID, frames)
	}
	c.enqueue(encode(joinedEvent{Type: "joined", SessionID: sessionID, Session: viewOf(sess)}))
}

func (t *Transport) handleLeave(c *wsClient, sessionID string) {
	if sess, err := t.reg.Get(sessionID); err == nil {
		t.rooms.leave(sess, c)
	}
	c.mu.Lock()
	delete(c.joined, sessionID)
	c.mu.Unlock()
	c.enqueue(encode(leftEvent{Type: "left", SessionID: sessionID}))
}

// leaveAll detaches a disconnecting client from every room it joined.
func (t *Transport) leaveAll(c *wsClient) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.joined))
	for id := range c.joined {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		if sess, err := t.reg.Get(id); err == nil {
			t.rooms.leave(sess, c)
		}
	}
}

// forwardRoom drains sessionID's shared subscription, broadcasting each
// read as an output event to every client in the room. When the channel
// closes — the session has terminated, whatever the cause — it tears
// down the room and notifies whoever was still in it.
func (t *Transport) forwardRoom(sessionID string, frames <-chan []byte) {
	for data := range frames {
		t.rooms.broadcast(sessionID, encode(outputEvent{Type: "output", SessionID: sessionID, Data: string(data)}))
	}

	payload := encode(terminatedEvent{Type: "terminated", SessionID: sessionID})
	for _, c := range t.rooms.drop(sessionID) {
		c.mu.Lock()
		delete(c.joined, sessionID)
		c.mu.Unlock()
		c.enqueue(payload)
	}
}

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("transport: encode event failed", "error", err)
		return nil
	}
	return data
}
