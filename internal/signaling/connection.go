package signaling

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/chorus-voice/mediacore/internal/router"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Upgrader applies a permissive-but-origin-checked upgrade policy: any
// origin is accepted outside of ENVIRONMENT=production.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || os.Getenv("ENVIRONMENT") != "production" {
			return true
		}
		return false
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Connection is one signaling websocket, durable for the lifetime of
// one voice-channel membership. Grounded on sfu.go's sfuPeer shape: a
// single writer goroutine owns the socket, a bounded channel feeds it,
// and the reader goroutine owns dispatch.
type Connection struct {
	ID        string
	ChannelID string

	conn *websocket.Conn
	send chan []byte

	router  *router.Router
	events  <-chan router.Event
	limiter *connectionLimiter
}

// HandleWebsocket upgrades r into a signaling Connection scoped to one
// channel, wires it to the channel's Router via mgr, and blocks until
// the connection closes. Call it from an http.HandlerFunc.
func HandleWebsocket(mgr *router.Manager, w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channel")
	if channelID == "" {
		http.Error(w, "missing channel", http.StatusBadRequest)
		return
	}
	connID := r.URL.Query().Get("connection_id")
	if connID == "" {
		connID = uuid.NewString()
	}

	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("signaling: upgrade failed: %v", err)
		return
	}

	rt, err := mgr.ChannelRouter(channelID)
	if err != nil {
		log.Printf("signaling: channel %s unavailable: %v", channelID, err)
		_ = conn.Close()
		return
	}

	c := &Connection{
		ID:        connID,
		ChannelID: channelID,
		conn:      conn,
		send:      make(chan []byte, 256),
		router:    rt,
		events:    rt.Subscribe(connID),
		limiter:   newConnectionLimiter(),
	}

	log.Printf("signaling: connected channel=%s connection=%s", channelID, connID)

	go c.writePump()
	go c.eventPump()
	c.readPump()

	rt.CleanupConnection(connID)
	close(c.send)
	_ = conn.Close()
	log.Printf("signaling: disconnected channel=%s connection=%s", channelID, connID)
}

func (c *Connection) writePump() {
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// eventPump forwards the router's async new_producer/producer_closed/
// renegotiate notifications addressed to this connection onto the
// socket, for as long as the connection is alive.
func (c *Connection) eventPump() {
	for ev := range c.events {
		env, _, err := translateEvent(ev)
		if err != nil {
			log.Printf("signaling: connection=%s failed to translate event %s: %v", c.ID, ev.Type, err)
			continue
		}
		c.trySend(env)
	}
}

func (c *Connection) readPump() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleMessage(raw)
	}
}

func (c *Connection) handleMessage(raw []byte) {
	if !validatePayloadSize(len(raw)) {
		c.sendError("", "payload exceeds maximum size")
		return
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.sendError("", "malformed request")
		return
	}

	if env.Action != ActionClientDiagnostic && !c.limiter.allow() {
		c.sendError(env.RequestID, "rate limit exceeded")
		return
	}

	resp, err := c.dispatch(env)
	if err != nil {
		c.sendError(env.RequestID, err.Error())
		return
	}
	if resp != nil {
		c.trySend(*resp)
	}
}

func (c *Connection) sendError(requestID, message string) {
	c.trySend(errorEnvelope(requestID, message))
}

func (c *Connection) trySend(env Envelope) {
	buf, err := json.Marshal(env)
	if err != nil {
		log.Printf("signaling: connection=%s marshal error: %v", c.ID, err)
		return
	}
	select {
	case c.send <- buf:
	default:
		log.Printf("signaling: connection=%s send buffer full, dropping %s", c.ID, env.Action)
	}
}
