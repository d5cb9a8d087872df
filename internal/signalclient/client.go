// Package signalclient is the sender-side half of the signaling wire
// protocol in internal/signaling: just enough of a websocket client to
// open one channel connection, request native-sender sessions for the
// media this process produces, and drain the connection so router
// broadcasts never back up the socket.
//
// Grounded on the same gorilla/websocket usage as internal/signaling's
// server side, reduced to a request/response client instead of a hub.
package signalclient

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/chorus-voice/mediacore/internal/router"
	"github.com/chorus-voice/mediacore/internal/signaling"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is one signaling connection to a chorus-router channel.
type Client struct {
	conn *websocket.Conn

	mu       sync.Mutex
	pending  map[string]chan signaling.Envelope
	closed   chan struct{}
}

// Dial connects to routerAddr (host:port, no scheme) for channelID and
// starts the read loop. connID identifies this process to the router;
// callers should pass a stable id so reconnects replace the same
// connection's producers instead of leaking new ones.
func Dial(routerAddr, channelID, connID string) (*Client, error) {
	if connID == "" {
		connID = uuid.NewString()
	}
	u := url.URL{Scheme: "ws", Host: routerAddr, Path: "/signal", RawQuery: url.Values{
		"channel":       {channelID},
		"connection_id": {connID},
	}.Encode()}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("signalclient: dial %s: %w", u.String(), err)
	}

	c := &Client{
		conn:    conn,
		pending: make(map[string]chan signaling.Envelope),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.closed)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env signaling.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("signalclient: malformed message: %v", err)
			continue
		}

		if env.RequestID != "" {
			c.mu.Lock()
			ch, ok := c.pending[env.RequestID]
			if ok {
				delete(c.pending, env.RequestID)
			}
			c.mu.Unlock()
			if ok {
				ch <- env
				continue
			}
		}

		switch env.Action {
		case signaling.ActionNewProducer, signaling.ActionProducerClosed, signaling.ActionRenegotiate:
			log.Printf("signalclient: router event %s: %s", env.Action, string(env.Payload))
		case signaling.ActionSignalError:
			log.Printf("signalclient: signal_error: %s", env.Message)
		default:
			log.Printf("signalclient: unsolicited message action=%s", env.Action)
		}
	}
}

// call sends a request envelope and blocks for the matching response,
// up to timeout.
func (c *Client) call(action signaling.Action, payload any, timeout time.Duration) (signaling.Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return signaling.Envelope{}, err
	}
	requestID := uuid.NewString()
	req := signaling.Envelope{Action: action, RequestID: requestID, Payload: raw}

	ch := make(chan signaling.Envelope, 1)
	c.mu.Lock()
	c.pending[requestID] = ch
	c.mu.Unlock()

	buf, err := json.Marshal(req)
	if err != nil {
		return signaling.Envelope{}, err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
		return signaling.Envelope{}, fmt.Errorf("signalclient: write: %w", err)
	}

	select {
	case env := <-ch:
		if env.Action == signaling.ActionSignalError {
			return signaling.Envelope{}, fmt.Errorf("signalclient: %s", env.Message)
		}
		return env, nil
	case <-time.After(timeout):
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
		return signaling.Envelope{}, fmt.Errorf("signalclient: %s timed out", action)
	case <-c.closed:
		return signaling.Envelope{}, fmt.Errorf("signalclient: connection closed")
	}
}

type nativeSenderSessionRequest struct {
	Source          string   `json:"source"`
	PreferredCodecs []string `json:"preferred_codecs,omitempty"`
}

// CreateNativeSenderSession requests a Plain-RTP producer session for
// the given source, returning the target address and codec parameters
// the caller should packetize and send RTP to.
func (c *Client) CreateNativeSenderSession(source router.Source, preferredCodecs []string) (router.NativeSenderDescriptor, error) {
	env, err := c.call(signaling.ActionCreateNativeSenderSession, nativeSenderSessionRequest{
		Source:          string(source),
		PreferredCodecs: preferredCodecs,
	}, 10*time.Second)
	if err != nil {
		return router.NativeSenderDescriptor{}, err
	}

	var desc router.NativeSenderDescriptor
	if err := json.Unmarshal(env.Payload, &desc); err != nil {
		return router.NativeSenderDescriptor{}, fmt.Errorf("signalclient: decode native sender descriptor: %w", err)
	}
	return desc, nil
}

type clientDiagnosticRequest struct {
	Event  string `json:"event"`
	Detail string `json:"detail,omitempty"`
}

// Diagnostic sends a fire-and-forget client_diagnostic notification.
func (c *Client) Diagnostic(event, detail string) {
	raw, _ := json.Marshal(clientDiagnosticRequest{Event: event, Detail: detail})
	buf, _ := json.Marshal(signaling.Envelope{Action: signaling.ActionClientDiagnostic, Payload: raw})
	_ = c.conn.WriteMessage(websocket.TextMessage, buf)
}

func (c *Client) Close() error {
	return c.conn.Close()
}
