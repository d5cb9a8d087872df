package router

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// ConnectionMediaState is everything the router owns on behalf of one
// signaling connection within one channel: at most one send and one
// recv WebRTC transport, any number of Plain-RTP transports (one per
// native-sender session), and the producers/consumers it created.
//
// Every admission check (camera/screen exclusivity, direction
// replacement) runs under mu so concurrent create requests on the same
// connection serialize instead of racing.
type ConnectionMediaState struct {
	ConnectionID string
	ChannelID    string

	mu sync.Mutex

	sendTransport *WebRTCTransport
	recvTransport *WebRTCTransport
	plainByID     map[string]*PlainRTPTransport

	producers map[string]*Producer
	consumers map[string]*Consumer

	hasCamera bool
	hasScreen bool

	// pendingByKind holds a WebRTC send-transport Producer that has
	// arrived via OnTrack but has not yet been claimed by a
	// media_produce call naming its source.
	pendingByKind map[webrtc.RTPCodecType]*Producer
}

func newConnectionMediaState(connID, channelID string) *ConnectionMediaState {
	return &ConnectionMediaState{
		ConnectionID:  connID,
		ChannelID:     channelID,
		plainByID:     make(map[string]*PlainRTPTransport),
		producers:     make(map[string]*Producer),
		consumers:     make(map[string]*Consumer),
		pendingByKind: make(map[webrtc.RTPCodecType]*Producer),
	}
}

// setWebRTCTransport installs a new send/recv transport, closing and
// replacing whichever one previously held that direction.
func (c *ConnectionMediaState) setWebRTCTransport(t *WebRTCTransport) *WebRTCTransport {
	c.mu.Lock()
	defer c.mu.Unlock()

	var old *WebRTCTransport
	if t.Direction == DirSend {
		old = c.sendTransport
		c.sendTransport = t
	} else {
		old = c.recvTransport
		c.recvTransport = t
	}
	return old
}

func (c *ConnectionMediaState) transportByID(id string) *WebRTCTransport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendTransport != nil && c.sendTransport.ID == id {
		return c.sendTransport
	}
	if c.recvTransport != nil && c.recvTransport.ID == id {
		return c.recvTransport
	}
	return nil
}

// admitSource enforces the at-most-one-camera/at-most-one-screen rule.
// Called with c.mu held by the caller's higher-level operation.
func (c *ConnectionMediaState) admitSource(src Source) bool {
	switch src {
	case SourceCamera:
		if c.hasCamera {
			return false
		}
		c.hasCamera = true
	case SourceScreen:
		if c.hasScreen {
			return false
		}
		c.hasScreen = true
	}
	return true
}

func (c *ConnectionMediaState) releaseSource(src Source) {
	switch src {
	case SourceCamera:
		c.hasCamera = false
	case SourceScreen:
		c.hasScreen = false
	}
}
