package router

import (
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// Consumer delivers one Producer's media to one connection's recv
// transport. Created paused; the client must send
// media_resume_consumer before any packet is forwarded.
type Consumer struct {
	ID           string
	ProducerID   string
	ConnectionID string
	Kind         webrtc.RTPCodecType
	Codec        Codec

	track   *webrtc.TrackLocalStaticRTP
	resumed atomic.Bool
}

func newConsumer(id, producerID, connectionID string, kind webrtc.RTPCodecType, codec Codec, track *webrtc.TrackLocalStaticRTP) *Consumer {
	return &Consumer{
		ID:           id,
		ProducerID:   producerID,
		ConnectionID: connectionID,
		Kind:         kind,
		Codec:        codec,
		track:        track,
	}
}

func (c *Consumer) resume() { c.resumed.Store(true) }
