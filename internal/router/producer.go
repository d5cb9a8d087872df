package router

import (
	"log"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Source identifies what a producer's media physically comes from, used
// to enforce the §4.6 one-camera/one-screen-per-connection admission rule.
type Source string

const (
	SourceCamera Source = "camera"
	SourceScreen Source = "screen"
	SourceMic    Source = "microphone"
	SourceOther  Source = "other"
)

// Producer is a single inbound media stream owned by one connection,
// fanning its RTP packets out to every subscribed Consumer.
type Producer struct {
	ID           string
	ChannelID    string
	ConnectionID string
	Kind         webrtc.RTPCodecType
	Source       Source
	Codec        Codec
	SSRC         webrtc.SSRC

	mu        sync.Mutex
	consumers map[string]*Consumer
	closed    bool
}

func newProducer(id, channelID, connectionID string, kind webrtc.RTPCodecType, src Source, codec Codec, ssrc webrtc.SSRC) *Producer {
	return &Producer{
		ID:           id,
		ChannelID:    channelID,
		ConnectionID: connectionID,
		Kind:         kind,
		Source:       src,
		Codec:        codec,
		SSRC:         ssrc,
		consumers:    make(map[string]*Consumer),
	}
}

// forward writes one packet to every live consumer, dropping writes to
// consumers that are still paused: consumers are created paused and
// must be explicitly resumed before media flows.
func (p *Producer) forward(pkt *rtp.Packet) {
	p.mu.Lock()
	targets := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		targets = append(targets, c)
	}
	p.mu.Unlock()

	for _, c := range targets {
		if !c.resumed.Load() {
			continue
		}
		if err := c.track.WriteRTP(pkt); err != nil {
			log.Printf("router: consumer %s write error: %v", c.ID, err)
		}
	}
}

func (p *Producer) addConsumer(c *Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers[c.ID] = c
}

func (p *Producer) removeConsumer(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.consumers, id)
}

func (p *Producer) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
