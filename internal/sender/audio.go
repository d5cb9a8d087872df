package sender

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/chorus-voice/mediacore/internal/rtpio"
	"github.com/chorus-voice/mediacore/internal/types"
)

// opusClockRate is the fixed Opus RTP clock rate, used to turn a
// packet's capture duration into a sample count for
// rtpio.Sender.SendOpus.
const opusClockRate = 48000

// AudioConfig targets one microphone producer's Plain-RTP session at the
// router, the voice-channel analogue of Config.
type AudioConfig struct {
	SourceID    string
	TargetRTP   string
	PayloadType uint8
	SSRC        uint32
}

// AudioMetrics mirrors Metrics for the Opus send path.
type AudioMetrics struct {
	CapturedFrames atomic.Uint64
	RTPPacketsSent atomic.Uint64
	RTPSendErrors  atomic.Uint64
}

// AudioSnapshot is a point-in-time read of AudioMetrics.
type AudioSnapshot struct {
	CapturedFrames, RTPPacketsSent, RTPSendErrors uint64
}

func (m *AudioMetrics) Snapshot() AudioSnapshot {
	return AudioSnapshot{
		CapturedFrames: m.CapturedFrames.Load(),
		RTPPacketsSent: m.RTPPacketsSent.Load(),
		RTPSendErrors:  m.RTPSendErrors.Load(),
	}
}

// AudioWorker is the microphone-producer analogue of Worker. It carries
// no Encoder Backend of its own: the AudioCapturer (PulseAudio capture +
// Opus encode) already hands it encoded frames, so its job is strictly
// packetizing and transmitting what capture produced.
type AudioWorker struct {
	cfg     AudioConfig
	rtp     *rtpio.Sender
	metrics AudioMetrics
}

// NewAudio dials the router's Plain-RTP endpoint for a mic producer.
func NewAudio(cfg AudioConfig) (*AudioWorker, error) {
	rtpSender, err := rtpio.NewSender(cfg.TargetRTP, cfg.PayloadType, cfg.SSRC, rtpio.DefaultMTU)
	if err != nil {
		return nil, err
	}
	w := &AudioWorker{cfg: cfg, rtp: rtpSender}
	log.Printf("sender: audio started source=%s target=%s connected=%v", cfg.SourceID, cfg.TargetRTP, rtpSender.Connected())
	return w, nil
}

// Run drains packets until the channel closes or ctx is cancelled.
func (w *AudioWorker) Run(ctx context.Context, packets <-chan *types.OpusPacket) {
	defer w.rtp.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			w.processPacket(pkt)
		}
	}
}

func (w *AudioWorker) processPacket(pkt *types.OpusPacket) {
	w.metrics.CapturedFrames.Add(1)

	samples := uint32(pkt.Duration.Seconds() * float64(opusClockRate))
	sent := w.rtp.SendOpus(pkt.Data, samples)
	w.metrics.RTPPacketsSent.Add(uint64(sent))
	if w.rtp.TakeAndResetError() {
		w.metrics.RTPSendErrors.Add(1)
		log.Printf("sender: audio transport_error source=%s", w.cfg.SourceID)
	}
}

func (w *AudioWorker) Metrics() *AudioMetrics { return &w.metrics }
