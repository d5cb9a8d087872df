// Package sender implements the worker that pulls frames off a bounded
// queue, drives a video encoder backend, packetizes the result over
// RTP, and watches a rolling FailureWindow for fallback conditions.
package sender

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/chorus-voice/mediacore/internal/encoder"
	"github.com/chorus-voice/mediacore/internal/rtpio"
	"github.com/chorus-voice/mediacore/internal/types"
)

// Config configures one Worker instance.
type Config struct {
	SourceID          string
	TargetFPS         int
	TargetBitrateKbps int
	TargetRTP         string
	PayloadType       uint8
	SSRC              uint32
	EncoderPreference encoder.Preference
	GPUIndex          int
	GOP               int
	FFmpegPath        string
}

// FailureWindow rolls every 12s and tracks counter deltas since the
// window started.
type FailureWindow struct {
	windowStart       time.Time
	encodeErrorsStart uint64
	rtpErrorsStart    uint64
	dropsStart        uint64
}

const (
	failureWindowDuration = 12 * time.Second
	encodeErrorThreshold  = 18
	transportErrorThreshold = 18
	dropThreshold         = 220
	statsLogEvery         = 120
)

// Metrics is a set of plain atomic counters, safe for concurrent read
// via Snapshot while the worker mutates them.
type Metrics struct {
	ReceivedPackets  atomic.Uint64
	ProcessedPackets atomic.Uint64
	EncodedFrames    atomic.Uint64
	EncodedBytes     atomic.Uint64
	RTPPacketsSent   atomic.Uint64
	RTPSendErrors    atomic.Uint64
	EncodeErrors     atomic.Uint64
	KeyframeRequests atomic.Uint64
	DroppedMissingBGRA atomic.Uint64
	DroppedQueueFull atomic.Uint64
	DroppedWrongSource atomic.Uint64

	LastFrameWidth  atomic.Int64
	LastFrameHeight atomic.Int64
	LastFrameTSMs   atomic.Int64
	LastEncodeLatencyMs atomic.Int64

	ProducerConnected  atomic.Bool
	TransportConnected atomic.Bool

	RecentFallbackReason atomic.Value // string
}

// Snapshot is a point-in-time read of Metrics, safe to marshal.
type Snapshot struct {
	ReceivedPackets, ProcessedPackets, EncodedFrames, EncodedBytes     uint64
	RTPPacketsSent, RTPSendErrors, EncodeErrors, KeyframeRequests      uint64
	DroppedMissingBGRA, DroppedQueueFull, DroppedWrongSource           uint64
	LastFrameWidth, LastFrameHeight, LastFrameTSMs, LastEncodeLatencyMs int64
	ProducerConnected, TransportConnected                              bool
	RecentFallbackReason                                               string
}

func (m *Metrics) Snapshot() Snapshot {
	reason, _ := m.RecentFallbackReason.Load().(string)
	return Snapshot{
		ReceivedPackets:      m.ReceivedPackets.Load(),
		ProcessedPackets:     m.ProcessedPackets.Load(),
		EncodedFrames:        m.EncodedFrames.Load(),
		EncodedBytes:         m.EncodedBytes.Load(),
		RTPPacketsSent:       m.RTPPacketsSent.Load(),
		RTPSendErrors:        m.RTPSendErrors.Load(),
		EncodeErrors:         m.EncodeErrors.Load(),
		KeyframeRequests:     m.KeyframeRequests.Load(),
		DroppedMissingBGRA:   m.DroppedMissingBGRA.Load(),
		DroppedQueueFull:     m.DroppedQueueFull.Load(),
		DroppedWrongSource:   m.DroppedWrongSource.Load(),
		LastFrameWidth:       m.LastFrameWidth.Load(),
		LastFrameHeight:      m.LastFrameHeight.Load(),
		LastFrameTSMs:        m.LastFrameTSMs.Load(),
		LastEncodeLatencyMs:  m.LastEncodeLatencyMs.Load(),
		ProducerConnected:    m.ProducerConnected.Load(),
		TransportConnected:   m.TransportConnected.Load(),
		RecentFallbackReason: reason,
	}
}

// SourcedFrame is one item on the bounded frame queue: a captured frame
// tagged with the source id it was captured for.
type SourcedFrame struct {
	SourceID string
	Frame    *types.Frame
}

// Worker owns one capture source's encode-and-transmit pipeline.
type Worker struct {
	cfg     Config
	enc     types.VideoEncoder
	rtp     *rtpio.Sender
	metrics Metrics

	window FailureWindow

	stopCapture func()
}

// New selects an encoder backend, opens the RTP sender, and seeds
// metrics and the failure window.
func New(cfg Config, stopCapture func()) (*Worker, error) {
	sel, err := encoder.Select(cfg.EncoderPreference, encoder.Config{
		Width:       0,
		Height:      0,
		FPS:         cfg.TargetFPS,
		BitrateKbps: cfg.TargetBitrateKbps,
		GOP:         cfg.GOP,
		GPUIndex:    cfg.GPUIndex,
		FFmpegPath:  cfg.FFmpegPath,
	})
	if err != nil {
		return nil, err
	}

	rtpSender, err := rtpio.NewSender(cfg.TargetRTP, cfg.PayloadType, cfg.SSRC, rtpio.DefaultMTU)
	if err != nil {
		return nil, err
	}

	w := &Worker{cfg: cfg, enc: sel.Encoder, rtp: rtpSender, stopCapture: stopCapture}
	w.metrics.TransportConnected.Store(rtpSender.Connected())
	w.window = FailureWindow{windowStart: time.Now()}
	w.metrics.RecentFallbackReason.Store("")

	desc := sel.Encoder.CodecDescriptor()
	log.Printf("sender: started source=%s codec=%s selected=%s requested=%s fallback=%q",
		cfg.SourceID, desc.MimeType, sel.SelectedBackend, sel.RequestedBackend, sel.FallbackReason)
	return w, nil
}

// Run is the main loop: blocks on the bounded frame receiver with a
// 250ms timeout, processes frames, and rotates the FailureWindow after
// every iteration.
func (w *Worker) Run(ctx context.Context, frames <-chan SourcedFrame) {
	defer w.enc.Close()
	defer w.rtp.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case sf, ok := <-frames:
			if !ok {
				return
			}
			w.processFrame(sf)
		case <-time.After(250 * time.Millisecond):
		}

		if w.rotateWindowIfDue() {
			return
		}
	}
}

func (w *Worker) processFrame(sf SourcedFrame) {
	w.metrics.ReceivedPackets.Add(1)
	if sf.SourceID != w.cfg.SourceID {
		w.metrics.DroppedWrongSource.Add(1)
		return
	}

	frame := sf.Frame
	w.metrics.LastFrameWidth.Store(int64(frame.Width))
	w.metrics.LastFrameHeight.Store(int64(frame.Height))
	w.metrics.LastFrameTSMs.Store(frame.TimestampMs)

	if frame.Data == nil && frame.Ptr == nil {
		w.metrics.DroppedMissingBGRA.Add(1)
		w.metrics.EncodeErrors.Add(1)
		return
	}
	if frame.PixFmt == types.PixFmtBGRA && frame.Data != nil && len(frame.Data) != frame.Width*frame.Height*4 {
		w.metrics.EncodeErrors.Add(1)
		return
	}

	encodeStart := time.Now()
	au, err := w.enc.Encode(frame)
	if err != nil {
		w.metrics.EncodeErrors.Add(1)
		log.Printf("sender: encode error: %v", err)
		return
	}
	if au == nil {
		return
	}

	var encodedBytes int
	for _, n := range au.NALUs {
		encodedBytes += len(n)
	}
	w.metrics.EncodedBytes.Add(uint64(encodedBytes))
	w.metrics.EncodedFrames.Add(1)

	var sent int
	if w.enc.CodecDescriptor().MimeType == "video/H264" {
		sent = w.rtp.SendH264(au.NALUs, frame.TimestampMs)
	} else {
		for _, payload := range au.NALUs {
			sent += w.rtp.SendSingle(payload, frame.TimestampMs)
		}
	}
	w.metrics.RTPPacketsSent.Add(uint64(sent))
	if w.rtp.TakeAndResetError() {
		w.metrics.RTPSendErrors.Add(1)
		log.Printf("sender: transport_error source=%s", w.cfg.SourceID)
	}

	w.metrics.LastEncodeLatencyMs.Store(time.Since(encodeStart).Milliseconds())
	processed := w.metrics.ProcessedPackets.Add(1)
	if processed%statsLogEvery == 0 {
		s := w.metrics.Snapshot()
		log.Printf("sender: sender_tick source=%s processed=%d encoded_frames=%d rtp_sent=%d encode_errors=%d rtp_errors=%d",
			w.cfg.SourceID, s.ProcessedPackets, s.EncodedFrames, s.RTPPacketsSent, s.EncodeErrors, s.RTPSendErrors)
	}
}

// RequestKeyframe forwards to the encoder and counts the request.
func (w *Worker) RequestKeyframe() bool {
	w.metrics.KeyframeRequests.Add(1)
	return w.enc.RequestKeyframe()
}

// DropQueueFull must be called by the queue producer (Frame Source side)
// when a drop-newest enqueue discards a frame, so it counts toward the
// FailureWindow's drop threshold.
func (w *Worker) DropQueueFull() {
	w.metrics.DroppedQueueFull.Add(1)
}

func (w *Worker) Metrics() *Metrics { return &w.metrics }

// rotateWindowIfDue checks breach thresholds against the deltas
// accumulated since the window started, detecting a breach on the very
// tick a threshold is crossed rather than deferring to the next 12s
// rollover, and, absent a breach, resets the window baseline once it
// has run >=12s. Returns true if fallback was triggered and the worker
// loop should exit.
func (w *Worker) rotateWindowIfDue() bool {
	encodeErrors := w.metrics.EncodeErrors.Load() - w.window.encodeErrorsStart
	rtpErrors := w.metrics.RTPSendErrors.Load() - w.window.rtpErrorsStart
	drops := w.metrics.DroppedQueueFull.Load() - w.window.dropsStart

	reason := ""
	switch {
	case encodeErrors > encodeErrorThreshold:
		reason = "encode_error_threshold"
	case rtpErrors > transportErrorThreshold:
		reason = "transport_error_threshold"
	case drops > dropThreshold:
		reason = "drop_threshold"
	}

	if reason != "" {
		log.Printf("sender: fallback_triggered source=%s reason=%s", w.cfg.SourceID, reason)
		w.metrics.RecentFallbackReason.Store(reason)
		if w.stopCapture != nil {
			w.stopCapture()
		}
		log.Printf("sender: fallback_completed source=%s", w.cfg.SourceID)
		return true
	}

	if time.Since(w.window.windowStart) >= failureWindowDuration {
		w.window = FailureWindow{
			windowStart:       time.Now(),
			encodeErrorsStart: w.metrics.EncodeErrors.Load(),
			rtpErrorsStart:    w.metrics.RTPSendErrors.Load(),
			dropsStart:        w.metrics.DroppedQueueFull.Load(),
		}
	}
	return false
}
