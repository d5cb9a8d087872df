package sender

import (
	"net"
	"testing"
	"time"

	"github.com/chorus-voice/mediacore/internal/rtpio"
	"github.com/chorus-voice/mediacore/internal/types"
	"github.com/stretchr/testify/require"
)

func newLoopbackSender(t *testing.T) (*rtpio.Sender, error) {
	t.Helper()
	lc, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	target := lc.LocalAddr().String()
	t.Cleanup(func() { lc.Close() })
	return rtpio.NewSender(target, 96, 0x12345678, rtpio.DefaultMTU)
}

type fakeEncoder struct {
	calls int
	fail  bool
}

func (f *fakeEncoder) CodecDescriptor() types.CodecDescriptor {
	return types.CodecDescriptor{MimeType: "video/H264", ClockRate: 90000}
}
func (f *fakeEncoder) Encode(frame *types.Frame) (*types.AccessUnit, error) {
	f.calls++
	if f.fail {
		return nil, errFake
	}
	return &types.AccessUnit{NALUs: [][]byte{{0x65, 1, 2, 3}}, IsKey: true}, nil
}
func (f *fakeEncoder) RequestKeyframe() bool { return true }
func (f *fakeEncoder) Close()                {}

var errFake = &fakeErr{}

type fakeErr struct{}

func (e *fakeErr) Error() string { return "fake encode failure" }

func newTestWorker(t *testing.T, enc *fakeEncoder) *Worker {
	t.Helper()
	rtpSender, err := newLoopbackSender(t)
	require.NoError(t, err)
	return &Worker{
		cfg:    Config{SourceID: "s1"},
		enc:    enc,
		rtp:    rtpSender,
		window: FailureWindow{windowStart: time.Now()},
	}
}

func TestProcessFrameDropsWrongSource(t *testing.T) {
	w := newTestWorker(t, &fakeEncoder{})
	w.processFrame(SourcedFrame{SourceID: "other", Frame: &types.Frame{}})
	require.Equal(t, uint64(1), w.metrics.DroppedWrongSource.Load())
	require.Equal(t, 0, w.enc.(*fakeEncoder).calls)
}

func TestProcessFrameMissingPayload(t *testing.T) {
	w := newTestWorker(t, &fakeEncoder{})
	w.processFrame(SourcedFrame{SourceID: "s1", Frame: &types.Frame{Width: 2, Height: 2}})
	require.Equal(t, uint64(1), w.metrics.DroppedMissingBGRA.Load())
	require.Equal(t, uint64(1), w.metrics.EncodeErrors.Load())
}

func TestProcessFrameHappyPath(t *testing.T) {
	w := newTestWorker(t, &fakeEncoder{})
	frame := &types.Frame{Width: 2, Height: 2, Data: make([]byte, 16), PixFmt: types.PixFmtBGRA, TimestampMs: 1000}
	w.processFrame(SourcedFrame{SourceID: "s1", Frame: frame})
	require.Equal(t, uint64(1), w.metrics.EncodedFrames.Load())
	require.Equal(t, uint64(1), w.metrics.RTPPacketsSent.Load())
	require.Equal(t, uint64(1), w.metrics.ProcessedPackets.Load())
}

func TestFailureWindowTriggersFallback(t *testing.T) {
	w := newTestWorker(t, &fakeEncoder{fail: true})
	frame := &types.Frame{Width: 2, Height: 2, Data: make([]byte, 16), PixFmt: types.PixFmtBGRA}
	stopped := false
	w.stopCapture = func() { stopped = true }

	for i := 0; i < 19; i++ {
		w.processFrame(SourcedFrame{SourceID: "s1", Frame: frame})
	}
	require.Equal(t, uint64(19), w.metrics.EncodeErrors.Load())
	require.True(t, w.rotateWindowIfDue())
	require.True(t, stopped)
	require.Equal(t, "encode_error_threshold", w.metrics.Snapshot().RecentFallbackReason)
}
