//go:build linux

package encoder

/*
#cgo pkg-config: libavcodec libavutil libswscale
#include <libavcodec/avcodec.h>
#include <libavutil/imgutils.h>
#include <libavutil/opt.h>
#include <libswscale/swscale.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
	AVCodecContext *ctx;
	AVFrame *frame;
	AVPacket *pkt;
	struct SwsContext *sws;
	int width;
	int height;
	int64_t pts;
} NvencEncoder;

// nvenc_init opens an NVENC session tuned for low-latency
// streaming (preset P4/ultra-low-latency, CBR, no B-frames) via
// libavcodec's h264_nvenc wrapper. Returns NULL if h264_nvenc is
// unavailable, e.g. no NVIDIA GPU or driver present.
static NvencEncoder* nvenc_init(int width, int height, int fps, int bitrate_kbps, int gop) {
	NvencEncoder *e = (NvencEncoder*)calloc(1, sizeof(NvencEncoder));
	if (!e) return NULL;
	e->width = width;
	e->height = height;

	const AVCodec *codec = avcodec_find_encoder_by_name("h264_nvenc");
	if (!codec) { free(e); return NULL; }

	e->ctx = avcodec_alloc_context3(codec);
	if (!e->ctx) { free(e); return NULL; }

	e->ctx->width = width;
	e->ctx->height = height;
	e->ctx->time_base = (AVRational){1, fps};
	e->ctx->framerate = (AVRational){fps, 1};
	e->ctx->pix_fmt = AV_PIX_FMT_NV12;
	int64_t bitrate_bps = (int64_t)bitrate_kbps * 1000;
	e->ctx->bit_rate = bitrate_bps;
	e->ctx->rc_max_rate = bitrate_bps;
	e->ctx->rc_buffer_size = (int)(bitrate_bps / fps);
	e->ctx->gop_size = gop;
	e->ctx->max_b_frames = 0;
	e->ctx->flags |= AV_CODEC_FLAG_LOW_DELAY;

	av_opt_set(e->ctx->priv_data, "preset", "p4", 0);
	av_opt_set(e->ctx->priv_data, "tune", "ull", 0);
	av_opt_set(e->ctx->priv_data, "profile", "baseline", 0);
	av_opt_set(e->ctx->priv_data, "rc", "cbr", 0);
	av_opt_set(e->ctx->priv_data, "zerolatency", "1", 0);

	if (avcodec_open2(e->ctx, codec, NULL) < 0) {
		avcodec_free_context(&e->ctx);
		free(e);
		return NULL;
	}

	e->frame = av_frame_alloc();
	e->frame->format = e->ctx->pix_fmt;
	e->frame->width = width;
	e->frame->height = height;
	av_frame_get_buffer(e->frame, 0);
	e->pkt = av_packet_alloc();

	e->sws = sws_getContext(width, height, AV_PIX_FMT_BGRA,
	                         width, height, e->ctx->pix_fmt,
	                         SWS_FAST_BILINEAR, NULL, NULL, NULL);
	if (!e->sws) {
		av_packet_free(&e->pkt);
		av_frame_free(&e->frame);
		avcodec_free_context(&e->ctx);
		free(e);
		return NULL;
	}
	return e;
}

static int nvenc_encode(NvencEncoder *e, const uint8_t *bgra, int stride, int force_idr,
                         uint8_t **out_buf, int *out_size) {
	*out_size = 0;
	const uint8_t *src_data[1] = { bgra };
	int src_linesize[1] = { stride };

	av_frame_make_writable(e->frame);
	sws_scale(e->sws, src_data, src_linesize, 0, e->height, e->frame->data, e->frame->linesize);
	e->frame->pts = e->pts++;
	if (force_idr) {
		e->frame->pict_type = AV_PICTURE_TYPE_I;
		e->frame->key_frame = 1;
	} else {
		e->frame->pict_type = AV_PICTURE_TYPE_NONE;
		e->frame->key_frame = 0;
	}

	int ret = avcodec_send_frame(e->ctx, e->frame);
	if (ret < 0) return -1;

	ret = avcodec_receive_packet(e->ctx, e->pkt);
	if (ret == AVERROR(EAGAIN) || ret == AVERROR_EOF) return 0;
	if (ret < 0) return -1;

	*out_buf = e->pkt->data;
	*out_size = e->pkt->size;
	return 0;
}

static void nvenc_unref(NvencEncoder *e) { av_packet_unref(e->pkt); }

static void nvenc_destroy(NvencEncoder *e) {
	if (!e) return;
	if (e->sws) sws_freeContext(e->sws);
	if (e->pkt) av_packet_free(&e->pkt);
	if (e->frame) av_frame_free(&e->frame);
	if (e->ctx) avcodec_free_context(&e->ctx);
	free(e);
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/chorus-voice/mediacore/internal/types"
)

// nvencSession wraps one NVENC encoder instance, opened for a given
// (width,height) and torn down and rebuilt on dimension change.
type nvencSession struct {
	mu       sync.Mutex
	enc      *C.NvencEncoder
	cfg      Config
	forceIDR bool
}

// NewNVENC opens the hardware H.264 backend. The session is opened
// eagerly at cfg.Width/Height, so Select's Auto fallback can detect an
// absent driver up front, and kept for later frames; Encode rebuilds it
// only when a frame arrives with different dimensions.
func NewNVENC(cfg Config) (types.VideoEncoder, error) {
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("nvenc: width/height required at construction")
	}
	s := &nvencSession{cfg: cfg}
	if err := s.open(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *nvencSession) open(w, h int) error {
	gop := defaultGOP(s.cfg)
	e := C.nvenc_init(C.int(w), C.int(h), C.int(s.cfg.FPS), C.int(s.cfg.BitrateKbps), C.int(gop))
	if e == nil {
		return fmt.Errorf("nvenc: h264_nvenc unavailable or failed to open")
	}
	s.enc = e
	s.cfg.Width, s.cfg.Height = w, h
	return nil
}

func (s *nvencSession) CodecDescriptor() types.CodecDescriptor {
	mode := 1
	return types.CodecDescriptor{
		MimeType:          "video/H264",
		ClockRate:         90000,
		PacketizationMode: &mode,
		ProfileLevelID:    "42e01f",
	}
}

func (s *nvencSession) RequestKeyframe() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceIDR = true
	return true
}

func (s *nvencSession) Encode(frame *types.Frame) (*types.AccessUnit, error) {
	if err := ValidateDimensions(frame.Width, frame.Height); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if frame.Width != s.cfg.Width || frame.Height != s.cfg.Height {
		C.nvenc_destroy(s.enc)
		if err := s.open(frame.Width, frame.Height); err != nil {
			return nil, fmt.Errorf("nvenc: rebuild session after dimension change: %w", err)
		}
	}

	var srcPtr unsafe.Pointer
	if frame.Ptr != nil {
		srcPtr = frame.Ptr
	} else if len(frame.Data) > 0 {
		srcPtr = unsafe.Pointer(&frame.Data[0])
	} else {
		return nil, fmt.Errorf("nvenc: frame has no pixel payload")
	}

	force := 0
	if s.forceIDR {
		force = 1
		s.forceIDR = false
	}

	var outBuf *C.uint8_t
	var outSize C.int
	ret := C.nvenc_encode(s.enc, (*C.uint8_t)(srcPtr), C.int(frame.Stride), C.int(force), &outBuf, &outSize)
	if ret != 0 {
		// Encoder stall: tear down and rebuild now, so the next frame
		// encodes on a fresh session.
		C.nvenc_destroy(s.enc)
		s.enc = nil
		if err := s.open(s.cfg.Width, s.cfg.Height); err != nil {
			return nil, fmt.Errorf("nvenc: encode failed and session could not be rebuilt: %w", err)
		}
		return nil, fmt.Errorf("nvenc: encode failed, session reset")
	}
	if outSize == 0 {
		return nil, nil // NeedMoreInput
	}

	data := C.GoBytes(unsafe.Pointer(outBuf), outSize)
	C.nvenc_unref(s.enc)

	nalus := SplitAnnexB(data)
	isKey := false
	for _, n := range nalus {
		if len(n) > 0 && n[0]&0x1F == 5 {
			isKey = true
		}
	}
	return &types.AccessUnit{NALUs: nalus, IsKey: isKey}, nil
}

func (s *nvencSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc != nil {
		C.nvenc_destroy(s.enc)
		s.enc = nil
	}
}
