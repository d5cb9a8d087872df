// Package encoder implements one video encoder backend per codec
// pipeline (hardware NVENC, software x264/VP8/VP9/AV1), all satisfying
// the same types.VideoEncoder contract. Backends are selected via
// Select, which implements the Auto -> NvencSdk -> X264 fallback rule.
package encoder

import (
	"fmt"

	"github.com/chorus-voice/mediacore/internal/types"
)

type Preference string

const (
	Auto     Preference = "auto"
	NvencSDK Preference = "nvenc_sdk"
	X264     Preference = "x264"
	Vp8      Preference = "vp8"
	Vp9      Preference = "vp9"
	Av1      Preference = "av1"
)

// Config is the parameter set every backend constructor accepts.
type Config struct {
	Width, Height int
	FPS           int
	BitrateKbps   int
	GOP           int // 0 = default (2 seconds worth of frames)
	GPUIndex      int
	FFmpegPath    string // override; empty = default search order
}

// Selection records which backend actually started, which one was
// requested, and why they differ (empty if they match).
type Selection struct {
	Encoder          types.VideoEncoder
	RequestedBackend Preference
	SelectedBackend  Preference
	FallbackReason   string
}

// Select implements the backend-selection rule: Auto tries NvencSdk
// then X264; an explicit preference returns its error verbatim.
func Select(pref Preference, cfg Config) (*Selection, error) {
	switch pref {
	case Auto, "":
		if enc, err := NewNVENC(cfg); err == nil {
			return &Selection{Encoder: enc, RequestedBackend: Auto, SelectedBackend: NvencSDK}, nil
		} else {
			enc, ferr := NewFFmpegBackend(X264, cfg)
			if ferr != nil {
				return nil, fmt.Errorf("encoder: auto-select exhausted nvenc_sdk (%v) and x264 (%w)", err, ferr)
			}
			return &Selection{
				Encoder:          enc,
				RequestedBackend: Auto,
				SelectedBackend:  X264,
				FallbackReason:   err.Error(),
			}, nil
		}

	case NvencSDK:
		enc, err := NewNVENC(cfg)
		if err != nil {
			return nil, err
		}
		return &Selection{Encoder: enc, RequestedBackend: pref, SelectedBackend: pref}, nil

	case X264, Vp8, Vp9, Av1:
		enc, err := NewFFmpegBackend(pref, cfg)
		if err != nil {
			return nil, err
		}
		return &Selection{Encoder: enc, RequestedBackend: pref, SelectedBackend: pref}, nil

	default:
		return nil, fmt.Errorf("encoder: unknown backend preference %q", pref)
	}
}

// ValidateDimensions requires positive, even dimensions: odd widths or
// heights break the 4:2:0 chroma subsampling every backend here uses.
func ValidateDimensions(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("encoder: non-positive dimensions %dx%d", w, h)
	}
	if w%2 != 0 || h%2 != 0 {
		return fmt.Errorf("encoder: odd dimensions %dx%d", w, h)
	}
	return nil
}

func defaultGOP(cfg Config) int {
	if cfg.GOP > 0 {
		return cfg.GOP
	}
	return cfg.FPS * 2
}
