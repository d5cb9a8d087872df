//go:build !linux

package encoder

import (
	"fmt"
	"runtime"

	"github.com/chorus-voice/mediacore/internal/types"
)

// NewNVENC always fails on this platform: the libavcodec h264_nvenc
// wrapper backing the hardware session is Linux-only. Select's Auto
// path treats the error like "driver unavailable" and falls through
// to the software x264 backend.
func NewNVENC(cfg Config) (types.VideoEncoder, error) {
	return nil, fmt.Errorf("nvenc: not available on %s", runtime.GOOS)
}
