//go:build linux

package main

import (
	"github.com/chorus-voice/mediacore/internal/capture"
	"github.com/chorus-voice/mediacore/internal/region"
	"github.com/chorus-voice/mediacore/internal/types"
)

// newVideoBackend wires an X11 enumerator for window/application
// tracking and an Opener that prefers the GPU-resident NvFBC capturer,
// falling back to the CPU XShm path when NvFBC is unavailable (no
// NVIDIA GPU, or the driver's capture API isn't present).
func newVideoBackend(display string, target types.CaptureTarget, fps, gpu int) (region.Enumerator, capture.Opener, func(), error) {
	enumerator, err := capture.NewX11Enumerator(display)
	if err != nil {
		return nil, nil, nil, err
	}

	opener := func(deviceName string) (types.MediaCapturer, error) {
		if c, err := capture.NewNvFBCCapturer(deviceName, fps, ""); err == nil {
			return c, nil
		}
		return capture.NewCapturer(deviceName, fps, gpu)
	}

	return enumerator, opener, enumerator.Close, nil
}
