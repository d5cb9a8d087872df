//go:build darwin

package main

import (
	"fmt"

	"github.com/chorus-voice/mediacore/internal/capture"
	"github.com/chorus-voice/mediacore/internal/region"
	"github.com/chorus-voice/mediacore/internal/types"
)

// newVideoBackend wires the ScreenCaptureKit display capturer. There is
// no window/application enumerator on this platform yet, so only
// screen targets are supported here; window and application targets
// fail immediately instead of reaching a nil Enumerator at capture time.
func newVideoBackend(_ string, target types.CaptureTarget, fps, gpu int) (region.Enumerator, capture.Opener, func(), error) {
	if target.Kind != types.TargetScreen {
		return nil, nil, nil, fmt.Errorf("window/application capture is not supported on macOS")
	}

	opener := func(deviceName string) (types.MediaCapturer, error) {
		return capture.NewCapturer(deviceName, fps, gpu)
	}

	return nil, opener, func() {}, nil
}
