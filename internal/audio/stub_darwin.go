//go:build darwin && !cgo

package audio

import (
	"fmt"

	"github.com/chorus-voice/mediacore/internal/types"
)

func NewAudioCapture() (types.AudioCapturer, error) {
	return nil, fmt.Errorf("audio capture not supported on macOS without cgo")
}

func NewWindowAudioCapture(_ uint32) (types.AudioCapturer, error) {
	return nil, fmt.Errorf("audio capture not supported on macOS without cgo")
}
