package encoder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// A 32-byte DKIF header, then a 12-byte frame header with size=16
// (0x10 0x00 0x00 0x00) followed by 8 bytes of
// (ignored) frame-header padding and 16 bytes of payload. Exactly one
// access unit equal to the 16-byte payload is yielded, and a subsequent
// DKIF is not re-parsed as another container header.
func TestIVFParseScenario(t *testing.T) {
	header := append([]byte("DKIF"), make([]byte, ivfHeaderSize-4)...)

	frameHeader := make([]byte, ivfFrameHeaderSize)
	frameHeader[0] = 0x10 // size=16, little-endian
	payload := make([]byte, 16)
	for i := range payload {
		payload[i] = byte(i + 1)
	}

	stream := append(append(header, frameHeader...), payload...)

	p := &IVFParser{}
	frames, remainder, err := p.Feed(stream)
	require.NoError(t, err)
	require.Empty(t, remainder)
	require.Len(t, frames, 1)
	require.Equal(t, payload, frames[0])

	// A second DKIF string appearing in subsequent frame data must not
	// be treated as a container header — Feed only consumes it once.
	require.True(t, p.sawHeader)
	again := append([]byte("DKIF"), make([]byte, ivfHeaderSize-4)...)
	frames, remainder, err = p.Feed(again)
	require.NoError(t, err)
	require.Empty(t, frames)
	require.Equal(t, again, remainder)
}

func TestIVFParsePartialChunk(t *testing.T) {
	p := &IVFParser{}
	header := append([]byte("DKIF"), make([]byte, ivfHeaderSize-4)...)

	frames, remainder, err := p.Feed(header[:20])
	require.NoError(t, err)
	require.Empty(t, frames)
	require.Equal(t, header[:20], remainder)
}

func TestIVFMissingHeader(t *testing.T) {
	p := &IVFParser{}
	_, _, err := p.Feed(append([]byte("XXXX"), make([]byte, 40)...))
	require.Error(t, err)
}
