package rtpio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// A single 200-byte NAL (SPS, 0x67) fits under the MTU and produces
// exactly one single-NAL fragment with the marker bit set (it is the
// last, and only, NAL of the frame).
func TestPacketizeH264SingleNAL(t *testing.T) {
	nal := make([]byte, 200)
	nal[0] = 0x67

	frags := PacketizeH264([][]byte{nal}, 1200)
	require.Len(t, frags, 1)
	require.True(t, frags[0].Marker)
	require.Equal(t, nal, frags[0].Payload)
}

// A 3000-byte NAL (slice_IDR, 0x65) with MTU=1200 fragments into 3
// FU-A packets of payload sizes 1186/1186/627
// (1 + 1186 + 1186 + 627 == 3000), indicator 0x7C throughout, and S/M/E
// headers of 0x85, 0x05, 0x45.
func TestPacketizeH264FUA(t *testing.T) {
	nal := make([]byte, 3000)
	nal[0] = 0x65
	for i := 1; i < len(nal); i++ {
		nal[i] = byte(i)
	}

	frags := PacketizeH264([][]byte{nal}, 1200)
	require.Len(t, frags, 3)

	require.Equal(t, byte(0x7C), frags[0].Payload[0])
	require.Equal(t, byte(0x7C), frags[1].Payload[0])
	require.Equal(t, byte(0x7C), frags[2].Payload[0])

	require.Equal(t, byte(0x85), frags[0].Payload[1])
	require.Equal(t, byte(0x05), frags[1].Payload[1])
	require.Equal(t, byte(0x45), frags[2].Payload[1])

	require.Len(t, frags[0].Payload, 2+1186)
	require.Len(t, frags[1].Payload, 2+1186)
	require.Len(t, frags[2].Payload, 2+627)

	require.False(t, frags[0].Marker)
	require.False(t, frags[1].Marker)
	require.True(t, frags[2].Marker)

	// Reassembled FU-A payload (minus the 2-byte FU header/indicator on
	// each fragment, plus the reconstructed 1-byte NAL header) must equal
	// the original NAL.
	var reassembled []byte
	reassembled = append(reassembled, nal[0])
	for _, f := range frags {
		reassembled = append(reassembled, f.Payload[2:]...)
	}
	require.Equal(t, nal, reassembled)
}

func TestPacketizeH264Degenerate(t *testing.T) {
	require.Empty(t, PacketizeH264([][]byte{{}}, 1200))
	require.Empty(t, PacketizeH264([][]byte{{0x67}}, 1200))
	require.Empty(t, PacketizeH264([][]byte{make([]byte, 200)}, 14))
}

func TestPacketizeSingle(t *testing.T) {
	payload := make([]byte, 100)
	frags := PacketizeSingle(payload, 1200)
	require.Len(t, frags, 1)
	require.True(t, frags[0].Marker)

	require.Nil(t, PacketizeSingle(make([]byte, 1300), 1200))
	require.Nil(t, PacketizeSingle(nil, 1200))
}
