package encoder

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitAnnexBThreeByteStart(t *testing.T) {
	data := []byte{0x00, 0x00, 0x01, 0x67, 0xAA, 0x00, 0x00, 0x01, 0x68, 0xBB, 0xCC}
	nalus := SplitAnnexB(data)
	require.Equal(t, [][]byte{{0x67, 0xAA}, {0x68, 0xBB, 0xCC}}, nalus)
}

func TestSplitAnnexBFourByteStart(t *testing.T) {
	data := []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0xAA, 0xBB}
	nalus := SplitAnnexB(data)
	require.Equal(t, [][]byte{{0x67, 0xAA, 0xBB}}, nalus)
}

func TestSplitAnnexBNoStartCode(t *testing.T) {
	require.Nil(t, SplitAnnexB([]byte{0x01, 0x02, 0x03}))
}

// split(a++b) == split(a)++split(b) where ++ concatenates after
// inserting a start code between NALs.
func TestAnnexBRoundTripLaw(t *testing.T) {
	a := []byte{0x00, 0x00, 0x01, 0x67, 0x11, 0x22}
	b := []byte{0x00, 0x00, 0x01, 0x68, 0x33}

	var joined bytes.Buffer
	joined.Write(a)
	joined.Write(b)

	got := SplitAnnexB(joined.Bytes())
	want := append(append([][]byte{}, SplitAnnexB(a)...), SplitAnnexB(b)...)
	require.Equal(t, want, got)
}
