package rtpio

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// First 12 bytes of the RTP header: V=2,P=0,X=0,CC=0 => 0x80;
// M=1,PT=96 => 0xE0; seq=1; timestamp = 1000ms*90 = 90000 = 0x00015F90;
// ssrc = 0x12345678.
func TestSenderH264HeaderBytes(t *testing.T) {
	listener := listenLoopback(t)

	s, err := NewSender(listener.LocalAddr().String(), 96, 0x12345678, DefaultMTU)
	require.NoError(t, err)
	require.True(t, s.Connected())
	defer s.Close()

	nal := make([]byte, 200)
	nal[0] = 0x67

	sent := s.SendH264([][]byte{nal}, 1000)
	require.Equal(t, 1, sent)

	buf := make([]byte, 2000)
	listener.SetReadDeadline(time.Now().Add(time.Second))
	n, err := listener.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 212, n)

	want := []byte{0x80, 0xE0, 0x00, 0x01, 0x00, 0x01, 0x5F, 0x90, 0x12, 0x34, 0x56, 0x78}
	require.Equal(t, want, buf[:12])
	require.Equal(t, nal, buf[12:212])
}

func TestSenderDisconnectedIsNoOp(t *testing.T) {
	s, err := NewSender("256.256.256.256:9999", 96, 1, DefaultMTU)
	require.NoError(t, err)
	require.False(t, s.Connected())
	require.Equal(t, 0, s.SendH264([][]byte{{0x67, 0x01}}, 0))
}

func TestDeriveSSRCZeroFallback(t *testing.T) {
	// Any connection id whose FNV-1a hash happens to be zero must map to
	// the fixed fallback rather than emit SSRC=0 on the wire.
	require.NotEqual(t, uint32(0), nativeSSRCFallback)
	// FNV-1a("conn-dbexaug") == 0.
	require.Equal(t, nativeSSRCFallback, DeriveSSRC("conn-dbexaug"))
}

func TestSeqWrapsAndIncrementsByOne(t *testing.T) {
	listener := listenLoopback(t)
	s, err := NewSender(listener.LocalAddr().String(), 96, 1, DefaultMTU)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 3; i++ {
		s.SendH264([][]byte{{0x67, 0x01}}, int64(i))
	}

	buf := make([]byte, 64)
	var seqs []uint16
	listener.SetReadDeadline(time.Now().Add(time.Second))
	for i := 0; i < 3; i++ {
		n, err := listener.Read(buf)
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, 12)
		seqs = append(seqs, uint16(buf[2])<<8|uint16(buf[3]))
	}
	require.Equal(t, []uint16{1, 2, 3}, seqs)

	s.seq = 0xFFFE
	for i := 0; i < 2; i++ {
		s.SendH264([][]byte{{0x67, 0x01}}, int64(i))
	}
	seqs = seqs[:0]
	for i := 0; i < 2; i++ {
		n, err := listener.Read(buf)
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, 12)
		seqs = append(seqs, uint16(buf[2])<<8|uint16(buf[3]))
	}
	require.Equal(t, []uint16{0xFFFF, 0x0000}, seqs)
}
