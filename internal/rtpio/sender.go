// Package rtpio wraps encoder access units in RTP packets (RFC 6184
// mode 1 for H.264, single-packet framing for VPx/AV1) and transmits
// them over UDP to a router-provided endpoint, tracking the sticky
// send-error flag the owning worker consumes once per tick.
package rtpio

import (
	"fmt"
	"hash/fnv"
	"log"
	"net"
	"sync/atomic"

	"github.com/pion/rtp"
)

const DefaultMTU = 1200

// nativeSSRCFallback is the value substituted whenever the deterministic
// SSRC derivation would otherwise produce 0x00000000, which RTP reserves
// as a non-value.
const nativeSSRCFallback uint32 = 0x4E415456

// DeriveSSRC derives a 32-bit SSRC deterministically from a connection
// id, masking a zero result to nativeSSRCFallback.
func DeriveSSRC(connectionID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(connectionID))
	v := h.Sum32()
	if v == 0 {
		return nativeSSRCFallback
	}
	return v
}

// Sender holds one producer's RTP transmit state: a connected UDP
// socket, the session's fixed PT/SSRC, a wrapping sequence counter and
// the sticky last-send-error flag.
type Sender struct {
	conn   *net.UDPConn
	target *net.UDPAddr

	payloadType uint8
	ssrc        uint32
	mtu         int

	seq          uint32 // low 16 bits used; atomic for the debug-metrics reader
	audioTS      uint32 // running 48kHz sample clock for SendOpus
	hadSendError atomic.Bool
	connected    atomic.Bool
}

// NewSender parses target "ip:port", binds a local UDP socket on the
// matching address family, and connects it. On failure the session is
// left in a disconnected state: Send becomes a silent no-op and
// Connected() reports false.
func NewSender(target string, payloadType uint8, ssrc uint32, mtu int) (*Sender, error) {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	s := &Sender{payloadType: payloadType, ssrc: ssrc, mtu: mtu}

	raddr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		log.Printf("rtp: resolve target %q: %v", target, err)
		return s, nil
	}

	network := "udp4"
	local := "0.0.0.0:0"
	if raddr.IP.To4() == nil {
		network = "udp6"
		local = "[::]:0"
	}
	laddr, err := net.ResolveUDPAddr(network, local)
	if err != nil {
		log.Printf("rtp: resolve local bind: %v", err)
		return s, nil
	}

	conn, err := net.DialUDP(network, laddr, raddr)
	if err != nil {
		log.Printf("rtp: dial %s: %v", target, err)
		return s, nil
	}

	s.conn = conn
	s.target = raddr
	s.connected.Store(true)
	return s, nil
}

func (s *Sender) Connected() bool { return s.connected.Load() }

// LocalAddr returns the bound local port so the caller can report it
// back to the router for its Plain-RTP transport.
func (s *Sender) LocalAddr() *net.UDPAddr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// TakeAndResetError consumes the sticky had-send-error flag exactly
// once, so a polling reader can observe it without racing a second
// reader that clears it first.
func (s *Sender) TakeAndResetError() bool {
	return s.hadSendError.Swap(false)
}

// SendH264 packetizes an H.264 access unit and transmits every fragment,
// returning the number of packets actually sent. The frame's wall-clock
// timestamp is converted to the 90kHz RTP clock H.264 requires.
func (s *Sender) SendH264(nalus [][]byte, timestampMs int64) int {
	frags := PacketizeH264(nalus, s.mtu)
	ts := uint32(uint64(timestampMs) * 90 % (1 << 32))
	return s.sendFragments(frags, ts)
}

// SendSingle packetizes a VPx/AV1 access unit as one RTP packet.
func (s *Sender) SendSingle(payload []byte, timestampMs int64) int {
	frags := PacketizeSingle(payload, s.mtu)
	ts := uint32(uint64(timestampMs) * 90 % (1 << 32))
	return s.sendFragments(frags, ts)
}

// SendOpus packetizes one encoded Opus frame as a single RTP packet,
// advancing the sender's own 48kHz sample clock by samplesPerFrame
// (960 for the standard 20ms stereo frame) rather than deriving a
// timestamp from wall-clock time: the Opus capture loop runs on a fixed
// ticker so the sample clock and the ticker never drift apart.
func (s *Sender) SendOpus(payload []byte, samplesPerFrame uint32) int {
	frags := PacketizeSingle(payload, s.mtu)
	ts := atomic.AddUint32(&s.audioTS, samplesPerFrame) - samplesPerFrame
	return s.sendFragments(frags, ts)
}

func (s *Sender) sendFragments(frags []Fragment, ts uint32) int {
	if !s.connected.Load() {
		return 0
	}

	sent := 0
	for _, f := range frags {
		seq := uint16(atomic.AddUint32(&s.seq, 1))
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Padding:        false,
				Extension:      false,
				Marker:         f.Marker,
				PayloadType:    s.payloadType,
				SequenceNumber: seq,
				Timestamp:      ts,
				SSRC:           s.ssrc,
			},
			Payload: f.Payload,
		}

		buf, err := pkt.Marshal()
		if err != nil {
			log.Printf("rtp: marshal: %v", err)
			s.hadSendError.Store(true)
			continue
		}
		if len(buf) > s.mtu {
			log.Printf("rtp: packet len %d exceeds mtu %d, dropping", len(buf), s.mtu)
			continue
		}

		if _, err := s.conn.Write(buf); err != nil {
			s.hadSendError.Store(true)
			continue
		}
		sent++
	}
	return sent
}

func (s *Sender) Close() error {
	if s.conn == nil {
		return nil
	}
	s.connected.Store(false)
	return s.conn.Close()
}

func (s *Sender) String() string {
	if s.target == nil {
		return "rtpio.Sender(disconnected)"
	}
	return fmt.Sprintf("rtpio.Sender(%s pt=%d ssrc=%08x)", s.target, s.payloadType, s.ssrc)
}
