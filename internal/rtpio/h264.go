package rtpio

// Fragment is one RTP payload produced by packetization, tagged with
// whether the marker bit belongs on it.
type Fragment struct {
	Payload []byte
	Marker  bool
}

// PacketizeH264 implements RFC 6184 mode-1 packetization: NALs that fit
// in MTU go out as single-NAL packets; larger NALs are split into FU-A
// fragments. mtu is the full RTP packet size budget (12-byte RTP header
// included). The marker bit is set on the last fragment of the last NAL
// in the access unit.
func PacketizeH264(nalus [][]byte, mtu int) []Fragment {
	var out []Fragment
	if mtu <= 14 {
		return out
	}

	for i, nal := range nalus {
		if len(nal) <= 1 {
			continue
		}
		last := i == len(nalus)-1

		if len(nal)+12 <= mtu {
			out = append(out, Fragment{Payload: nal, Marker: last})
			continue
		}

		out = append(out, fragmentFUA(nal, mtu, last)...)
	}
	return out
}

func fragmentFUA(nal []byte, mtu int, lastNAL bool) []Fragment {
	header := nal[0]
	fuIndicator := (header & 0xE0) | 28
	nalType := header & 0x1F
	payload := nal[1:]

	chunkSize := mtu - 14
	var frags []Fragment
	for off := 0; off < len(payload); off += chunkSize {
		end := off + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[off:end]

		start := off == 0
		end_ := end == len(payload)

		fuHeader := nalType
		if start {
			fuHeader |= 0x80
		}
		if end_ {
			fuHeader |= 0x40
		}

		buf := make([]byte, 2+len(chunk))
		buf[0] = fuIndicator
		buf[1] = fuHeader
		copy(buf[2:], chunk)

		frags = append(frags, Fragment{Payload: buf, Marker: end_ && lastNAL})
	}
	return frags
}

// PacketizeSingle puts an entire access unit into one RTP packet with
// the marker bit set, the framing VPx/AV1/Opus payloads use. Returns
// nil if the payload plus RTP header would exceed mtu: fragmenting
// these payload types across multiple packets isn't implemented, so an
// oversized frame is dropped rather than sent as an invalid packet.
func PacketizeSingle(payload []byte, mtu int) []Fragment {
	if len(payload) == 0 || len(payload)+12 > mtu {
		return nil
	}
	return []Fragment{{Payload: payload, Marker: true}}
}
