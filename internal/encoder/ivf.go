package encoder

import (
	"encoding/binary"
	"fmt"
)

const ivfHeaderSize = 32
const ivfFrameHeaderSize = 12

// IVFParser incrementally parses the IVF container libvpx/libaom emit
// for VP8/VP9/AV1: the 32-byte DKIF header is dropped exactly once,
// then each frame is a 12-byte header (first 4 bytes little-endian
// payload size) followed by the payload.
type IVFParser struct {
	sawHeader bool
}

// Feed consumes one chunk of encoder stdout and returns every complete
// frame payload found in it. Partial trailing data is returned as
// remainder for the caller to prepend to the next chunk.
func (p *IVFParser) Feed(buf []byte) (frames [][]byte, remainder []byte, err error) {
	if !p.sawHeader {
		if len(buf) < ivfHeaderSize {
			return nil, buf, nil
		}
		if string(buf[0:4]) != "DKIF" {
			return nil, nil, fmt.Errorf("ivf: missing DKIF header")
		}
		p.sawHeader = true
		buf = buf[ivfHeaderSize:]
	}

	for len(buf) >= ivfFrameHeaderSize {
		size := binary.LittleEndian.Uint32(buf[0:4])
		total := ivfFrameHeaderSize + int(size)
		if len(buf) < total {
			break
		}
		payload := make([]byte, size)
		copy(payload, buf[ivfFrameHeaderSize:total])
		frames = append(frames, payload)
		buf = buf[total:]
	}
	return frames, buf, nil
}
