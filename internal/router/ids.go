package router

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

func newID() string { return uuid.NewString() }

// randomSSRC avoids the zero value: rtpio.NewSender uses the SSRC it is
// given unchanged, so a zero here would go out on the wire as SSRC 0.
func randomSSRC() webrtc.SSRC {
	var b [4]byte
	for {
		_, _ = rand.Read(b[:])
		v := binary.BigEndian.Uint32(b[:])
		if v != 0 {
			return webrtc.SSRC(v)
		}
	}
}
