// Package router implements the media SFU: a fixed codec catalogue,
// per-channel workers, WebRTC and Plain-RTP transports, and
// producer/consumer admission rules.
//
// Grounded on n0remac-robot-webrtc/webrtc/sfu.go for the room/peer/track
// bookkeeping shape (per-peer sender map, pubID|trackID keys, RTCP relay
// goroutines) and on the MediaEngine/codec registration idiom used for
// single-peer WebRTC sessions elsewhere in this codebase, generalized
// from one peer to many producers and consumers per channel.
package router

import "github.com/pion/webrtc/v4"

// Codec is one entry of the fixed codec catalogue this router offers.
type Codec struct {
	MimeType    string                 `json:"mime_type"`
	ClockRate   uint32                 `json:"clock_rate"`
	Channels    uint16                 `json:"channels,omitempty"`
	SDPFmtpLine string                 `json:"sdp_fmtp_line,omitempty"`
	Feedback    []webrtc.RTCPFeedback  `json:"rtcp_feedback,omitempty"`
	PayloadType webrtc.PayloadType     `json:"payload_type"`
}

// Catalogue is the channel-wide set of codecs the router is willing to
// receive and forward. It never varies per channel; every channel gets
// the same fixed set.
var Catalogue = []Codec{
	{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
		Feedback:  []webrtc.RTCPFeedback{{Type: "transport-cc"}},
		PayloadType: 111,
	},
	{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
		Feedback:  videoFeedback(),
		PayloadType: 98,
	},
	{
		MimeType:    webrtc.MimeTypeH264,
		ClockRate:   90000,
		SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		Feedback:    videoFeedback(),
		PayloadType: 96,
	},
	{
		MimeType:  webrtc.MimeTypeVP9,
		ClockRate: 90000,
		Feedback:  videoFeedback(),
		PayloadType: 100,
	},
	{
		MimeType:  webrtc.MimeTypeAV1,
		ClockRate: 90000,
		Feedback:  videoFeedback(),
		PayloadType: 102,
	},
}

func videoFeedback() []webrtc.RTCPFeedback {
	return []webrtc.RTCPFeedback{
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "goog-remb"},
		{Type: "transport-cc"},
	}
}

// RtpCapabilities is the wire shape returned by get_router_rtp_capabilities.
type RtpCapabilities struct {
	Codecs []Codec `json:"codecs"`
}

func routerRtpCapabilities() RtpCapabilities {
	return RtpCapabilities{Codecs: Catalogue}
}

// newMediaEngine builds a pion MediaEngine carrying the fixed catalogue,
// registered on both the audio and video kinds as appropriate.
func newMediaEngine() (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range Catalogue {
		kind := webrtc.RTPCodecTypeVideo
		if c.MimeType == webrtc.MimeTypeOpus {
			kind = webrtc.RTPCodecTypeAudio
		}
		if err := m.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     c.MimeType,
				ClockRate:    c.ClockRate,
				Channels:     c.Channels,
				SDPFmtpLine:  c.SDPFmtpLine,
				RTCPFeedback: c.Feedback,
			},
			PayloadType: c.PayloadType,
		}, kind); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// codecForMimeType finds a catalogue entry by MIME type, case-sensitive
// per pion's own webrtc.MimeType* constants.
func codecForMimeType(mime string) (Codec, bool) {
	for _, c := range Catalogue {
		if c.MimeType == mime {
			return c, true
		}
	}
	return Codec{}, false
}

// pickNativeSenderCodec implements the §4.6 codec-pick rule: the first
// ready codec from the client's ordered preference list, else H.264.
func pickNativeSenderCodec(preferred []string) Codec {
	for _, mime := range preferred {
		if c, ok := codecForMimeType(mime); ok {
			return c
		}
	}
	c, _ := codecForMimeType(webrtc.MimeTypeH264)
	return c
}
