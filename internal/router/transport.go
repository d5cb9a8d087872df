package router

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// TransportDirection names a WebRTC transport's role from the client's
// point of view: "send" means the client sends media up to the router,
// "recv" means the router sends media down to the client. A connection
// may hold at most one of each per channel.
type TransportDirection string

const (
	DirSend TransportDirection = "send"
	DirRecv TransportDirection = "recv"
)

// IceParameters is the wire shape returned alongside transport creation.
type IceParameters struct {
	UsernameFragment string `json:"username_fragment"`
	Password         string `json:"password"`
}

// IceCandidate is one ICE candidate line, parsed out of the router's
// local SDP so the client never has to understand SDP itself.
type IceCandidate struct {
	Foundation string `json:"foundation"`
	Protocol   string `json:"protocol"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Port       int    `json:"port"`
	Type       string `json:"type"`
}

// DtlsFingerprint is one certificate fingerprint entry.
type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// DtlsParameters is exchanged in both directions: the router advertises
// its own in create_webrtc_transport's response, the client sends its
// answer back (embedded as AnswerSDP) in connect_webrtc_transport.
type DtlsParameters struct {
	Role         string            `json:"role"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
	AnswerSDP    string            `json:"answer_sdp,omitempty"`
}

// WebRTCTransport wraps one pion PeerConnection dedicated to a single
// direction for one connection in one channel, per the §4.6 "at most
// one send and one recv transport per connection per channel" rule.
type WebRTCTransport struct {
	ID        string
	Direction TransportDirection

	pc *webrtc.PeerConnection

	mu       sync.Mutex
	producer *Producer // not assigned; OnTrack tracks are staged in ConnectionMediaState.pendingByKind
}

func newWebRTCTransport(id string, dir TransportDirection, api *webrtc.API, iceServers []webrtc.ICEServer) (*WebRTCTransport, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("router: new peer connection: %w", err)
	}

	if dir == DirSend {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			pc.Close()
			return nil, err
		}
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			pc.Close()
			return nil, err
		}
	}

	t := &WebRTCTransport{ID: id, Direction: dir, pc: pc}
	return t, nil
}

// negotiate generates a local offer, waits for ICE gathering to finish
// (the router never trickles candidates to keep the signaling shape
// simple), and returns the parameters create_webrtc_transport advertises.
func (t *WebRTCTransport) negotiate() (IceParameters, []IceCandidate, DtlsParameters, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return IceParameters{}, nil, DtlsParameters{}, fmt.Errorf("router: create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return IceParameters{}, nil, DtlsParameters{}, fmt.Errorf("router: set local description: %w", err)
	}
	<-gatherComplete

	return parseLocalParameters(t.pc.LocalDescription().SDP)
}

// connect completes the handshake: the client sends its own DTLS role
// and the SDP answer it generated from the router's offer.
func (t *WebRTCTransport) connect(params DtlsParameters) error {
	if params.AnswerSDP == "" {
		return fmt.Errorf("router: connect_webrtc_transport missing answer_sdp")
	}
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  params.AnswerSDP,
	})
}

// onRemoteTrack wires the single OnTrack callback for a send transport;
// the router calls this once when creating the transport so it can
// register the resulting Producer.
func (t *WebRTCTransport) onRemoteTrack(fn func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	t.pc.OnTrack(fn)
}

func (t *WebRTCTransport) addConsumerTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	return t.pc.AddTrack(track)
}

func (t *WebRTCTransport) close() {
	_ = t.pc.Close()
}

// parseLocalParameters pulls ICE ufrag/pwd, candidate lines, and the
// DTLS fingerprint out of a router-generated SDP so callers never touch
// SDP text directly.
func parseLocalParameters(sdpText string) (IceParameters, []IceCandidate, DtlsParameters, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(sdpText)); err != nil {
		return IceParameters{}, nil, DtlsParameters{}, fmt.Errorf("router: parse local sdp: %w", err)
	}

	ice := IceParameters{}
	dtls := DtlsParameters{Role: "server"}
	var candidates []IceCandidate

	attrSets := [][]sdp.Attribute{desc.Attributes}
	for _, m := range desc.MediaDescriptions {
		attrSets = append(attrSets, m.Attributes)
	}

	for _, attrs := range attrSets {
		for _, a := range attrs {
			switch a.Key {
			case "ice-ufrag":
				ice.UsernameFragment = a.Value
			case "ice-pwd":
				ice.Password = a.Value
			case "fingerprint":
				parts := strings.SplitN(a.Value, " ", 2)
				if len(parts) == 2 {
					dtls.Fingerprints = append(dtls.Fingerprints, DtlsFingerprint{Algorithm: parts[0], Value: parts[1]})
				}
			case "candidate":
				if c, ok := parseCandidateLine(a.Value); ok {
					candidates = append(candidates, c)
				}
			}
		}
	}

	return ice, candidates, dtls, nil
}

// parseCandidateLine parses an ICE candidate attribute's value, e.g.
// "1 1 UDP 2113937151 10.0.0.1 54321 typ host".
func parseCandidateLine(v string) (IceCandidate, bool) {
	f := strings.Fields(v)
	if len(f) < 8 {
		return IceCandidate{}, false
	}
	priority, _ := strconv.ParseUint(f[3], 10, 32)
	port, _ := strconv.Atoi(f[5])
	return IceCandidate{
		Foundation: f[0],
		Protocol:   strings.ToLower(f[2]),
		Priority:   uint32(priority),
		IP:         f[4],
		Port:       port,
		Type:       f[7],
	}, true
}

// PlainRTPTransport is the native-sender transport: a single UDP
// socket that learns the remote address from the first packet it
// receives (comedia) and muxes RTCP on the same port.
type PlainRTPTransport struct {
	ID   string
	conn *net.UDPConn

	mu       sync.Mutex
	remote   *net.UDPAddr
	producer *Producer
}

func newPlainRTPTransport(id, listenIP string) (*PlainRTPTransport, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP(listenIP)})
	if err != nil {
		return nil, fmt.Errorf("router: listen plain-rtp transport: %w", err)
	}
	t := &PlainRTPTransport{ID: id, conn: conn}
	go t.readLoop()
	return t, nil
}

func (t *PlainRTPTransport) ListenPort() int {
	return t.conn.LocalAddr().(*net.UDPAddr).Port
}

func (t *PlainRTPTransport) attachProducer(p *Producer) {
	t.mu.Lock()
	t.producer = p
	t.mu.Unlock()
}

func (t *PlainRTPTransport) readLoop() {
	buf := make([]byte, 1500)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		t.mu.Lock()
		if t.remote == nil {
			t.remote = addr
			log.Printf("router: plain-rtp transport %s learned remote %s (comedia)", t.ID, addr)
		}
		producer := t.producer
		t.mu.Unlock()

		if producer == nil {
			continue
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		producer.forward(pkt)
	}
}

func (t *PlainRTPTransport) close() {
	_ = t.conn.Close()
}
