package router

import (
	"fmt"
	"log"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Router owns one channel's entire media state: its MediaEngine/API
// instance, every connection's ConnectionMediaState, and every producer
// that exists in the channel. A channel's Router and all its
// Producers/Consumers live on a single worker shard: this struct is
// that worker's unit of state, and its own mutex is the only lock
// contended across connections within the channel.
type Router struct {
	ChannelID  string
	listenIP   string
	iceServers []webrtc.ICEServer
	api        *webrtc.API

	mu          sync.Mutex
	connections map[string]*ConnectionMediaState
	producers   map[string]*Producer // producerID -> Producer, channel-wide

	// subscribers holds one delivery channel per currently-connected
	// signaling connection, so a new_producer/producer_closed broadcast
	// reaches exactly the connections it is addressed to rather than
	// being stolen by whichever goroutine happens to read first off a
	// single shared channel.
	subscribers map[string]chan Event
}

func newRouter(channelID, listenIP string, iceServers []webrtc.ICEServer) (*Router, error) {
	me, err := newMediaEngine()
	if err != nil {
		return nil, fmt.Errorf("router: build media engine for channel %s: %w", channelID, err)
	}
	return &Router{
		ChannelID:   channelID,
		listenIP:    listenIP,
		iceServers:  iceServers,
		api:         webrtc.NewAPI(webrtc.WithMediaEngine(me)),
		connections: make(map[string]*ConnectionMediaState),
		producers:   make(map[string]*Producer),
		subscribers: make(map[string]chan Event),
	}, nil
}

// Subscribe registers connID to receive async events and returns its
// delivery channel. Call Unsubscribe when the connection closes.
func (r *Router) Subscribe(connID string) <-chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan Event, 64)
	r.subscribers[connID] = ch
	return ch
}

// Unsubscribe closes and removes connID's delivery channel.
func (r *Router) Unsubscribe(connID string) {
	r.mu.Lock()
	ch, ok := r.subscribers[connID]
	if ok {
		delete(r.subscribers, connID)
	}
	r.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (r *Router) logDroppedEvent(ev Event) {
	log.Printf("router: channel=%s dropped event type=%s connection=%s (subscriber buffer full)", r.ChannelID, ev.Type, ev.ConnectionID)
}

func (r *Router) connectionLocked(connID string) *ConnectionMediaState {
	c, ok := r.connections[connID]
	if !ok {
		c = newConnectionMediaState(connID, r.ChannelID)
		r.connections[connID] = c
	}
	return c
}

// GetRtpCapabilities answers get_router_rtp_capabilities.
func (r *Router) GetRtpCapabilities() RtpCapabilities {
	return routerRtpCapabilities()
}

// CreateWebRTCTransport answers create_webrtc_transport. On a recv
// creation it synthesizes new_producer events for every producer
// already in the channel owned by another connection, so a late
// joiner discovers existing producers without waiting for a broadcast.
func (r *Router) CreateWebRTCTransport(connID string, dir TransportDirection) (string, IceParameters, []IceCandidate, DtlsParameters, error) {
	t, err := newWebRTCTransport(newID(), dir, r.api, r.iceServers)
	if err != nil {
		return "", IceParameters{}, nil, DtlsParameters{}, err
	}

	r.mu.Lock()
	c := r.connectionLocked(connID)
	r.mu.Unlock()

	if dir == DirSend {
		t.onRemoteTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			r.acceptRemoteTrack(connID, t, remote)
		})
	}

	if old := c.setWebRTCTransport(t); old != nil {
		log.Printf("router: channel=%s connection=%s replacing %s transport %s", r.ChannelID, connID, dir, old.ID)
		old.close()
	}

	ice, candidates, dtls, err := t.negotiate()
	if err != nil {
		return "", IceParameters{}, nil, DtlsParameters{}, err
	}

	if dir == DirRecv {
		r.announceExistingProducers(connID)
	}

	return t.ID, ice, candidates, dtls, nil
}

// announceExistingProducers synthesizes new_producer for every producer
// in the channel not owned by connID.
func (r *Router) announceExistingProducers(connID string) {
	r.mu.Lock()
	var toAnnounce []*Producer
	for _, p := range r.producers {
		if p.ConnectionID != connID {
			toAnnounce = append(toAnnounce, p)
		}
	}
	r.mu.Unlock()

	for _, p := range toAnnounce {
		r.emit(Event{
			ConnectionID: connID,
			Type:         EventNewProducer,
			Payload:      NewProducerPayload{ProducerID: p.ID, Kind: p.Kind.String(), Source: p.Source},
		})
	}
}

// acceptRemoteTrack runs on a send transport's OnTrack callback. It
// stages a Producer keyed by kind, awaiting a media_produce call that
// names the source (camera/screen/microphone) and claims it.
func (r *Router) acceptRemoteTrack(connID string, t *WebRTCTransport, remote *webrtc.TrackRemote) {
	codec, ok := codecForMimeType(remote.Codec().MimeType)
	if !ok {
		log.Printf("router: channel=%s connection=%s unsupported inbound codec %s", r.ChannelID, connID, remote.Codec().MimeType)
		return
	}

	p := newProducer(newID(), r.ChannelID, connID, remote.Kind(), SourceOther, codec, webrtc.SSRC(remote.SSRC()))

	r.mu.Lock()
	c := r.connectionLocked(connID)
	r.mu.Unlock()

	c.mu.Lock()
	c.pendingByKind[remote.Kind()] = p
	c.mu.Unlock()

	go r.pumpRemoteTrack(remote, p)
}

func (r *Router) pumpRemoteTrack(remote *webrtc.TrackRemote, p *Producer) {
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		p.forward(pkt)
	}
}

// ConnectWebRTCTransport answers connect_webrtc_transport.
func (r *Router) ConnectWebRTCTransport(connID, transportID string, dtls DtlsParameters) error {
	r.mu.Lock()
	c, ok := r.connections[connID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("router: unknown connection %s", connID)
	}

	t := c.transportByID(transportID)
	if t == nil {
		return fmt.Errorf("router: connection %s has no transport %s", connID, transportID)
	}
	return t.connect(dtls)
}

// MediaProduce answers media_produce for a WebRTC send transport. It
// claims whichever pending track OnTrack staged for this kind, enforces
// the one-camera/one-screen admission rule under the connection mutex,
// and broadcasts new_producer to the rest of the channel.
func (r *Router) MediaProduce(connID string, kind webrtc.RTPCodecType, source Source) (string, error) {
	r.mu.Lock()
	c := r.connectionLocked(connID)
	r.mu.Unlock()

	c.mu.Lock()
	p, ok := c.pendingByKind[kind]
	if !ok {
		c.mu.Unlock()
		return "", fmt.Errorf("router: connection %s has no pending %s track to produce", connID, kind)
	}
	if !c.admitSource(source) {
		c.mu.Unlock()
		return "", fmt.Errorf("router: connection %s already has an active %s producer", connID, source)
	}
	delete(c.pendingByKind, kind)
	p.Source = source
	c.producers[p.ID] = p
	c.mu.Unlock()

	r.mu.Lock()
	r.producers[p.ID] = p
	r.mu.Unlock()

	r.broadcastNewProducer(connID, p)
	return p.ID, nil
}

func (r *Router) broadcastNewProducer(exceptConnID string, p *Producer) {
	r.mu.Lock()
	var targets []string
	for id := range r.connections {
		if id != exceptConnID {
			targets = append(targets, id)
		}
	}
	r.mu.Unlock()

	for _, id := range targets {
		r.emit(Event{
			ConnectionID: id,
			Type:         EventNewProducer,
			Payload:      NewProducerPayload{ProducerID: p.ID, Kind: p.Kind.String(), Source: p.Source},
		})
	}
}

// MediaConsume answers media_consume: scoped to the caller's recv
// transport, created paused. An unresolvable producer is a recoverable
// error, not a protocol violation. The caller's RTP capabilities are
// not checked against the producer's codec.
func (r *Router) MediaConsume(connID, producerID string) (*Consumer, error) {
	r.mu.Lock()
	c, ok := r.connections[connID]
	p, pok := r.producers[producerID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("router: unknown connection %s", connID)
	}
	if !pok || p.ChannelID != r.ChannelID {
		return nil, fmt.Errorf("router: producer %s not found in channel %s", producerID, r.ChannelID)
	}

	c.mu.Lock()
	recv := c.recvTransport
	c.mu.Unlock()
	if recv == nil {
		return nil, fmt.Errorf("router: connection %s has no recv transport", connID)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:     p.Codec.MimeType,
		ClockRate:    p.Codec.ClockRate,
		Channels:     p.Codec.Channels,
		SDPFmtpLine:  p.Codec.SDPFmtpLine,
		RTCPFeedback: p.Codec.Feedback,
	}, p.ID, p.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("router: unable to consume producer %s: %w", producerID, err)
	}

	if _, err := recv.addConsumerTrack(track); err != nil {
		return nil, fmt.Errorf("router: unable to consume producer %s: %w", producerID, err)
	}

	cons := newConsumer(newID(), p.ID, connID, p.Kind, p.Codec, track)
	p.addConsumer(cons)

	c.mu.Lock()
	c.consumers[cons.ID] = cons
	c.mu.Unlock()

	r.emit(Event{
		ConnectionID: connID,
		Type:         EventRenegotiateRecv,
		Payload:      RenegotiatePayload{TransportID: recv.ID},
	})

	return cons, nil
}

// MediaResumeConsumer answers media_resume_consumer.
func (r *Router) MediaResumeConsumer(connID, consumerID string) error {
	r.mu.Lock()
	c, ok := r.connections[connID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("router: unknown connection %s", connID)
	}

	c.mu.Lock()
	cons, ok := c.consumers[consumerID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("router: connection %s has no consumer %s", connID, consumerID)
	}
	cons.resume()
	return nil
}

// MediaCloseProducer answers media_close_producer and broadcasts
// producer_closed to the remaining channel members.
func (r *Router) MediaCloseProducer(connID, producerID string) error {
	r.mu.Lock()
	c, ok := r.connections[connID]
	p, pok := r.producers[producerID]
	r.mu.Unlock()
	if !ok || !pok || p.ConnectionID != connID {
		return fmt.Errorf("router: connection %s does not own producer %s", connID, producerID)
	}

	r.closeProducer(c, p)
	return nil
}

func (r *Router) closeProducer(c *ConnectionMediaState, p *Producer) {
	p.close()

	c.mu.Lock()
	delete(c.producers, p.ID)
	c.releaseSource(p.Source)
	c.mu.Unlock()

	r.mu.Lock()
	delete(r.producers, p.ID)
	var others []string
	for id := range r.connections {
		if id != c.ConnectionID {
			others = append(others, id)
		}
	}
	r.mu.Unlock()

	for _, id := range others {
		r.emit(Event{
			ConnectionID: id,
			Type:         EventProducerClosed,
			Payload:      ProducerClosedPayload{ProducerID: p.ID},
		})
	}
}

// NativeSenderDescriptor answers create_native_sender_session.
type NativeSenderDescriptor struct {
	ProducerID        string  `json:"producer_id"`
	RtpTarget         string  `json:"rtp_target"`
	PayloadType       uint8   `json:"payload_type"`
	SSRC              uint32  `json:"ssrc"`
	MimeType          string  `json:"mime_type"`
	ClockRate         uint32  `json:"clock_rate"`
	PacketizationMode *int    `json:"packetization_mode,omitempty"`
	ProfileLevelID    string  `json:"profile_level_id,omitempty"`
	AvailableCodecs   []Codec `json:"available_codecs"`
}

// CreateNativeSenderSession answers create_native_sender_session: builds
// a Plain-RTP transport and producer in one step, since the native
// client supplies no SDP of its own.
func (r *Router) CreateNativeSenderSession(connID string, source Source, preferredCodecs []string) (NativeSenderDescriptor, error) {
	codec := pickNativeSenderCodec(preferredCodecs)

	t, err := newPlainRTPTransport(newID(), r.listenIP)
	if err != nil {
		return NativeSenderDescriptor{}, err
	}

	kind := webrtc.RTPCodecTypeVideo
	if codec.MimeType == webrtc.MimeTypeOpus {
		kind = webrtc.RTPCodecTypeAudio
	}
	ssrc := randomSSRC()
	p := newProducer(newID(), r.ChannelID, connID, kind, source, codec, ssrc)
	t.attachProducer(p)

	r.mu.Lock()
	c := r.connectionLocked(connID)
	r.mu.Unlock()

	c.mu.Lock()
	if !c.admitSource(source) {
		c.mu.Unlock()
		t.close()
		return NativeSenderDescriptor{}, fmt.Errorf("router: connection %s already has an active %s producer", connID, source)
	}
	c.plainByID[t.ID] = t
	c.producers[p.ID] = p
	c.mu.Unlock()

	r.mu.Lock()
	r.producers[p.ID] = p
	r.mu.Unlock()

	r.broadcastNewProducer(connID, p)

	desc := NativeSenderDescriptor{
		ProducerID:      p.ID,
		RtpTarget:       fmt.Sprintf("%s:%d", r.listenIP, t.ListenPort()),
		PayloadType:     uint8(codec.PayloadType),
		SSRC:            uint32(ssrc),
		MimeType:        codec.MimeType,
		ClockRate:       codec.ClockRate,
		ProfileLevelID:  profileLevelID(codec),
		AvailableCodecs: Catalogue,
	}
	if codec.MimeType == webrtc.MimeTypeH264 {
		mode := 1
		desc.PacketizationMode = &mode
	}
	return desc, nil
}

func profileLevelID(c Codec) string {
	if c.MimeType != webrtc.MimeTypeH264 {
		return ""
	}
	return "42e01f"
}

// CleanupConnection tears a connection's media state down entirely:
// after this call, no producer, consumer, or transport remains indexed
// under connID, and every producer it owned was announced
// producer_closed to the rest of the channel.
func (r *Router) CleanupConnection(connID string) {
	r.mu.Lock()
	c, ok := r.connections[connID]
	if ok {
		delete(r.connections, connID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	c.mu.Lock()
	producers := make([]*Producer, 0, len(c.producers))
	for _, p := range c.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(c.consumers))
	for _, cons := range c.consumers {
		consumers = append(consumers, cons)
	}
	send, recv := c.sendTransport, c.recvTransport
	plains := make([]*PlainRTPTransport, 0, len(c.plainByID))
	for _, t := range c.plainByID {
		plains = append(plains, t)
	}
	c.mu.Unlock()

	for _, cons := range consumers {
		r.mu.Lock()
		if p, ok := r.producers[cons.ProducerID]; ok {
			p.removeConsumer(cons.ID)
		}
		r.mu.Unlock()
	}

	for _, p := range producers {
		r.closeProducer(c, p)
	}

	if send != nil {
		send.close()
	}
	if recv != nil {
		recv.close()
	}
	for _, t := range plains {
		t.close()
	}

	r.Unsubscribe(connID)

	log.Printf("router: channel=%s connection=%s cleaned up (%d producers, %d consumers closed)", r.ChannelID, connID, len(producers), len(consumers))
}
