package router

// EventType names an async notification the router pushes toward a
// signaling connection outside the request/response cycle: the
// new_producer and producer_closed broadcasts.
type EventType string

const (
	EventNewProducer     EventType = "new_producer"
	EventProducerClosed  EventType = "producer_closed"
	EventRenegotiateRecv EventType = "renegotiate_recv_transport"
)

// Event is addressed to a single connection; the signaling layer owns
// turning this into the actual wire message for that connection.
type Event struct {
	ConnectionID string
	Type         EventType
	Payload      any
}

// NewProducerPayload is the payload carried by EventNewProducer.
type NewProducerPayload struct {
	ProducerID string `json:"producer_id"`
	Kind       string `json:"kind"`
	Source     Source `json:"source"`
}

// ProducerClosedPayload is the payload carried by EventProducerClosed.
type ProducerClosedPayload struct {
	ProducerID string `json:"producer_id"`
}

// RenegotiatePayload carries a fresh offer for a recv transport after
// the router added a consumer track to it.
type RenegotiatePayload struct {
	TransportID string `json:"transport_id"`
	OfferSDP    string `json:"offer_sdp"`
}

// emit pushes an event to the addressed connection's subscriber channel
// without blocking; a full channel means the signaling layer has
// stalled reading events, which is a bug in that layer, not a reason to
// block media processing. A connection with no active subscription
// (already disconnected, or a caller that never subscribed) silently
// drops the event.
func (r *Router) emit(ev Event) {
	r.mu.Lock()
	ch, ok := r.subscribers[ev.ConnectionID]
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- ev:
	default:
		r.logDroppedEvent(ev)
	}
}
