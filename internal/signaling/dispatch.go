package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/chorus-voice/mediacore/internal/router"
	"github.com/pion/webrtc/v4"
)

// dispatch routes one decoded request to the channel's Router and
// builds the success envelope. A non-nil error becomes signal_error;
// the connection itself is never closed for a protocol violation.
func (c *Connection) dispatch(env Envelope) (*Envelope, error) {
	switch env.Action {
	case ActionGetRouterRtpCapabilities:
		return c.handleGetRouterRtpCapabilities(env)
	case ActionCreateWebRTCTransport:
		return c.handleCreateWebRTCTransport(env)
	case ActionConnectWebRTCTransport:
		return c.handleConnectWebRTCTransport(env)
	case ActionMediaProduce:
		return c.handleMediaProduce(env)
	case ActionMediaConsume:
		return c.handleMediaConsume(env)
	case ActionMediaResumeConsumer:
		return c.handleMediaResumeConsumer(env)
	case ActionMediaCloseProducer:
		return c.handleMediaCloseProducer(env)
	case ActionCreateNativeSenderSession:
		return c.handleCreateNativeSenderSession(env)
	case ActionClientDiagnostic:
		return c.handleClientDiagnostic(env)
	default:
		return nil, fmt.Errorf("unknown action %q", env.Action)
	}
}

func (c *Connection) handleGetRouterRtpCapabilities(env Envelope) (*Envelope, error) {
	caps := c.router.GetRtpCapabilities()
	resp, err := successEnvelope(env.Action, env.RequestID, caps)
	return &resp, err
}

func (c *Connection) handleCreateWebRTCTransport(env Envelope) (*Envelope, error) {
	var req createWebRTCTransportRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, fmt.Errorf("malformed create_webrtc_transport payload")
	}
	if !validateEnum(req.Direction) {
		return nil, fmt.Errorf("invalid direction")
	}

	dir := router.DirSend
	switch req.Direction {
	case "send":
		dir = router.DirSend
	case "recv":
		dir = router.DirRecv
	default:
		return nil, fmt.Errorf("direction must be \"send\" or \"recv\"")
	}

	id, ice, candidates, dtls, err := c.router.CreateWebRTCTransport(c.ID, dir)
	if err != nil {
		return nil, err
	}

	resp, err := successEnvelope(env.Action, env.RequestID, createWebRTCTransportResponse{
		ID:             id,
		IceParameters:  ice,
		IceCandidates:  candidates,
		DtlsParameters: dtls,
	})
	return &resp, err
}

func (c *Connection) handleConnectWebRTCTransport(env Envelope) (*Envelope, error) {
	var req connectWebRTCTransportRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, fmt.Errorf("malformed connect_webrtc_transport payload")
	}
	if !validateID(req.TransportID) {
		return nil, fmt.Errorf("invalid transport_id")
	}

	var dtls router.DtlsParameters
	if err := json.Unmarshal(req.DtlsParameters, &dtls); err != nil {
		return nil, fmt.Errorf("malformed dtls_parameters")
	}

	if err := c.router.ConnectWebRTCTransport(c.ID, req.TransportID, dtls); err != nil {
		return nil, err
	}
	resp, err := successEnvelope(env.Action, env.RequestID, struct{}{})
	return &resp, err
}

func (c *Connection) handleMediaProduce(env Envelope) (*Envelope, error) {
	var req mediaProduceRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, fmt.Errorf("malformed media_produce payload")
	}
	if !validateEnum(req.Kind) || !validateEnum(req.Source) {
		return nil, fmt.Errorf("invalid kind or source")
	}

	kind := webrtc.RTPCodecTypeVideo
	if req.Kind == "audio" {
		kind = webrtc.RTPCodecTypeAudio
	}

	producerID, err := c.router.MediaProduce(c.ID, kind, router.Source(req.Source))
	if err != nil {
		return nil, err
	}
	resp, err := successEnvelope(env.Action, env.RequestID, mediaProduceResponse{ProducerID: producerID})
	return &resp, err
}

func (c *Connection) handleMediaConsume(env Envelope) (*Envelope, error) {
	var req mediaConsumeRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, fmt.Errorf("malformed media_consume payload")
	}
	if !validateID(req.ProducerID) {
		return nil, fmt.Errorf("invalid producer_id")
	}

	cons, err := c.router.MediaConsume(c.ID, req.ProducerID)
	if err != nil {
		return nil, err
	}

	resp, err := successEnvelope(env.Action, env.RequestID, mediaConsumeResponse{
		ID:         cons.ID,
		ProducerID: cons.ProducerID,
		Kind:       cons.Kind.String(),
		RtpParameters: struct {
			MimeType    string `json:"mime_type"`
			ClockRate   uint32 `json:"clock_rate"`
			PayloadType uint8  `json:"payload_type"`
		}{cons.Codec.MimeType, cons.Codec.ClockRate, uint8(cons.Codec.PayloadType)},
	})
	return &resp, err
}

func (c *Connection) handleMediaResumeConsumer(env Envelope) (*Envelope, error) {
	var req mediaResumeConsumerRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, fmt.Errorf("malformed media_resume_consumer payload")
	}
	if !validateID(req.ConsumerID) {
		return nil, fmt.Errorf("invalid consumer_id")
	}
	if err := c.router.MediaResumeConsumer(c.ID, req.ConsumerID); err != nil {
		return nil, err
	}
	resp, err := successEnvelope(env.Action, env.RequestID, struct{}{})
	return &resp, err
}

func (c *Connection) handleMediaCloseProducer(env Envelope) (*Envelope, error) {
	var req mediaCloseProducerRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, fmt.Errorf("malformed media_close_producer payload")
	}
	if !validateID(req.ProducerID) {
		return nil, fmt.Errorf("invalid producer_id")
	}
	if err := c.router.MediaCloseProducer(c.ID, req.ProducerID); err != nil {
		return nil, err
	}
	resp, err := successEnvelope(env.Action, env.RequestID, struct{}{})
	return &resp, err
}

func (c *Connection) handleCreateNativeSenderSession(env Envelope) (*Envelope, error) {
	var req createNativeSenderSessionRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, fmt.Errorf("malformed create_native_sender_session payload")
	}
	if req.Source == "" {
		req.Source = string(router.SourceOther)
	}
	if !validateEnum(req.Source) {
		return nil, fmt.Errorf("invalid source")
	}

	desc, err := c.router.CreateNativeSenderSession(c.ID, router.Source(req.Source), req.PreferredCodecs)
	if err != nil {
		return nil, err
	}
	resp, err := successEnvelope(env.Action, env.RequestID, desc)
	return &resp, err
}

// handleClientDiagnostic logs the diagnostic and only acks when
// request_id is present: a fire-and-forget diagnostic omits it.
func (c *Connection) handleClientDiagnostic(env Envelope) (*Envelope, error) {
	var req clientDiagnosticRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, fmt.Errorf("malformed client_diagnostic payload")
	}
	logClientDiagnostic(c.ID, req.Event, req.Detail)

	if env.RequestID == "" {
		return nil, nil
	}
	resp, err := successEnvelope(env.Action, env.RequestID, struct{}{})
	return &resp, err
}

// translateEvent turns a router.Event into the wire envelope for the
// corresponding broadcast action.
func translateEvent(ev router.Event) (Envelope, Action, error) {
	switch ev.Type {
	case router.EventNewProducer:
		p, ok := ev.Payload.(router.NewProducerPayload)
		if !ok {
			return Envelope{}, "", fmt.Errorf("unexpected payload for new_producer event")
		}
		env, err := successEnvelope(ActionNewProducer, "", p)
		return env, ActionNewProducer, err
	case router.EventProducerClosed:
		p, ok := ev.Payload.(router.ProducerClosedPayload)
		if !ok {
			return Envelope{}, "", fmt.Errorf("unexpected payload for producer_closed event")
		}
		env, err := successEnvelope(ActionProducerClosed, "", p)
		return env, ActionProducerClosed, err
	case router.EventRenegotiateRecv:
		p, ok := ev.Payload.(router.RenegotiatePayload)
		if !ok {
			return Envelope{}, "", fmt.Errorf("unexpected payload for renegotiate event")
		}
		env, err := successEnvelope(ActionRenegotiate, "", p)
		return env, ActionRenegotiate, err
	default:
		return Envelope{}, "", fmt.Errorf("unknown event type %s", ev.Type)
	}
}
