// Package signaling implements the JSON-over-websocket wire protocol:
// request/response envelopes keyed by request_id, per-connection rate
// limiting, and dispatch into internal/router.
//
// Grounded on the http.ServeMux/gorilla-style connection lifecycle
// shape used elsewhere in this codebase, and on
// n0remac-robot-webrtc/webrtc/sfu.go's single-writer-goroutine hub
// pattern (one buffered send channel per connection, one reader
// goroutine, one writer goroutine).
package signaling

import "encoding/json"

// Action names every request the client may send.
type Action string

const (
	ActionGetRouterRtpCapabilities Action = "get_router_rtp_capabilities"
	ActionCreateWebRTCTransport    Action = "create_webrtc_transport"
	ActionConnectWebRTCTransport   Action = "connect_webrtc_transport"
	ActionMediaProduce             Action = "media_produce"
	ActionMediaConsume             Action = "media_consume"
	ActionMediaResumeConsumer      Action = "media_resume_consumer"
	ActionMediaCloseProducer       Action = "media_close_producer"
	ActionCreateNativeSenderSession Action = "create_native_sender_session"
	ActionClientDiagnostic         Action = "client_diagnostic"

	ActionSignalError  Action = "signal_error"
	ActionNewProducer  Action = "new_producer"
	ActionProducerClosed Action = "producer_closed"
	ActionRenegotiate  Action = "renegotiate_recv_transport"
)

// maxPayloadBytes, maxIDLength and maxEnumLength implement the §4.6/§8
// rate-limit/size bounds: payload bytes ≤32KiB; request/entity ids
// ≤128 chars; enum fields ≤16-32 chars.
const (
	maxPayloadBytes = 32 * 1024
	maxIDLength     = 128
	maxEnumLength   = 32
)

// Envelope is the outer shape of every message on the wire in both
// directions. Fields not relevant to a given action are omitted.
type Envelope struct {
	Action    Action          `json:"action"`
	RequestID string          `json:"request_id,omitempty"`
	Message   string          `json:"message,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func errorEnvelope(requestID, message string) Envelope {
	return Envelope{Action: ActionSignalError, RequestID: requestID, Message: message}
}

func successEnvelope(action Action, requestID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Action: action, RequestID: requestID, Payload: raw}, nil
}

/* -------------------------- per-action payloads -------------------------- */

type createWebRTCTransportRequest struct {
	Direction string `json:"direction"`
}

type createWebRTCTransportResponse struct {
	ID             string                 `json:"id"`
	IceParameters  any                    `json:"ice_parameters"`
	IceCandidates  any                    `json:"ice_candidates"`
	DtlsParameters any                    `json:"dtls_parameters"`
}

type connectWebRTCTransportRequest struct {
	TransportID    string          `json:"transport_id"`
	DtlsParameters json.RawMessage `json:"dtls_parameters"`
}

type mediaProduceRequest struct {
	Kind   string `json:"kind"`
	Source string `json:"source"`
}

type mediaProduceResponse struct {
	ProducerID string `json:"producer_id"`
}

type mediaConsumeRequest struct {
	ProducerID       string          `json:"producer_id"`
	RtpCapabilities  json.RawMessage `json:"rtp_capabilities"`
}

type mediaConsumeResponse struct {
	ID         string `json:"id"`
	ProducerID string `json:"producer_id"`
	Kind       string `json:"kind"`
	RtpParameters any `json:"rtp_parameters"`
}

type mediaResumeConsumerRequest struct {
	ConsumerID string `json:"consumer_id"`
}

type mediaCloseProducerRequest struct {
	ProducerID string `json:"producer_id"`
}

type createNativeSenderSessionRequest struct {
	Source          string   `json:"source"`
	PreferredCodecs []string `json:"preferred_codecs,omitempty"`
}

type clientDiagnosticRequest struct {
	Event  string `json:"event"`
	Detail string `json:"detail,omitempty"`
}
