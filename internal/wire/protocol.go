package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Message kinds.
const (
	KindRequest = "req"
	KindReply   = "rep"
	KindEvent   = "evt"
)

// Client-to-service methods.
const (
	MethodGetDisplayInfo     = "get_physical_display_info"
	MethodAddWindowToken     = "add_window_token"
	MethodRemoveWindowToken  = "remove_window_token"
	MethodIsWindowToken      = "is_window_token"
	MethodUpdateTokenVisible = "update_window_token_visibility"
	MethodAddWindow          = "add_window"
	MethodRemoveWindow       = "remove_window"
	MethodRelayout           = "relayout"
	MethodRequestVsync       = "request_vsync"
	MethodApplyTransaction   = "apply_transaction"
	MethodMonitorInput       = "monitor_input"
	MethodReleaseInput       = "release_input"

	// Control plane (CLI, TUI, MCP).
	MethodGetStatus   = "get_status"
	MethodListWindows = "list_windows"
	MethodListTokens  = "list_tokens"
)

// Service-to-client events.
const (
	EventMoved          = "moved"
	EventResized        = "resized"
	EventAppVisibility  = "dispatch_app_visibility"
	EventOnFrame        = "on_frame"
	EventBufferReleased = "buffer_released"
)

// Message is the envelope framed onto the control socket. Requests carry a
// nonzero Seq echoed by the matching reply; events carry Seq 0.
type Message struct {
	Kind    string          `json:"kind"`
	Seq     uint64          `json:"seq,omitempty"`
	Method  string          `json:"method,omitempty"`
	Status  Status          `json:"status,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// NumFds declares how many descriptors ride along with this message.
	NumFds int `json:"num_fds,omitempty"`
}

// maxFrameBytes bounds a single control message; transactions are small and
// buffer payloads never cross this socket.
const maxFrameBytes = 1 << 20

// Encode renders the message as a length-prefixed frame.
func Encode(msg *Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	if len(body) > maxFrameBytes {
		return nil, fmt.Errorf("message of %d bytes exceeds frame limit", len(body))
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	return frame, nil
}

// DecodeLength parses a frame header and returns the body length.
func DecodeLength(header []byte) (int, error) {
	if len(header) != 4 {
		return 0, fmt.Errorf("frame header is %d bytes, want 4", len(header))
	}
	n := binary.BigEndian.Uint32(header)
	if n == 0 || n > maxFrameBytes {
		return 0, fmt.Errorf("frame length %d out of range", n)
	}
	return int(n), nil
}

// DecodeBody parses a frame body.
func DecodeBody(body []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	switch msg.Kind {
	case KindRequest, KindReply, KindEvent:
	default:
		return nil, fmt.Errorf("unknown message kind %q", msg.Kind)
	}
	return &msg, nil
}

// NewRequest builds a request envelope with a marshalled payload.
func NewRequest(seq uint64, method string, payload any) (*Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Kind: KindRequest, Seq: seq, Method: method, Payload: raw}, nil
}

// NewReply builds a reply envelope for the given request seq.
func NewReply(seq uint64, status Status, errMsg string, payload any) (*Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Kind: KindReply, Seq: seq, Status: status, Error: errMsg, Payload: raw}, nil
}

// NewEvent builds an unsolicited service-to-client event.
func NewEvent(method string, payload any) (*Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Kind: KindEvent, Method: method, Payload: raw}, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return raw, nil
}

// Unpack decodes a message payload into out.
func (m *Message) Unpack(out any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("message %s has no payload", m.Method)
	}
	if err := json.Unmarshal(m.Payload, out); err != nil {
		return fmt.Errorf("failed to parse %s payload: %w", m.Method, err)
	}
	return nil
}
