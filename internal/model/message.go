package model

import "encoding/json"

// ProtocolVersion is the value of the $fw.version field in every envelope.
const ProtocolVersion = "1.0"

// Body is the inner payload of an envelope. The "type" key carries the
// short uppercase message token (e.g. "UAV-INF", "DEV-SUB").
type Body map[string]any

// Type returns the message type token of the body, or "" when absent.
func (b Body) Type() string {
	t, _ := b["type"].(string)
	return t
}

// StringSlice reads a key holding a JSON array of strings. Non-string
// elements are skipped.
func (b Body) StringSlice(key string) []string {
	raw, ok := b[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Message is the outer JSON envelope exchanged with clients.
type Message struct {
	Version string `json:"$fw.version"`
	ID      string `json:"id"`
	Refs    string `json:"refs,omitempty"`
	Body    Body   `json:"body"`
}

// Type returns the message type token of the envelope body.
func (m *Message) Type() string {
	if m == nil || m.Body == nil {
		return ""
	}
	return m.Body.Type()
}

// Encode marshals the envelope to its wire form.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a raw frame into an envelope.
func DecodeMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// NewNotification creates an envelope with a fresh id and no refs.
func NewNotification(body Body) *Message {
	return &Message{
		Version: ProtocolVersion,
		ID:      NewMessageID(),
		Body:    body,
	}
}

// NewResponseTo creates an envelope answering the given request. When the
// body has no type of its own, the request's type is copied over.
func NewResponseTo(request *Message, body Body) *Message {
	if body == nil {
		body = Body{}
	}
	if body.Type() == "" && request != nil {
		body["type"] = request.Type()
	}
	msg := &Message{
		Version: ProtocolVersion,
		ID:      NewMessageID(),
		Body:    body,
	}
	if request != nil {
		msg.Refs = request.ID
	}
	return msg
}

// NewACK creates a positive acknowledgement response.
func NewACK(request *Message) *Message {
	return NewResponseTo(request, Body{"type": "ACK-ACK"})
}

// NewNAK creates a negative acknowledgement response with a reason.
func NewNAK(request *Message, reason string) *Message {
	body := Body{"type": "ACK-NAK"}
	if reason != "" {
		body["reason"] = reason
	}
	return NewResponseTo(request, body)
}
