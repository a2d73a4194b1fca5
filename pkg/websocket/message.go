// Package websocket defines the wire protocol spoken on the daemon's /ws
// endpoint: a single JSON envelope for requests, responses, errors, and
// server pushes, plus the action dispatcher the gateway routes with.
package websocket

import (
	"encoding/json"
	"time"
)

// MessageType discriminates the envelope.
type MessageType string

const (
	MessageTypeRequest      MessageType = "request"
	MessageTypeResponse     MessageType = "response"
	MessageTypeNotification MessageType = "notification"
	MessageTypeError        MessageType = "error"
)

// Message is the envelope for every frame. Requests carry a client-chosen ID
// that the matching response or error echoes back; notifications have none.
type Message struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ErrorPayload is the payload of an error frame.
type ErrorPayload struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewRequest builds a request frame. Used by Go clients of the daemon.
func NewRequest(id, action string, payload interface{}) (*Message, error) {
	return build(id, MessageTypeRequest, action, payload)
}

// NewResponse builds the response frame for a handled request.
func NewResponse(id, action string, payload interface{}) (*Message, error) {
	return build(id, MessageTypeResponse, action, payload)
}

// NewNotification builds a server push frame.
func NewNotification(action string, payload interface{}) (*Message, error) {
	return build("", MessageTypeNotification, action, payload)
}

// NewError builds an error frame answering the request with the given id.
func NewError(id, action, code, message string, details map[string]interface{}) (*Message, error) {
	return build(id, MessageTypeError, action, ErrorPayload{
		Code:    code,
		Message: message,
		Details: details,
	})
}

func build(id string, mt MessageType, action string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:        id,
		Type:      mt,
		Action:    action,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// ParsePayload unmarshals the payload into v. A frame without a payload
// leaves v untouched.
func (m *Message) ParsePayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
