package realtime

import (
	"encoding/json"
	"time"
)

// ChatInbound is the frame a client sends on a ticket chat socket.
type ChatInbound struct {
	Message string `json:"message"`
}

// FrameSender describes the author of a chat frame.
type FrameSender struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// ChatFrame is pushed to chat participants for every persisted message.
type ChatFrame struct {
	ID        string      `json:"id"`
	TicketID  string      `json:"ticketId"`
	SenderID  string      `json:"senderId"`
	Message   string      `json:"message"`
	CreatedAt time.Time   `json:"createdAt"`
	Sender    FrameSender `json:"sender"`
}

// NotificationFrame is pushed on the notification socket.
type NotificationFrame struct {
	Type      string         `json:"type"`
	Title     string         `json:"title,omitempty"`
	Message   string         `json:"message"`
	TicketID  string         `json:"ticketId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// PingFrame answers keep-alive traffic on the notification socket.
type PingFrame struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// ErrorFrame reports a failed inbound frame back to the sending socket only.
type ErrorFrame struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody mirrors the HTTP error envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode marshals a frame for the wire.
func Encode(frame any) ([]byte, error) {
	return json.Marshal(frame)
}
