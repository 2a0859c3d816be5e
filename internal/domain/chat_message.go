package domain

import "time"

// ChatMessage is one line of a ticket conversation. Never mutated after creation.
type ChatMessage struct {
	ID        string
	TicketID  string
	SenderID  string
	Message   string
	IsRead    bool
	CreatedAt time.Time
}
