package dto

// BroadcastRequest is an administrator announcement to one role.
type BroadcastRequest struct {
	Role    string `json:"role"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// BroadcastResponse reports how many live connections were reached.
type BroadcastResponse struct {
	Delivered int `json:"delivered"`
}
