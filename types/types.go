package types

import "time"

// Status is the WhatsApp connection status reported by the backend
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClose      Status = "close"
	StatusPending    Status = "pending"
)

// Normalize maps unrecognized values to StatusClose so they render as disconnected.
func (s Status) Normalize() Status {
	switch s {
	case StatusConnecting, StatusOpen, StatusClose, StatusPending:
		return s
	default:
		return StatusClose
	}
}

// ClientRecord is one tenant as returned by the landing and admin endpoints
type ClientRecord struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Email          string     `json:"email,omitempty"`
	UniqueURL      string     `json:"unique_url"`
	Status         string     `json:"status,omitempty"`
	Connected      bool       `json:"connected"`
	ConnectedPhone *string    `json:"connected_phone,omitempty"`
	AssistantID    string     `json:"openai_assistant_id,omitempty"`
	APIKeyHint     string     `json:"openai_api_key,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`

	// advisory counters, only present on the landing response
	MessageCount int  `json:"messageCount"`
	PausedCount  int  `json:"pausedCount"`
	GlobalPause  bool `json:"globalPause"`
}

// ConnectionState mirrors one tenant's live channel status
type ConnectionState struct {
	Status         Status     `json:"status"`
	Connected      bool       `json:"connected"`
	ConnectedPhone *string    `json:"connectedPhone,omitempty"`
	QRCode         *string    `json:"qrCode,omitempty"`
	QRExpiresAt    *time.Time `json:"qrExpiresAt,omitempty"`
}

// Normalize derives Connected and clears the QR payload once the channel is open.
func (s ConnectionState) Normalize() ConnectionState {
	s.Status = s.Status.Normalize()
	s.Connected = s.Status == StatusOpen
	if s.Connected {
		s.QRCode = nil
		s.QRExpiresAt = nil
	}
	return s
}

// HasQR reports whether a pairing QR should be shown
func (s ConnectionState) HasQR() bool {
	return s.QRCode != nil && *s.QRCode != "" && s.Status != StatusOpen
}

// StatusResponse is the body of GET /client/{id}/status
type StatusResponse struct {
	Status   Status `json:"status"`
	Instance *struct {
		InstanceName string `json:"instanceName"`
		Status       string `json:"status"`
	} `json:"instance,omitempty"`
}

// QRResult is the body of GET /client/{id}/qr
type QRResult struct {
	QR             *string `json:"qr,omitempty"`
	Error          *string `json:"error,omitempty"`
	State          *Status `json:"state,omitempty"`
	ConnectedPhone *string `json:"connected_phone,omitempty"`
	// validity window of the QR in milliseconds
	TimeoutMS int `json:"qr_timeout,omitempty"`
}

// PushEvent is one frame received on the /ws push channel
type PushEvent struct {
	ClientID  string  `json:"clientId"`
	Status    Status  `json:"status"`
	Connected *bool   `json:"connected,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	QRCode    *string `json:"qrCode,omitempty"`
}

// ChatMessage is one stored message of a client's WhatsApp conversations
type ChatMessage struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"client_id"`
	PhoneNumber string    `json:"phone_number"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	IsFromAI    bool      `json:"is_from_ai"`
}

// Thread binds a contact phone to an assistant thread
type Thread struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"client_id"`
	PhoneNumber string    `json:"phone_number"`
	ThreadID    string    `json:"thread_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateClientForm is the payload of POST /admin/clients
type CreateClientForm struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	APIKey      string `json:"openai_api_key"`
	AssistantID string `json:"openai_assistant_id"`
}

// ClientUpdate is the payload of PUT /admin/clients/{id}; nil fields are left unchanged
type ClientUpdate struct {
	Name        *string `json:"name,omitempty"`
	Email       *string `json:"email,omitempty"`
	APIKey      *string `json:"openai_api_key,omitempty"`
	AssistantID *string `json:"openai_assistant_id,omitempty"`
}

// ToggleAction is the action body of POST /admin/clients/{id}/toggle
type ToggleAction string

const (
	ActionConnect    ToggleAction = "connect"
	ActionDisconnect ToggleAction = "disconnect"
)
