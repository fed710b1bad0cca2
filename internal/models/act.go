package models

import (
	"encoding/json"
	"time"
)

// Act is a maintenance or delivery record authored on a device.
// Payload (checklist, signatures, photos) is opaque to the sync engine.
type Act struct {
	ID           string          `json:"id"`
	GLPITicketID *int64          `json:"glpiTicketId,omitempty"`
	ClientName   string          `json:"clientName"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	SyncError    string          `json:"syncError,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Syncable reports whether the act belongs to the outbound queue.
func (a *Act) Syncable() bool {
	return a.Status == ActStatusPendingSync || a.Status == ActStatusError
}

// SubmitResponse is the body returned by POST /sync/maintenance.
type SubmitResponse struct {
	GLPIID int64 `json:"glpiId"`
}

// ErrorResponse is the error body used by the remote record service.
type ErrorResponse struct {
	Message string `json:"message"`
}
