package session

import (
	"time"

	"github.com/vpaquet/readalong/internal/document"
)

// CreateRequest defines the payload for starting a narration session.
type CreateRequest struct {
	UserID     string             `json:"user_id"`
	DocumentID string             `json:"document_id"`
	VoiceID    string             `json:"voice_id"`
	Segments   []document.Segment `json:"segments"`
	Resume     bool               `json:"resume"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	DocumentID      string    `json:"document_id"`
	Status          Status    `json:"status"`
	VoiceID         string    `json:"voice_id"`
	SegmentCount    int       `json:"segment_count"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
