// Package progress persists reading positions so a narration can resume
// where the listener left off. Audio bytes are never stored.
package progress

import (
	"context"
	"time"
)

// Position is the last known playback position for one user on one document.
type Position struct {
	UserID        string    `json:"user_id"`
	DocumentID    string    `json:"document_id"`
	ChapterIndex  int       `json:"chapter_index"`
	CursorSeconds float64   `json:"cursor_seconds"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store persists and retrieves reading positions.
type Store interface {
	Save(ctx context.Context, pos Position) error
	Load(ctx context.Context, userID, documentID string) (*Position, error)
	Close() error
}
