// Package history persists per-call transcripts as they stream off the agent
// socket.
package history

import (
	"context"
	"time"
)

// Utterance is one finalized transcript line from either side of a call.
type Utterance struct {
	ID        string    `json:"id"`
	CallSID   string    `json:"call_sid"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists and retrieves call transcripts.
type Store interface {
	SaveUtterance(ctx context.Context, u Utterance) error
	RecentTranscript(ctx context.Context, callSID string, limit int) ([]Utterance, error)
	Close() error
}
