// Package store is the sqlite persistence layer: recipient tracking
// (written by the Telegram ingest, read by the audience resolver) and the
// broadcast history required by the admin UI.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

type BroadcastStatus string

const (
	StatusDraft   BroadcastStatus = "draft"
	StatusSending BroadcastStatus = "sending"
	StatusSent    BroadcastStatus = "sent"
	StatusFailed  BroadcastStatus = "failed"
)

// Recipient is one known platform user. LastInteractionAt is zero for
// recipients synthesized from a custom id list.
type Recipient struct {
	ID                int64     `json:"id"`
	Username          string    `json:"username,omitempty"`
	FirstSeenAt       time.Time `json:"firstSeenAt"`
	LastInteractionAt time.Time `json:"lastInteractionAt"`
}

// BroadcastRecord is the persisted lifecycle of one broadcast job.
// A record is immutable once its status is sent or failed.
type BroadcastRecord struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Message      string          `json:"message"`
	ImageURL     string          `json:"imageUrl,omitempty"`
	Audience     string          `json:"audience"`
	Status       BroadcastStatus `json:"status"`
	SentCount    int             `json:"sentCount"`
	BlockedCount int             `json:"blockedCount"`
	FailedCount  int             `json:"failedCount"`
	TotalCount   int             `json:"totalCount"`
	CreatedAt    time.Time       `json:"createdAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// RecipientStore tracks known recipients. The broadcast engine only reads
// it; writes come from the platform ingest.
type RecipientStore interface {
	// Touch upserts a recipient and bumps its last-interaction timestamp.
	Touch(ctx context.Context, id int64, username string, at time.Time) error
	All(ctx context.Context) ([]Recipient, error)
	// ActiveSince returns recipients whose last interaction is at or after
	// cutoff.
	ActiveSince(ctx context.Context, cutoff time.Time) ([]Recipient, error)
}

// BroadcastStore persists broadcast job lifecycles.
type BroadcastStore interface {
	Create(ctx context.Context, rec BroadcastRecord) error
	// MarkSending transitions draft -> sending and pins the audience size.
	MarkSending(ctx context.Context, id string, total int) error
	// Finalize transitions a non-final record to sent or failed. Finalizing
	// an already-final record is an error.
	Finalize(ctx context.Context, id string, status BroadcastStatus, sent, blocked, failed int, completedAt time.Time) error
	// List returns records newest-first, up to limit (0 means a default cap).
	List(ctx context.Context, limit int) ([]BroadcastRecord, error)
	Get(ctx context.Context, id string) (BroadcastRecord, error)
	// DeleteCompletedBefore prunes finished records older than cutoff.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
