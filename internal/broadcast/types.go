// Package broadcast implements the scheduled broadcast delivery engine:
// job claiming over the row store, the polling scheduler, the per-recipient
// fanout, and the message-safety layer in front of the transport.
package broadcast

import (
	"context"
	"time"

	"lessonbot/internal/transport"
)

// Status is the job lifecycle state. Transitions only move
// pending -> claimed -> {sent, failed}; the stuck-job sweep is the single
// backward transition (claimed -> pending) and only fires after a timeout.
type Status string

const (
	StatusPending Status = "pending"
	StatusClaimed Status = "claimed"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusSent || s == StatusFailed }

// Content is what a job delivers. Either a reference to an authored message
// (AuthorID + MessageID, delivered by forwarding) or an inline payload
// (Text plus optional media). Write-once at enqueue time.
type Content struct {
	AuthorID  int64 `json:"author_id,omitempty"`
	MessageID int   `json:"message_id,omitempty"`

	Text      string              `json:"text,omitempty"`
	MediaKind transport.MediaKind `json:"media_kind,omitempty"`
	MediaRef  string              `json:"media_ref,omitempty"`
	Caption   string              `json:"caption,omitempty"`
}

// IsForward reports whether the content references an authored message
// instead of carrying an inline payload.
func (c Content) IsForward() bool { return c.AuthorID != 0 && c.MessageID != 0 }

func (c Content) Validate() error {
	if c.IsForward() {
		return nil
	}
	if c.AuthorID != 0 || c.MessageID != 0 {
		return &ValidationError{Reason: "message reference needs both author_id and message_id"}
	}
	if c.Text == "" && c.MediaRef == "" {
		return &ValidationError{Reason: "content is empty"}
	}
	switch c.MediaKind {
	case "", transport.MediaPhoto, transport.MediaVideo, transport.MediaDocument:
	default:
		return &ValidationError{Reason: "unknown media kind " + string(c.MediaKind)}
	}
	if c.MediaRef != "" && c.MediaKind == "" {
		return &ValidationError{Reason: "media_ref set without media_kind"}
	}
	if c.MediaKind != "" && c.MediaRef == "" {
		return &ValidationError{Reason: "media_kind set without media_ref"}
	}
	return nil
}

// Job is one scheduled broadcast unit. Only Status and ClaimedAt ever change
// after creation; the store owns the rows and all transitions go through it.
type Job struct {
	ID          int64
	ScheduledAt time.Time
	Content     Content
	Keyboard    *Keyboard
	Status      Status
	ClaimedAt   time.Time // zero unless Status == StatusClaimed
	CreatedAt   time.Time
}

// ValidationError reports malformed enqueue input. It is caught at the
// producer boundary and never reaches the scheduler.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid broadcast job: " + e.Reason }

// JobStore is the persistence contract for broadcast jobs.
//
// Claim must be implemented as a single atomic conditional update: when
// callers race on the same job id, exactly one observes true. That atomicity
// is the only thing preventing duplicate delivery if more than one scheduler
// process ever runs against the same store.
type JobStore interface {
	Enqueue(ctx context.Context, scheduledAt time.Time, content Content, keyboard *Keyboard) (int64, error)
	ListDue(ctx context.Context, now time.Time) ([]Job, error)
	Claim(ctx context.Context, id int64) (bool, error)
	Complete(ctx context.Context, id int64, outcome Status) error
	RecoverStuck(ctx context.Context, olderThan time.Duration) (int, error)
}

// Directory lists every addressable recipient. Read-only.
type Directory interface {
	ListAllRecipients(ctx context.Context) ([]transport.ChatTarget, error)
}
