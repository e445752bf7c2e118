// Package records persists snapshots of a guidance session for later review.
package records

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ent0n29/glance/internal/policy"
	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrInvalid  = errors.New("invalid record")
)

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type ScreenStep struct {
	Timestamp    time.Time      `json:"timestamp"`
	GuidanceText string         `json:"guidanceText"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ImagePrefix  string         `json:"imagePrefix,omitempty"`
}

// Record is a saved session transcript.
type Record struct {
	ID          string       `json:"id"`
	UserID      string       `json:"userId"`
	SessionID   string       `json:"sessionId,omitempty"`
	Title       string       `json:"title,omitempty"`
	Goal        string       `json:"goal,omitempty"`
	Messages    []Message    `json:"messages"`
	ScreenSteps []ScreenStep `json:"screenSteps"`
	PIIRedacted bool         `json:"piiRedacted"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Store persists and retrieves records.
type Store interface {
	Save(ctx context.Context, record Record) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Record, error)
	Close() error
}

const defaultListLimit = 50

// prepare validates r and fills the generated fields.
func prepare(r Record, now time.Time) (Record, error) {
	r.UserID = strings.TrimSpace(r.UserID)
	if r.UserID == "" {
		return Record{}, errors.Join(ErrInvalid, errors.New("userId is required"))
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now.UTC()
	}
	if r.Messages == nil {
		r.Messages = []Message{}
	}
	if r.ScreenSteps == nil {
		r.ScreenSteps = []ScreenStep{}
	}
	return r, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}

// Redact masks PII in every free-text field of r.
func Redact(r Record) Record {
	out := r
	changed := false

	var c bool
	out.Title, c = policy.RedactPII(r.Title)
	changed = changed || c
	out.Goal, c = policy.RedactPII(r.Goal)
	changed = changed || c

	out.Messages = make([]Message, len(r.Messages))
	for i, m := range r.Messages {
		m.Content, c = policy.RedactPII(m.Content)
		changed = changed || c
		out.Messages[i] = m
	}

	out.ScreenSteps = make([]ScreenStep, len(r.ScreenSteps))
	for i, s := range r.ScreenSteps {
		s.GuidanceText, c = policy.RedactPII(s.GuidanceText)
		changed = changed || c
		s.Metadata, c = policy.RedactValues(s.Metadata)
		changed = changed || c
		out.ScreenSteps[i] = s
	}

	out.PIIRedacted = r.PIIRedacted || changed
	return out
}
