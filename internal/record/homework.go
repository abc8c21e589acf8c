package record

import (
	"fmt"
	"time"
)

// Homework represents a single homework assignment. The structure is
// flat with last-write-wins semantics: the whole record is replaced on
// conflict, never merged field by field.
type Homework struct {
	ID string `json:"id"`

	Title   string `json:"title"`
	Subject string `json:"subject"`
	Details string `json:"details,omitempty"`

	Done   bool       `json:"done"`
	DueAt  *time.Time `json:"due_at,omitempty"`
	DoneAt *time.Time `json:"done_at,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// RecordID implements Synced.
func (h Homework) RecordID() string { return h.ID }

// ModifiedAt implements Synced.
func (h Homework) ModifiedAt() int64 { return h.UpdatedAt }

// Collection implements Synced.
func (h Homework) Collection() string { return CollectionHomework }

// Touch bumps UpdatedAt to now. Call after every local mutation.
func (h *Homework) Touch() { h.UpdatedAt = NowMillis() }

// Validate checks if the Homework has valid field values.
func (h Homework) Validate() error {
	if h.ID == "" {
		return fmt.Errorf("id is required")
	}
	if h.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(h.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(h.Title))
	}
	if h.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	if h.UpdatedAt <= 0 {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// NewHomework creates a homework assignment with a locally generated id,
// marked as created now. The record stays under its local id until the
// first successful upload assigns the backend id.
func NewHomework(title, subject string) *Homework {
	now := NowMillis()
	return &Homework{
		ID:        NewLocalID(),
		Title:     title,
		Subject:   subject,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
