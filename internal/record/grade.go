package record

import (
	"fmt"
	"time"
)

// Grade represents a received grade or exam mark.
type Grade struct {
	ID string `json:"id"`

	Subject string  `json:"subject"`
	Value   float64 `json:"value"`
	Max     float64 `json:"max"`
	// Weight scales the grade when averaging; 1.0 is a normal grade.
	Weight float64 `json:"weight"`
	Note   string  `json:"note,omitempty"`

	GivenAt   *time.Time `json:"given_at,omitempty"`
	CreatedAt int64      `json:"created_at"`
	UpdatedAt int64      `json:"updated_at"`
}

// RecordID implements Synced.
func (g Grade) RecordID() string { return g.ID }

// ModifiedAt implements Synced.
func (g Grade) ModifiedAt() int64 { return g.UpdatedAt }

// Collection implements Synced.
func (g Grade) Collection() string { return CollectionGrades }

// Touch bumps UpdatedAt to now.
func (g *Grade) Touch() { g.UpdatedAt = NowMillis() }

// Validate checks if the Grade has valid field values.
func (g Grade) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("id is required")
	}
	if g.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	if g.Max <= 0 {
		return fmt.Errorf("max must be positive (got %v)", g.Max)
	}
	if g.Value < 0 || g.Value > g.Max {
		return fmt.Errorf("value must be between 0 and max (got %v)", g.Value)
	}
	if g.Weight < 0 {
		return fmt.Errorf("weight must not be negative (got %v)", g.Weight)
	}
	if g.UpdatedAt <= 0 {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}
