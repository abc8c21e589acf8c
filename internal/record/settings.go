package record

import "fmt"

// Settings is the per-user planner configuration blob. Exactly one live
// instance exists per owner (single-document topology): the whole record is
// replaced on every change and on every conflict.
type Settings struct {
	ID string `json:"id"`

	Theme     string `json:"theme"`
	WeekStart int    `json:"week_start"` // 0 = Monday, 6 = Sunday
	// PeriodsPerDay controls how many timetable rows the app renders.
	PeriodsPerDay        int  `json:"periods_per_day"`
	NotificationsEnabled bool `json:"notifications_enabled"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// RecordID implements Synced.
func (s Settings) RecordID() string { return s.ID }

// ModifiedAt implements Synced.
func (s Settings) ModifiedAt() int64 { return s.UpdatedAt }

// Collection implements Synced.
func (s Settings) Collection() string { return CollectionSettings }

// Touch bumps UpdatedAt to now.
func (s *Settings) Touch() { s.UpdatedAt = NowMillis() }

// Validate checks if the Settings has valid field values.
func (s Settings) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if s.WeekStart < 0 || s.WeekStart > 6 {
		return fmt.Errorf("week_start must be between 0 and 6 (got %d)", s.WeekStart)
	}
	if s.PeriodsPerDay < 0 || s.PeriodsPerDay > 24 {
		return fmt.Errorf("periods_per_day must be between 0 and 24 (got %d)", s.PeriodsPerDay)
	}
	if s.UpdatedAt <= 0 {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// DefaultSettings returns the initial configuration for a new user.
func DefaultSettings() *Settings {
	now := NowMillis()
	return &Settings{
		ID:                   NewLocalID(),
		Theme:                "system",
		WeekStart:            0,
		PeriodsPerDay:        8,
		NotificationsEnabled: true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}
