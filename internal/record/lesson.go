package record

import "fmt"

// Lesson represents one recurring timetable slot (e.g. "Math, Monday,
// 08:00-08:45, room 204").
type Lesson struct {
	ID string `json:"id"`

	Subject string `json:"subject"`
	Teacher string `json:"teacher,omitempty"`
	Room    string `json:"room,omitempty"`

	// Weekday is 0 (Monday) through 6 (Sunday).
	Weekday int `json:"weekday"`
	// StartMinute and EndMinute are minutes since midnight.
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// RecordID implements Synced.
func (l Lesson) RecordID() string { return l.ID }

// ModifiedAt implements Synced.
func (l Lesson) ModifiedAt() int64 { return l.UpdatedAt }

// Collection implements Synced.
func (l Lesson) Collection() string { return CollectionLessons }

// Touch bumps UpdatedAt to now.
func (l *Lesson) Touch() { l.UpdatedAt = NowMillis() }

// Validate checks if the Lesson has valid field values.
func (l Lesson) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("id is required")
	}
	if l.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	if l.Weekday < 0 || l.Weekday > 6 {
		return fmt.Errorf("weekday must be between 0 and 6 (got %d)", l.Weekday)
	}
	if l.StartMinute < 0 || l.StartMinute >= 24*60 {
		return fmt.Errorf("start_minute out of range (got %d)", l.StartMinute)
	}
	if l.EndMinute <= l.StartMinute || l.EndMinute > 24*60 {
		return fmt.Errorf("end_minute must be after start_minute")
	}
	if l.UpdatedAt <= 0 {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}
