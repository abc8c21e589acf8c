package record

import (
	"strings"
	"testing"
	"time"
)

func TestHomeworkValidate(t *testing.T) {
	valid := Homework{
		ID:        "hw-1",
		Title:     "Read chapter 4",
		Subject:   "History",
		UpdatedAt: NowMillis(),
	}

	tests := []struct {
		name    string
		modify  func(h *Homework)
		wantErr string
	}{
		{"valid", func(h *Homework) {}, ""},
		{"missing id", func(h *Homework) { h.ID = "" }, "id is required"},
		{"missing title", func(h *Homework) { h.Title = "" }, "title is required"},
		{"title too long", func(h *Homework) { h.Title = strings.Repeat("x", 501) }, "500 characters"},
		{"missing subject", func(h *Homework) { h.Subject = "" }, "subject is required"},
		{"zero updated_at", func(h *Homework) { h.UpdatedAt = 0 }, "updated_at is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := valid
			tt.modify(&h)
			err := h.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSettingsValidate(t *testing.T) {
	s := *DefaultSettings()
	if err := s.Validate(); err != nil {
		t.Errorf("default settings should validate: %v", err)
	}

	s.WeekStart = 7
	if err := s.Validate(); err == nil {
		t.Error("expected error for week_start out of range")
	}

	s = *DefaultSettings()
	s.PeriodsPerDay = 25
	if err := s.Validate(); err == nil {
		t.Error("expected error for periods_per_day out of range")
	}
}

func TestNewHomework(t *testing.T) {
	h := NewHomework("Essay draft", "English")

	if !IsLocalID(h.ID) {
		t.Errorf("new homework should carry a local id, got %q", h.ID)
	}
	if h.UpdatedAt != h.CreatedAt {
		t.Errorf("fresh record should have UpdatedAt == CreatedAt")
	}
	if err := h.Validate(); err != nil {
		t.Errorf("new homework should validate: %v", err)
	}
}

func TestTouchAdvancesTimestamp(t *testing.T) {
	h := NewHomework("Worksheet", "Math")
	before := h.UpdatedAt

	time.Sleep(2 * time.Millisecond)
	h.Touch()

	if h.UpdatedAt <= before {
		t.Errorf("Touch should advance UpdatedAt: before=%d after=%d", before, h.UpdatedAt)
	}
}

func TestMetaOf(t *testing.T) {
	h := Homework{ID: "hw-9", Title: "t", Subject: "s", UpdatedAt: 12345}
	m := MetaOf(h)

	if m.ID != "hw-9" {
		t.Errorf("MetaOf id = %q, want hw-9", m.ID)
	}
	if m.UpdatedAt != 12345 {
		t.Errorf("MetaOf updated_at = %d, want 12345", m.UpdatedAt)
	}
}

func TestLocalIDs(t *testing.T) {
	id := NewLocalID()
	if !IsLocalID(id) {
		t.Errorf("NewLocalID() = %q, should be recognized as local", id)
	}
	if IsLocalID("srv-123") {
		t.Error("backend id should not be recognized as local")
	}

	other := NewLocalID()
	if id == other {
		t.Error("local ids should be unique")
	}
}
