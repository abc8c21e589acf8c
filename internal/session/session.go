// Package session supplies the owner and entitlement context to the rest
// of the sync core.
//
// The session is persisted as a small JSON file maintained by the app's
// account layer (login, subscription purchase/expiry). This package reads
// it and watches it for changes, so long-running components observe
// entitlement flips without polling. The sync core never drives
// entitlement transitions itself.
package session

import (
	"encoding/json"
	"fmt"
	"os"
)

// Entitlement is the storage mode a user is entitled to.
type Entitlement string

const (
	// EntitlementOffline means local-only storage, no reconciliation.
	EntitlementOffline Entitlement = "offline"
	// EntitlementSynced means full local/remote reconciliation.
	EntitlementSynced Entitlement = "synced"
)

// Valid reports whether the entitlement is a known value.
func (e Entitlement) Valid() bool {
	return e == EntitlementOffline || e == EntitlementSynced
}

// Session identifies the current user and their entitlement.
type Session struct {
	// UserID is the owner id every record of this user is scoped by.
	UserID string `json:"user_id"`

	// Entitlement selects which local store implementation is active.
	Entitlement Entitlement `json:"entitlement"`
}

// Validate checks if the Session has valid field values.
func (s *Session) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if !s.Entitlement.Valid() {
		return fmt.Errorf("entitlement must be %q or %q (got %q)",
			EntitlementOffline, EntitlementSynced, s.Entitlement)
	}
	return nil
}

// Load reads and validates the session file.
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session file: %w", err)
	}
	return &s, nil
}

// Save writes the session file atomically (write temp, rename).
func Save(path string, s *Session) error {
	if err := s.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}
