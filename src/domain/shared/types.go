package shared

import (
	"fmt"
	"strings"
)

// ID types keep domain entities distinct while remaining simple strings at runtime.
type (
	PlayerID    string
	AttemptID   string
	ExternalID  string
	SignupToken string
)

// Validate ensures IDs are not blank and normalized.
func (id PlayerID) Validate() error {
	if strings.TrimSpace(string(id)) == "" {
		return fmt.Errorf("player id is required: %w", ErrInvalidArgument)
	}
	return nil
}

func (id AttemptID) Validate() error {
	if strings.TrimSpace(string(id)) == "" {
		return fmt.Errorf("attempt id is required: %w", ErrInvalidArgument)
	}
	return nil
}

func (id ExternalID) Validate() error {
	if strings.TrimSpace(string(id)) == "" {
		return fmt.Errorf("external id is required: %w", ErrInvalidArgument)
	}
	return nil
}

func (t SignupToken) IsZero() bool {
	return strings.TrimSpace(string(t)) == ""
}

// NormalizeUsername lowercases a handle and drops the leading "@" so that
// "@Velvet" and "velvet" resolve to the same key.
func NormalizeUsername(username string) string {
	u := strings.TrimSpace(username)
	u = strings.TrimPrefix(u, "@")
	return strings.ToLower(strings.TrimSpace(u))
}
