package models

import "time"

// MuteRecord suppresses a user's access to modmail. Unmuting clears Active
// and keeps the row.
type MuteRecord struct {
	UserID     string     `json:"user_id"`
	Active     bool       `json:"active"`
	MutedBy    string     `json:"muted_by"`
	MutedAt    time.Time  `json:"muted_at"`
	MutedUntil *time.Time `json:"muted_until,omitempty"`
}

// InEffect reports whether the mute is active at now. An expired timed mute is
// not in effect even if Active was never cleared.
func (m *MuteRecord) InEffect(now time.Time) bool {
	if m == nil || !m.Active {
		return false
	}
	return m.MutedUntil == nil || now.Before(*m.MutedUntil)
}
