package types

import (
	"strings"
	"time"

	"finova/core/fixed"
)

const maxAccountIDLength = 64

// AccountID identifies a network participant.
type AccountID string

// Validate enforces the identifier alphabet shared with the persistence layer.
func (id AccountID) Validate() error {
	trimmed := strings.TrimSpace(string(id))
	if trimmed == "" {
		return InvalidInputf("account id required")
	}
	if trimmed != string(id) || len(id) > maxAccountIDLength {
		return InvalidInputf("account id %q malformed", string(id))
	}
	for _, ch := range id {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '-' || ch == '_' || ch == '.' || ch == ':':
		default:
			return InvalidInputf("account id %q contains %q", string(id), ch)
		}
	}
	return nil
}

// Account is the read-only snapshot of a participant supplied by the
// persistence collaborator. The engine never mutates holdings.
type Account struct {
	ID              AccountID   `json:"id"`
	Holdings        fixed.Micro `json:"holdings"`
	KYCVerified     bool        `json:"kycVerified"`
	StreakDays      uint32      `json:"streakDays"`
	XPTotal         uint64      `json:"xpTotal"`
	Level           uint32      `json:"level"`
	CreatedAt       time.Time   `json:"createdAt"`
	Active          bool        `json:"active"`
	LifetimeRewards fixed.Micro `json:"lifetimeRewards"`
	LastRewardAt    time.Time   `json:"lastRewardAt"`
	PenaltyUntil    time.Time   `json:"penaltyUntil"`
	Version         uint64      `json:"version"`
}

// Validate checks the snapshot for structural problems.
func (a Account) Validate() error {
	if err := a.ID.Validate(); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		return InvalidInputf("account %s: created_at required", a.ID)
	}
	if !a.LastRewardAt.IsZero() && a.LastRewardAt.Before(a.CreatedAt) {
		return InvalidInputf("account %s: last reward precedes creation", a.ID)
	}
	return nil
}
