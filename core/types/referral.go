package types

import (
	"time"

	"finova/core/fixed"
)

// MaxReferralLevel is the deepest ancestor that receives value from an
// activity.
const MaxReferralLevel = 3

// ReferralEdge links a referrer to the account it invited. Edges are created
// once at registration and never change.
type ReferralEdge struct {
	Referrer  AccountID `json:"referrer"`
	Referee   AccountID `json:"referee"`
	CreatedAt time.Time `json:"createdAt"`
	Level     uint8     `json:"level"`
}

// Validate performs structural checks on the edge.
func (e ReferralEdge) Validate() error {
	if err := e.Referrer.Validate(); err != nil {
		return err
	}
	if err := e.Referee.Validate(); err != nil {
		return err
	}
	if e.Referrer == e.Referee {
		return InvalidInputf("account %s cannot refer itself", e.Referee)
	}
	if e.CreatedAt.IsZero() {
		return InvalidInputf("edge %s->%s: created_at required", e.Referrer, e.Referee)
	}
	return nil
}

// NetworkSnapshot is the cached referral-network valuation of one account.
// Own* fields describe the account as a member of its ancestors' networks.
type NetworkSnapshot struct {
	Account AccountID `json:"account"`

	OwnActivity  uint64 `json:"ownActivity"`
	OwnLevel     uint32 `json:"ownLevel"`
	LastActiveAt int64  `json:"lastActiveAt"`
	JoinedAt     int64  `json:"joinedAt"`

	Direct       fixed.Ratio `json:"direct"`
	Indirect     fixed.Ratio `json:"indirect"`
	NetworkSize  uint32      `json:"networkSize"`
	DirectCount  uint32      `json:"directCount"`
	DirectActive uint32      `json:"directActive"`
	ActiveCount  uint32      `json:"activeCount"`
	Quality      fixed.Ratio `json:"quality"`
	Bonus        fixed.Ratio `json:"bonus"`
	Regression   fixed.Ratio `json:"regression"`
	Value        uint64      `json:"value"`
	Tier         string      `json:"tier"`

	Epoch   uint64 `json:"epoch"`
	Version uint64 `json:"version"`
}

// Clone returns a copy safe for mutation.
func (s *NetworkSnapshot) Clone() *NetworkSnapshot {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}
