// Package mining implements the anti-concentration FIN mining-rate model.
package mining

import (
	"fmt"
	"time"

	"finova/core/fixed"
	"finova/core/params"
	"finova/core/types"
)

// Rate is the hourly mining rate together with every factor that produced it.
type Rate struct {
	Phase      params.PhaseID `json:"phase"`
	BaseRate   fixed.Micro    `json:"baseRate"`
	Pioneer    fixed.Ratio    `json:"pioneer"`
	Referral   fixed.Ratio    `json:"referral"`
	Security   fixed.Ratio    `json:"security"`
	Regression fixed.Ratio    `json:"regression"`
	// Raw is the uncapped product; PerHour never exceeds MaxDaily/24.
	Raw     fixed.Micro `json:"raw"`
	PerHour fixed.Micro `json:"perHour"`
	Capped  bool        `json:"capped"`
}

// Model evaluates hourly rates against one parameter snapshot.
type Model struct {
	params *params.NetworkParameters
}

// NewModel returns a rate model bound to p.
func NewModel(p *params.NetworkParameters) (*Model, error) {
	if p == nil {
		return nil, fmt.Errorf("mining: parameters required")
	}
	return &Model{params: p}, nil
}

// HourlyRate computes base × pioneer × referral × security × regression for
// the account in the given phase. Factors are applied in that order and each
// product is truncated. An unmapped phase is invalid input.
func (m *Model) HourlyRate(account types.Account, phaseID params.PhaseID, activeReferrals uint32) (Rate, error) {
	phase, err := m.params.Lookup(phaseID)
	if err != nil {
		return Rate{}, fmt.Errorf("mining: %w", err)
	}
	cfg := m.params.Mining

	rate := Rate{
		Phase:      phase.ID,
		BaseRate:   phase.BaseRate,
		Pioneer:    PioneerBonus(phase, m.params.TotalUsers, cfg.PioneerDivisor),
		Referral:   ReferralBonus(cfg, activeReferrals),
		Security:   SecurityBonus(cfg, account.KYCVerified),
		Regression: RegressionFactor(cfg, account.Holdings),
	}

	raw := phase.BaseRate
	for _, factor := range []fixed.Ratio{rate.Pioneer, rate.Referral, rate.Security, rate.Regression} {
		raw = fixed.MulMicro(raw, factor)
	}
	rate.Raw = raw
	rate.PerHour = raw
	if limit := phase.MaxHourly(); raw > limit {
		rate.PerHour = limit
		rate.Capped = true
	}
	return rate, nil
}

// PioneerBonus = max(1, ceiling - users/divisor).
func PioneerBonus(phase params.Phase, users, divisor uint64) fixed.Ratio {
	return fixed.Max(fixed.One, fixed.Sub(phase.BonusCeiling, fixed.FromFraction(users, divisor)))
}

// ReferralBonus = min(cap, 1 + step*active).
func ReferralBonus(cfg params.Mining, active uint32) fixed.Ratio {
	bonus := fixed.Add(fixed.One, fixed.Mul(cfg.ReferralStep, fixed.FromInt(uint64(active))))
	return fixed.Min(bonus, cfg.ReferralCap)
}

// SecurityBonus rewards KYC-verified accounts and discounts the rest.
func SecurityBonus(cfg params.Mining, kyc bool) fixed.Ratio {
	if kyc {
		return cfg.KYCBonus
	}
	return cfg.NonKYCBonus
}

// RegressionFactor = exp(-k × holdings), holdings in whole tokens. It is
// non-increasing in holdings.
func RegressionFactor(cfg params.Mining, holdings fixed.Micro) fixed.Ratio {
	return fixed.ExpNeg(fixed.Mul(cfg.RegressionK, holdings.Ratio()))
}

// ActiveReferrals counts referrals whose last activity falls within window of
// asOf.
func ActiveReferrals(lastActivity []time.Time, asOf time.Time, window time.Duration) uint32 {
	var count uint32
	cutoff := asOf.Add(-window)
	for _, ts := range lastActivity {
		if ts.IsZero() || ts.Before(cutoff) || ts.After(asOf) {
			continue
		}
		count++
	}
	return count
}
