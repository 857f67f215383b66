package params

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"
)

type storedPhase struct {
	ID           string
	MinUsers     uint64
	BaseRate     uint64
	BonusCeiling uint64
	MaxDaily     uint64
}

// canonical is the order-fixed encoding used for fingerprints. Durations are
// carried in whole seconds.
type canonical struct {
	Epoch      uint64
	TotalUsers uint64
	Phase      string
	Phases     []storedPhase
	Values     []uint64
}

func (p *NetworkParameters) canonical() canonical {
	phases := make([]storedPhase, len(p.Phases))
	for i, phase := range p.Phases {
		phases[i] = storedPhase{
			ID:           string(phase.ID),
			MinUsers:     phase.MinUsers,
			BaseRate:     uint64(phase.BaseRate),
			BonusCeiling: uint64(phase.BonusCeiling),
			MaxDaily:     uint64(phase.MaxDaily),
		}
	}
	m, pr, n, r, in := p.Mining, p.Progression, p.Network, p.Reward, p.Integrity
	return canonical{
		Epoch:      p.Epoch,
		TotalUsers: p.TotalUsers,
		Phase:      string(p.Phase),
		Phases:     phases,
		Values: []uint64{
			uint64(m.RegressionK), uint64(m.ReferralStep), uint64(m.ReferralCap),
			uint64(m.KYCBonus), uint64(m.NonKYCBonus), m.PioneerDivisor,
			uint64(m.ActiveWindow.Seconds()),
			uint64(pr.StreakStep), uint64(pr.MaxStreak), uint64(pr.LevelDecay),
			uint64(n.Level2Factor), uint64(n.Level3Factor), uint64(n.DecayFloor),
			n.DecayHorizonDays, uint64(n.RegressionR), uint64(n.RegressionFloor),
			uint64(n.DiversityCap), uint64(n.ActiveWindow.Seconds()), uint64(n.ChurnWindow.Seconds()),
			uint64(r.PenaltyWeight), uint64(r.Cooldown.Seconds()), uint64(r.CycleLength.Seconds()),
			uint64(r.ActivityShare),
			uint64(in.Floor), uint64(in.MinScore),
			uint64(in.Weights.Device), uint64(in.Weights.Timing), uint64(in.Weights.Social), uint64(in.Weights.Content),
			uint64(in.LifetimeDivisor), uint64(in.SuspicionWeight),
		},
	}
}

// Fingerprint returns a blake3 digest over the canonical encoding. The version
// counter is excluded so that two independently produced snapshots with equal
// values share a fingerprint.
func (p *NetworkParameters) Fingerprint() (string, error) {
	encoded, err := rlp.EncodeToBytes(p.canonical())
	if err != nil {
		return "", fmt.Errorf("params: encode fingerprint: %w", err)
	}
	sum := blake3.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}
