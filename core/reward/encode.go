package reward

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"

	"finova/core/fixed"
	"finova/core/types"
)

// recordNamespace scopes record identifiers derived from their encoding.
var recordNamespace = uuid.MustParse("6f1c3a52-9f0e-5b8c-a7d4-2e61b0c9f413")

// ErrChecksumMismatch is returned when a record does not match its checksum.
var ErrChecksumMismatch = errors.New("reward: checksum mismatch")

type rlpBreakdown struct {
	BaseRate        uint64
	Pioneer         uint64
	Referral        uint64
	Security        uint64
	Regression      uint64
	HourlyRate      uint64
	LevelMultiplier uint64
	TierBonus       uint64

	BaseXP           uint64
	Platform         uint64
	Quality          uint64
	Streak           uint64
	LevelProgression uint64

	HumanProbability uint64
	Difficulty       uint64
	Penalty          uint64
}

// rlpBody is the canonical content of a record: everything except its ID and
// checksum, which are derived from it.
type rlpBody struct {
	Account        string
	EventID        string
	Activity       string
	Epoch          uint64
	ParamsVersion  uint64
	Status         string
	FinAmount      uint64
	XPAmount       uint64
	RPAmount       uint64
	Breakdown      rlpBreakdown
	Flags          uint32
	IssuedAt       uint64
	NextEligibleAt uint64
}

type rlpRecord struct {
	ID       string
	Checksum string
	Body     rlpBody
}

func bodyOf(r types.RewardRecord) rlpBody {
	b := r.Breakdown
	return rlpBody{
		Account:       string(r.Account),
		EventID:       r.EventID,
		Activity:      string(r.Activity),
		Epoch:         r.Epoch,
		ParamsVersion: r.ParamsVersion,
		Status:        string(r.Status),
		FinAmount:     uint64(r.FinAmount),
		XPAmount:      r.XPAmount,
		RPAmount:      r.RPAmount,
		Breakdown: rlpBreakdown{
			BaseRate:         uint64(b.BaseRate),
			Pioneer:          uint64(b.Pioneer),
			Referral:         uint64(b.Referral),
			Security:         uint64(b.Security),
			Regression:       uint64(b.Regression),
			HourlyRate:       uint64(b.HourlyRate),
			LevelMultiplier:  uint64(b.LevelMultiplier),
			TierBonus:        uint64(b.TierBonus),
			BaseXP:           b.BaseXP,
			Platform:         uint64(b.Platform),
			Quality:          uint64(b.Quality),
			Streak:           uint64(b.Streak),
			LevelProgression: uint64(b.LevelProgression),
			HumanProbability: uint64(b.HumanProbability),
			Difficulty:       uint64(b.Difficulty),
			Penalty:          uint64(b.Penalty),
		},
		Flags:          uint32(r.Flags),
		IssuedAt:       uint64(r.IssuedAt),
		NextEligibleAt: uint64(r.NextEligibleAt),
	}
}

func (b rlpBody) record() types.RewardRecord {
	d := b.Breakdown
	return types.RewardRecord{
		Account:       types.AccountID(b.Account),
		EventID:       b.EventID,
		Activity:      types.ActivityType(b.Activity),
		Epoch:         b.Epoch,
		ParamsVersion: b.ParamsVersion,
		Status:        types.RewardStatus(b.Status),
		FinAmount:     fixed.Micro(b.FinAmount),
		XPAmount:      b.XPAmount,
		RPAmount:      b.RPAmount,
		Breakdown: types.Breakdown{
			BaseRate:         fixed.Micro(d.BaseRate),
			Pioneer:          fixed.Ratio(d.Pioneer),
			Referral:         fixed.Ratio(d.Referral),
			Security:         fixed.Ratio(d.Security),
			Regression:       fixed.Ratio(d.Regression),
			HourlyRate:       fixed.Micro(d.HourlyRate),
			LevelMultiplier:  fixed.Ratio(d.LevelMultiplier),
			TierBonus:        fixed.Ratio(d.TierBonus),
			BaseXP:           d.BaseXP,
			Platform:         fixed.Ratio(d.Platform),
			Quality:          fixed.Ratio(d.Quality),
			Streak:           fixed.Ratio(d.Streak),
			LevelProgression: fixed.Ratio(d.LevelProgression),
			HumanProbability: fixed.Ratio(d.HumanProbability),
			Difficulty:       fixed.Ratio(d.Difficulty),
			Penalty:          fixed.Ratio(d.Penalty),
		},
		Flags:          types.Flags(b.Flags),
		IssuedAt:       int64(b.IssuedAt),
		NextEligibleAt: int64(b.NextEligibleAt),
	}
}

// Seal derives the record's ID and checksum from its canonical body. The ID
// is a name-based UUID so independent verifiers derive the same identifier.
func Seal(r types.RewardRecord) (types.RewardRecord, error) {
	if r.IssuedAt < 0 || r.NextEligibleAt < 0 {
		return types.RewardRecord{}, types.InvalidInputf("reward: negative timestamp")
	}
	body, err := rlp.EncodeToBytes(bodyOf(r))
	if err != nil {
		return types.RewardRecord{}, fmt.Errorf("reward: encode body: %w", err)
	}
	r.ID = uuid.NewSHA1(recordNamespace, body).String()
	r.Checksum = ethcrypto.Keccak256Hash(body).Hex()
	return r, nil
}

// Verify recomputes the ID and checksum of a sealed record.
func Verify(r types.RewardRecord) error {
	sealed, err := Seal(r)
	if err != nil {
		return err
	}
	if sealed.ID != r.ID || sealed.Checksum != r.Checksum {
		return fmt.Errorf("%w: record %s", ErrChecksumMismatch, r.ID)
	}
	return nil
}

// Encode returns the canonical RLP encoding of a sealed record.
func Encode(r types.RewardRecord) ([]byte, error) {
	return rlp.EncodeToBytes(rlpRecord{ID: r.ID, Checksum: r.Checksum, Body: bodyOf(r)})
}

// Decode parses an encoding produced by Encode and verifies its checksum.
func Decode(data []byte) (types.RewardRecord, error) {
	var raw rlpRecord
	if err := rlp.DecodeBytes(data, &raw); err != nil {
		return types.RewardRecord{}, fmt.Errorf("reward: decode record: %w", err)
	}
	record := raw.Body.record()
	record.ID = raw.ID
	record.Checksum = raw.Checksum
	if err := Verify(record); err != nil {
		return types.RewardRecord{}, err
	}
	return record, nil
}
