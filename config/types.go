package config

// Phase is one lifecycle phase as written in TOML. Amounts are whole-FIN
// decimal strings.
type Phase struct {
	ID           string `toml:"ID"`
	MinUsers     uint64 `toml:"MinUsers"`
	BaseRate     string `toml:"BaseRate"`
	BonusCeiling string `toml:"BonusCeiling"`
	MaxDaily     string `toml:"MaxDaily"`
}

// Mining mirrors params.Mining.
type Mining struct {
	RegressionK    string `toml:"RegressionK"`
	ReferralStep   string `toml:"ReferralStep"`
	ReferralCap    string `toml:"ReferralCap"`
	KYCBonus       string `toml:"KYCBonus"`
	NonKYCBonus    string `toml:"NonKYCBonus"`
	PioneerDivisor uint64 `toml:"PioneerDivisor"`
	ActiveWindow   string `toml:"ActiveWindow"`
}

// Progression mirrors params.Progression.
type Progression struct {
	StreakStep string `toml:"StreakStep"`
	MaxStreak  string `toml:"MaxStreak"`
	LevelDecay string `toml:"LevelDecay"`
}

// Network mirrors params.Network.
type Network struct {
	Level2Factor     string `toml:"Level2Factor"`
	Level3Factor     string `toml:"Level3Factor"`
	DecayFloor       string `toml:"DecayFloor"`
	DecayHorizonDays uint64 `toml:"DecayHorizonDays"`
	RegressionR      string `toml:"RegressionR"`
	RegressionFloor  string `toml:"RegressionFloor"`
	DiversityCap     string `toml:"DiversityCap"`
	ActiveWindow     string `toml:"ActiveWindow"`
	ChurnWindow      string `toml:"ChurnWindow"`
}

// Reward mirrors params.Reward.
type Reward struct {
	PenaltyWeight string `toml:"PenaltyWeight"`
	Cooldown      string `toml:"Cooldown"`
	CycleLength   string `toml:"CycleLength"`
	ActivityShare string `toml:"ActivityShare"`
}

// IntegrityWeights are basis points and must sum to 10000.
type IntegrityWeights struct {
	Device  uint32 `toml:"Device"`
	Timing  uint32 `toml:"Timing"`
	Social  uint32 `toml:"Social"`
	Content uint32 `toml:"Content"`
}

// Integrity mirrors params.Integrity.
type Integrity struct {
	Floor           string           `toml:"Floor"`
	MinScore        string           `toml:"MinScore"`
	LifetimeDivisor string           `toml:"LifetimeDivisor"`
	SuspicionWeight string           `toml:"SuspicionWeight"`
	Weights         IntegrityWeights `toml:"weights"`
}

// Params is the on-disk form of a network parameter set.
type Params struct {
	Version     uint64      `toml:"Version"`
	Epoch       uint64      `toml:"Epoch"`
	TotalUsers  uint64      `toml:"TotalUsers"`
	Phase       string      `toml:"Phase"`
	Phases      []Phase     `toml:"phases"`
	Mining      Mining      `toml:"mining"`
	Progression Progression `toml:"progression"`
	Network     Network     `toml:"network"`
	Reward      Reward      `toml:"reward"`
	Integrity   Integrity   `toml:"integrity"`
}
