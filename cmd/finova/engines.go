package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"finova/core/fixed"
	"finova/core/integrity"
	"finova/core/mining"
	"finova/core/network"
	"finova/core/params"
	"finova/core/progression"
	"finova/core/types"
)

func parseFIN(raw string) (fixed.Micro, error) {
	r, err := fixed.Parse(raw)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return fixed.MulMicro(fixed.MicroPerUnit, r), nil
}

func newRateCmd(opts *rootOptions) *cobra.Command {
	var (
		holdings  string
		kyc       bool
		referrals uint32
		users     uint64
		phase     string
	)
	cmd := &cobra.Command{
		Use:   "rate",
		Short: "Compute the hourly mining rate of an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("users") {
				p = p.Clone()
				p.TotalUsers = users
				active, err := p.PhaseFor(users)
				if err != nil {
					return err
				}
				p.Phase = active.ID
			}
			amount, err := parseFIN(holdings)
			if err != nil {
				return err
			}
			model, err := mining.NewModel(p)
			if err != nil {
				return err
			}
			id := p.Phase
			if phase != "" {
				id = params.PhaseID(strings.ToLower(phase))
			}
			rate, err := model.HourlyRate(types.Account{ID: "cli", Holdings: amount, KYCVerified: kyc}, id, referrals)
			if err != nil {
				return err
			}
			return opts.print(cmd, map[string]any{
				"phase":      rate.Phase,
				"baseRate":   rate.BaseRate.String(),
				"pioneer":    rate.Pioneer.String(),
				"referral":   rate.Referral.String(),
				"security":   rate.Security.String(),
				"regression": rate.Regression.String(),
				"perHour":    rate.PerHour.String(),
				"capped":     rate.Capped,
			})
		},
	}
	cmd.Flags().StringVar(&holdings, "holdings", "0", "FIN held by the account")
	cmd.Flags().BoolVar(&kyc, "kyc", false, "account is KYC verified")
	cmd.Flags().Uint32Var(&referrals, "referrals", 0, "active direct referrals")
	cmd.Flags().Uint64Var(&users, "users", 0, "total network users (selects the phase)")
	cmd.Flags().StringVar(&phase, "phase", "", "force a phase id")
	return cmd
}

func newXPCmd(opts *rootOptions) *cobra.Command {
	var (
		activity string
		platform string
		quality  string
		streak   uint32
		level    uint32
	)
	cmd := &cobra.Command{
		Use:   "xp",
		Short: "Compute the XP an activity earns",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := opts.load()
			if err != nil {
				return err
			}
			engine, err := progression.NewEngine(p.Progression, nil, nil)
			if err != nil {
				return err
			}
			q, err := fixed.Parse(quality)
			if err != nil {
				return fmt.Errorf("parse quality: %w", err)
			}
			event := types.ActivityEvent{
				ID:       "cli",
				Account:  "cli",
				Type:     types.ActivityType(activity),
				Platform: types.Platform(strings.ToLower(platform)),
				Quality:  q,
			}
			xp, breakdown, err := engine.XPGain(event, types.Account{StreakDays: streak, Level: level})
			if err != nil {
				return err
			}
			return opts.print(cmd, map[string]any{
				"xp":               xp,
				"baseXp":           breakdown.BaseXP,
				"platform":         breakdown.Platform.String(),
				"quality":          breakdown.Quality.String(),
				"streak":           breakdown.Streak.String(),
				"levelProgression": breakdown.LevelProgression.String(),
			})
		},
	}
	cmd.Flags().StringVar(&activity, "activity", string(types.ActivityOriginalPost), "activity type")
	cmd.Flags().StringVar(&platform, "platform", string(types.PlatformApp), "source platform")
	cmd.Flags().StringVar(&quality, "quality", "1.0", "content quality in [0.5, 2.0]")
	cmd.Flags().Uint32Var(&streak, "streak", 0, "streak days")
	cmd.Flags().Uint32Var(&level, "level", 0, "current level")
	return cmd
}

func newLevelCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "level <xp>",
		Short: "Resolve the level and tier for cumulative XP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			xp, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("parse xp: %w", err)
			}
			row := progression.DefaultLevelTable().Resolve(xp)
			return opts.print(cmd, map[string]any{
				"xp":         xp,
				"level":      row.Level,
				"tier":       row.Tier,
				"multiplier": row.Multiplier.String(),
			})
		},
	}
}

func newTierCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tier <rp>",
		Short: "Resolve the referral tier for a network value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rp, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("parse rp: %w", err)
			}
			tier := network.DefaultTierTable().Resolve(rp)
			commission := make([]string, 0, len(tier.Commission))
			for _, c := range tier.Commission {
				commission = append(commission, c.String())
			}
			return opts.print(cmd, map[string]any{
				"rp":          rp,
				"tier":        tier.Name,
				"miningBonus": tier.MiningBonus.String(),
				"commission":  commission,
				"directCap":   tier.DirectCap,
			})
		},
	}
}

func newScoreCmd(opts *rootOptions) *cobra.Command {
	var device, timing, social, content, suspicion, previous, lifetime string
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score integrity signals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := opts.load()
			if err != nil {
				return err
			}
			scorer, err := integrity.NewScorer(p.Integrity)
			if err != nil {
				return err
			}
			ratios := make(map[string]fixed.Ratio, 6)
			for name, raw := range map[string]string{
				"device": device, "timing": timing, "social": social,
				"content": content, "suspicion": suspicion, "previous": previous,
			} {
				r, err := fixed.Parse(raw)
				if err != nil {
					return fmt.Errorf("parse %s: %w", name, err)
				}
				ratios[name] = r
			}
			earned, err := parseFIN(lifetime)
			if err != nil {
				return err
			}
			result, err := scorer.Score(
				integrity.AccountSignals{
					DeviceConsistency:   ratios["device"],
					SocialGraphValidity: ratios["social"],
					LifetimeRewards:     earned,
					PreviousScore:       ratios["previous"],
				},
				integrity.BehaviorSignals{
					TimingNaturalness: ratios["timing"],
					ContentUniqueness: ratios["content"],
					Suspicion:         ratios["suspicion"],
				},
			)
			if err != nil {
				return err
			}
			class := integrity.Classify(result, ratios["suspicion"])
			return opts.print(cmd, map[string]any{
				"humanProbability": result.HumanProbability.String(),
				"difficulty":       result.Difficulty.String(),
				"rejected":         result.Rejected,
				"penalty":          class.String(),
				"cooldown":         class.Cooldown().String(),
			})
		},
	}
	cmd.Flags().StringVar(&device, "device", "1", "device consistency")
	cmd.Flags().StringVar(&timing, "timing", "1", "timing naturalness")
	cmd.Flags().StringVar(&social, "social", "1", "social graph validity")
	cmd.Flags().StringVar(&content, "content", "1", "content uniqueness")
	cmd.Flags().StringVar(&suspicion, "suspicion", "0", "suspicion score")
	cmd.Flags().StringVar(&previous, "previous", "0", "previous human probability")
	cmd.Flags().StringVar(&lifetime, "lifetime", "0", "lifetime FIN earned")
	return cmd
}
