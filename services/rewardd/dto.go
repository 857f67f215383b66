package rewardd

import (
	"fmt"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"

	"finova/core/fixed"
	"finova/core/integrity"
	"finova/core/reward"
	"finova/core/types"
)

// Ratios travel as decimal strings ("1.5") and FIN amounts as integer
// micro-FIN so no value crosses the API as a float.

type referralRequest struct {
	Referrer  string    `json:"referrer" valid:"required,matches(^[A-Za-z0-9._:-]+$)"`
	Referee   string    `json:"referee" valid:"required,matches(^[A-Za-z0-9._:-]+$)"`
	CreatedAt time.Time `json:"created_at"`
}

type accountDTO struct {
	ID                   string    `json:"id" valid:"required,matches(^[A-Za-z0-9._:-]+$)"`
	HoldingsMicro        uint64    `json:"holdings_micro"`
	KYCVerified          bool      `json:"kyc_verified"`
	StreakDays           uint32    `json:"streak_days"`
	XPTotal              uint64    `json:"xp_total"`
	Level                uint32    `json:"level"`
	CreatedAt            time.Time `json:"created_at"`
	Active               bool      `json:"active"`
	LifetimeRewardsMicro uint64    `json:"lifetime_rewards_micro"`
	LastRewardAt         time.Time `json:"last_reward_at"`
	PenaltyUntil         time.Time `json:"penalty_until"`
	Version              uint64    `json:"version"`
}

type engagementDTO struct {
	Views    uint64 `json:"views"`
	Likes    uint64 `json:"likes"`
	Comments uint64 `json:"comments"`
	Shares   uint64 `json:"shares"`
}

type eventDTO struct {
	ID         string        `json:"id" valid:"required,runelength(1|128)"`
	Type       string        `json:"type" valid:"required,matches(^[a-z_]+$)"`
	Platform   string        `json:"platform" valid:"matches(^[a-z_]*$)"`
	Quality    string        `json:"quality" valid:"float"`
	Timestamp  time.Time     `json:"timestamp"`
	Engagement engagementDTO `json:"engagement"`
}

type signalsDTO struct {
	DeviceConsistency   string `json:"device_consistency" valid:"required,float"`
	TimingNaturalness   string `json:"timing_naturalness" valid:"required,float"`
	SocialGraphValidity string `json:"social_graph_validity" valid:"required,float"`
	ContentUniqueness   string `json:"content_uniqueness" valid:"required,float"`
	Suspicion           string `json:"suspicion" valid:"float"`
	PreviousScore       string `json:"previous_score" valid:"float"`
}

type rewardRequest struct {
	Account accountDTO `json:"account"`
	Event   eventDTO   `json:"event"`
	Signals signalsDTO `json:"signals"`
}

type rewardResponse struct {
	Record           types.RewardRecord `json:"record"`
	Flags            []string           `json:"flags"`
	Fin              string             `json:"fin"`
	Duplicate        bool               `json:"duplicate"`
	LevelChange      any                `json:"level_change,omitempty"`
	Updates          any                `json:"network_updates,omitempty"`
	PropagationError string             `json:"propagation_error,omitempty"`
}

func validate(v any) error {
	if _, err := govalidator.ValidateStruct(v); err != nil {
		return types.InvalidInputf("%s", err.Error())
	}
	return nil
}

func (r referralRequest) edge() (types.ReferralEdge, error) {
	if err := validate(r); err != nil {
		return types.ReferralEdge{}, err
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	edge := types.ReferralEdge{
		Referrer:  types.AccountID(r.Referrer),
		Referee:   types.AccountID(r.Referee),
		CreatedAt: created.UTC(),
		Level:     1,
	}
	return edge, edge.Validate()
}

func (r rewardRequest) submission() (Submission, error) {
	if err := validate(r); err != nil {
		return Submission{}, err
	}
	p := ratioParser{}
	sub := Submission{
		Account: types.Account{
			ID:              types.AccountID(r.Account.ID),
			Holdings:        fixed.Micro(r.Account.HoldingsMicro),
			KYCVerified:     r.Account.KYCVerified,
			StreakDays:      r.Account.StreakDays,
			XPTotal:         r.Account.XPTotal,
			Level:           r.Account.Level,
			CreatedAt:       r.Account.CreatedAt.UTC(),
			Active:          r.Account.Active,
			LifetimeRewards: fixed.Micro(r.Account.LifetimeRewardsMicro),
			LastRewardAt:    r.Account.LastRewardAt.UTC(),
			PenaltyUntil:    r.Account.PenaltyUntil.UTC(),
			Version:         r.Account.Version,
		},
		Event: types.ActivityEvent{
			ID:       r.Event.ID,
			Account:  types.AccountID(r.Account.ID),
			Type:     types.ActivityType(r.Event.Type),
			Platform: types.Platform(strings.ToLower(r.Event.Platform)),
			Engagement: types.Engagement{
				Views:    r.Event.Engagement.Views,
				Likes:    r.Event.Engagement.Likes,
				Comments: r.Event.Engagement.Comments,
				Shares:   r.Event.Engagement.Shares,
			},
			Quality:   p.parse("event.quality", r.Event.Quality),
			Timestamp: r.Event.Timestamp.UTC(),
		},
		Signals: reward.Signals{
			Account: integrity.AccountSignals{
				DeviceConsistency:   p.parse("signals.device_consistency", r.Signals.DeviceConsistency),
				SocialGraphValidity: p.parse("signals.social_graph_validity", r.Signals.SocialGraphValidity),
				LifetimeRewards:     fixed.Micro(r.Account.LifetimeRewardsMicro),
				PreviousScore:       p.parse("signals.previous_score", r.Signals.PreviousScore),
			},
			Behavior: integrity.BehaviorSignals{
				TimingNaturalness: p.parse("signals.timing_naturalness", r.Signals.TimingNaturalness),
				ContentUniqueness: p.parse("signals.content_uniqueness", r.Signals.ContentUniqueness),
				Suspicion:         p.parse("signals.suspicion", r.Signals.Suspicion),
			},
		},
	}
	if p.err != nil {
		return Submission{}, p.err
	}
	return sub, nil
}

type ratioParser struct {
	err error
}

// parse reads an optional decimal; empty means zero.
func (p *ratioParser) parse(field, raw string) fixed.Ratio {
	if p.err != nil || strings.TrimSpace(raw) == "" {
		return 0
	}
	r, err := fixed.Parse(raw)
	if err != nil {
		p.err = types.InvalidInputf("%s: %v", field, err)
		return 0
	}
	return r
}

func newRewardResponse(res Result) rewardResponse {
	out := rewardResponse{
		Record:    res.Record,
		Flags:     res.Record.Flags.Names(),
		Fin:       res.Record.FinAmount.String(),
		Duplicate: res.Duplicate,
	}
	if res.LevelChange != nil {
		out.LevelChange = res.LevelChange.Event()
	}
	if len(res.Updates) > 0 {
		updates := make([]any, 0, len(res.Updates))
		for _, u := range res.Updates {
			updates = append(updates, u.Event())
		}
		out.Updates = updates
	}
	if res.PropagationErr != nil {
		out.PropagationError = fmt.Sprint(res.PropagationErr)
	}
	return out
}
