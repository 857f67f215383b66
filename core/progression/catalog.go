package progression

import (
	"fmt"

	"finova/core/fixed"
	"finova/core/types"
)

// ErrUnknownActivity is returned for activity types missing from the catalogue.
var ErrUnknownActivity = fmt.Errorf("progression: %w: unknown activity type", types.ErrInvalidInput)

// Catalog maps activities and platforms to their XP inputs.
type Catalog struct {
	baseXP    map[types.ActivityType]uint64
	platforms map[types.Platform]fixed.Ratio
	limits    map[types.ActivityType]uint32
}

// DefaultCatalog returns the reference activity catalogue.
func DefaultCatalog() *Catalog {
	return &Catalog{
		baseXP: map[types.ActivityType]uint64{
			types.ActivityOriginalPost: 50,
			types.ActivityPhotoPost:    75,
			types.ActivityVideoContent: 150,
			types.ActivityStory:        25,
			types.ActivityComment:      25,
			types.ActivityLike:         5,
			types.ActivityShare:        15,
			types.ActivityFollow:       20,
			types.ActivityDailyLogin:   10,
			types.ActivityDailyQuest:   100,
			types.ActivityMilestone:    500,
			types.ActivityViralContent: 1_000,
		},
		platforms: map[types.Platform]fixed.Ratio{
			types.PlatformTikTok:    fixed.FromBps(13_000),
			types.PlatformYouTube:   fixed.FromBps(14_000),
			types.PlatformInstagram: fixed.FromBps(12_000),
			types.PlatformX:         fixed.FromBps(12_000),
			types.PlatformFacebook:  fixed.FromBps(11_000),
			types.PlatformApp:       fixed.One,
		},
		limits: map[types.ActivityType]uint32{
			types.ActivityPhotoPost:    20,
			types.ActivityVideoContent: 10,
			types.ActivityStory:        50,
			types.ActivityComment:      100,
			types.ActivityLike:         200,
			types.ActivityShare:        50,
			types.ActivityFollow:       25,
			types.ActivityDailyQuest:   3,
			types.ActivityDailyLogin:   1,
		},
	}
}

// BaseXP returns the base experience for kind.
func (c *Catalog) BaseXP(kind types.ActivityType) (uint64, error) {
	xp, ok := c.baseXP[kind]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrUnknownActivity, kind)
	}
	return xp, nil
}

// PlatformMultiplier returns the platform weight; unknown platforms count as 1.
func (c *Catalog) PlatformMultiplier(platform types.Platform) fixed.Ratio {
	if m, ok := c.platforms[platform]; ok {
		return m
	}
	return fixed.One
}

// DailyLimit returns the per-epoch cap for kind. ok is false when the activity
// is unlimited.
func (c *Catalog) DailyLimit(kind types.ActivityType) (limit uint32, ok bool) {
	limit, ok = c.limits[kind]
	return limit, ok
}

// WithBaseXP returns a copy of the catalogue with kind overridden.
func (c *Catalog) WithBaseXP(kind types.ActivityType, xp uint64) *Catalog {
	clone := c.clone()
	clone.baseXP[kind] = xp
	return clone
}

// WithDailyLimit returns a copy of the catalogue with a per-epoch cap for kind.
func (c *Catalog) WithDailyLimit(kind types.ActivityType, limit uint32) *Catalog {
	clone := c.clone()
	clone.limits[kind] = limit
	return clone
}

func (c *Catalog) clone() *Catalog {
	out := &Catalog{
		baseXP:    make(map[types.ActivityType]uint64, len(c.baseXP)),
		platforms: make(map[types.Platform]fixed.Ratio, len(c.platforms)),
		limits:    make(map[types.ActivityType]uint32, len(c.limits)),
	}
	for k, v := range c.baseXP {
		out.baseXP[k] = v
	}
	for k, v := range c.platforms {
		out.platforms[k] = v
	}
	for k, v := range c.limits {
		out.limits[k] = v
	}
	return out
}
