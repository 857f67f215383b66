package types

import (
	"strings"
	"time"

	"finova/core/fixed"
)

// ActivityType classifies an in-network action.
type ActivityType string

const (
	ActivityOriginalPost ActivityType = "original_post"
	ActivityPhotoPost    ActivityType = "photo_post"
	ActivityVideoContent ActivityType = "video_content"
	ActivityStory        ActivityType = "story"
	ActivityComment      ActivityType = "comment"
	ActivityLike         ActivityType = "like"
	ActivityShare        ActivityType = "share"
	ActivityFollow       ActivityType = "follow"
	ActivityDailyLogin   ActivityType = "daily_login"
	ActivityDailyQuest   ActivityType = "daily_quest"
	ActivityMilestone    ActivityType = "milestone"
	ActivityViralContent ActivityType = "viral_content"
)

// Platform names the social platform an activity originated on.
type Platform string

const (
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformYouTube   Platform = "youtube"
	PlatformX         Platform = "x"
	PlatformFacebook  Platform = "facebook"
	PlatformApp       Platform = "app"
)

var (
	// MinQuality and MaxQuality bound the externally supplied quality score.
	MinQuality = fixed.FromBps(5_000)
	MaxQuality = fixed.FromBps(20_000)
)

// Engagement carries raw interaction counters reported with an activity.
type Engagement struct {
	Views    uint64 `json:"views"`
	Likes    uint64 `json:"likes"`
	Comments uint64 `json:"comments"`
	Shares   uint64 `json:"shares"`
}

// ActivityEvent is a single in-network action awaiting a reward.
type ActivityEvent struct {
	ID         string       `json:"id"`
	Account    AccountID    `json:"account"`
	Type       ActivityType `json:"type"`
	Platform   Platform     `json:"platform"`
	Engagement Engagement   `json:"engagement"`
	Quality    fixed.Ratio  `json:"quality"`
	Timestamp  time.Time    `json:"timestamp"`
}

// Validate checks the event for malformed fields. Unknown activity types are
// rejected by the progression catalogue, not here.
func (e ActivityEvent) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return InvalidInputf("event id required")
	}
	if err := e.Account.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(string(e.Type)) == "" {
		return InvalidInputf("event %s: activity type required", e.ID)
	}
	if e.Quality < MinQuality || e.Quality > MaxQuality {
		return InvalidInputf("event %s: quality %s outside [%s, %s]", e.ID, e.Quality, MinQuality, MaxQuality)
	}
	if e.Timestamp.IsZero() {
		return InvalidInputf("event %s: timestamp required", e.ID)
	}
	return nil
}
