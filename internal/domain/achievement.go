package domain

import (
	"time"

	"github.com/google/uuid"
)

// AchievementCategory groups catalog entries by what drives their progress.
type AchievementCategory string

const (
	CategoryDistance AchievementCategory = "distance"
	CategorySessions AchievementCategory = "sessions"
	CategoryStreak   AchievementCategory = "streak"
	CategoryQuality  AchievementCategory = "quality"
	CategoryLevel    AchievementCategory = "level"
)

// Achievement is a static catalog entry.
type Achievement struct {
	ID            uuid.UUID           `json:"id"`
	Code          string              `json:"code"`
	Name          string              `json:"name"`
	Description   string              `json:"description"`
	Category      AchievementCategory `json:"category"`
	Requirement   int64               `json:"requirement"`
	RewardXP      int64               `json:"reward_xp"`
	RewardCredits int64               `json:"reward_credits"`
}

// UserAchievement is a user's state for one catalog entry.
type UserAchievement struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	AchievementID uuid.UUID  `json:"achievement_id"`
	Progress      int64      `json:"progress"`
	UnlockedAt    *time.Time `json:"unlocked_at,omitempty"`
	Claimed       bool       `json:"claimed"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (ua *UserAchievement) Unlocked() bool {
	return ua != nil && ua.UnlockedAt != nil
}

// AchievementView joins a catalog entry with the caller's state.
type AchievementView struct {
	Achievement
	Progress   int64      `json:"progress"`
	UnlockedAt *time.Time `json:"unlocked_at,omitempty"`
	Claimed    bool       `json:"claimed"`
}

// Reward is what a claim granted.
type Reward struct {
	XP      int64 `json:"xp"`
	Credits int64 `json:"credits"`
	Cash    int64 `json:"cash"`
}

// ChallengeMetric is the quantity a challenge goal counts.
type ChallengeMetric string

const (
	MetricDistanceKm      ChallengeMetric = "distance_km"
	MetricSessions        ChallengeMetric = "sessions"
	MetricQualitySessions ChallengeMetric = "quality_sessions"
)

// ChallengeGoal is the target a participant must reach.
type ChallengeGoal struct {
	Metric ChallengeMetric `json:"metric"`
	Target int64           `json:"target"`
}

// Challenge is a time-boxed catalog entry.
type Challenge struct {
	ID            uuid.UUID     `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Type          string        `json:"type"`
	Goal          ChallengeGoal `json:"goal"`
	RewardXP      int64         `json:"reward_xp"`
	RewardCredits int64         `json:"reward_credits"`
	RewardCash    int64         `json:"reward_cash"`
	StartsAt      time.Time     `json:"starts_at"`
	EndsAt        time.Time     `json:"ends_at"`
	IsActive      bool          `json:"is_active"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Open reports whether progress may still be recorded at t.
func (c *Challenge) Open(t time.Time) bool {
	return c.IsActive && !t.Before(c.StartsAt) && !t.After(c.EndsAt)
}

// UserChallenge is a user's participation in one challenge.
type UserChallenge struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	ChallengeID  uuid.UUID  `json:"challenge_id"`
	Progress     int        `json:"progress"`
	CurrentValue int64      `json:"current_value"`
	Completed    bool       `json:"completed"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Claimed      bool       `json:"claimed"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
	JoinedAt     time.Time  `json:"joined_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// JoinedChallenge pairs a participation row with its challenge.
type JoinedChallenge struct {
	Challenge     Challenge
	UserChallenge UserChallenge
}

// ChallengeView is a challenge as seen by one user.
type ChallengeView struct {
	Challenge
	Joined       bool   `json:"joined"`
	Progress     int    `json:"progress"`
	CurrentValue int64  `json:"current_value"`
	Status       string `json:"status"`
}
