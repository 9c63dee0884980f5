package domain

import (
	"time"

	"github.com/google/uuid"
)

// XP sources recorded in the XP event log.
const (
	XPSourceSessionCompleted  = "session_completed"
	XPSourceStreakBonus       = "streak_bonus"
	XPSourceAchievementReward = "achievement_reward"
	XPSourceChallengeReward   = "challenge_reward"
	XPSourceManual            = "manual"
)

// UserProgression is the per-user XP, level and streak state.
type UserProgression struct {
	UserID              uuid.UUID  `json:"user_id"`
	TotalXP             int64      `json:"total_xp"`
	Level               int        `json:"level"`
	Title               string     `json:"title"`
	CurrentStreak       int        `json:"current_streak"`
	LongestStreak       int        `json:"longest_streak"`
	LastActivityDate    *time.Time `json:"last_activity_date,omitempty"`
	TotalDistanceMeters int64      `json:"total_distance_meters"`
	TotalSessions       int64      `json:"total_sessions"`
	TotalFrames         int64      `json:"total_frames"`
	TotalEntities       int64      `json:"total_entities"`
	HighQualitySessions int64      `json:"high_quality_sessions"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// XPEvent is one XP award. Events carrying a reference are unique per
// (user, source, reference) so replays are detected.
type XPEvent struct {
	ID        uuid.UUID              `json:"id"`
	UserID    uuid.UUID              `json:"user_id"`
	Amount    int64                  `json:"amount"`
	Source    string                 `json:"source"`
	Reference *Reference             `json:"reference,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// SessionStats is the contribution of one settled session to lifetime statistics.
type SessionStats struct {
	DistanceMeters int64
	Frames         int64
	Entities       int64
	QualityScore   int
}

// XPAward describes the outcome of an XP award.
type XPAward struct {
	UserID        uuid.UUID `json:"user_id"`
	Amount        int64     `json:"amount"`
	TotalXP       int64     `json:"total_xp"`
	PreviousLevel int       `json:"previous_level"`
	Level         int       `json:"level"`
	Title         string    `json:"title"`
	LevelUpBonus  int64     `json:"level_up_bonus"`
	Duplicate     bool      `json:"duplicate"`
}

// LeveledUp reports whether the award crossed at least one level threshold.
func (a *XPAward) LeveledUp() bool {
	return a.Level > a.PreviousLevel
}

// StreakUpdate describes the outcome of a daily activity event.
type StreakUpdate struct {
	UserID        uuid.UUID `json:"user_id"`
	CurrentStreak int       `json:"current_streak"`
	LongestStreak int       `json:"longest_streak"`
	Changed       bool      `json:"changed"`
	BonusXP       int64     `json:"bonus_xp"`
}

// ProgressionView is the progression read model returned to clients.
type ProgressionView struct {
	UserProgression
	CurrentLevelXP int64 `json:"current_level_xp"`
	NextLevelXP    int64 `json:"next_level_xp"`
	MaxLevel       bool  `json:"max_level"`
}
