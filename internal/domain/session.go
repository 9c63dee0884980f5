package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionMode is the collection mode a user recorded in.
type SessionMode string

const (
	ModePassive SessionMode = "passive"
	ModeDashcam SessionMode = "dashcam"
	ModeExplore SessionMode = "explore"
)

// SessionStatus tracks a session through scoring and settlement.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionCompleted  SessionStatus = "completed"
	SessionProcessing SessionStatus = "processing"
	SessionProcessed  SessionStatus = "processed"
	SessionFailed     SessionStatus = "failed"
	SessionSettled    SessionStatus = "settled"
)

// CollectionSession is one recording session. Earnings stay zero until settlement.
type CollectionSession struct {
	ID               uuid.UUID     `json:"id"`
	UserID           uuid.UUID     `json:"user_id"`
	Mode             SessionMode   `json:"mode"`
	Status           SessionStatus `json:"status"`
	DataURL          string        `json:"data_url,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	EndedAt          *time.Time    `json:"ended_at,omitempty"`
	DistanceMeters   int64         `json:"distance_meters"`
	DurationSeconds  int64         `json:"duration_seconds"`
	FrameCount       int64         `json:"frame_count"`
	EntitiesDetected int64         `json:"entities_detected"`
	QualityScore     int           `json:"quality_score"`
	EarnedCash       int64         `json:"earned_cash"`
	EarnedCredits    int64         `json:"earned_credits"`
	EarnedXP         int64         `json:"earned_xp"`
	FailureReason    *string       `json:"failure_reason,omitempty"`
	ProcessedAt      *time.Time    `json:"processed_at,omitempty"`
	SettledAt        *time.Time    `json:"settled_at,omitempty"`
	NotifiedAt       *time.Time    `json:"notified_at,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Breakdown is the cash, credits and XP a session earns.
type Breakdown struct {
	Cash    int64 `json:"cash"`
	Credits int64 `json:"credits"`
	XP      int64 `json:"xp"`
}

// Breakdown returns the earnings recorded on the session row.
func (s *CollectionSession) Breakdown() Breakdown {
	return Breakdown{Cash: s.EarnedCash, Credits: s.EarnedCredits, XP: s.EarnedXP}
}

// SessionScore is the ML scoring result attached to a processed session.
type SessionScore struct {
	QualityScore     int   `json:"quality_score"`
	FramesProcessed  int64 `json:"frames_processed"`
	EntitiesDetected int64 `json:"entities_detected"`
}
