package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const sessionColumns = `
	id, user_id, mode, status, data_url, started_at, ended_at,
	distance_meters, duration_seconds, frame_count, entities_detected, quality_score,
	earned_cash, earned_credits, earned_xp, failure_reason,
	processed_at, settled_at, notified_at, updated_at`

func scanSession(row pgx.Row) (*domain.CollectionSession, error) {
	var s domain.CollectionSession
	err := row.Scan(
		&s.ID, &s.UserID, &s.Mode, &s.Status, &s.DataURL, &s.StartedAt, &s.EndedAt,
		&s.DistanceMeters, &s.DurationSeconds, &s.FrameCount, &s.EntitiesDetected, &s.QualityScore,
		&s.EarnedCash, &s.EarnedCredits, &s.EarnedXP, &s.FailureReason,
		&s.ProcessedAt, &s.SettledAt, &s.NotifiedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepository) CreateSession(ctx context.Context, s *domain.CollectionSession) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO collection_sessions (
			id, user_id, mode, status, data_url, started_at, ended_at,
			distance_meters, duration_seconds, frame_count, quality_score
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, s.ID, s.UserID, s.Mode, s.Status, s.DataURL, s.StartedAt, s.EndedAt,
		s.DistanceMeters, s.DurationSeconds, s.FrameCount, s.QualityScore)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindSessionByID(ctx context.Context, sessionID uuid.UUID) (*domain.CollectionSession, error) {
	return scanSession(r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM collection_sessions WHERE id = $1`, sessionID))
}

func (r *PostgresRepository) TransitionSession(ctx context.Context, sessionID uuid.UUID, from []domain.SessionStatus, to domain.SessionStatus, failureReason *string) (bool, error) {
	fromValues := make([]string, 0, len(from))
	for _, status := range from {
		fromValues = append(fromValues, string(status))
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE collection_sessions
		SET status = $3,
		    failure_reason = COALESCE($4, failure_reason),
		    updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
	`, sessionID, fromValues, to, failureReason)
	if err != nil {
		return false, fmt.Errorf("failed to transition session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) MarkSessionProcessed(ctx context.Context, sessionID uuid.UUID, score domain.SessionScore, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE collection_sessions
		SET status = 'processed',
		    quality_score = $2,
		    frame_count = $3,
		    entities_detected = $4,
		    processed_at = $5,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, sessionID, score.QualityScore, score.FramesProcessed, score.EntitiesDetected, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark session processed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSessionSettled writes the earnings only while the session is still
// exactly 'processed'; the status check and the write are one statement.
func (r *PostgresRepository) MarkSessionSettled(ctx context.Context, sessionID uuid.UUID, b domain.Breakdown, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE collection_sessions
		SET status = 'settled',
		    earned_cash = $2,
		    earned_credits = $3,
		    earned_xp = $4,
		    settled_at = $5,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processed' AND settled_at IS NULL
	`, sessionID, b.Cash, b.Credits, b.XP, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark session settled: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) MarkSessionNotified(ctx context.Context, sessionID uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE collection_sessions SET notified_at = $2 WHERE id = $1 AND notified_at IS NULL
	`, sessionID, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark session notified: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) ListSessionsByStatusBefore(ctx context.Context, status domain.SessionStatus, before time.Time, limit int) ([]domain.CollectionSession, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM collection_sessions
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, status, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.CollectionSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

const progressionColumns = `
	user_id, total_xp, level, title, current_streak, longest_streak, last_activity_date,
	total_distance_meters, total_sessions, total_frames, total_entities, high_quality_sessions, updated_at`

func scanProgression(row pgx.Row) (*domain.UserProgression, error) {
	var p domain.UserProgression
	err := row.Scan(
		&p.UserID, &p.TotalXP, &p.Level, &p.Title, &p.CurrentStreak, &p.LongestStreak, &p.LastActivityDate,
		&p.TotalDistanceMeters, &p.TotalSessions, &p.TotalFrames, &p.TotalEntities, &p.HighQualitySessions, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PostgresRepository) FindProgression(ctx context.Context, userID uuid.UUID) (*domain.UserProgression, error) {
	return scanProgression(r.db.QueryRow(ctx, `SELECT `+progressionColumns+` FROM user_progression WHERE user_id = $1`, userID))
}

func (r *PostgresRepository) LockProgression(ctx context.Context, userID uuid.UUID) (*domain.UserProgression, error) {
	if _, err := r.db.Exec(ctx, `
		INSERT INTO user_progression (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return nil, fmt.Errorf("failed to ensure progression: %w", err)
	}
	return scanProgression(r.db.QueryRow(ctx, `SELECT `+progressionColumns+` FROM user_progression WHERE user_id = $1 FOR UPDATE`, userID))
}

func (r *PostgresRepository) UpdateProgression(ctx context.Context, p *domain.UserProgression) error {
	_, err := r.db.Exec(ctx, `
		UPDATE user_progression
		SET total_xp = $2,
		    level = $3,
		    title = $4,
		    current_streak = $5,
		    longest_streak = $6,
		    last_activity_date = $7,
		    total_distance_meters = $8,
		    total_sessions = $9,
		    total_frames = $10,
		    total_entities = $11,
		    high_quality_sessions = $12,
		    updated_at = NOW()
		WHERE user_id = $1
	`, p.UserID, p.TotalXP, p.Level, p.Title, p.CurrentStreak, p.LongestStreak, p.LastActivityDate,
		p.TotalDistanceMeters, p.TotalSessions, p.TotalFrames, p.TotalEntities, p.HighQualitySessions)
	if err != nil {
		return fmt.Errorf("failed to update progression: %w", err)
	}
	return nil
}

func (r *PostgresRepository) InsertXPEvent(ctx context.Context, e *domain.XPEvent) error {
	var refType, refID *string
	if e.Reference != nil {
		refType, refID = &e.Reference.Type, &e.Reference.ID
	}
	var metadata []byte
	if len(e.Metadata) > 0 {
		encoded, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal xp metadata: %w", err)
		}
		metadata = encoded
	}
	tag, err := r.db.Exec(ctx, `
		INSERT INTO xp_events (id, user_id, amount, source, reference_type, reference_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
	`, e.ID, e.UserID, e.Amount, e.Source, refType, refID, metadata, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert xp event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

const achievementColumns = `id, code, name, description, category, requirement, reward_xp, reward_credits`

func scanAchievement(row pgx.Row) (*domain.Achievement, error) {
	var a domain.Achievement
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Description, &a.Category, &a.Requirement, &a.RewardXP, &a.RewardCredits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// UpsertAchievement seeds or refreshes a catalog entry keyed by code. The
// stored id wins over a.ID so user rows keep pointing at it.
func (r *PostgresRepository) UpsertAchievement(ctx context.Context, a *domain.Achievement) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO achievements (id, code, name, description, category, requirement, reward_xp, reward_credits)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (code) DO UPDATE
		SET name = EXCLUDED.name,
		    description = EXCLUDED.description,
		    category = EXCLUDED.category,
		    requirement = EXCLUDED.requirement,
		    reward_xp = EXCLUDED.reward_xp,
		    reward_credits = EXCLUDED.reward_credits
		RETURNING id
	`, a.ID, a.Code, a.Name, a.Description, a.Category, a.Requirement, a.RewardXP, a.RewardCredits).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert achievement %s: %w", a.Code, err)
	}
	return nil
}

func (r *PostgresRepository) ListAchievements(ctx context.Context) ([]domain.Achievement, error) {
	rows, err := r.db.Query(ctx, `SELECT `+achievementColumns+` FROM achievements ORDER BY category, requirement`)
	if err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}
	defer rows.Close()

	var out []domain.Achievement
	for rows.Next() {
		a, err := scanAchievement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) FindAchievementByCode(ctx context.Context, code string) (*domain.Achievement, error) {
	return scanAchievement(r.db.QueryRow(ctx, `SELECT `+achievementColumns+` FROM achievements WHERE code = $1`, code))
}

func (r *PostgresRepository) FindAchievementByID(ctx context.Context, achievementID uuid.UUID) (*domain.Achievement, error) {
	return scanAchievement(r.db.QueryRow(ctx, `SELECT `+achievementColumns+` FROM achievements WHERE id = $1`, achievementID))
}

const userAchievementColumns = `id, user_id, achievement_id, progress, unlocked_at, claimed, claimed_at, updated_at`

func scanUserAchievement(row pgx.Row) (*domain.UserAchievement, error) {
	var ua domain.UserAchievement
	err := row.Scan(&ua.ID, &ua.UserID, &ua.AchievementID, &ua.Progress, &ua.UnlockedAt, &ua.Claimed, &ua.ClaimedAt, &ua.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ua, nil
}

// LockUserAchievement creates the user's row on first touch and locks it.
func (r *PostgresRepository) LockUserAchievement(ctx context.Context, userID, achievementID uuid.UUID) (*domain.UserAchievement, error) {
	if _, err := r.db.Exec(ctx, `
		INSERT INTO user_achievements (id, user_id, achievement_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, achievement_id) DO NOTHING
	`, uuid.New(), userID, achievementID); err != nil {
		return nil, fmt.Errorf("failed to ensure user achievement: %w", err)
	}
	return scanUserAchievement(r.db.QueryRow(ctx, `
		SELECT `+userAchievementColumns+`
		FROM user_achievements
		WHERE user_id = $1 AND achievement_id = $2
		FOR UPDATE
	`, userID, achievementID))
}

func (r *PostgresRepository) ListUserAchievements(ctx context.Context, userID uuid.UUID) ([]domain.UserAchievement, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userAchievementColumns+` FROM user_achievements WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user achievements: %w", err)
	}
	defer rows.Close()

	var out []domain.UserAchievement
	for rows.Next() {
		ua, err := scanUserAchievement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ua)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) SaveUserAchievement(ctx context.Context, ua *domain.UserAchievement) error {
	_, err := r.db.Exec(ctx, `
		UPDATE user_achievements
		SET progress = $2, unlocked_at = $3, claimed = $4, claimed_at = $5, updated_at = NOW()
		WHERE id = $1
	`, ua.ID, ua.Progress, ua.UnlockedAt, ua.Claimed, ua.ClaimedAt)
	if err != nil {
		return fmt.Errorf("failed to save user achievement: %w", err)
	}
	return nil
}

const challengeColumns = `
	id, name, description, type, goal, reward_xp, reward_credits, reward_cash,
	starts_at, ends_at, is_active, created_at`

func scanChallenge(row pgx.Row) (*domain.Challenge, error) {
	var (
		c    domain.Challenge
		goal []byte
	)
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Type, &goal, &c.RewardXP, &c.RewardCredits, &c.RewardCash,
		&c.StartsAt, &c.EndsAt, &c.IsActive, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(goal, &c.Goal); err != nil {
		return nil, fmt.Errorf("failed to decode challenge goal: %w", err)
	}
	return &c, nil
}

func (r *PostgresRepository) CreateChallenge(ctx context.Context, c *domain.Challenge) error {
	goal, err := json.Marshal(c.Goal)
	if err != nil {
		return fmt.Errorf("failed to marshal challenge goal: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO challenges (
			id, name, description, type, goal, reward_xp, reward_credits, reward_cash,
			starts_at, ends_at, is_active, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, c.ID, c.Name, c.Description, c.Type, goal, c.RewardXP, c.RewardCredits, c.RewardCash,
		c.StartsAt, c.EndsAt, c.IsActive, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create challenge: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindChallengeByID(ctx context.Context, challengeID uuid.UUID) (*domain.Challenge, error) {
	return scanChallenge(r.db.QueryRow(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = $1`, challengeID))
}

func (r *PostgresRepository) ListActiveChallenges(ctx context.Context, at time.Time) ([]domain.Challenge, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+challengeColumns+`
		FROM challenges
		WHERE is_active AND starts_at <= $1 AND ends_at >= $1
		ORDER BY ends_at ASC
	`, at)
	if err != nil {
		return nil, fmt.Errorf("failed to list challenges: %w", err)
	}
	defer rows.Close()

	var out []domain.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CountChallengesStartingBetween(ctx context.Context, challengeType string, from, to time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM challenges WHERE type = $1 AND starts_at >= $2 AND starts_at < $3
	`, challengeType, from, to).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count challenges: %w", err)
	}
	return count, nil
}

const userChallengeColumns = `
	id, user_id, challenge_id, progress, current_value, completed, completed_at,
	claimed, claimed_at, joined_at, updated_at`

func scanUserChallenge(row pgx.Row) (*domain.UserChallenge, error) {
	var uc domain.UserChallenge
	err := row.Scan(&uc.ID, &uc.UserID, &uc.ChallengeID, &uc.Progress, &uc.CurrentValue, &uc.Completed, &uc.CompletedAt,
		&uc.Claimed, &uc.ClaimedAt, &uc.JoinedAt, &uc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &uc, nil
}

func (r *PostgresRepository) LockUserChallenge(ctx context.Context, userID, challengeID uuid.UUID) (*domain.UserChallenge, error) {
	return scanUserChallenge(r.db.QueryRow(ctx, `
		SELECT `+userChallengeColumns+`
		FROM user_challenges
		WHERE user_id = $1 AND challenge_id = $2
		FOR UPDATE
	`, userID, challengeID))
}

func (r *PostgresRepository) InsertUserChallenge(ctx context.Context, uc *domain.UserChallenge) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO user_challenges (id, user_id, challenge_id, joined_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_id, challenge_id) DO NOTHING
	`, uc.ID, uc.UserID, uc.ChallengeID, uc.JoinedAt)
	if err != nil {
		return fmt.Errorf("failed to join challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r *PostgresRepository) UpdateUserChallenge(ctx context.Context, uc *domain.UserChallenge) error {
	_, err := r.db.Exec(ctx, `
		UPDATE user_challenges
		SET progress = $2, current_value = $3, completed = $4, completed_at = $5,
		    claimed = $6, claimed_at = $7, updated_at = NOW()
		WHERE id = $1
	`, uc.ID, uc.Progress, uc.CurrentValue, uc.Completed, uc.CompletedAt, uc.Claimed, uc.ClaimedAt)
	if err != nil {
		return fmt.Errorf("failed to update user challenge: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListUserChallenges(ctx context.Context, userID uuid.UUID) ([]domain.UserChallenge, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userChallengeColumns+` FROM user_challenges WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user challenges: %w", err)
	}
	defer rows.Close()

	var out []domain.UserChallenge
	for rows.Next() {
		uc, err := scanUserChallenge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *uc)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ListOpenJoinedChallenges(ctx context.Context, userID uuid.UUID, at time.Time) ([]domain.JoinedChallenge, error) {
	rows, err := r.db.Query(ctx, `
		SELECT uc.challenge_id
		FROM user_challenges uc
		JOIN challenges c ON c.id = uc.challenge_id
		WHERE uc.user_id = $1 AND NOT uc.completed
		  AND c.is_active AND c.starts_at <= $2 AND c.ends_at >= $2
	`, userID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to list joined challenges: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.JoinedChallenge, 0, len(ids))
	for _, id := range ids {
		c, err := r.FindChallengeByID(ctx, id)
		if err != nil {
			return nil, err
		}
		uc, err := r.LockUserChallenge(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.JoinedChallenge{Challenge: *c, UserChallenge: *uc})
	}
	return out, nil
}

func (r *PostgresRepository) InsertChallengeContribution(ctx context.Context, userChallengeID uuid.UUID, ref domain.Reference) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO challenge_contributions (user_challenge_id, reference_type, reference_id)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, userChallengeID, ref.Type, ref.ID)
	if err != nil {
		return fmt.Errorf("failed to record challenge contribution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}
