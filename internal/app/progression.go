package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/citypulse/earnings-service/internal/progression"
	"github.com/citypulse/earnings-service/internal/store"
	"github.com/google/uuid"
)

// HighQualityScore is the score a session needs to count as high quality.
const HighQualityScore = 90

// ProgressionConfig holds the tunable constants of the progression engine.
type ProgressionConfig struct {
	LevelUpBonusPerLevel int64
	StreakBonusPerDay    int64
	// StreakBonusCap limits the daily streak bonus; 0 leaves it uncapped.
	StreakBonusCap int64
	// Location defines calendar days for streaks.
	Location *time.Location
}

// DefaultProgressionConfig returns the production constants.
func DefaultProgressionConfig() ProgressionConfig {
	return ProgressionConfig{
		LevelUpBonusPerLevel: 10,
		StreakBonusPerDay:    5,
		Location:             time.UTC,
	}
}

// MilestoneRecorder receives level and streak milestones so that
// level- and streak-indexed achievements can unlock.
type MilestoneRecorder interface {
	RecordCategoryProgress(ctx context.Context, userID uuid.UUID, category domain.AchievementCategory, value int64) error
}

// ProgressionEngine owns XP, levels and streaks.
type ProgressionEngine struct {
	store      store.Store
	ledger     *Ledger
	curve      *progression.Curve
	cfg        ProgressionConfig
	milestones MilestoneRecorder
	logger     *slog.Logger
	now        func() time.Time
}

// NewProgressionEngine creates a progression engine.
func NewProgressionEngine(s store.Store, ledger *Ledger, curve *progression.Curve, cfg ProgressionConfig, logger *slog.Logger) *ProgressionEngine {
	if curve == nil {
		curve = progression.DefaultCurve()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &ProgressionEngine{
		store:  s,
		ledger: ledger,
		curve:  curve,
		cfg:    cfg,
		logger: logger.With("component", "progression"),
		now:    time.Now,
	}
}

// SetMilestoneRecorder wires the achievement evaluator in after construction.
func (e *ProgressionEngine) SetMilestoneRecorder(r MilestoneRecorder) {
	e.milestones = r
}

// AwardXP adds amount XP for source. With a reference the award happens at
// most once per (user, source, reference); a replay reports Duplicate.
func (e *ProgressionEngine) AwardXP(ctx context.Context, userID uuid.UUID, amount int64, source string, ref *domain.Reference, metadata map[string]interface{}) (*domain.XPAward, error) {
	if amount <= 0 {
		return nil, domain.ErrValidation.WithMessage("xp amount must be positive")
	}
	if source == "" {
		return nil, domain.ErrValidation.WithMessage("xp source is required")
	}

	var award *domain.XPAward
	err := e.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		var err error
		award, err = e.awardXPTx(ctx, repo, userID, amount, source, ref, metadata, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.afterAward(ctx, award)
	return award, nil
}

// RecordSession awards a settled session's XP and adds its statistics in one
// unit keyed by the session id.
func (e *ProgressionEngine) RecordSession(ctx context.Context, userID, sessionID uuid.UUID, xp int64, stats domain.SessionStats) (*domain.XPAward, error) {
	ref := &domain.Reference{Type: domain.RefSession, ID: sessionID.String()}
	var award *domain.XPAward
	err := e.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		var err error
		award, err = e.awardXPTx(ctx, repo, userID, xp, domain.XPSourceSessionCompleted, ref, map[string]interface{}{"session_id": sessionID.String()}, &stats)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.afterAward(ctx, award)
	return award, nil
}

// awardXPTx applies an award inside an open unit of work. amount may be zero
// when only stats are recorded.
func (e *ProgressionEngine) awardXPTx(ctx context.Context, repo store.Repository, userID uuid.UUID, amount int64, source string, ref *domain.Reference, metadata map[string]interface{}, stats *domain.SessionStats) (*domain.XPAward, error) {
	p, err := repo.LockProgression(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock progression: %w", err)
	}

	event := &domain.XPEvent{
		ID:        uuid.New(),
		UserID:    userID,
		Amount:    amount,
		Source:    source,
		Reference: ref,
		Metadata:  metadata,
		CreatedAt: e.now(),
	}
	if err := repo.InsertXPEvent(ctx, event); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return &domain.XPAward{
				UserID:        userID,
				TotalXP:       p.TotalXP,
				PreviousLevel: p.Level,
				Level:         p.Level,
				Title:         p.Title,
				Duplicate:     true,
			}, nil
		}
		return nil, fmt.Errorf("insert xp event: %w", err)
	}

	previous := p.Level
	p.TotalXP += amount
	// A retuned curve never takes levels away.
	if level := e.curve.LevelFromXP(p.TotalXP); level > p.Level {
		p.Level = level
	}
	p.Title = e.curve.TitleForLevel(p.Level)

	if stats != nil {
		p.TotalDistanceMeters += stats.DistanceMeters
		p.TotalSessions++
		p.TotalFrames += stats.Frames
		p.TotalEntities += stats.Entities
		if stats.QualityScore >= HighQualityScore {
			p.HighQualitySessions++
		}
	}

	if err := repo.UpdateProgression(ctx, p); err != nil {
		return nil, fmt.Errorf("update progression: %w", err)
	}

	award := &domain.XPAward{
		UserID:        userID,
		Amount:        amount,
		TotalXP:       p.TotalXP,
		PreviousLevel: previous,
		Level:         p.Level,
		Title:         p.Title,
	}

	if award.LeveledUp() && e.cfg.LevelUpBonusPerLevel > 0 {
		bonus := int64(p.Level) * e.cfg.LevelUpBonusPerLevel
		posting, err := e.ledger.creditUser(ctx, repo, userID, domain.CurrencyCredits, bonus, domain.LedgerEntry{
			Type:        domain.TxLevelUpBonus,
			Reference:   &domain.Reference{Type: domain.RefLevel, ID: strconv.Itoa(p.Level)},
			Description: fmt.Sprintf("Level %d reached: %s", p.Level, p.Title),
			Metadata:    map[string]interface{}{"previous_level": previous, "level": p.Level},
		})
		if err != nil {
			return nil, fmt.Errorf("credit level-up bonus: %w", err)
		}
		if posting != nil && !posting.Replayed {
			award.LevelUpBonus = bonus
		}
	}

	return award, nil
}

func (e *ProgressionEngine) afterAward(ctx context.Context, award *domain.XPAward) {
	if award == nil || award.Duplicate || !award.LeveledUp() {
		return
	}
	e.logger.Info("user leveled up", "user_id", award.UserID, "level", award.Level, "title", award.Title, "bonus_credits", award.LevelUpBonus)
	e.recordMilestone(ctx, award.UserID, domain.CategoryLevel, int64(award.Level))
}

func (e *ProgressionEngine) recordMilestone(ctx context.Context, userID uuid.UUID, category domain.AchievementCategory, value int64) {
	if e.milestones == nil {
		return
	}
	if err := e.milestones.RecordCategoryProgress(ctx, userID, category, value); err != nil {
		e.logger.Warn("failed to record milestone", "user_id", userID, "category", category, "value", value, "error", err)
	}
}

// UpdateStreak records activity now.
func (e *ProgressionEngine) UpdateStreak(ctx context.Context, userID uuid.UUID) (*domain.StreakUpdate, error) {
	return e.UpdateStreakAt(ctx, userID, e.now())
}

// UpdateStreakAt records activity at the given instant. Repeated activity on
// the same calendar day is a no-op; any day after the first of a streak
// earns bonus XP once per day.
func (e *ProgressionEngine) UpdateStreakAt(ctx context.Context, userID uuid.UUID, at time.Time) (*domain.StreakUpdate, error) {
	var (
		update *domain.StreakUpdate
		award  *domain.XPAward
	)
	err := e.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		p, err := repo.LockProgression(ctx, userID)
		if err != nil {
			return fmt.Errorf("lock progression: %w", err)
		}

		next, changed := progression.StreakTransition(p.CurrentStreak, p.LastActivityDate, at, e.cfg.Location)
		update = &domain.StreakUpdate{UserID: userID, CurrentStreak: p.CurrentStreak, LongestStreak: p.LongestStreak}
		if !changed {
			return nil
		}

		day := progression.CalendarDay(at, e.cfg.Location)
		p.CurrentStreak = next
		if next > p.LongestStreak {
			p.LongestStreak = next
		}
		p.LastActivityDate = &day
		if err := repo.UpdateProgression(ctx, p); err != nil {
			return fmt.Errorf("update progression: %w", err)
		}
		update.CurrentStreak = p.CurrentStreak
		update.LongestStreak = p.LongestStreak
		update.Changed = true

		bonus := progression.StreakBonusXP(next, e.cfg.StreakBonusPerDay, e.cfg.StreakBonusCap)
		if bonus <= 0 {
			return nil
		}
		ref := &domain.Reference{Type: domain.RefStreak, ID: day.Format("2006-01-02")}
		award, err = e.awardXPTx(ctx, repo, userID, bonus, domain.XPSourceStreakBonus, ref, map[string]interface{}{"streak": next}, nil)
		if err != nil {
			return err
		}
		if !award.Duplicate {
			update.BonusXP = bonus
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if update.Changed {
		e.recordMilestone(ctx, userID, domain.CategoryStreak, int64(update.CurrentStreak))
	}
	e.afterAward(ctx, award)
	return update, nil
}

// GetProgression returns the user's progression, level 1 if none exists yet.
func (e *ProgressionEngine) GetProgression(ctx context.Context, userID uuid.UUID) (*domain.ProgressionView, error) {
	p, err := e.store.FindProgression(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("find progression: %w", err)
		}
		p = &domain.UserProgression{UserID: userID, Level: 1, Title: e.curve.TitleForLevel(1)}
	}
	view := &domain.ProgressionView{
		UserProgression: *p,
		CurrentLevelXP:  e.curve.XPForLevel(p.Level),
		MaxLevel:        p.Level >= e.curve.MaxLevel(),
	}
	if !view.MaxLevel {
		view.NextLevelXP = e.curve.XPForLevel(p.Level + 1)
	}
	return view, nil
}
