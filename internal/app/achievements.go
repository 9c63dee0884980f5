package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/citypulse/earnings-service/internal/store"
	"github.com/google/uuid"
)

// DefaultAchievements is the achievement catalog. Distance requirements are
// in kilometres, streak requirements in days.
var DefaultAchievements = []domain.Achievement{
	{Code: "first_km", Name: "First Steps", Description: "Collect your first kilometre", Category: domain.CategoryDistance, Requirement: 1, RewardXP: 25, RewardCredits: 25},
	{Code: "marathon", Name: "Marathon", Description: "Collect 42 km in total", Category: domain.CategoryDistance, Requirement: 42, RewardXP: 100, RewardCredits: 100},
	{Code: "century", Name: "Century", Description: "Collect 100 km in total", Category: domain.CategoryDistance, Requirement: 100, RewardXP: 250, RewardCredits: 250},
	{Code: "explorer_500", Name: "Explorer 500", Description: "Collect 500 km in total", Category: domain.CategoryDistance, Requirement: 500, RewardXP: 500, RewardCredits: 500},

	{Code: "first_session", Name: "Getting Started", Description: "Complete your first session", Category: domain.CategorySessions, Requirement: 1, RewardXP: 25, RewardCredits: 25},
	{Code: "ten_sessions", Name: "Regular", Description: "Complete 10 sessions", Category: domain.CategorySessions, Requirement: 10, RewardXP: 50, RewardCredits: 50},
	{Code: "fifty_sessions", Name: "Dedicated", Description: "Complete 50 sessions", Category: domain.CategorySessions, Requirement: 50, RewardXP: 150, RewardCredits: 150},
	{Code: "hundred_sessions", Name: "Veteran", Description: "Complete 100 sessions", Category: domain.CategorySessions, Requirement: 100, RewardXP: 300, RewardCredits: 300},

	{Code: "streak_7", Name: "Week Warrior", Description: "Collect 7 days in a row", Category: domain.CategoryStreak, Requirement: 7, RewardXP: 100, RewardCredits: 150},
	{Code: "streak_30", Name: "Monthly Master", Description: "Collect 30 days in a row", Category: domain.CategoryStreak, Requirement: 30, RewardXP: 300, RewardCredits: 500},
	{Code: "streak_100", Name: "Unstoppable", Description: "Collect 100 days in a row", Category: domain.CategoryStreak, Requirement: 100, RewardXP: 1000, RewardCredits: 1500},

	{Code: "perfect_score", Name: "Perfectionist", Description: "Finish a session with a perfect quality score", Category: domain.CategoryQuality, Requirement: 100, RewardXP: 50, RewardCredits: 50},
	{Code: "quality_master", Name: "Quality Master", Description: "Finish 10 sessions scoring 90 or more", Category: domain.CategoryQuality, Requirement: 10, RewardXP: 200, RewardCredits: 200},

	{Code: "level_5", Name: "Rising Star", Description: "Reach level 5", Category: domain.CategoryLevel, Requirement: 5, RewardCredits: 100},
	{Code: "level_10", Name: "Seasoned", Description: "Reach level 10", Category: domain.CategoryLevel, Requirement: 10, RewardCredits: 250},
	{Code: "level_25", Name: "Elite", Description: "Reach level 25", Category: domain.CategoryLevel, Requirement: 25, RewardCredits: 500},
	{Code: "level_50", Name: "Legendary", Description: "Reach level 50", Category: domain.CategoryLevel, Requirement: 50, RewardCredits: 1000},
}

const (
	codePerfectScore  = "perfect_score"
	codeQualityMaster = "quality_master"
)

// AchievementService tracks achievement progress and pays out claims.
type AchievementService struct {
	store       store.Store
	ledger      *Ledger
	progression *ProgressionEngine
	logger      *slog.Logger
	now         func() time.Time
}

// NewAchievementService creates an achievement service.
func NewAchievementService(s store.Store, ledger *Ledger, progression *ProgressionEngine, logger *slog.Logger) *AchievementService {
	return &AchievementService{
		store:       s,
		ledger:      ledger,
		progression: progression,
		logger:      logger.With("component", "achievements"),
		now:         time.Now,
	}
}

// SeedCatalog upserts the catalog by code.
func (s *AchievementService) SeedCatalog(ctx context.Context, catalog []domain.Achievement) error {
	for i := range catalog {
		a := catalog[i]
		if err := s.store.UpsertAchievement(ctx, &a); err != nil {
			return fmt.Errorf("upsert achievement %s: %w", a.Code, err)
		}
	}
	return nil
}

// CheckAchievement unlocks code for the user. It is a no-op when already unlocked.
func (s *AchievementService) CheckAchievement(ctx context.Context, userID uuid.UUID, code string) (*domain.UserAchievement, error) {
	a, err := s.findByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	var ua *domain.UserAchievement
	unlocked := false
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		var err error
		ua, err = repo.LockUserAchievement(ctx, userID, a.ID)
		if err != nil {
			return fmt.Errorf("lock user achievement: %w", err)
		}
		if ua.Unlocked() {
			return nil
		}
		now := s.now()
		ua.UnlockedAt = &now
		if ua.Progress < a.Requirement {
			ua.Progress = a.Requirement
		}
		unlocked = true
		return repo.SaveUserAchievement(ctx, ua)
	})
	if err != nil {
		return nil, err
	}
	if unlocked {
		s.logger.Info("achievement unlocked", "user_id", userID, "code", a.Code)
	}
	return ua, nil
}

// RecordProgress raises the user's progress on code to value and unlocks the
// achievement once the requirement is met. Lower values are ignored.
func (s *AchievementService) RecordProgress(ctx context.Context, userID uuid.UUID, code string, value int64) (*domain.UserAchievement, error) {
	a, err := s.findByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	var ua *domain.UserAchievement
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		var err error
		ua, _, err = s.recordProgressTx(ctx, repo, userID, a, value)
		return err
	})
	return ua, err
}

// RecordCategoryProgress applies value to every achievement of category.
func (s *AchievementService) RecordCategoryProgress(ctx context.Context, userID uuid.UUID, category domain.AchievementCategory, value int64) error {
	catalog, err := s.store.ListAchievements(ctx)
	if err != nil {
		return fmt.Errorf("list achievements: %w", err)
	}
	progress := map[string]int64{}
	for _, a := range catalog {
		if a.Category == category {
			progress[a.Code] = value
		}
	}
	return s.recordMany(ctx, userID, catalog, progress)
}

// EvaluateSession feeds the lifetime totals after a settled session into the
// distance, session, quality, level and streak achievements. Level and streak
// are fed from stored totals so a resumed settlement recovers an unlock whose
// milestone write failed.
func (s *AchievementService) EvaluateSession(ctx context.Context, userID uuid.UUID, totals domain.UserProgression, qualityScore int) error {
	catalog, err := s.store.ListAchievements(ctx)
	if err != nil {
		return fmt.Errorf("list achievements: %w", err)
	}
	progress := map[string]int64{}
	for _, a := range catalog {
		switch {
		case a.Category == domain.CategoryDistance:
			progress[a.Code] = totals.TotalDistanceMeters / 1000
		case a.Category == domain.CategorySessions:
			progress[a.Code] = totals.TotalSessions
		case a.Category == domain.CategoryLevel:
			progress[a.Code] = int64(totals.Level)
		case a.Category == domain.CategoryStreak:
			progress[a.Code] = int64(totals.LongestStreak)
		case a.Code == codeQualityMaster:
			progress[a.Code] = totals.HighQualitySessions
		case a.Code == codePerfectScore:
			progress[a.Code] = int64(qualityScore)
		}
	}
	return s.recordMany(ctx, userID, catalog, progress)
}

func (s *AchievementService) recordMany(ctx context.Context, userID uuid.UUID, catalog []domain.Achievement, progress map[string]int64) error {
	if len(progress) == 0 {
		return nil
	}
	var unlocked []string
	err := s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		unlocked = unlocked[:0]
		for i := range catalog {
			value, ok := progress[catalog[i].Code]
			if !ok || value <= 0 {
				continue
			}
			_, newlyUnlocked, err := s.recordProgressTx(ctx, repo, userID, &catalog[i], value)
			if err != nil {
				return err
			}
			if newlyUnlocked {
				unlocked = append(unlocked, catalog[i].Code)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, code := range unlocked {
		s.logger.Info("achievement unlocked", "user_id", userID, "code", code)
	}
	return nil
}

// recordProgressTx leaves unlocked rows untouched and reports whether this
// call unlocked the achievement.
func (s *AchievementService) recordProgressTx(ctx context.Context, repo store.Repository, userID uuid.UUID, a *domain.Achievement, value int64) (*domain.UserAchievement, bool, error) {
	ua, err := repo.LockUserAchievement(ctx, userID, a.ID)
	if err != nil {
		return nil, false, fmt.Errorf("lock user achievement: %w", err)
	}
	if ua.Unlocked() || value <= ua.Progress {
		return ua, false, nil
	}
	ua.Progress = value
	unlocked := false
	if ua.Progress >= a.Requirement {
		now := s.now()
		ua.UnlockedAt = &now
		unlocked = true
	}
	if err := repo.SaveUserAchievement(ctx, ua); err != nil {
		return nil, false, fmt.Errorf("save user achievement: %w", err)
	}
	return ua, unlocked, nil
}

// ClaimAchievement pays out an unlocked achievement exactly once.
func (s *AchievementService) ClaimAchievement(ctx context.Context, userID, achievementID uuid.UUID) (*domain.Reward, error) {
	var (
		reward *domain.Reward
		award  *domain.XPAward
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		a, err := repo.FindAchievementByID(ctx, achievementID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.ErrNotFound.WithMessage("achievement not found")
			}
			return fmt.Errorf("find achievement: %w", err)
		}
		ua, err := repo.LockUserAchievement(ctx, userID, a.ID)
		if err != nil {
			return fmt.Errorf("lock user achievement: %w", err)
		}
		if !ua.Unlocked() {
			return domain.ErrNotUnlocked
		}
		if ua.Claimed {
			return domain.ErrAlreadyClaimed
		}
		// Progression before wallet, the order RecordSession and AwardXP lock in.
		if a.RewardXP > 0 {
			if _, err := repo.LockProgression(ctx, userID); err != nil {
				return fmt.Errorf("lock progression: %w", err)
			}
		}

		now := s.now()
		ua.Claimed = true
		ua.ClaimedAt = &now
		if err := repo.SaveUserAchievement(ctx, ua); err != nil {
			return fmt.Errorf("save user achievement: %w", err)
		}

		ref := &domain.Reference{Type: domain.RefAchievement, ID: a.ID.String()}
		if _, err := s.ledger.creditUser(ctx, repo, userID, domain.CurrencyCredits, a.RewardCredits, domain.LedgerEntry{
			Type:        domain.TxAchievementReward,
			Reference:   ref,
			Description: fmt.Sprintf("Achievement reward: %s", a.Name),
			Metadata:    map[string]interface{}{"achievement": a.Code},
		}); err != nil {
			return fmt.Errorf("credit achievement reward: %w", err)
		}
		if a.RewardXP > 0 {
			award, err = s.progression.awardXPTx(ctx, repo, userID, a.RewardXP, domain.XPSourceAchievementReward, ref, map[string]interface{}{"achievement": a.Code}, nil)
			if err != nil {
				return err
			}
		}
		reward = &domain.Reward{XP: a.RewardXP, Credits: a.RewardCredits}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.progression.afterAward(ctx, award)
	return reward, nil
}

// ListAchievements returns the catalog joined with the user's state.
func (s *AchievementService) ListAchievements(ctx context.Context, userID uuid.UUID) ([]domain.AchievementView, error) {
	catalog, err := s.store.ListAchievements(ctx)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	states, err := s.store.ListUserAchievements(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user achievements: %w", err)
	}
	byAchievement := make(map[uuid.UUID]domain.UserAchievement, len(states))
	for _, ua := range states {
		byAchievement[ua.AchievementID] = ua
	}

	views := make([]domain.AchievementView, 0, len(catalog))
	for _, a := range catalog {
		view := domain.AchievementView{Achievement: a}
		if ua, ok := byAchievement[a.ID]; ok {
			view.Progress = ua.Progress
			view.UnlockedAt = ua.UnlockedAt
			view.Claimed = ua.Claimed
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *AchievementService) findByCode(ctx context.Context, code string) (*domain.Achievement, error) {
	a, err := s.store.FindAchievementByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrNotFound.WithMessage("achievement %q not found", code)
		}
		return nil, fmt.Errorf("find achievement: %w", err)
	}
	return a, nil
}
