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

// ChallengeTypeDaily marks challenges generated for one calendar day.
const ChallengeTypeDaily = "daily"

// ChallengeTemplate describes a challenge the scheduler creates every day.
type ChallengeTemplate struct {
	Name          string
	Description   string
	Goal          domain.ChallengeGoal
	RewardXP      int64
	RewardCredits int64
	RewardCash    int64
}

// DefaultDailyChallenges is the daily challenge set.
var DefaultDailyChallenges = []ChallengeTemplate{
	{Name: "Daily Distance", Description: "Collect 3 km today", Goal: domain.ChallengeGoal{Metric: domain.MetricDistanceKm, Target: 3}, RewardXP: 50, RewardCredits: 50},
	{Name: "Daily Grind", Description: "Complete 2 sessions today", Goal: domain.ChallengeGoal{Metric: domain.MetricSessions, Target: 2}, RewardXP: 50, RewardCredits: 30},
	{Name: "Sharp Eyes", Description: "Finish a session scoring 90 or more today", Goal: domain.ChallengeGoal{Metric: domain.MetricQualitySessions, Target: 1}, RewardXP: 50, RewardCredits: 40},
}

// ChallengeService manages challenge participation and claims.
type ChallengeService struct {
	store       store.Store
	ledger      *Ledger
	progression *ProgressionEngine
	templates   []ChallengeTemplate
	loc         *time.Location
	logger      *slog.Logger
	now         func() time.Time
}

// NewChallengeService creates a challenge service. loc defines the day the
// daily challenges cover.
func NewChallengeService(s store.Store, ledger *Ledger, progression *ProgressionEngine, templates []ChallengeTemplate, loc *time.Location, logger *slog.Logger) *ChallengeService {
	if loc == nil {
		loc = time.UTC
	}
	return &ChallengeService{
		store:       s,
		ledger:      ledger,
		progression: progression,
		templates:   templates,
		loc:         loc,
		logger:      logger.With("component", "challenges"),
		now:         time.Now,
	}
}

// goalUnits converts a goal target into the units CurrentValue is kept in.
// Distance is tracked in metres so partial kilometres are not lost.
func goalUnits(goal domain.ChallengeGoal) int64 {
	if goal.Metric == domain.MetricDistanceKm {
		return goal.Target * 1000
	}
	return goal.Target
}

func challengeStatus(uc *domain.UserChallenge) string {
	switch {
	case uc == nil:
		return "available"
	case uc.Claimed:
		return "claimed"
	case uc.Completed:
		return "completed"
	default:
		return "joined"
	}
}

// ListChallenges returns the open challenges with the user's state.
func (s *ChallengeService) ListChallenges(ctx context.Context, userID uuid.UUID) ([]domain.ChallengeView, error) {
	challenges, err := s.store.ListActiveChallenges(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("list active challenges: %w", err)
	}
	joined, err := s.store.ListUserChallenges(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user challenges: %w", err)
	}
	byChallenge := make(map[uuid.UUID]domain.UserChallenge, len(joined))
	for _, uc := range joined {
		byChallenge[uc.ChallengeID] = uc
	}

	views := make([]domain.ChallengeView, 0, len(challenges))
	for _, c := range challenges {
		view := domain.ChallengeView{Challenge: c, Status: challengeStatus(nil)}
		if uc, ok := byChallenge[c.ID]; ok {
			view.Joined = true
			view.Progress = uc.Progress
			view.CurrentValue = uc.CurrentValue
			view.Status = challengeStatus(&uc)
		}
		views = append(views, view)
	}
	return views, nil
}

// JoinChallenge enrolls the user in a challenge that has started and not ended.
func (s *ChallengeService) JoinChallenge(ctx context.Context, userID, challengeID uuid.UUID) (*domain.UserChallenge, error) {
	var uc *domain.UserChallenge
	err := s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		c, err := repo.FindChallengeByID(ctx, challengeID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.ErrNotFound.WithMessage("challenge not found")
			}
			return fmt.Errorf("find challenge: %w", err)
		}

		now := s.now()
		if now.After(c.EndsAt) || !c.IsActive {
			return domain.ErrChallengeEnded
		}
		if now.Before(c.StartsAt) {
			return domain.ErrValidation.WithMessage("challenge has not started yet")
		}

		uc = &domain.UserChallenge{
			ID:          uuid.New(),
			UserID:      userID,
			ChallengeID: c.ID,
			JoinedAt:    now,
			UpdatedAt:   now,
		}
		if err := repo.InsertUserChallenge(ctx, uc); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return domain.ErrAlreadyExists.WithMessage("already joined this challenge")
			}
			return fmt.Errorf("insert user challenge: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return uc, nil
}

// RecordSession adds one settled session to every open challenge the user
// joined. at is when the activity happened; challenges closed at that
// instant are not touched. Each session counts at most once per challenge.
func (s *ChallengeService) RecordSession(ctx context.Context, userID, sessionID uuid.UUID, stats domain.SessionStats, at time.Time) error {
	open, err := s.store.ListOpenJoinedChallenges(ctx, userID, at)
	if err != nil {
		return fmt.Errorf("list joined challenges: %w", err)
	}
	if len(open) == 0 {
		return nil
	}

	ref := domain.Reference{Type: domain.RefSession, ID: sessionID.String()}
	var completed []string
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		completed = completed[:0]
		for _, jc := range open {
			uc, err := repo.LockUserChallenge(ctx, userID, jc.Challenge.ID)
			if err != nil {
				return fmt.Errorf("lock user challenge: %w", err)
			}
			if uc.Completed {
				continue
			}

			delta := contribution(jc.Challenge.Goal.Metric, stats)
			if delta <= 0 {
				continue
			}
			if err := repo.InsertChallengeContribution(ctx, uc.ID, ref); err != nil {
				if errors.Is(err, store.ErrDuplicate) {
					continue
				}
				return fmt.Errorf("insert challenge contribution: %w", err)
			}

			target := goalUnits(jc.Challenge.Goal)
			uc.CurrentValue += delta
			uc.Progress = percent(uc.CurrentValue, target)
			if uc.CurrentValue >= target {
				now := s.now()
				uc.Completed = true
				uc.CompletedAt = &now
				completed = append(completed, jc.Challenge.Name)
			}
			if err := repo.UpdateUserChallenge(ctx, uc); err != nil {
				return fmt.Errorf("update user challenge: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, name := range completed {
		s.logger.Info("challenge completed", "user_id", userID, "challenge", name)
	}
	return nil
}

func contribution(metric domain.ChallengeMetric, stats domain.SessionStats) int64 {
	switch metric {
	case domain.MetricDistanceKm:
		return stats.DistanceMeters
	case domain.MetricSessions:
		return 1
	case domain.MetricQualitySessions:
		if stats.QualityScore >= HighQualityScore {
			return 1
		}
	}
	return 0
}

func percent(value, target int64) int {
	if target <= 0 || value >= target {
		return 100
	}
	return int(value * 100 / target)
}

// ClaimChallengeReward pays out a completed challenge exactly once.
func (s *ChallengeService) ClaimChallengeReward(ctx context.Context, userID, challengeID uuid.UUID) (*domain.Reward, error) {
	var (
		reward *domain.Reward
		award  *domain.XPAward
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		c, err := repo.FindChallengeByID(ctx, challengeID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.ErrNotFound.WithMessage("challenge not found")
			}
			return fmt.Errorf("find challenge: %w", err)
		}
		uc, err := repo.LockUserChallenge(ctx, userID, c.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.ErrNotFound.WithMessage("challenge not joined")
			}
			return fmt.Errorf("lock user challenge: %w", err)
		}
		if !uc.Completed {
			return domain.ErrChallengeNotCompleted
		}
		if uc.Claimed {
			return domain.ErrAlreadyClaimed
		}
		if c.RewardXP > 0 {
			if _, err := repo.LockProgression(ctx, userID); err != nil {
				return fmt.Errorf("lock progression: %w", err)
			}
		}

		now := s.now()
		uc.Claimed = true
		uc.ClaimedAt = &now
		if err := repo.UpdateUserChallenge(ctx, uc); err != nil {
			return fmt.Errorf("update user challenge: %w", err)
		}

		ref := &domain.Reference{Type: domain.RefChallenge, ID: c.ID.String()}
		metadata := map[string]interface{}{"challenge_id": c.ID.String()}
		description := fmt.Sprintf("Challenge reward: %s", c.Name)
		if _, err := s.ledger.creditUser(ctx, repo, userID, domain.CurrencyCredits, c.RewardCredits, domain.LedgerEntry{
			Type: domain.TxChallengeReward, Reference: ref, Description: description, Metadata: metadata,
		}); err != nil {
			return fmt.Errorf("credit challenge credits: %w", err)
		}
		if _, err := s.ledger.creditUser(ctx, repo, userID, domain.CurrencyCash, c.RewardCash, domain.LedgerEntry{
			Type: domain.TxChallengeReward, Reference: ref, Description: description, Metadata: metadata,
		}); err != nil {
			return fmt.Errorf("credit challenge cash: %w", err)
		}
		if c.RewardXP > 0 {
			award, err = s.progression.awardXPTx(ctx, repo, userID, c.RewardXP, domain.XPSourceChallengeReward, ref, metadata, nil)
			if err != nil {
				return err
			}
		}
		reward = &domain.Reward{XP: c.RewardXP, Credits: c.RewardCredits, Cash: c.RewardCash}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.progression.afterAward(ctx, award)
	return reward, nil
}

// GenerateDailyChallenges creates today's challenges from the templates
// unless a daily challenge already starts today. It returns how many were created.
func (s *ChallengeService) GenerateDailyChallenges(ctx context.Context) (int, error) {
	now := s.now().In(s.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	next := start.AddDate(0, 0, 1)

	existing, err := s.store.CountChallengesStartingBetween(ctx, ChallengeTypeDaily, start, next)
	if err != nil {
		return 0, fmt.Errorf("count daily challenges: %w", err)
	}
	if existing > 0 {
		return 0, nil
	}

	created := 0
	for _, t := range s.templates {
		c := &domain.Challenge{
			ID:            uuid.New(),
			Name:          t.Name,
			Description:   t.Description,
			Type:          ChallengeTypeDaily,
			Goal:          t.Goal,
			RewardXP:      t.RewardXP,
			RewardCredits: t.RewardCredits,
			RewardCash:    t.RewardCash,
			StartsAt:      start,
			EndsAt:        next.Add(-time.Millisecond),
			IsActive:      true,
			CreatedAt:     s.now(),
		}
		if err := s.store.CreateChallenge(ctx, c); err != nil {
			return created, fmt.Errorf("create challenge %s: %w", t.Name, err)
		}
		created++
	}
	s.logger.Info("daily challenges generated", "day", start.Format("2006-01-02"), "count", created)
	return created, nil
}
