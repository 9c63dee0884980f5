/**
 * @description
 * Session settlement turns a scored session into money, XP and achievement
 * progress. The guarded status write (processed -> settled) and the wallet
 * credit commit together, so a session is paid at most once no matter how
 * often its job is delivered. Everything after that point is keyed by the
 * session id and is safe to repeat: a redelivered job for a settled session
 * resumes the remaining steps without paying again.
 *
 * @dependencies
 * - internal/earnings: The pure earnings formula.
 * - internal/store: The unit of work.
 * - pkg/payout: Peso formatting for the notification text.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/citypulse/earnings-service/internal/earnings"
	"github.com/citypulse/earnings-service/internal/store"
	"github.com/citypulse/earnings-service/pkg/payout"
	"github.com/google/uuid"
)

// EarningsCalculator computes a session's breakdown.
type EarningsCalculator interface {
	Calculate(in earnings.Input) (domain.Breakdown, error)
}

// EarningsSink credits a session's cash and credits inside the unit of work
// that marks the session settled.
type EarningsSink interface {
	CreditSessionEarnings(ctx context.Context, repo store.Repository, userID, sessionID uuid.UUID, b domain.Breakdown) error
}

// ProgressionSink receives a settled session's XP, statistics and activity.
type ProgressionSink interface {
	RecordSession(ctx context.Context, userID, sessionID uuid.UUID, xp int64, stats domain.SessionStats) (*domain.XPAward, error)
	UpdateStreakAt(ctx context.Context, userID uuid.UUID, at time.Time) (*domain.StreakUpdate, error)
	GetProgression(ctx context.Context, userID uuid.UUID) (*domain.ProgressionView, error)
}

// AchievementSink evaluates session-driven achievements.
type AchievementSink interface {
	EvaluateSession(ctx context.Context, userID uuid.UUID, totals domain.UserProgression, qualityScore int) error
}

// ChallengeSink feeds a settled session into joined challenges.
type ChallengeSink interface {
	RecordSession(ctx context.Context, userID, sessionID uuid.UUID, stats domain.SessionStats, at time.Time) error
}

var errSettlementRaced = errors.New("session settled concurrently")

// SettlementService settles processed sessions.
type SettlementService struct {
	store        store.Store
	calculator   EarningsCalculator
	earnings     EarningsSink
	progression  ProgressionSink
	achievements AchievementSink
	challenges   ChallengeSink
	notifier     Notifier
	logger       *slog.Logger
	now          func() time.Time
}

// NewSettlementService wires the settlement steps together.
func NewSettlementService(
	s store.Store,
	calculator EarningsCalculator,
	earningsSink EarningsSink,
	progression ProgressionSink,
	achievements AchievementSink,
	challenges ChallengeSink,
	notifier Notifier,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		store:        s,
		calculator:   calculator,
		earnings:     earningsSink,
		progression:  progression,
		achievements: achievements,
		challenges:   challenges,
		notifier:     notifier,
		logger:       logger.With("component", "settlement"),
		now:          time.Now,
	}
}

// CreditSessionEarnings posts the session's cash and credits, each keyed by
// the session reference.
func (l *Ledger) CreditSessionEarnings(ctx context.Context, repo store.Repository, userID, sessionID uuid.UUID, b domain.Breakdown) error {
	ref := &domain.Reference{Type: domain.RefSession, ID: sessionID.String()}
	if _, err := l.creditUser(ctx, repo, userID, domain.CurrencyCash, b.Cash, domain.LedgerEntry{
		Type:        domain.TxSessionEarning,
		Reference:   ref,
		Description: "Collection session earnings",
	}); err != nil {
		return fmt.Errorf("credit session cash: %w", err)
	}
	if _, err := l.creditUser(ctx, repo, userID, domain.CurrencyCredits, b.Credits, domain.LedgerEntry{
		Type:        domain.TxSessionEarning,
		Reference:   ref,
		Description: "Collection session credits",
	}); err != nil {
		return fmt.Errorf("credit session credits: %w", err)
	}
	return nil
}

// SettleSession settles a processed session, or finishes the follow-up
// steps of one that is already settled, and returns its breakdown.
func (s *SettlementService) SettleSession(ctx context.Context, sessionID uuid.UUID) (*domain.Breakdown, error) {
	session, err := s.findSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	log := s.logger.With("session_id", session.ID, "user_id", session.UserID)

	switch session.Status {
	case domain.SessionProcessed:
		breakdown, err := s.calculator.Calculate(earnings.Input{
			Mode:            session.Mode,
			DistanceMeters:  session.DistanceMeters,
			DurationSeconds: session.DurationSeconds,
			QualityScore:    session.QualityScore,
		})
		if err != nil {
			return nil, err
		}

		settledAt := s.now()
		err = s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
			ok, err := repo.MarkSessionSettled(ctx, session.ID, breakdown, settledAt)
			if err != nil {
				return fmt.Errorf("mark session settled: %w", err)
			}
			if !ok {
				return errSettlementRaced
			}
			return s.earnings.CreditSessionEarnings(ctx, repo, session.UserID, session.ID, breakdown)
		})
		switch {
		case errors.Is(err, errSettlementRaced):
			log.Info("session settled by a concurrent job; resuming")
			if session, err = s.findSession(ctx, sessionID); err != nil {
				return nil, err
			}
			if session.Status != domain.SessionSettled {
				return nil, domain.ErrSessionNotSettleable.WithMessage("session %s is %s", session.ID, session.Status)
			}
		case err != nil:
			return nil, err
		default:
			session.Status = domain.SessionSettled
			session.EarnedCash, session.EarnedCredits, session.EarnedXP = breakdown.Cash, breakdown.Credits, breakdown.XP
			session.SettledAt = &settledAt
			log.Info("session settled", "cash", breakdown.Cash, "credits", breakdown.Credits, "xp", breakdown.XP)
		}
	case domain.SessionSettled:
		log.Info("session already settled; resuming follow-up steps")
	default:
		return nil, domain.ErrSessionNotSettleable.WithMessage("session %s is %s", session.ID, session.Status)
	}

	if err := s.followUp(ctx, session, log); err != nil {
		return nil, err
	}
	breakdown := session.Breakdown()
	return &breakdown, nil
}

// followUp runs the steps after the money moved. Progression errors are
// returned so the job retries; achievement, challenge and notification
// failures are only logged.
func (s *SettlementService) followUp(ctx context.Context, session *domain.CollectionSession, log *slog.Logger) error {
	stats := domain.SessionStats{
		DistanceMeters: session.DistanceMeters,
		Frames:         session.FrameCount,
		Entities:       session.EntitiesDetected,
		QualityScore:   session.QualityScore,
	}
	activityAt := s.now()
	if session.EndedAt != nil {
		activityAt = *session.EndedAt
	}

	award, err := s.progression.RecordSession(ctx, session.UserID, session.ID, session.EarnedXP, stats)
	if err != nil {
		return fmt.Errorf("record session xp: %w", err)
	}
	if award.LeveledUp() {
		log.Info("session caused level up", "level", award.Level)
	}
	if _, err := s.progression.UpdateStreakAt(ctx, session.UserID, activityAt); err != nil {
		return fmt.Errorf("update streak: %w", err)
	}

	if view, err := s.progression.GetProgression(ctx, session.UserID); err != nil {
		log.Warn("failed to load progression for achievements", "error", err)
	} else if err := s.achievements.EvaluateSession(ctx, session.UserID, view.UserProgression, session.QualityScore); err != nil {
		log.Warn("failed to evaluate achievements", "error", err)
	}

	if err := s.challenges.RecordSession(ctx, session.UserID, session.ID, stats, activityAt); err != nil {
		log.Warn("failed to record challenge progress", "error", err)
	}

	s.notifySettled(ctx, session, log)
	return nil
}

// notifySettled sends the earnings notification at most once per session.
func (s *SettlementService) notifySettled(ctx context.Context, session *domain.CollectionSession, log *slog.Logger) {
	if session.NotifiedAt != nil {
		return
	}
	claimed, err := s.store.MarkSessionNotified(ctx, session.ID, s.now())
	if err != nil {
		log.Warn("failed to mark session notified", "error", err)
		return
	}
	if !claimed {
		return
	}
	err = s.notifier.Notify(ctx, domain.Notification{
		UserID: session.UserID,
		Title:  "Session Complete!",
		Body:   fmt.Sprintf("You earned ₱%s and %d credits!", payout.PesoAmount(session.EarnedCash), session.EarnedCredits),
		Data: map[string]interface{}{
			"sessionId": session.ID.String(),
			"earnings":  session.Breakdown(),
		},
		CreatedAt: s.now(),
	})
	if err != nil {
		log.Warn("failed to send settlement notification", "error", err)
	}
}

func (s *SettlementService) findSession(ctx context.Context, sessionID uuid.UUID) (*domain.CollectionSession, error) {
	session, err := s.store.FindSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrNotFound.WithMessage("session %s not found", sessionID)
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return session, nil
}
