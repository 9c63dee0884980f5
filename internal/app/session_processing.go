package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/citypulse/earnings-service/internal/store"
	"github.com/citypulse/earnings-service/pkg/rabbitmq"
	"github.com/citypulse/earnings-service/pkg/scoringclient"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionProcessor scores completed sessions and hands them to settlement.
type SessionProcessor struct {
	store           store.Store
	scorer          scoringclient.Scorer
	publisher       rabbitmq.Publisher
	processingQueue string
	settlementQueue string
	logger          *slog.Logger
	now             func() time.Time
}

// NewSessionProcessor creates a session processor. Scoring jobs go to
// processingQueue and settlement jobs to settlementQueue.
func NewSessionProcessor(s store.Store, scorer scoringclient.Scorer, publisher rabbitmq.Publisher, processingQueue, settlementQueue string, logger *slog.Logger) *SessionProcessor {
	return &SessionProcessor{
		store:           s,
		scorer:          scorer,
		publisher:       publisher,
		processingQueue: processingQueue,
		settlementQueue: settlementQueue,
		logger:          logger.With("component", "session_processing"),
		now:             time.Now,
	}
}

// NormalizeQualityScore rounds a raw score half away from zero and clamps it to 0..100.
func NormalizeQualityScore(raw float64) int {
	score := decimal.NewFromFloat(raw).Round(0).IntPart()
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return int(score)
}

// ProcessSession scores a completed session and enqueues its settlement.
// A redelivery that finds the session already processing scores it again;
// one that finds it processed only re-enqueues settlement.
func (p *SessionProcessor) ProcessSession(ctx context.Context, sessionID uuid.UUID) error {
	session, err := p.store.FindSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ErrNotFound.WithMessage("session %s not found", sessionID)
		}
		return fmt.Errorf("find session: %w", err)
	}
	log := p.logger.With("session_id", session.ID, "user_id", session.UserID)

	switch session.Status {
	case domain.SessionSettled:
		return domain.ErrSessionAlreadySettled
	case domain.SessionProcessed:
		return p.enqueueSettlement(ctx, session)
	case domain.SessionCompleted:
		ok, err := p.store.TransitionSession(ctx, session.ID, []domain.SessionStatus{domain.SessionCompleted}, domain.SessionProcessing, nil)
		if err != nil {
			return fmt.Errorf("transition session to processing: %w", err)
		}
		if !ok {
			// Another worker moved it first; act on whatever it is now.
			return p.ProcessSession(ctx, sessionID)
		}
	case domain.SessionProcessing:
		log.Info("resuming session already in processing")
	default:
		return domain.ErrSessionNotSettleable.WithMessage("session %s is %s", session.ID, session.Status)
	}

	result, err := p.scorer.ScoreSession(ctx, session.ID.String(), session.DataURL)
	if err != nil {
		var statusErr *scoringclient.StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			reason := fmt.Sprintf("scoring rejected session: %v", err)
			if failErr := p.FailSession(ctx, session.ID, reason); failErr != nil {
				return failErr
			}
			return domain.ErrSessionNotSettleable.WithMessage("%s", reason)
		}
		return domain.ErrExternal.WithMessage("scoring service failed").Wrap(err)
	}

	score := domain.SessionScore{
		QualityScore:     NormalizeQualityScore(result.QualityScore),
		FramesProcessed:  result.FramesProcessed,
		EntitiesDetected: result.EntitiesDetected,
	}
	ok, err := p.store.MarkSessionProcessed(ctx, session.ID, score, p.now())
	if err != nil {
		return fmt.Errorf("mark session processed: %w", err)
	}
	if !ok {
		current, err := p.store.FindSessionByID(ctx, session.ID)
		if err != nil {
			return fmt.Errorf("find session: %w", err)
		}
		if current.Status != domain.SessionProcessed {
			return domain.ErrSessionNotSettleable.WithMessage("session %s is %s", current.ID, current.Status)
		}
	}
	log.Info("session scored", "quality_score", score.QualityScore, "frames", score.FramesProcessed, "entities", score.EntitiesDetected)

	return p.enqueueSettlement(ctx, session)
}

// FailSession moves a session stuck in processing to failed.
func (p *SessionProcessor) FailSession(ctx context.Context, sessionID uuid.UUID, reason string) error {
	ok, err := p.store.TransitionSession(ctx, sessionID, []domain.SessionStatus{domain.SessionProcessing}, domain.SessionFailed, &reason)
	if err != nil {
		return fmt.Errorf("transition session to failed: %w", err)
	}
	if ok {
		p.logger.Warn("session failed", "session_id", sessionID, "reason", reason)
	}
	return nil
}

// EnqueueSession schedules scoring for a completed session.
func (p *SessionProcessor) EnqueueSession(ctx context.Context, sessionID uuid.UUID) error {
	session, err := p.store.FindSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ErrNotFound.WithMessage("session %s not found", sessionID)
		}
		return fmt.Errorf("find session: %w", err)
	}
	switch session.Status {
	case domain.SessionCompleted, domain.SessionProcessing:
	default:
		return domain.ErrSessionNotSettleable.WithMessage("session %s is %s", sessionID, session.Status)
	}
	job := domain.SessionJob{SessionID: session.ID, UserID: session.UserID, EnqueuedAt: p.now()}
	if err := p.publisher.Enqueue(ctx, p.processingQueue, job); err != nil {
		return domain.ErrExternal.Wrap(fmt.Errorf("enqueue scoring: %w", err))
	}
	return nil
}

func (p *SessionProcessor) enqueueSettlement(ctx context.Context, session *domain.CollectionSession) error {
	job := domain.SessionJob{SessionID: session.ID, UserID: session.UserID, EnqueuedAt: p.now()}
	if err := p.publisher.Enqueue(ctx, p.settlementQueue, job); err != nil {
		return fmt.Errorf("enqueue settlement: %w", err)
	}
	return nil
}

// ListStuckSessions returns sessions that have sat in processing since before cutoff.
func (p *SessionProcessor) ListStuckSessions(ctx context.Context, cutoff time.Time, limit int) ([]domain.CollectionSession, error) {
	return p.store.ListSessionsByStatusBefore(ctx, domain.SessionProcessing, cutoff, limit)
}
