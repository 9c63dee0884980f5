/**
 * @description
 * Service is the composition root of the earnings engine. It builds every
 * component over one store and one publisher so that the HTTP layer, the
 * queue workers and the scheduler all share the same instances.
 *
 * @dependencies
 * - internal/store: The unit of work.
 * - pkg/rabbitmq: Work queues for scoring, settlement, withdrawals and notifications.
 * - pkg/payout, pkg/scoringclient: External providers.
 */

package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/citypulse/earnings-service/internal/progression"
	"github.com/citypulse/earnings-service/internal/store"
	"github.com/citypulse/earnings-service/pkg/payout"
	"github.com/citypulse/earnings-service/pkg/rabbitmq"
	"github.com/citypulse/earnings-service/pkg/scoringclient"
)

// Dependencies are the collaborators and settings NewService wires together.
type Dependencies struct {
	Store      store.Store
	Publisher  rabbitmq.Publisher
	Queues     QueueNames
	Scorer     scoringclient.Scorer
	Payer      payout.Payer
	Crypter    Crypter
	Limiter    WithdrawalLimiter
	Calculator EarningsCalculator
	Curve      *progression.Curve

	Progression        ProgressionConfig
	Withdrawal         WithdrawalConfig
	ChallengeTemplates []ChallengeTemplate
	AchievementCatalog []domain.Achievement

	Logger *slog.Logger
}

// Service exposes the engine's components.
type Service struct {
	Ledger        *Ledger
	Progression   *ProgressionEngine
	Achievements  *AchievementService
	Challenges    *ChallengeService
	Settlement    *SettlementService
	Sessions      *SessionProcessor
	PayoutMethods *PayoutMethodService
	Withdrawals   *WithdrawalService
	Jobs          *JobHandlers

	catalog []domain.Achievement
	logger  *slog.Logger
}

func NewService(deps Dependencies) *Service {
	if deps.Curve == nil {
		deps.Curve = progression.DefaultCurve()
	}
	if deps.AchievementCatalog == nil {
		deps.AchievementCatalog = DefaultAchievements
	}
	if deps.ChallengeTemplates == nil {
		deps.ChallengeTemplates = DefaultDailyChallenges
	}
	logger := deps.Logger

	ledger := NewLedger(deps.Store, deps.Withdrawal.MinAmount)
	engine := NewProgressionEngine(deps.Store, ledger, deps.Curve, deps.Progression, logger)
	achievements := NewAchievementService(deps.Store, ledger, engine, logger)
	engine.SetMilestoneRecorder(achievements)
	challenges := NewChallengeService(deps.Store, ledger, engine, deps.ChallengeTemplates, deps.Progression.Location, logger)

	notifier := NewQueueNotifier(deps.Publisher, deps.Queues.Notifications)
	settlement := NewSettlementService(deps.Store, deps.Calculator, ledger, engine, achievements, challenges, notifier, logger)
	sessions := NewSessionProcessor(deps.Store, deps.Scorer, deps.Publisher, deps.Queues.SessionProcessing, deps.Queues.EarningsCalculation, logger)
	withdrawals := NewWithdrawalService(deps.Store, ledger, deps.Payer, deps.Crypter, deps.Limiter, deps.Publisher, deps.Queues.Withdrawal, notifier, deps.Withdrawal, logger)

	return &Service{
		Ledger:        ledger,
		Progression:   engine,
		Achievements:  achievements,
		Challenges:    challenges,
		Settlement:    settlement,
		Sessions:      sessions,
		PayoutMethods: NewPayoutMethodService(deps.Store, deps.Crypter, logger),
		Withdrawals:   withdrawals,
		Jobs:          NewJobHandlers(sessions, settlement, withdrawals, logger),
		catalog:       deps.AchievementCatalog,
		logger:        logger.With("component", "service"),
	}
}

// Bootstrap seeds the achievement catalog and makes sure today's daily
// challenges exist. It is safe to run on every start.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.Achievements.SeedCatalog(ctx, s.catalog); err != nil {
		return fmt.Errorf("seed achievements: %w", err)
	}
	created, err := s.Challenges.GenerateDailyChallenges(ctx)
	if err != nil {
		return fmt.Errorf("generate daily challenges: %w", err)
	}
	s.logger.Info("bootstrap complete", "achievements", len(s.catalog), "challenges_created", created)
	return nil
}

// NewScheduler builds the maintenance scheduler over this service.
func (s *Service) NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	return NewScheduler(cfg, s.Challenges, s.Withdrawals, s.Sessions, s.logger)
}
