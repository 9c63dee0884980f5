package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/citypulse/earnings-service/pkg/rabbitmq"
	"github.com/google/uuid"
)

// QueueNames are the durable queues the workers listen on.
type QueueNames struct {
	SessionProcessing   string
	EarningsCalculation string
	Withdrawal          string
	Notifications       string
}

// DefaultQueueNames returns the production queue names.
func DefaultQueueNames() QueueNames {
	return QueueNames{
		SessionProcessing:   "session-processing",
		EarningsCalculation: "earnings-calculation",
		Withdrawal:          "withdrawal",
		Notifications:       "notification",
	}
}

// QueueConsumer starts a worker pool on one queue.
type QueueConsumer interface {
	ConsumeQueue(ctx context.Context, queue string, opts rabbitmq.QueueOptions, handler rabbitmq.Handler) error
}

// WorkerOptions tunes every job queue.
type WorkerOptions struct {
	Concurrency    int
	MaxAttempts    int
	BaseDelay      time.Duration
	HandlerTimeout time.Duration
}

type sessionScorer interface {
	ProcessSession(ctx context.Context, sessionID uuid.UUID) error
	FailSession(ctx context.Context, sessionID uuid.UUID, reason string) error
}

type sessionSettler interface {
	SettleSession(ctx context.Context, sessionID uuid.UUID) (*domain.Breakdown, error)
}

type withdrawalProcessor interface {
	ProcessWithdrawal(ctx context.Context, withdrawalID uuid.UUID) error
	FailPendingWithdrawal(ctx context.Context, withdrawalID uuid.UUID, reason string) error
}

// JobHandlers adapts queue deliveries to the services. Errors the services
// classify as permanent are acknowledged without retry.
type JobHandlers struct {
	sessions    sessionScorer
	settlement  sessionSettler
	withdrawals withdrawalProcessor
	logger      *slog.Logger
}

func NewJobHandlers(sessions sessionScorer, settlement sessionSettler, withdrawals withdrawalProcessor, logger *slog.Logger) *JobHandlers {
	return &JobHandlers{
		sessions:    sessions,
		settlement:  settlement,
		withdrawals: withdrawals,
		logger:      logger.With("component", "jobs"),
	}
}

// Start launches one worker pool per job queue.
func (h *JobHandlers) Start(ctx context.Context, consumer QueueConsumer, queues QueueNames, opts WorkerOptions) error {
	base := rabbitmq.QueueOptions{
		Concurrency:    opts.Concurrency,
		MaxAttempts:    opts.MaxAttempts,
		BaseDelay:      opts.BaseDelay,
		HandlerTimeout: opts.HandlerTimeout,
	}

	sessionOpts := base
	sessionOpts.OnExhausted = h.SessionExhausted
	if err := consumer.ConsumeQueue(ctx, queues.SessionProcessing, sessionOpts, h.HandleSessionProcessing); err != nil {
		return fmt.Errorf("consume %s: %w", queues.SessionProcessing, err)
	}

	settleOpts := base
	settleOpts.OnExhausted = h.SettlementExhausted
	if err := consumer.ConsumeQueue(ctx, queues.EarningsCalculation, settleOpts, h.HandleEarningsCalculation); err != nil {
		return fmt.Errorf("consume %s: %w", queues.EarningsCalculation, err)
	}

	withdrawalOpts := base
	withdrawalOpts.OnExhausted = h.WithdrawalExhausted
	if err := consumer.ConsumeQueue(ctx, queues.Withdrawal, withdrawalOpts, h.HandleWithdrawal); err != nil {
		return fmt.Errorf("consume %s: %w", queues.Withdrawal, err)
	}
	return nil
}

func (h *JobHandlers) HandleSessionProcessing(ctx context.Context, d rabbitmq.Delivery) error {
	job, err := decodeSessionJob(d.Body)
	if err != nil {
		return err
	}
	err = h.sessions.ProcessSession(ctx, job.SessionID)
	if errors.Is(err, domain.ErrSessionAlreadySettled) {
		h.logger.Info("session already settled; dropping job", "session_id", job.SessionID)
		return nil
	}
	return classify(err)
}

func (h *JobHandlers) HandleEarningsCalculation(ctx context.Context, d rabbitmq.Delivery) error {
	job, err := decodeSessionJob(d.Body)
	if err != nil {
		return err
	}
	_, err = h.settlement.SettleSession(ctx, job.SessionID)
	return classify(err)
}

func (h *JobHandlers) HandleWithdrawal(ctx context.Context, d rabbitmq.Delivery) error {
	var job domain.WithdrawalJob
	if err := json.Unmarshal(d.Body, &job); err != nil || job.WithdrawalID == uuid.Nil {
		return rabbitmq.Permanent(fmt.Errorf("decode withdrawal job: %v", err))
	}
	return classify(h.withdrawals.ProcessWithdrawal(ctx, job.WithdrawalID))
}

// SessionExhausted fails a session whose scoring job gave up.
func (h *JobHandlers) SessionExhausted(ctx context.Context, d rabbitmq.Delivery, cause error) {
	job, err := decodeSessionJob(d.Body)
	if err != nil {
		h.logger.Error("dropping undecodable session job", "error", cause)
		return
	}
	reason := fmt.Sprintf("processing gave up after %d attempts: %v", d.Attempt, cause)
	if err := h.sessions.FailSession(ctx, job.SessionID, reason); err != nil {
		h.logger.Error("failed to mark session failed", "session_id", job.SessionID, "error", err)
	}
}

// SettlementExhausted leaves the session for operators; nothing is undone.
func (h *JobHandlers) SettlementExhausted(ctx context.Context, d rabbitmq.Delivery, cause error) {
	job, _ := decodeSessionJob(d.Body)
	h.logger.Error("settlement gave up", "session_id", job.SessionID, "attempts", d.Attempt, "error", cause)
}

func (h *JobHandlers) WithdrawalExhausted(ctx context.Context, d rabbitmq.Delivery, cause error) {
	var job domain.WithdrawalJob
	if err := json.Unmarshal(d.Body, &job); err != nil || job.WithdrawalID == uuid.Nil {
		h.logger.Error("dropping undecodable withdrawal job", "error", cause)
		return
	}
	reason := fmt.Sprintf("processing gave up after %d attempts: %v", d.Attempt, cause)
	if err := h.withdrawals.FailPendingWithdrawal(ctx, job.WithdrawalID, reason); err != nil {
		h.logger.Error("failed to fail withdrawal", "withdrawal_id", job.WithdrawalID, "error", err)
	}
}

func decodeSessionJob(body []byte) (domain.SessionJob, error) {
	var job domain.SessionJob
	if err := json.Unmarshal(body, &job); err != nil {
		return job, rabbitmq.Permanent(fmt.Errorf("decode session job: %w", err))
	}
	if job.SessionID == uuid.Nil {
		return job, rabbitmq.Permanent(errors.New("session job without session_id"))
	}
	return job, nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if domain.IsPermanent(err) {
		return rabbitmq.Permanent(err)
	}
	return err
}
