package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/citypulse/earnings-service/pkg/rabbitmq"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jobServicesStub struct {
	processErr    error
	settleErr     error
	withdrawalErr error

	processed   []uuid.UUID
	failed      map[uuid.UUID]string
	settled     []uuid.UUID
	withdrawals []uuid.UUID
	failedW     map[uuid.UUID]string
}

func newJobServicesStub() *jobServicesStub {
	return &jobServicesStub{failed: map[uuid.UUID]string{}, failedW: map[uuid.UUID]string{}}
}

func (s *jobServicesStub) ProcessSession(ctx context.Context, sessionID uuid.UUID) error {
	s.processed = append(s.processed, sessionID)
	return s.processErr
}

func (s *jobServicesStub) FailSession(ctx context.Context, sessionID uuid.UUID, reason string) error {
	s.failed[sessionID] = reason
	return nil
}

func (s *jobServicesStub) SettleSession(ctx context.Context, sessionID uuid.UUID) (*domain.Breakdown, error) {
	s.settled = append(s.settled, sessionID)
	if s.settleErr != nil {
		return nil, s.settleErr
	}
	return &domain.Breakdown{}, nil
}

func (s *jobServicesStub) ProcessWithdrawal(ctx context.Context, withdrawalID uuid.UUID) error {
	s.withdrawals = append(s.withdrawals, withdrawalID)
	return s.withdrawalErr
}

func (s *jobServicesStub) FailPendingWithdrawal(ctx context.Context, withdrawalID uuid.UUID, reason string) error {
	s.failedW[withdrawalID] = reason
	return nil
}

type queueConsumerStub struct {
	queues map[string]rabbitmq.QueueOptions
}

func (c *queueConsumerStub) ConsumeQueue(ctx context.Context, queue string, opts rabbitmq.QueueOptions, handler rabbitmq.Handler) error {
	c.queues[queue] = opts
	return nil
}

func sessionDelivery(t *testing.T, id uuid.UUID) rabbitmq.Delivery {
	t.Helper()
	body, err := json.Marshal(domain.SessionJob{SessionID: id})
	require.NoError(t, err)
	return rabbitmq.Delivery{Body: body, Attempt: 1, MaxAttempts: 3}
}

func TestJobHandlers_ClassifiesErrors(t *testing.T) {
	stub := newJobServicesStub()
	h := NewJobHandlers(stub, stub, stub, discardLogger())
	ctx := context.Background()
	id := uuid.New()

	err := h.HandleSessionProcessing(ctx, rabbitmq.Delivery{Body: []byte("{not json")})
	assert.True(t, rabbitmq.IsPermanent(err))
	assert.Empty(t, stub.processed)

	err = h.HandleSessionProcessing(ctx, rabbitmq.Delivery{Body: []byte(`{}`)})
	assert.True(t, rabbitmq.IsPermanent(err))

	stub.processErr = domain.ErrSessionAlreadySettled
	assert.NoError(t, h.HandleSessionProcessing(ctx, sessionDelivery(t, id)))

	stub.processErr = domain.ErrExternal.Wrap(errors.New("timeout"))
	err = h.HandleSessionProcessing(ctx, sessionDelivery(t, id))
	require.Error(t, err)
	assert.False(t, rabbitmq.IsPermanent(err))

	stub.settleErr = domain.ErrSessionNotSettleable
	err = h.HandleEarningsCalculation(ctx, sessionDelivery(t, id))
	assert.True(t, rabbitmq.IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrSessionNotSettleable)

	stub.settleErr = nil
	assert.NoError(t, h.HandleEarningsCalculation(ctx, sessionDelivery(t, id)))
	assert.Equal(t, []uuid.UUID{id, id}, stub.settled)
}

func TestJobHandlers_Withdrawal(t *testing.T) {
	stub := newJobServicesStub()
	h := NewJobHandlers(stub, stub, stub, discardLogger())
	ctx := context.Background()
	id := uuid.New()
	body, err := json.Marshal(domain.WithdrawalJob{WithdrawalID: id})
	require.NoError(t, err)

	require.NoError(t, h.HandleWithdrawal(ctx, rabbitmq.Delivery{Body: body}))
	assert.Equal(t, []uuid.UUID{id}, stub.withdrawals)

	assert.True(t, rabbitmq.IsPermanent(h.HandleWithdrawal(ctx, rabbitmq.Delivery{Body: []byte(`{}`)})))

	h.WithdrawalExhausted(ctx, rabbitmq.Delivery{Body: body, Attempt: 3}, errors.New("db down"))
	assert.Contains(t, stub.failedW[id], "3 attempts")
}

func TestJobHandlers_SessionExhaustedFailsSession(t *testing.T) {
	stub := newJobServicesStub()
	h := NewJobHandlers(stub, stub, stub, discardLogger())
	id := uuid.New()

	d := sessionDelivery(t, id)
	d.Attempt = 3
	h.SessionExhausted(context.Background(), d, errors.New("scoring unavailable"))
	assert.Contains(t, stub.failed[id], "scoring unavailable")

	h.SettlementExhausted(context.Background(), d, errors.New("still broken"))
	assert.Len(t, stub.failed, 1)
}

func TestJobHandlers_StartRegistersEveryQueue(t *testing.T) {
	stub := newJobServicesStub()
	h := NewJobHandlers(stub, stub, stub, discardLogger())
	consumer := &queueConsumerStub{queues: map[string]rabbitmq.QueueOptions{}}
	queues := DefaultQueueNames()

	require.NoError(t, h.Start(context.Background(), consumer, queues, WorkerOptions{Concurrency: 4, MaxAttempts: 5}))
	require.Len(t, consumer.queues, 3)
	for _, name := range []string{queues.SessionProcessing, queues.EarningsCalculation, queues.Withdrawal} {
		opts, ok := consumer.queues[name]
		require.True(t, ok, name)
		assert.Equal(t, 4, opts.Concurrency)
		assert.Equal(t, 5, opts.MaxAttempts)
		assert.NotNil(t, opts.OnExhausted)
	}
}
