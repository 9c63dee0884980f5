package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/citypulse/earnings-service/internal/earnings"
	"github.com/citypulse/earnings-service/internal/store"
	"github.com/citypulse/earnings-service/pkg/payout"
	"github.com/citypulse/earnings-service/pkg/scoringclient"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
	err      error
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{messages: map[string][][]byte{}}
}

func (p *recordingPublisher) Enqueue(ctx context.Context, queue string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	p.messages[queue] = append(p.messages[queue], raw)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) count(queue string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages[queue])
}

func (p *recordingPublisher) notifications(t *testing.T) []domain.Notification {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Notification
	for _, raw := range p.messages[DefaultQueueNames().Notifications] {
		var n domain.Notification
		require.NoError(t, json.Unmarshal(raw, &n))
		out = append(out, n)
	}
	return out
}

type stubPayer struct {
	mu       sync.Mutex
	calls    []payout.Request
	err      error
	response string
}

func (p *stubPayer) Payout(ctx context.Context, req payout.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if p.err != nil {
		return "", p.err
	}
	if p.response == "" {
		return "REF_" + req.Reference, nil
	}
	return p.response, nil
}

func (p *stubPayer) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// prefixCrypter is a reversible stand-in for secretbox.
type prefixCrypter struct{}

func (prefixCrypter) Encrypt(plaintext string) (string, error) { return "enc:" + plaintext, nil }
func (prefixCrypter) Decrypt(ciphertext string) (string, error) {
	return strings.TrimPrefix(ciphertext, "enc:"), nil
}

// stubLimiter allows five requests per user.
type stubLimiter struct {
	mu    sync.Mutex
	count int
	err   error
}

func (l *stubLimiter) AllowWithdrawal(ctx context.Context, userID uuid.UUID) (LimitDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return LimitDecision{Allowed: true}, l.err
	}
	l.count++
	d := LimitDecision{Allowed: l.count <= 5, Count: l.count}
	if !d.Allowed {
		d.RetryAfter = time.Minute
	}
	return d, nil
}

type stubScorer struct {
	result *scoringclient.Result
	err    error
	calls  int
}

func (s *stubScorer) ScoreSession(ctx context.Context, sessionID, dataURL string) (*scoringclient.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type testEnv struct {
	svc       *Service
	store     *store.MemoryStore
	publisher *recordingPublisher
	payer     *stubPayer
	scorer    *stubScorer
	limiter   *stubLimiter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, nil)
}

// newTestEnvWithStore lets a test wrap the memory store the service sees.
func newTestEnvWithStore(t *testing.T, wrap func(*store.MemoryStore) store.Store) *testEnv {
	t.Helper()
	env := &testEnv{
		store:     store.NewMemoryStore(),
		publisher: newRecordingPublisher(),
		payer:     &stubPayer{},
		scorer:    &stubScorer{result: &scoringclient.Result{QualityScore: 94.6, FramesProcessed: 1200, EntitiesDetected: 37}},
		limiter:   &stubLimiter{},
	}
	var backing store.Store = env.store
	if wrap != nil {
		backing = wrap(env.store)
	}
	env.svc = NewService(Dependencies{
		Store:       backing,
		Publisher:   env.publisher,
		Queues:      DefaultQueueNames(),
		Scorer:      env.scorer,
		Payer:       env.payer,
		Crypter:     prefixCrypter{},
		Limiter:     env.limiter,
		Calculator:  earnings.MustNewCalculator(earnings.DefaultRates()),
		Progression: DefaultProgressionConfig(),
		Withdrawal:  DefaultWithdrawalConfig(),
		Logger:      discardLogger(),
	})
	require.NoError(t, env.svc.Bootstrap(context.Background()))
	return env
}

// fund credits cash to the user's wallet through the ledger.
func (e *testEnv) fund(t *testing.T, userID uuid.UUID, cash int64) *domain.Wallet {
	t.Helper()
	ctx := context.Background()
	wallet, err := e.store.EnsureWallet(ctx, userID)
	require.NoError(t, err)
	_, err = e.svc.Ledger.Credit(ctx, wallet.ID, domain.CurrencyCash, cash, domain.LedgerEntry{
		Type:      domain.TxRefund,
		Reference: &domain.Reference{Type: "test", ID: uuid.NewString()},
	})
	require.NoError(t, err)
	return e.wallet(t, userID)
}

func (e *testEnv) wallet(t *testing.T, userID uuid.UUID) *domain.Wallet {
	t.Helper()
	w, err := e.store.FindWalletByUserID(context.Background(), userID)
	require.NoError(t, err)
	return w
}

// requireConserved checks that each balance equals the sum of its ledger rows.
func (e *testEnv) requireConserved(t *testing.T, userID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	w := e.wallet(t, userID)
	cash, err := e.store.SumTransactions(ctx, w.ID, domain.CurrencyCash)
	require.NoError(t, err)
	credits, err := e.store.SumTransactions(ctx, w.ID, domain.CurrencyCredits)
	require.NoError(t, err)
	require.Equal(t, w.CashBalance, cash, "cash balance must equal the ledger sum")
	require.Equal(t, w.CreditBalance, credits, "credit balance must equal the ledger sum")
	require.GreaterOrEqual(t, w.PendingCash, int64(0))
	require.LessOrEqual(t, w.PendingCash, w.CashBalance)
}

// explore mode, 20 km, score 95: cash 750, credits 7500, xp 157.
func (e *testEnv) createSession(t *testing.T, userID uuid.UUID, status domain.SessionStatus) *domain.CollectionSession {
	t.Helper()
	ended := time.Now().Add(-time.Minute)
	session := &domain.CollectionSession{
		ID:               uuid.New(),
		UserID:           userID,
		Mode:             domain.ModeExplore,
		Status:           status,
		DataURL:          "s3://sessions/test.bin",
		StartedAt:        ended.Add(-time.Hour),
		EndedAt:          &ended,
		DistanceMeters:   20000,
		DurationSeconds:  3600,
		FrameCount:       1200,
		EntitiesDetected: 37,
	}
	if status == domain.SessionProcessed {
		session.QualityScore = 95
	}
	require.NoError(t, e.store.CreateSession(context.Background(), session))
	return session
}
