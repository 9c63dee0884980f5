package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/citypulse/earnings-service/internal/app"
	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/citypulse/earnings-service/internal/earnings"
	"github.com/citypulse/earnings-service/internal/store"
	"github.com/citypulse/earnings-service/pkg/payout"
	"github.com/citypulse/earnings-service/pkg/scoringclient"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret      = "test-jwt-secret"
	testInternalKey = "test-internal-key"
)

type nopPublisher struct{}

func (nopPublisher) Enqueue(ctx context.Context, queue string, body interface{}) error { return nil }
func (nopPublisher) Close()                                                          {}

type nopLimiter struct{}

func (nopLimiter) AllowWithdrawal(ctx context.Context, userID uuid.UUID) (app.LimitDecision, error) {
	return app.LimitDecision{Allowed: true, Count: 1}, nil
}

type plainCrypter struct{}

func (plainCrypter) Encrypt(s string) (string, error) { return "enc:" + s, nil }
func (plainCrypter) Decrypt(s string) (string, error) { return strings.TrimPrefix(s, "enc:"), nil }

type testServer struct {
	handler http.Handler
	service *app.Service
	store   *store.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := store.NewMemoryStore()
	svc := app.NewService(app.Dependencies{
		Store:       mem,
		Publisher:   nopPublisher{},
		Queues:      app.DefaultQueueNames(),
		Scorer:      scoringclient.MockScorer{},
		Payer:       payout.NewMockGateway(),
		Crypter:     plainCrypter{},
		Limiter:     nopLimiter{},
		Calculator:  earnings.MustNewCalculator(earnings.DefaultRates()),
		Progression: app.DefaultProgressionConfig(),
		Withdrawal:  app.DefaultWithdrawalConfig(),
		Logger:      logger,
	})
	require.NoError(t, svc.Bootstrap(context.Background()))
	handler := Routes(NewHandlers(svc, logger), RouterConfig{JWTSecret: testSecret, InternalAPIKey: testInternalKey})
	return &testServer{handler: handler, service: svc, store: mem}
}

func signToken(t *testing.T, subject string, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(t *testing.T, method, path string, userID *uuid.UUID, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != nil {
		req.Header.Set("Authorization", "Bearer "+signToken(t, userID.String(), time.Hour))
	}
	if strings.HasPrefix(path, "/internal/") {
		req.Header.Set(InternalAPIKeyHeader, testInternalKey)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) fund(t *testing.T, userID uuid.UUID, cash int64) {
	t.Helper()
	ctx := context.Background()
	wallet, err := s.store.EnsureWallet(ctx, userID)
	require.NoError(t, err)
	_, err = s.service.Ledger.Credit(ctx, wallet.ID, domain.CurrencyCash, cash, domain.LedgerEntry{
		Type:      domain.TxRefund,
		Reference: &domain.Reference{Type: "test", ID: uuid.NewString()},
	})
	require.NoError(t, err)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", rec.Body.String())
}

func TestJWTAuthMiddleware(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "not bearer", header: "Token abc"},
		{name: "garbage token", header: "Bearer not-a-jwt"},
		{name: "expired", header: "Bearer " + signToken(t, uuid.NewString(), -time.Minute)},
		{name: "subject not a uuid", header: "Bearer " + signToken(t, "user_123", time.Hour)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			srv.handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	t.Run("wrong signing key", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		signed, err := token.SignedString([]byte("other-secret"))
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		rec := httptest.NewRecorder()
		srv.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestInternalKeyMiddleware(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/internal/sessions/"+uuid.NewString()+"/settle", nil)
	req.Header.Set(InternalAPIKeyHeader, "wrong")
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	closed := InternalKeyMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a configured key")
	}))
	rec = httptest.NewRecorder()
	closed.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWalletEndpoints(t *testing.T) {
	srv := newTestServer(t)
	userID := uuid.New()

	rec := srv.do(t, http.MethodGet, "/wallet", &userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var empty domain.WalletView
	decodeBody(t, rec, &empty)
	assert.Zero(t, empty.CashBalance)
	assert.False(t, empty.CanWithdraw)

	srv.fund(t, userID, 12000)
	rec = srv.do(t, http.MethodGet, "/wallet", &userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view domain.WalletView
	decodeBody(t, rec, &view)
	assert.Equal(t, int64(12000), view.CashBalance)
	assert.Equal(t, int64(12000), view.AvailableCash)
	assert.True(t, view.CanWithdraw)

	rec = srv.do(t, http.MethodGet, "/wallet/transactions?currency=cash&limit=5", &userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Transactions []domain.Transaction `json:"transactions"`
		Limit        int                  `json:"limit"`
	}
	decodeBody(t, rec, &page)
	assert.Len(t, page.Transactions, 1)
	assert.Equal(t, 5, page.Limit)

	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, "/wallet/transactions?currency=gold", &userID, nil).Code)
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, "/wallet/transactions?limit=-1", &userID, nil).Code)
}

func TestWithdrawalEndpoints(t *testing.T) {
	srv := newTestServer(t)
	userID := uuid.New()
	srv.fund(t, userID, 10000)

	rec := srv.do(t, http.MethodPost, "/payout-methods", &userID, domain.AddPayoutMethodRequest{
		Provider:      domain.ProviderGCash,
		AccountNumber: "09171234567",
		AccountName:   "Ana Cruz",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var method domain.PayoutMethod
	decodeBody(t, rec, &method)
	assert.NotContains(t, rec.Body.String(), "09171234567")

	rec = srv.do(t, http.MethodPost, "/withdrawals", &userID, domain.WithdrawalRequest{Amount: 1000, PayoutMethodID: method.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, "E4002", body.Code)

	rec = srv.do(t, http.MethodPost, "/withdrawals", &userID, domain.WithdrawalRequest{Amount: 20000, PayoutMethodID: method.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	decodeBody(t, rec, &body)
	assert.Equal(t, "E4005", body.Code)

	rec = srv.do(t, http.MethodPost, "/withdrawals", &userID, domain.WithdrawalRequest{Amount: 6000, PayoutMethodID: method.ID})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var withdrawal domain.Withdrawal
	decodeBody(t, rec, &withdrawal)
	assert.Equal(t, domain.WithdrawalPending, withdrawal.Status)

	rec = srv.do(t, http.MethodGet, "/withdrawals/"+withdrawal.ID.String(), &userID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	other := uuid.New()
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/withdrawals/"+withdrawal.ID.String(), &other, nil).Code)
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, "/withdrawals/not-a-uuid", &userID, nil).Code)

	rec = srv.do(t, http.MethodDelete, "/payout-methods/"+method.ID.String(), &userID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(t, http.MethodGet, "/withdrawals", &userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), withdrawal.ID.String())
}

func TestInternalSettleAndXP(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	userID := uuid.New()
	ended := time.Now().Add(-time.Minute)
	session := &domain.CollectionSession{
		ID:              uuid.New(),
		UserID:          userID,
		Mode:            domain.ModeExplore,
		Status:          domain.SessionProcessed,
		StartedAt:       ended.Add(-time.Hour),
		EndedAt:         &ended,
		DistanceMeters:  20000,
		DurationSeconds: 3600,
		QualityScore:    95,
	}
	require.NoError(t, srv.store.CreateSession(ctx, session))

	rec := srv.do(t, http.MethodPost, "/internal/sessions/"+session.ID.String()+"/settle", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var breakdown domain.Breakdown
	decodeBody(t, rec, &breakdown)
	assert.Equal(t, domain.Breakdown{Cash: 750, Credits: 7500, XP: 157}, breakdown)

	rec = srv.do(t, http.MethodPost, "/internal/sessions/"+session.ID.String()+"/settle", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	wallet, err := srv.store.FindWalletByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(750), wallet.CashBalance)

	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodPost, "/internal/sessions/"+uuid.NewString()+"/settle", nil, nil).Code)
	assert.Equal(t, http.StatusConflict, srv.do(t, http.MethodPost, "/internal/sessions/"+session.ID.String()+"/process", nil, nil).Code)

	rec = srv.do(t, http.MethodPost, "/internal/users/"+userID.String()+"/xp", nil, awardXPRequest{Amount: 0, Source: "manual"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/internal/users/"+userID.String()+"/xp", nil, awardXPRequest{Amount: 50, Source: "manual", ReferenceType: "campaign", ReferenceID: "spring"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var award domain.XPAward
	decodeBody(t, rec, &award)
	assert.Equal(t, int64(50), award.Amount)
	assert.False(t, award.Duplicate)

	rec = srv.do(t, http.MethodPost, "/internal/users/"+userID.String()+"/xp", nil, awardXPRequest{Amount: 50, Source: "manual", ReferenceType: "campaign", ReferenceID: "spring"})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &award)
	assert.True(t, award.Duplicate)

	rec = srv.do(t, http.MethodGet, "/progression", &userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"level":2`)
}

func TestRewardEndpoints(t *testing.T) {
	srv := newTestServer(t)
	userID := uuid.New()

	rec := srv.do(t, http.MethodGet, "/achievements", &userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "first_km")

	rec = srv.do(t, http.MethodGet, "/challenges", &userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodPost, "/challenges/"+uuid.NewString()+"/join", &userID, nil).Code)
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodPost, "/achievements/"+uuid.NewString()+"/claim", &userID, nil).Code)

	rec = srv.do(t, http.MethodPost, "/progression/streak", &userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var streak domain.StreakUpdate
	decodeBody(t, rec, &streak)
	assert.Equal(t, 1, streak.CurrentStreak)

	rec = srv.do(t, http.MethodPost, "/internal/users/"+userID.String()+"/achievements/no_such_code/check", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusForKind(t *testing.T) {
	tests := map[domain.ErrorKind]int{
		domain.KindValidation:   http.StatusBadRequest,
		domain.KindNotFound:     http.StatusNotFound,
		domain.KindConflict:     http.StatusConflict,
		domain.KindInsufficient: http.StatusUnprocessableEntity,
		domain.KindRateLimited:  http.StatusTooManyRequests,
		domain.KindExternal:     http.StatusBadGateway,
		domain.KindInternal:     http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, StatusForKind(kind), string(kind))
	}
}
