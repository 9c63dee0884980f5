package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/google/uuid"
)

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// MemoryStore is an in-process Store. A unit of work holds the store mutex
// for its whole duration and works on a copy of the state that replaces the
// committed state only when fn succeeds, so units of work are serializable.
type MemoryStore struct {
	*memoryRepo
	mu    sync.Mutex
	state *memoryState
	now   func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{state: newMemoryState(), now: time.Now}
	s.memoryRepo = &memoryRepo{store: s}
	return s
}

// SetClock overrides the clock used for updated_at bookkeeping.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(ctx, &memoryRepo{store: s, tx: working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

type memoryState struct {
	wallets          map[uuid.UUID]domain.Wallet
	walletByUser     map[uuid.UUID]uuid.UUID
	transactions     []domain.Transaction
	sessions         map[uuid.UUID]domain.CollectionSession
	progression      map[uuid.UUID]domain.UserProgression
	xpEvents         []domain.XPEvent
	xpRefs           map[string]struct{}
	achievements     map[uuid.UUID]domain.Achievement
	userAchievements map[string]domain.UserAchievement
	challenges       map[uuid.UUID]domain.Challenge
	userChallenges   map[string]domain.UserChallenge
	contributions    map[string]struct{}
	payoutMethods    map[uuid.UUID]domain.PayoutMethod
	withdrawals      map[uuid.UUID]domain.Withdrawal
}

func newMemoryState() *memoryState {
	return &memoryState{
		wallets:          map[uuid.UUID]domain.Wallet{},
		walletByUser:     map[uuid.UUID]uuid.UUID{},
		sessions:         map[uuid.UUID]domain.CollectionSession{},
		progression:      map[uuid.UUID]domain.UserProgression{},
		xpRefs:           map[string]struct{}{},
		achievements:     map[uuid.UUID]domain.Achievement{},
		userAchievements: map[string]domain.UserAchievement{},
		challenges:       map[uuid.UUID]domain.Challenge{},
		userChallenges:   map[string]domain.UserChallenge{},
		contributions:    map[string]struct{}{},
		payoutMethods:    map[uuid.UUID]domain.PayoutMethod{},
		withdrawals:      map[uuid.UUID]domain.Withdrawal{},
	}
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *memoryState) clone() *memoryState {
	return &memoryState{
		wallets:          copyMap(m.wallets),
		walletByUser:     copyMap(m.walletByUser),
		transactions:     append([]domain.Transaction(nil), m.transactions...),
		sessions:         copyMap(m.sessions),
		progression:      copyMap(m.progression),
		xpEvents:         append([]domain.XPEvent(nil), m.xpEvents...),
		xpRefs:           copyMap(m.xpRefs),
		achievements:     copyMap(m.achievements),
		userAchievements: copyMap(m.userAchievements),
		challenges:       copyMap(m.challenges),
		userChallenges:   copyMap(m.userChallenges),
		contributions:    copyMap(m.contributions),
		payoutMethods:    copyMap(m.payoutMethods),
		withdrawals:      copyMap(m.withdrawals),
	}
}

// memoryRepo reads and writes either the committed state (taking the store
// mutex per call) or a unit of work's private copy.
type memoryRepo struct {
	store *MemoryStore
	tx    *memoryState
}

func (r *memoryRepo) enter() (*memoryState, func()) {
	if r.tx != nil {
		return r.tx, func() {}
	}
	r.store.mu.Lock()
	return r.store.state, r.store.mu.Unlock
}

func pairKey(a, b uuid.UUID) string { return a.String() + "|" + b.String() }

func refKey(parts ...string) string {
	key := ""
	for i, p := range parts {
		if i > 0 {
			key += "|"
		}
		key += p
	}
	return key
}

// Wallets and transactions

func (r *memoryRepo) EnsureWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	st, done := r.enter()
	defer done()
	if id, ok := st.walletByUser[userID]; ok {
		w := st.wallets[id]
		return &w, nil
	}
	now := r.store.now()
	w := domain.Wallet{ID: uuid.New(), UserID: userID, CreatedAt: now, UpdatedAt: now}
	st.wallets[w.ID] = w
	st.walletByUser[userID] = w.ID
	return &w, nil
}

func (r *memoryRepo) FindWalletByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	st, done := r.enter()
	defer done()
	id, ok := st.walletByUser[userID]
	if !ok {
		return nil, ErrNotFound
	}
	w := st.wallets[id]
	return &w, nil
}

func (r *memoryRepo) LockWallet(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error) {
	st, done := r.enter()
	defer done()
	w, ok := st.wallets[walletID]
	if !ok {
		return nil, ErrNotFound
	}
	return &w, nil
}

func (r *memoryRepo) LockWalletByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	return r.FindWalletByUserID(ctx, userID)
}

func (r *memoryRepo) UpdateWalletBalances(ctx context.Context, w *domain.Wallet) error {
	st, done := r.enter()
	defer done()
	if _, ok := st.wallets[w.ID]; !ok {
		return ErrNotFound
	}
	updated := *w
	updated.UpdatedAt = r.store.now()
	st.wallets[w.ID] = updated
	return nil
}

func (r *memoryRepo) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	st, done := r.enter()
	defer done()
	if t.Reference != nil {
		for _, existing := range st.transactions {
			if sameReference(existing, t.WalletID, t.Currency, t.Type, *t.Reference) {
				return ErrDuplicate
			}
		}
	}
	st.transactions = append(st.transactions, *t)
	return nil
}

func sameReference(t domain.Transaction, walletID uuid.UUID, currency domain.Currency, txType domain.TransactionType, ref domain.Reference) bool {
	return t.Reference != nil && t.WalletID == walletID && t.Currency == currency && t.Type == txType &&
		t.Reference.Type == ref.Type && t.Reference.ID == ref.ID
}

func (r *memoryRepo) FindTransactionByReference(ctx context.Context, walletID uuid.UUID, currency domain.Currency, txType domain.TransactionType, ref domain.Reference) (*domain.Transaction, error) {
	st, done := r.enter()
	defer done()
	for _, t := range st.transactions {
		if sameReference(t, walletID, currency, txType, ref) {
			found := t
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryRepo) ListTransactions(ctx context.Context, walletID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	st, done := r.enter()
	defer done()
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []domain.Transaction
	skipped := 0
	for i := len(st.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		t := st.transactions[i]
		if t.WalletID != walletID {
			continue
		}
		if opts.Currency != "" && t.Currency != opts.Currency {
			continue
		}
		if opts.Type != "" && t.Type != opts.Type {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *memoryRepo) SumTransactions(ctx context.Context, walletID uuid.UUID, currency domain.Currency) (int64, error) {
	st, done := r.enter()
	defer done()
	var total int64
	for _, t := range st.transactions {
		if t.WalletID == walletID && t.Currency == currency {
			total += t.Amount
		}
	}
	return total, nil
}

// Sessions

func (r *memoryRepo) CreateSession(ctx context.Context, s *domain.CollectionSession) error {
	st, done := r.enter()
	defer done()
	if _, ok := st.sessions[s.ID]; ok {
		return ErrDuplicate
	}
	created := *s
	created.UpdatedAt = r.store.now()
	st.sessions[s.ID] = created
	return nil
}

func (r *memoryRepo) FindSessionByID(ctx context.Context, sessionID uuid.UUID) (*domain.CollectionSession, error) {
	st, done := r.enter()
	defer done()
	s, ok := st.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (r *memoryRepo) TransitionSession(ctx context.Context, sessionID uuid.UUID, from []domain.SessionStatus, to domain.SessionStatus, failureReason *string) (bool, error) {
	st, done := r.enter()
	defer done()
	s, ok := st.sessions[sessionID]
	if !ok {
		return false, nil
	}
	matched := false
	for _, status := range from {
		if s.Status == status {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	s.Status = to
	if failureReason != nil {
		s.FailureReason = failureReason
	}
	s.UpdatedAt = r.store.now()
	st.sessions[sessionID] = s
	return true, nil
}

func (r *memoryRepo) MarkSessionProcessed(ctx context.Context, sessionID uuid.UUID, score domain.SessionScore, at time.Time) (bool, error) {
	st, done := r.enter()
	defer done()
	s, ok := st.sessions[sessionID]
	if !ok || s.Status != domain.SessionProcessing {
		return false, nil
	}
	s.Status = domain.SessionProcessed
	s.QualityScore = score.QualityScore
	s.FrameCount = score.FramesProcessed
	s.EntitiesDetected = score.EntitiesDetected
	s.ProcessedAt = &at
	s.UpdatedAt = r.store.now()
	st.sessions[sessionID] = s
	return true, nil
}

func (r *memoryRepo) MarkSessionSettled(ctx context.Context, sessionID uuid.UUID, b domain.Breakdown, at time.Time) (bool, error) {
	st, done := r.enter()
	defer done()
	s, ok := st.sessions[sessionID]
	if !ok || s.Status != domain.SessionProcessed || s.SettledAt != nil {
		return false, nil
	}
	s.Status = domain.SessionSettled
	s.EarnedCash, s.EarnedCredits, s.EarnedXP = b.Cash, b.Credits, b.XP
	s.SettledAt = &at
	s.UpdatedAt = r.store.now()
	st.sessions[sessionID] = s
	return true, nil
}

func (r *memoryRepo) MarkSessionNotified(ctx context.Context, sessionID uuid.UUID, at time.Time) (bool, error) {
	st, done := r.enter()
	defer done()
	s, ok := st.sessions[sessionID]
	if !ok || s.NotifiedAt != nil {
		return false, nil
	}
	s.NotifiedAt = &at
	st.sessions[sessionID] = s
	return true, nil
}

func (r *memoryRepo) ListSessionsByStatusBefore(ctx context.Context, status domain.SessionStatus, before time.Time, limit int) ([]domain.CollectionSession, error) {
	st, done := r.enter()
	defer done()
	var out []domain.CollectionSession
	for _, s := range st.sessions {
		if s.Status == status && s.UpdatedAt.Before(before) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Progression

func (r *memoryRepo) FindProgression(ctx context.Context, userID uuid.UUID) (*domain.UserProgression, error) {
	st, done := r.enter()
	defer done()
	p, ok := st.progression[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *memoryRepo) LockProgression(ctx context.Context, userID uuid.UUID) (*domain.UserProgression, error) {
	st, done := r.enter()
	defer done()
	p, ok := st.progression[userID]
	if !ok {
		p = domain.UserProgression{UserID: userID, Level: 1, Title: "Newcomer", UpdatedAt: r.store.now()}
		st.progression[userID] = p
	}
	return &p, nil
}

func (r *memoryRepo) UpdateProgression(ctx context.Context, p *domain.UserProgression) error {
	st, done := r.enter()
	defer done()
	updated := *p
	updated.UpdatedAt = r.store.now()
	st.progression[p.UserID] = updated
	return nil
}

func (r *memoryRepo) InsertXPEvent(ctx context.Context, e *domain.XPEvent) error {
	st, done := r.enter()
	defer done()
	if e.Reference != nil {
		key := refKey(e.UserID.String(), e.Source, e.Reference.Type, e.Reference.ID)
		if _, ok := st.xpRefs[key]; ok {
			return ErrDuplicate
		}
		st.xpRefs[key] = struct{}{}
	}
	st.xpEvents = append(st.xpEvents, *e)
	return nil
}

// Achievements

func (r *memoryRepo) UpsertAchievement(ctx context.Context, a *domain.Achievement) error {
	st, done := r.enter()
	defer done()
	for id, existing := range st.achievements {
		if existing.Code == a.Code {
			a.ID = id
			break
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	st.achievements[a.ID] = *a
	return nil
}

func (r *memoryRepo) ListAchievements(ctx context.Context) ([]domain.Achievement, error) {
	st, done := r.enter()
	defer done()
	out := make([]domain.Achievement, 0, len(st.achievements))
	for _, a := range st.achievements {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Requirement < out[j].Requirement
	})
	return out, nil
}

func (r *memoryRepo) FindAchievementByCode(ctx context.Context, code string) (*domain.Achievement, error) {
	st, done := r.enter()
	defer done()
	for _, a := range st.achievements {
		if a.Code == code {
			found := a
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryRepo) FindAchievementByID(ctx context.Context, achievementID uuid.UUID) (*domain.Achievement, error) {
	st, done := r.enter()
	defer done()
	a, ok := st.achievements[achievementID]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (r *memoryRepo) LockUserAchievement(ctx context.Context, userID, achievementID uuid.UUID) (*domain.UserAchievement, error) {
	st, done := r.enter()
	defer done()
	if _, ok := st.achievements[achievementID]; !ok {
		return nil, ErrNotFound
	}
	key := pairKey(userID, achievementID)
	ua, ok := st.userAchievements[key]
	if !ok {
		ua = domain.UserAchievement{ID: uuid.New(), UserID: userID, AchievementID: achievementID, UpdatedAt: r.store.now()}
		st.userAchievements[key] = ua
	}
	return &ua, nil
}

func (r *memoryRepo) ListUserAchievements(ctx context.Context, userID uuid.UUID) ([]domain.UserAchievement, error) {
	st, done := r.enter()
	defer done()
	var out []domain.UserAchievement
	for _, ua := range st.userAchievements {
		if ua.UserID == userID {
			out = append(out, ua)
		}
	}
	return out, nil
}

func (r *memoryRepo) SaveUserAchievement(ctx context.Context, ua *domain.UserAchievement) error {
	st, done := r.enter()
	defer done()
	key := pairKey(ua.UserID, ua.AchievementID)
	if _, ok := st.userAchievements[key]; !ok {
		return ErrNotFound
	}
	updated := *ua
	updated.UpdatedAt = r.store.now()
	st.userAchievements[key] = updated
	return nil
}

// Challenges

func (r *memoryRepo) CreateChallenge(ctx context.Context, c *domain.Challenge) error {
	st, done := r.enter()
	defer done()
	if _, ok := st.challenges[c.ID]; ok {
		return ErrDuplicate
	}
	st.challenges[c.ID] = *c
	return nil
}

func (r *memoryRepo) FindChallengeByID(ctx context.Context, challengeID uuid.UUID) (*domain.Challenge, error) {
	st, done := r.enter()
	defer done()
	c, ok := st.challenges[challengeID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (r *memoryRepo) ListActiveChallenges(ctx context.Context, at time.Time) ([]domain.Challenge, error) {
	st, done := r.enter()
	defer done()
	var out []domain.Challenge
	for _, c := range st.challenges {
		if c.Open(at) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndsAt.Before(out[j].EndsAt) })
	return out, nil
}

func (r *memoryRepo) CountChallengesStartingBetween(ctx context.Context, challengeType string, from, to time.Time) (int, error) {
	st, done := r.enter()
	defer done()
	count := 0
	for _, c := range st.challenges {
		if c.Type == challengeType && !c.StartsAt.Before(from) && c.StartsAt.Before(to) {
			count++
		}
	}
	return count, nil
}

func (r *memoryRepo) LockUserChallenge(ctx context.Context, userID, challengeID uuid.UUID) (*domain.UserChallenge, error) {
	st, done := r.enter()
	defer done()
	uc, ok := st.userChallenges[pairKey(userID, challengeID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &uc, nil
}

func (r *memoryRepo) InsertUserChallenge(ctx context.Context, uc *domain.UserChallenge) error {
	st, done := r.enter()
	defer done()
	key := pairKey(uc.UserID, uc.ChallengeID)
	if _, ok := st.userChallenges[key]; ok {
		return ErrDuplicate
	}
	created := *uc
	created.UpdatedAt = uc.JoinedAt
	st.userChallenges[key] = created
	return nil
}

func (r *memoryRepo) UpdateUserChallenge(ctx context.Context, uc *domain.UserChallenge) error {
	st, done := r.enter()
	defer done()
	key := pairKey(uc.UserID, uc.ChallengeID)
	if _, ok := st.userChallenges[key]; !ok {
		return ErrNotFound
	}
	updated := *uc
	updated.UpdatedAt = r.store.now()
	st.userChallenges[key] = updated
	return nil
}

func (r *memoryRepo) ListUserChallenges(ctx context.Context, userID uuid.UUID) ([]domain.UserChallenge, error) {
	st, done := r.enter()
	defer done()
	var out []domain.UserChallenge
	for _, uc := range st.userChallenges {
		if uc.UserID == userID {
			out = append(out, uc)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListOpenJoinedChallenges(ctx context.Context, userID uuid.UUID, at time.Time) ([]domain.JoinedChallenge, error) {
	st, done := r.enter()
	defer done()
	var out []domain.JoinedChallenge
	for _, uc := range st.userChallenges {
		if uc.UserID != userID || uc.Completed {
			continue
		}
		c, ok := st.challenges[uc.ChallengeID]
		if !ok || !c.Open(at) {
			continue
		}
		out = append(out, domain.JoinedChallenge{Challenge: c, UserChallenge: uc})
	}
	return out, nil
}

func (r *memoryRepo) InsertChallengeContribution(ctx context.Context, userChallengeID uuid.UUID, ref domain.Reference) error {
	st, done := r.enter()
	defer done()
	key := refKey(userChallengeID.String(), ref.Type, ref.ID)
	if _, ok := st.contributions[key]; ok {
		return ErrDuplicate
	}
	st.contributions[key] = struct{}{}
	return nil
}

// Payout methods and withdrawals

func (r *memoryRepo) CreatePayoutMethod(ctx context.Context, m *domain.PayoutMethod) error {
	st, done := r.enter()
	defer done()
	st.payoutMethods[m.ID] = *m
	return nil
}

func (r *memoryRepo) FindPayoutMethod(ctx context.Context, methodID, userID uuid.UUID) (*domain.PayoutMethod, error) {
	st, done := r.enter()
	defer done()
	m, ok := st.payoutMethods[methodID]
	if !ok || m.UserID != userID || !m.IsActive {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (r *memoryRepo) ListPayoutMethods(ctx context.Context, userID uuid.UUID) ([]domain.PayoutMethod, error) {
	st, done := r.enter()
	defer done()
	var out []domain.PayoutMethod
	for _, m := range st.payoutMethods {
		if m.UserID == userID && m.IsActive {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memoryRepo) SetDefaultPayoutMethod(ctx context.Context, methodID, userID uuid.UUID) error {
	st, done := r.enter()
	defer done()
	target, ok := st.payoutMethods[methodID]
	if !ok || target.UserID != userID || !target.IsActive {
		return ErrNotFound
	}
	for id, m := range st.payoutMethods {
		if m.UserID == userID {
			m.IsDefault = id == methodID
			st.payoutMethods[id] = m
		}
	}
	return nil
}

func (r *memoryRepo) DeactivatePayoutMethod(ctx context.Context, methodID, userID uuid.UUID) error {
	st, done := r.enter()
	defer done()
	m, ok := st.payoutMethods[methodID]
	if !ok || m.UserID != userID || !m.IsActive {
		return ErrNotFound
	}
	m.IsActive = false
	m.IsDefault = false
	st.payoutMethods[methodID] = m
	return nil
}

func (r *memoryRepo) CountReservingWithdrawalsForMethod(ctx context.Context, methodID uuid.UUID) (int, error) {
	st, done := r.enter()
	defer done()
	count := 0
	for _, w := range st.withdrawals {
		if w.PayoutMethodID == methodID && w.Status.Reserving() {
			count++
		}
	}
	return count, nil
}

func (r *memoryRepo) CreateWithdrawal(ctx context.Context, w *domain.Withdrawal) error {
	st, done := r.enter()
	defer done()
	created := *w
	created.UpdatedAt = w.RequestedAt
	st.withdrawals[w.ID] = created
	return nil
}

func (r *memoryRepo) FindWithdrawalByID(ctx context.Context, withdrawalID uuid.UUID) (*domain.Withdrawal, error) {
	st, done := r.enter()
	defer done()
	w, ok := st.withdrawals[withdrawalID]
	if !ok {
		return nil, ErrNotFound
	}
	return &w, nil
}

func (r *memoryRepo) ListWithdrawalsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Withdrawal, error) {
	st, done := r.enter()
	defer done()
	var all []domain.Withdrawal
	for _, w := range st.withdrawals {
		if w.UserID == userID {
			all = append(all, w)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].RequestedAt.After(all[j].RequestedAt) })
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset >= len(all) {
		return nil, nil
	}
	if offset < 0 {
		offset = 0
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *memoryRepo) SumWithdrawalsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	st, done := r.enter()
	defer done()
	var total int64
	for _, w := range st.withdrawals {
		if w.UserID == userID && !w.RequestedAt.Before(since) && w.Status != domain.WithdrawalFailed {
			total += w.Amount
		}
	}
	return total, nil
}

func (r *memoryRepo) TransitionWithdrawal(ctx context.Context, withdrawalID uuid.UUID, from, to domain.WithdrawalStatus, t domain.WithdrawalTransition) (bool, error) {
	st, done := r.enter()
	defer done()
	w, ok := st.withdrawals[withdrawalID]
	if !ok || w.Status != from {
		return false, nil
	}
	w.Status = to
	if t.ProviderReference != nil {
		w.ProviderReference = t.ProviderReference
	}
	if t.FailureReason != nil {
		w.FailureReason = t.FailureReason
	}
	if t.ProcessedAt != nil {
		w.ProcessedAt = t.ProcessedAt
	}
	if t.CompletedAt != nil {
		w.CompletedAt = t.CompletedAt
	}
	w.UpdatedAt = r.store.now()
	st.withdrawals[withdrawalID] = w
	return true, nil
}

func (r *memoryRepo) ListWithdrawalsByStatusBefore(ctx context.Context, status domain.WithdrawalStatus, before time.Time, limit int) ([]domain.Withdrawal, error) {
	st, done := r.enter()
	defer done()
	var out []domain.Withdrawal
	for _, w := range st.withdrawals {
		if w.Status == status && w.UpdatedAt.Before(before) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
