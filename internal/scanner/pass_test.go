package scanner

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predarb/predarb/internal/alert"
	"github.com/predarb/predarb/internal/dedup"
	"github.com/predarb/predarb/internal/domain"
)

type fakeGroupStore struct {
	groups []domain.CorrelationGroup
}

func (f *fakeGroupStore) UpsertBatch(context.Context, []domain.CorrelationGroup) error { return nil }
func (f *fakeGroupStore) ListRecent(context.Context, int) ([]domain.CorrelationGroup, error) {
	return f.groups, nil
}

type fakeFeeStore struct {
	fees []domain.PlatformFee
}

func (f *fakeFeeStore) Get(context.Context, string) (domain.PlatformFee, error) {
	return domain.PlatformFee{}, domain.ErrNotFound
}
func (f *fakeFeeStore) Upsert(context.Context, domain.PlatformFee) error { return nil }
func (f *fakeFeeStore) List(context.Context) ([]domain.PlatformFee, error) {
	return f.fees, nil
}

type fakeLocks struct {
	held     bool
	acquired int
}

func (f *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	f.acquired++
	return func() {}, nil
}

// passOppStore is the upsert-by-hash half of OpportunityStore the engine
// exercises through the deduplicator.
type passOppStore struct {
	mu     sync.Mutex
	nextID int
	byHash map[string]string
}

func (s *passOppStore) Upsert(_ context.Context, opp domain.Opportunity) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byHash == nil {
		s.byHash = make(map[string]string)
	}
	if id, ok := s.byHash[opp.Hash]; ok {
		return id, false, nil
	}
	s.nextID++
	id := "opp-" + strconv.Itoa(s.nextID)
	s.byHash[opp.Hash] = id
	return id, true, nil
}

func (s *passOppStore) GetByID(context.Context, string) (domain.Opportunity, error) {
	return domain.Opportunity{}, domain.ErrNotFound
}
func (s *passOppStore) ListRecent(context.Context, int) ([]domain.Opportunity, error) {
	return nil, nil
}
func (s *passOppStore) ListDetectedBefore(context.Context, time.Time, int) ([]domain.Opportunity, error) {
	return nil, nil
}
func (s *passOppStore) DeleteByIDs(context.Context, []string) (int64, error) { return 0, nil }

// passAlertStore counts enqueues and reopens; the rest of the queue lifecycle
// belongs to the worker tests.
type passAlertStore struct {
	mu       sync.Mutex
	enqueued int
	reopened int
}

func (s *passAlertStore) Enqueue(_ context.Context, _ string, userIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueued += len(userIDs)
	return len(userIDs), nil
}

func (s *passAlertStore) ClaimPending(context.Context, time.Time, time.Duration, int) ([]domain.Alert, error) {
	return nil, nil
}
func (s *passAlertStore) MarkSent(context.Context, string, time.Time, decimal.Decimal) error {
	return nil
}
func (s *passAlertStore) MarkFailed(context.Context, string, string) error { return nil }
func (s *passAlertStore) MarkDead(context.Context, string, string) error   { return nil }
func (s *passAlertStore) Reschedule(context.Context, string, int, time.Time, string) error {
	return nil
}
func (s *passAlertStore) ReopenImproved(context.Context, string, decimal.Decimal, decimal.Decimal, time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reopened++
	return 0, nil
}
func (s *passAlertStore) CountByStatus(context.Context) (map[domain.AlertStatus]int64, error) {
	return nil, nil
}
func (s *passAlertStore) DeleteTerminalBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type passSubStore struct {
	users []string
}

func (s *passSubStore) Upsert(context.Context, domain.Subscriber) error { return nil }
func (s *passSubStore) ListEligible(context.Context, decimal.Decimal) ([]domain.Subscriber, error) {
	subs := make([]domain.Subscriber, 0, len(s.users))
	for _, u := range s.users {
		subs = append(subs, domain.Subscriber{UserID: u, Subscribed: true})
	}
	return subs, nil
}

type passFixture struct {
	engine *Engine
	locks  *fakeLocks
	alerts *passAlertStore
	opps   *passOppStore
}

func newPassFixture(t *testing.T, groups []domain.CorrelationGroup, markets map[string][]domain.Market) *passFixture {
	t.Helper()
	return newPassFixtureStore(t, groups, &fakeMarketStore{byGroup: markets}, time.Second)
}

func newPassFixtureStore(t *testing.T, groups []domain.CorrelationGroup, store domain.MarketStore, groupTimeout time.Duration) *passFixture {
	t.Helper()

	logger := slog.Default()
	sc := New(store, nil, Config{
		SizeBucketsUSD: []decimal.Decimal{dec(100)},
		MaxGroupSize:   6,
		MaxQuoteAge:    2 * time.Minute,
	}, logger)

	opps := &passOppStore{}
	alerts := &passAlertStore{}
	locks := &fakeLocks{}
	dispatcher := alert.NewDispatcher(alerts, &passSubStore{users: []string{"u1", "u2"}}, dec(1), logger)

	engine := NewEngine(
		sc,
		&fakeGroupStore{groups: groups},
		&fakeFeeStore{fees: []domain.PlatformFee{{Platform: "polymarket"}, {Platform: "limitless"}}},
		dedup.New(opps, logger),
		dispatcher,
		locks,
		EngineConfig{
			Workers:      2,
			MaxGroups:    10,
			GroupTimeout: groupTimeout,
			LockTTL:      time.Minute,
		},
		logger,
	)
	return &passFixture{engine: engine, locks: locks, alerts: alerts, opps: opps}
}

// stallingMarketStore blocks group listings for one key until the caller's
// context expires, simulating a group scan that overruns its time budget.
type stallingMarketStore struct {
	fakeMarketStore
	slowKey string
}

func (s *stallingMarketStore) ListByGroupKey(ctx context.Context, key string) ([]domain.Market, error) {
	if key == s.slowKey {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.fakeMarketStore.ListByGroupKey(ctx, key)
}

func arbMarkets(group string) []domain.Market {
	return []domain.Market{
		market(group+"-m1", "polymarket", 0.40, 0.65),
		market(group+"-m2", "limitless", 0.45, 0.50),
	}
}

func TestRunPass_SkipsWhenLockHeld(t *testing.T) {
	fx := newPassFixture(t,
		[]domain.CorrelationGroup{testGroup},
		map[string][]domain.Market{"g": arbMarkets("g")},
	)
	fx.locks.held = true

	stats, err := fx.engine.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if stats.Groups != 0 || stats.Candidates != 0 {
		t.Fatalf("skipped pass did work: %+v", stats)
	}
}

func TestRunPass_CreatesAndDispatches(t *testing.T) {
	fx := newPassFixture(t,
		[]domain.CorrelationGroup{testGroup},
		map[string][]domain.Market{"g": arbMarkets("g")},
	)

	stats, err := fx.engine.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if stats.Groups != 1 {
		t.Errorf("groups = %d, want 1", stats.Groups)
	}
	if stats.Created != 1 {
		t.Errorf("created = %d, want 1", stats.Created)
	}
	if stats.Refreshed != 0 {
		t.Errorf("refreshed = %d, want 0", stats.Refreshed)
	}
	// Two eligible subscribers, one new opportunity.
	if stats.Enqueued != 2 {
		t.Errorf("enqueued = %d, want 2", stats.Enqueued)
	}
	if fx.locks.acquired != 1 {
		t.Errorf("lock acquired %d times, want 1", fx.locks.acquired)
	}
}

func TestRunPass_SecondPassRefreshes(t *testing.T) {
	fx := newPassFixture(t,
		[]domain.CorrelationGroup{testGroup},
		map[string][]domain.Market{"g": arbMarkets("g")},
	)

	if _, err := fx.engine.RunPass(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	stats, err := fx.engine.RunPass(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if stats.Created != 0 {
		t.Errorf("created = %d, want 0", stats.Created)
	}
	if stats.Refreshed != 1 {
		t.Errorf("refreshed = %d, want 1", stats.Refreshed)
	}
	if fx.alerts.reopened != 1 {
		t.Errorf("reopen checks = %d, want 1", fx.alerts.reopened)
	}
	if len(fx.opps.byHash) != 1 {
		t.Errorf("distinct opportunities = %d, want 1", len(fx.opps.byHash))
	}
}

func TestRunPass_ScansGroupsIndependently(t *testing.T) {
	groups := []domain.CorrelationGroup{
		{ID: "grp-1", GroupKey: "g1", Kind: domain.GroupKindBinary},
		{ID: "grp-2", GroupKey: "g2", Kind: domain.GroupKindBinary},
		{ID: "grp-3", GroupKey: "g3", Kind: domain.GroupKindBinary},
	}
	markets := map[string][]domain.Market{
		"g1": arbMarkets("g1"),
		"g2": arbMarkets("g2"),
		// g3 has no edge: both directions sum above 1.
		"g3": {
			market("g3-m1", "polymarket", 0.55, 0.55),
			market("g3-m2", "limitless", 0.55, 0.55),
		},
	}
	fx := newPassFixture(t, groups, markets)

	stats, err := fx.engine.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if stats.Groups != 3 {
		t.Errorf("groups = %d, want 3", stats.Groups)
	}
	if stats.Created != 2 {
		t.Errorf("created = %d, want 2", stats.Created)
	}
	if len(fx.opps.byHash) != 2 {
		t.Errorf("distinct opportunities = %d, want 2", len(fx.opps.byHash))
	}
}

func TestRunPass_AbandonsGroupOverTimeBudget(t *testing.T) {
	groups := []domain.CorrelationGroup{
		{ID: "grp-1", GroupKey: "g1", Kind: domain.GroupKindBinary},
		{ID: "grp-2", GroupKey: "g2", Kind: domain.GroupKindBinary},
	}
	store := &stallingMarketStore{
		fakeMarketStore: fakeMarketStore{byGroup: map[string][]domain.Market{"g2": arbMarkets("g2")}},
		slowKey:         "g1",
	}
	fx := newPassFixtureStore(t, groups, store, 50*time.Millisecond)

	stats, err := fx.engine.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if stats.Abandoned != 1 {
		t.Errorf("abandoned = %d, want 1", stats.Abandoned)
	}
	// The slow group is dropped for this pass only; the fast one still
	// produces its candidate.
	if stats.Created != 1 {
		t.Errorf("created = %d, want 1", stats.Created)
	}
}
