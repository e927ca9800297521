package alert

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predarb/predarb/internal/domain"
	"github.com/predarb/predarb/internal/notify"
)

type memAlertStore struct {
	mu     sync.Mutex
	alerts map[string]domain.Alert
}

func newMemAlertStore(alerts ...domain.Alert) *memAlertStore {
	s := &memAlertStore{alerts: make(map[string]domain.Alert)}
	for _, a := range alerts {
		s.alerts[a.ID] = a
	}
	return s
}

func (s *memAlertStore) get(id string) domain.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alerts[id]
}

func (s *memAlertStore) Enqueue(_ context.Context, oppID string, userIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, uid := range userIDs {
		key := uid + "/" + oppID
		if _, ok := s.alerts[key]; ok {
			continue
		}
		s.alerts[key] = domain.Alert{
			ID:            key,
			UserID:        uid,
			OpportunityID: oppID,
			Status:        domain.AlertStatusPending,
		}
		n++
	}
	return n, nil
}

func (s *memAlertStore) ClaimPending(_ context.Context, now time.Time, lease time.Duration, limit int) ([]domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Alert
	for id, a := range s.alerts {
		if len(out) >= limit {
			break
		}
		if a.Status != domain.AlertStatusPending || a.NextAttemptAt.After(now) {
			continue
		}
		a.NextAttemptAt = now.Add(lease)
		s.alerts[id] = a
		out = append(out, a)
	}
	return out, nil
}

func (s *memAlertStore) MarkSent(_ context.Context, id string, sentAt time.Time, value decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.alerts[id]
	a.Status = domain.AlertStatusSent
	a.SentAt = &sentAt
	a.LastValue = &value
	a.LastError = ""
	s.alerts[id] = a
	return nil
}

func (s *memAlertStore) MarkFailed(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.alerts[id]
	a.Status = domain.AlertStatusFailed
	a.LastError = reason
	s.alerts[id] = a
	return nil
}

func (s *memAlertStore) MarkDead(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.alerts[id]
	a.Status = domain.AlertStatusDead
	a.LastError = reason
	s.alerts[id] = a
	return nil
}

func (s *memAlertStore) Reschedule(_ context.Context, id string, attempts int, nextAt time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.alerts[id]
	a.Attempts = attempts
	a.NextAttemptAt = nextAt
	a.LastError = reason
	s.alerts[id] = a
	return nil
}

func (s *memAlertStore) ReopenImproved(_ context.Context, oppID string, newValue, minChange decimal.Decimal, nextAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, a := range s.alerts {
		if a.OpportunityID != oppID || a.Status != domain.AlertStatusSent || a.LastValue == nil {
			continue
		}
		if newValue.Sub(*a.LastValue).LessThan(minChange) {
			continue
		}
		a.Status = domain.AlertStatusPending
		a.Attempts = 0
		a.NextAttemptAt = nextAt
		s.alerts[id] = a
		n++
	}
	return n, nil
}

func (s *memAlertStore) CountByStatus(context.Context) (map[domain.AlertStatus]int64, error) {
	return nil, nil
}

func (s *memAlertStore) DeleteTerminalBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type memOppStore struct {
	opps map[string]domain.Opportunity
}

func (s *memOppStore) Upsert(context.Context, domain.Opportunity) (string, bool, error) {
	return "", false, nil
}
func (s *memOppStore) GetByID(_ context.Context, id string) (domain.Opportunity, error) {
	opp, ok := s.opps[id]
	if !ok {
		return domain.Opportunity{}, domain.ErrNotFound
	}
	return opp, nil
}
func (s *memOppStore) ListRecent(context.Context, int) ([]domain.Opportunity, error) {
	return nil, nil
}
func (s *memOppStore) ListDetectedBefore(context.Context, time.Time, int) ([]domain.Opportunity, error) {
	return nil, nil
}
func (s *memOppStore) DeleteByIDs(context.Context, []string) (int64, error) { return 0, nil }

// scriptedSender fails a fixed number of times before succeeding.
type scriptedSender struct {
	mu       sync.Mutex
	failures int
	err      error
	sent     []string
}

func (s *scriptedSender) SendTo(_ context.Context, chatID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return s.err
	}
	s.sent = append(s.sent, chatID)
	return nil
}

func (s *scriptedSender) Name() string { return "scripted" }

func testWorker(alerts domain.AlertStore, opps domain.OpportunityStore, sender notify.UserSender) *Worker {
	return NewWorker(alerts, opps, sender, WorkerConfig{
		PollInterval:   time.Millisecond,
		BatchLimit:     10,
		Lease:          time.Minute,
		AttemptTimeout: time.Second,
		Cooldown:       5 * time.Minute,
		Backoff:        Backoff{Base: 30 * time.Second, Cap: 10 * time.Minute, MaxAttempts: 3},
	}, slog.Default())
}

func testOpp(id string) domain.Opportunity {
	return domain.Opportunity{
		ID:   id,
		Type: domain.OppTypeDutchBook,
		Legs: []domain.Leg{
			{MarketID: "m1", Platform: "polymarket", Side: domain.SideYes, Price: decimal.NewFromFloat(0.40), Size: decimal.NewFromInt(100)},
		},
		Metrics: domain.Metrics{NetProfitUSD: decimal.NewFromInt(10)},
	}
}

func TestWorker_DeliversPendingAlert(t *testing.T) {
	alerts := newMemAlertStore(domain.Alert{
		ID: "a1", UserID: "u1", OpportunityID: "o1", Status: domain.AlertStatusPending,
	})
	opps := &memOppStore{opps: map[string]domain.Opportunity{"o1": testOpp("o1")}}
	sender := &scriptedSender{}

	w := testWorker(alerts, opps, sender)
	n, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("processed = %d, want 1", n)
	}

	a := alerts.get("a1")
	if a.Status != domain.AlertStatusSent {
		t.Errorf("status = %s, want sent", a.Status)
	}
	if a.LastValue == nil || !a.LastValue.Equal(decimal.NewFromInt(10)) {
		t.Error("last delivered value not recorded")
	}
	if len(sender.sent) != 1 || sender.sent[0] != "u1" {
		t.Errorf("sent to %v, want [u1]", sender.sent)
	}
}

func TestWorker_RetryableFailureBacksOff(t *testing.T) {
	alerts := newMemAlertStore(domain.Alert{
		ID: "a1", UserID: "u1", OpportunityID: "o1", Status: domain.AlertStatusPending,
	})
	opps := &memOppStore{opps: map[string]domain.Opportunity{"o1": testOpp("o1")}}
	sender := &scriptedSender{failures: 1, err: errors.New("http 500")}

	w := testWorker(alerts, opps, sender)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	a := alerts.get("a1")
	if a.Status != domain.AlertStatusPending {
		t.Errorf("status = %s, want pending", a.Status)
	}
	if a.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", a.Attempts)
	}
	if !a.NextAttemptAt.After(time.Now().Add(25 * time.Second)) {
		t.Errorf("next attempt %s not pushed out by backoff", a.NextAttemptAt)
	}
}

func TestWorker_DeadLetterAtAttemptCeiling(t *testing.T) {
	alerts := newMemAlertStore(domain.Alert{
		ID: "a1", UserID: "u1", OpportunityID: "o1",
		Status: domain.AlertStatusPending, Attempts: 2, // one retry left of 3
	})
	opps := &memOppStore{opps: map[string]domain.Opportunity{"o1": testOpp("o1")}}
	sender := &scriptedSender{failures: 1, err: errors.New("http 500")}

	w := testWorker(alerts, opps, sender)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	a := alerts.get("a1")
	if a.Status != domain.AlertStatusDead {
		t.Errorf("status = %s, want dead", a.Status)
	}
}

func TestWorker_PermanentFailure(t *testing.T) {
	alerts := newMemAlertStore(domain.Alert{
		ID: "a1", UserID: "u1", OpportunityID: "o1", Status: domain.AlertStatusPending,
	})
	opps := &memOppStore{opps: map[string]domain.Opportunity{"o1": testOpp("o1")}}
	sender := &scriptedSender{failures: 1, err: notify.Permanent(errors.New("bot blocked by user"))}

	w := testWorker(alerts, opps, sender)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	a := alerts.get("a1")
	if a.Status != domain.AlertStatusFailed {
		t.Errorf("status = %s, want failed (no retry for permanent errors)", a.Status)
	}
}

func TestWorker_MissingOpportunityFails(t *testing.T) {
	alerts := newMemAlertStore(domain.Alert{
		ID: "a1", UserID: "u1", OpportunityID: "gone", Status: domain.AlertStatusPending,
	})
	opps := &memOppStore{opps: map[string]domain.Opportunity{}}
	sender := &scriptedSender{}

	w := testWorker(alerts, opps, sender)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := alerts.get("a1").Status; got != domain.AlertStatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
	if len(sender.sent) != 0 {
		t.Error("nothing should be sent for a missing opportunity")
	}
}

func TestWorker_ReopenedAlertHonorsCooldown(t *testing.T) {
	sentAt := time.Now().UTC().Add(-time.Minute) // inside the 5m cooldown
	alerts := newMemAlertStore(domain.Alert{
		ID: "a1", UserID: "u1", OpportunityID: "o1",
		Status: domain.AlertStatusPending, SentAt: &sentAt,
	})
	opps := &memOppStore{opps: map[string]domain.Opportunity{"o1": testOpp("o1")}}
	sender := &scriptedSender{}

	w := testWorker(alerts, opps, sender)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	a := alerts.get("a1")
	if a.Status != domain.AlertStatusPending {
		t.Errorf("status = %s, want pending (waiting out cooldown)", a.Status)
	}
	if len(sender.sent) != 0 {
		t.Error("no delivery during cooldown")
	}
	want := sentAt.Add(5 * time.Minute)
	if !a.NextAttemptAt.Equal(want) {
		t.Errorf("next attempt = %s, want %s", a.NextAttemptAt, want)
	}
}
