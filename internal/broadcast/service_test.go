package broadcast

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"shopbot/internal/store"
	"shopbot/internal/transport"
	"shopbot/pkg/logx"
)

// memJobs is an in-memory BroadcastStore recording lifecycle calls.
type memJobs struct {
	mu          sync.Mutex
	records     map[string]store.BroadcastRecord
	order       []string
	finalizeErr error
}

func newMemJobs() *memJobs {
	return &memJobs{records: make(map[string]store.BroadcastRecord)}
}

func (m *memJobs) Create(_ context.Context, rec store.BroadcastRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Status = store.StatusDraft
	rec.CreatedAt = time.Now().UTC()
	m.records[rec.ID] = rec
	m.order = append(m.order, rec.ID)
	return nil
}

func (m *memJobs) MarkSending(_ context.Context, id string, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return store.ErrNotFound
	}
	if rec.Status != store.StatusDraft {
		return errors.New("not a draft")
	}
	rec.Status = store.StatusSending
	rec.TotalCount = total
	m.records[id] = rec
	return nil
}

func (m *memJobs) Finalize(_ context.Context, id string, status store.BroadcastStatus, sent, blocked, failed int, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalizeErr != nil {
		return m.finalizeErr
	}
	rec, ok := m.records[id]
	if !ok {
		return store.ErrNotFound
	}
	if rec.Status == store.StatusSent || rec.Status == store.StatusFailed {
		return errors.New("already final")
	}
	rec.Status = status
	rec.SentCount = sent
	rec.BlockedCount = blocked
	rec.FailedCount = failed
	rec.CompletedAt = &completedAt
	m.records[id] = rec
	return nil
}

func (m *memJobs) List(context.Context, int) ([]store.BroadcastRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.BroadcastRecord, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, m.records[m.order[i]])
	}
	return out, nil
}

func (m *memJobs) Get(_ context.Context, id string) (store.BroadcastRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return store.BroadcastRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (m *memJobs) DeleteCompletedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (m *memJobs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *memJobs) only(t *testing.T) store.BroadcastRecord {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) != 1 {
		t.Fatalf("records = %d, want exactly 1", len(m.order))
	}
	return m.records[m.order[0]]
}

func testService(t *testing.T, recipients store.RecipientStore, jobs store.BroadcastStore, sender transport.Sender, cfg Config) *Service {
	t.Helper()
	return NewService(Deps{
		Recipients: recipients,
		Jobs:       jobs,
		Sender:     sender,
		Limiter:    rate.NewLimiter(rate.Inf, 1),
		Log:        logx.Nop(),
	}, cfg)
}

func TestSendValidation(t *testing.T) {
	t.Parallel()

	jobs := newMemJobs()
	svc := testService(t, &stubRecipients{}, jobs, newScriptSender(func(int64, int, bool) error { return nil }), Config{})

	tests := []struct {
		name string
		req  Request
	}{
		{"empty message", Request{Message: "   ", Audience: All()}},
		{"over length", Request{Message: strings.Repeat("x", MaxMessageLen+1), Audience: All()}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Send(context.Background(), tc.req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
		})
	}
	if jobs.count() != 0 {
		t.Errorf("records = %d, rejected requests must not persist", jobs.count())
	}
}

func TestSendRunsFullLifecycle(t *testing.T) {
	t.Parallel()

	tracked := &stubRecipients{all: []store.Recipient{{ID: 1}, {ID: 2}, {ID: 3}}}
	sender := newScriptSender(func(chatID int64, _ int, _ bool) error {
		if chatID == 2 {
			return transport.Blocked(errors.New("forbidden"))
		}
		return nil
	})
	jobs := newMemJobs()
	svc := testService(t, tracked, jobs, sender, Config{})

	res, err := svc.Send(context.Background(), Request{Title: " Promo ", Message: "hello", Audience: All()})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.SentCount != 2 || res.TotalTargeted != 3 {
		t.Errorf("result = %+v, want 2 sent of 3", res)
	}
	if res.ID == "" {
		t.Error("result carries no record id")
	}

	rec := jobs.only(t)
	if rec.Status != store.StatusSent {
		t.Errorf("status = %q, want %q", rec.Status, store.StatusSent)
	}
	if rec.Title != "Promo" {
		t.Errorf("title = %q, want trimmed %q", rec.Title, "Promo")
	}
	if rec.SentCount != 2 || rec.BlockedCount != 1 || rec.FailedCount != 0 || rec.TotalCount != 3 {
		t.Errorf("counts = %d/%d/%d of %d, want 2/1/0 of 3", rec.SentCount, rec.BlockedCount, rec.FailedCount, rec.TotalCount)
	}
	if rec.CompletedAt == nil {
		t.Error("CompletedAt not set on a final record")
	}
	if rec.Audience != "all" {
		t.Errorf("audience = %q, want %q", rec.Audience, "all")
	}
}

func TestSendZeroDeliveriesMarksFailed(t *testing.T) {
	t.Parallel()

	tracked := &stubRecipients{all: []store.Recipient{{ID: 1}, {ID: 2}}}
	sender := newScriptSender(func(int64, int, bool) error {
		return transport.Permanent(errors.New("rejected"))
	})
	jobs := newMemJobs()
	svc := testService(t, tracked, jobs, sender, Config{Retry: RetryPolicy{MaxAttempts: 1}})

	if _, err := svc.Send(context.Background(), Request{Message: "hello", Audience: All()}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if rec := jobs.only(t); rec.Status != store.StatusFailed {
		t.Errorf("status = %q, want %q", rec.Status, store.StatusFailed)
	}
}

func TestSendSurfacesFinalizeFailure(t *testing.T) {
	t.Parallel()

	tracked := &stubRecipients{all: []store.Recipient{{ID: 1}}}
	jobs := newMemJobs()
	jobs.finalizeErr = errors.New("disk full")
	svc := testService(t, tracked, jobs, newScriptSender(func(int64, int, bool) error { return nil }), Config{})

	_, err := svc.Send(context.Background(), Request{Message: "hello", Audience: All()})
	if err == nil || !errors.Is(err, jobs.finalizeErr) {
		t.Fatalf("err = %v, want the finalize error surfaced", err)
	}
	// The record is left in sending; the caller must know history is broken.
	if rec := jobs.only(t); rec.Status != store.StatusSending {
		t.Errorf("status = %q, want %q", rec.Status, store.StatusSending)
	}
}

func TestSendEmptyAudienceCreatesNoRecord(t *testing.T) {
	t.Parallel()

	jobs := newMemJobs()
	svc := testService(t, &stubRecipients{}, jobs, newScriptSender(func(int64, int, bool) error { return nil }), Config{})

	_, err := svc.Send(context.Background(), Request{Message: "hello", Audience: All()})
	if !errors.Is(err, ErrEmptyAudience) {
		t.Fatalf("err = %v, want ErrEmptyAudience", err)
	}
	if jobs.count() != 0 {
		t.Errorf("records = %d, empty audience must not persist", jobs.count())
	}
}

func TestTestSendLeavesNoTrace(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		sent []int64
	)
	sender := newScriptSender(func(chatID int64, _ int, _ bool) error {
		mu.Lock()
		sent = append(sent, chatID)
		mu.Unlock()
		return nil
	})
	jobs := newMemJobs()
	svc := testService(t, &stubRecipients{}, jobs, sender, Config{TestRecipients: []int64{100, 200}})

	res, err := svc.Test(context.Background(), Request{Message: "hello", IsTest: true})
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if res.SentCount != 2 || res.TotalTargeted != 2 {
		t.Errorf("result = %+v, want 2 of 2", res)
	}
	if res.ID != "" {
		t.Errorf("result id = %q, test sends must not carry one", res.ID)
	}
	if jobs.count() != 0 {
		t.Errorf("records = %d, test sends must not persist", jobs.count())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 2 {
		t.Errorf("delivered to %v, want the 2 configured test recipients", sent)
	}
}

func TestTestSendWithoutConfiguredRecipients(t *testing.T) {
	t.Parallel()

	svc := testService(t, &stubRecipients{}, newMemJobs(), newScriptSender(func(int64, int, bool) error { return nil }), Config{})
	_, err := svc.Test(context.Background(), Request{Message: "hello", IsTest: true})
	if !errors.Is(err, ErrEmptyAudience) {
		t.Fatalf("err = %v, want ErrEmptyAudience", err)
	}
}

func TestApplySwapsConfigForNextJob(t *testing.T) {
	t.Parallel()

	svc := testService(t, &stubRecipients{}, newMemJobs(), newScriptSender(func(int64, int, bool) error { return nil }), Config{})
	svc.Apply(Config{TestRecipients: []int64{7}})

	if got := svc.config().TestRecipients; len(got) != 1 || got[0] != 7 {
		t.Fatalf("TestRecipients = %v, want [7]", got)
	}
	// Defaults still fill unset fields.
	if svc.config().Workers == 0 {
		t.Error("Apply dropped worker default")
	}
}
