package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"shopbot/pkg/logx"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "shopbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestTouchUpsertsAndFilters(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now()

	if err := db.Touch(ctx, 100, "alice", now.Add(-40*24*time.Hour)); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := db.Touch(ctx, 200, "bob", now.Add(-time.Hour)); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	// Second touch moves the interaction timestamp forward.
	if err := db.Touch(ctx, 100, "alice2", now); err != nil {
		t.Fatalf("Touch again: %v", err)
	}

	all, err := db.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}
	if all[0].ID != 100 || all[0].Username != "alice2" {
		t.Fatalf("unexpected first recipient: %+v", all[0])
	}

	recent, err := db.ActiveSince(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("ActiveSince: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len(recent) = %d, want 2 (touch moved 100 into the window)", len(recent))
	}

	recent, err = db.ActiveSince(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ActiveSince: %v", err)
	}
	if len(recent) != 0 {
		t.Fatalf("len(recent) = %d, want 0", len(recent))
	}
}

func TestBroadcastLifecycle(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()

	rec := BroadcastRecord{
		ID:       "job-1",
		Title:    "Sale",
		Message:  "20% off",
		Audience: "all",
		Status:   StatusDraft,
	}
	if err := db.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := db.MarkSending(ctx, "job-1", 3); err != nil {
		t.Fatalf("MarkSending: %v", err)
	}
	// draft -> sending is one-way.
	if err := db.MarkSending(ctx, "job-1", 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second MarkSending err = %v, want ErrNotFound", err)
	}

	if err := db.Finalize(ctx, "job-1", StatusSent, 2, 1, 0, time.Now()); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	got, err := db.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusSent || got.SentCount != 2 || got.BlockedCount != 1 || got.TotalCount != 3 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}

	// Final records are immutable.
	if err := db.Finalize(ctx, "job-1", StatusFailed, 0, 0, 0, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("re-finalize err = %v, want ErrNotFound", err)
	}
}

func TestFinalizeRejectsNonFinalStatus(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	if err := db.Finalize(context.Background(), "x", StatusSending, 0, 0, 0, time.Now()); err == nil {
		t.Fatal("expected error for non-final status")
	}
}

func TestListNewestFirst(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"a", "b", "c"} {
		rec := BroadcastRecord{
			ID:        id,
			Title:     id,
			Message:   "m",
			Audience:  "all",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.Create(ctx, rec); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}

	got, err := db.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestGetMissing(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	if _, err := db.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteCompletedBefore(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()

	old := BroadcastRecord{ID: "old", Title: "t", Message: "m", Audience: "all"}
	if err := db.Create(ctx, old); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := db.MarkSending(ctx, "old", 1); err != nil {
		t.Fatalf("MarkSending: %v", err)
	}
	if err := db.Finalize(ctx, "old", StatusSent, 1, 0, 0, time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	active := BroadcastRecord{ID: "active", Title: "t", Message: "m", Audience: "all"}
	if err := db.Create(ctx, active); err != nil {
		t.Fatalf("Create: %v", err)
	}

	n, err := db.DeleteCompletedBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteCompletedBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}
	if _, err := db.Get(ctx, "active"); err != nil {
		t.Fatalf("active record should survive: %v", err)
	}
}
