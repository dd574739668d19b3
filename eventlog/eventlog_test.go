package eventlog

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vizionmakeit-commits/stockflow/dbopen"
)

func TestRecordAndRecent(t *testing.T) {
	db := dbopen.OpenMemory(t)
	now := time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)
	l, err := New(db, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	l.Record(ctx, Event{EventType: TypeTransactionQueued, EntityID: "txn_1", ActorID: "user-1", Success: true})
	now = now.Add(time.Minute)
	l.Record(ctx, Event{EventType: TypeSyncCompleted, Details: `{"synced":1}`, Success: true})

	events, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].EventType != TypeSyncCompleted {
		t.Fatalf("newest first violated: %+v", events[0])
	}
	if events[1].EntityID != "txn_1" || events[1].ActorID != "user-1" {
		t.Fatalf("event fields lost: %+v", events[1])
	}
	if events[0].EventID == "" {
		t.Fatal("event id not assigned")
	}
}

func TestRecentLimit(t *testing.T) {
	db := dbopen.OpenMemory(t)
	l, err := New(db)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		l.Record(ctx, Event{EventType: TypeTransactionSubmitted, Success: true})
	}
	events, err := l.Recent(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
}

func TestCleanup(t *testing.T) {
	db := dbopen.OpenMemory(t)
	now := time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)
	l, err := New(db, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	l.Record(ctx, Event{EventType: TypeTransactionSubmitted, Success: true})

	// An event 40 days in the past, past a 30-day retention window.
	old := now
	now = now.AddDate(0, 0, -40)
	l.Record(ctx, Event{EventType: TypeCacheRefreshed, Success: true})
	now = old

	removed, err := l.Cleanup(ctx, 30)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	events, _ := l.Recent(ctx, 10)
	if len(events) != 1 || events[0].EventType != TypeTransactionSubmitted {
		t.Fatalf("surviving events = %+v", events)
	}

	if n, err := l.Cleanup(ctx, 0); err != nil || n != 0 {
		t.Fatalf("zero retention should be a no-op, got %d, %v", n, err)
	}
}

func TestRecordFailureDoesNotPanic(t *testing.T) {
	db := dbopen.OpenMemory(t)
	l, err := New(db)
	if err != nil {
		t.Fatal(err)
	}
	db.Close()
	// Closed database: Record must swallow the error.
	l.Record(context.Background(), Event{EventType: TypeReportTriggered, Success: false})
}
