package queue

import (
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vizionmakeit-commits/stockflow/dbopen"
	"github.com/vizionmakeit-commits/stockflow/localstore"
	"github.com/vizionmakeit-commits/stockflow/stock"
)

func testTx(item string) stock.Transaction {
	return stock.Transaction{
		Kind:        stock.KindEntry,
		OccurredAt:  time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC),
		ActorID:     "u1",
		Destination: "warehouse",
		ItemID:      item,
		Quantity:    2,
		Unit:        "bottle",
		Cost:        24,
	}
}

// queues returns a Queue over each store implementation; the queue's
// behavior must not depend on which one backs it.
func queues(t *testing.T) map[string]*Queue {
	t.Helper()
	db := dbopen.OpenMemory(t)
	sq, err := localstore.NewSQLite(db)
	if err != nil {
		t.Fatal(err)
	}
	return map[string]*Queue{
		"sqlite": New(sq),
		"memory": New(localstore.NewMemory(0)),
	}
}

func TestEnqueueAssignsBookkeeping(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			before := time.Now().UnixMilli()
			id, err := q.Enqueue(testTx("gin-750"))
			if err != nil {
				t.Fatal(err)
			}
			if id == "" {
				t.Fatal("empty id")
			}

			list, err := q.List()
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 1 {
				t.Fatalf("len = %d", len(list))
			}
			e := list[0]
			if e.ID != id || e.Attempts != 0 {
				t.Fatalf("entry: %+v", e)
			}
			if e.CreatedAt < before || e.CreatedAt > time.Now().UnixMilli() {
				t.Fatalf("created_at out of range: %d", e.CreatedAt)
			}
		})
	}
}

func TestFIFOOrder(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			var ids []string
			for _, item := range []string{"a", "b", "c", "d"} {
				id, err := q.Enqueue(testTx(item))
				if err != nil {
					t.Fatal(err)
				}
				ids = append(ids, id)
			}
			list, _ := q.List()
			if len(list) != 4 {
				t.Fatalf("len = %d", len(list))
			}
			for i, e := range list {
				if e.ID != ids[i] {
					t.Fatalf("position %d: got %s, want %s", i, e.ID, ids[i])
				}
			}
		})
	}
}

func TestDequeue(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			id1, _ := q.Enqueue(testTx("a"))
			id2, _ := q.Enqueue(testTx("b"))

			if err := q.Dequeue(id1); err != nil {
				t.Fatal(err)
			}
			list, _ := q.List()
			if len(list) != 1 || list[0].ID != id2 {
				t.Fatalf("after dequeue: %+v", list)
			}

			// Absent id is a no-op.
			if err := q.Dequeue("txn_missing"); err != nil {
				t.Fatal(err)
			}
			if n, _ := q.Count(); n != 1 {
				t.Fatalf("count = %d", n)
			}
		})
	}
}

func TestIncrementAttempts(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			id, _ := q.Enqueue(testTx("a"))

			for want := 1; want <= 3; want++ {
				n, err := q.IncrementAttempts(id)
				if err != nil {
					t.Fatal(err)
				}
				if n != want {
					t.Fatalf("attempts = %d, want %d", n, want)
				}
			}

			// The increment is persisted, not just in memory.
			list, _ := q.List()
			if list[0].Attempts != 3 {
				t.Fatalf("persisted attempts = %d", list[0].Attempts)
			}

			if n, err := q.IncrementAttempts("txn_missing"); err != nil || n != 0 {
				t.Fatalf("missing id: n=%d err=%v", n, err)
			}
		})
	}
}

func TestMoveToDeadLetter(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			id1, _ := q.Enqueue(testTx("a"))
			id2, _ := q.Enqueue(testTx("b"))

			if err := q.MoveToDeadLetter(id1, "retry ceiling reached"); err != nil {
				t.Fatal(err)
			}

			list, _ := q.List()
			if len(list) != 1 || list[0].ID != id2 {
				t.Fatalf("pending after move: %+v", list)
			}

			dead, err := q.DeadLetters()
			if err != nil {
				t.Fatal(err)
			}
			if len(dead) != 1 {
				t.Fatalf("dead letters = %d", len(dead))
			}
			if dead[0].ID != id1 || dead[0].Reason != "retry ceiling reached" || dead[0].DroppedAt == 0 {
				t.Fatalf("dead letter: %+v", dead[0])
			}

			// Absent id is a no-op.
			if err := q.MoveToDeadLetter("txn_missing", "x"); err != nil {
				t.Fatal(err)
			}
			dead, _ = q.DeadLetters()
			if len(dead) != 1 {
				t.Fatalf("dead letters after no-op = %d", len(dead))
			}
		})
	}
}

func TestPurgeDeadLetters(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			id, _ := q.Enqueue(testTx("a"))
			q.MoveToDeadLetter(id, "gone")
			if err := q.PurgeDeadLetters(); err != nil {
				t.Fatal(err)
			}
			dead, _ := q.DeadLetters()
			if len(dead) != 0 {
				t.Fatalf("dead letters after purge = %d", len(dead))
			}
		})
	}
}

func TestListSurvivesReopen(t *testing.T) {
	// Two Queue values over the same store see the same durable list.
	store := localstore.NewMemory(0)
	q1 := New(store)
	id, _ := q1.Enqueue(testTx("a"))

	q2 := New(store)
	list, err := q2.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != id {
		t.Fatalf("reopened queue: %+v", list)
	}
}
