package db

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(context.Background(), Config{Driver: DriverSQLite, Path: MemoryPath}, zap.NewNop())
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// fixedClock returns the same instant for every call so ordering falls back to ids.
func fixedClock() func() time.Time {
	at := time.UnixMilli(1_700_000_000_000)
	return func() time.Time { return at }
}

func strPtr(s string) *string { return &s }

func body(text string) map[string]string {
	return map[string]string{"content": text}
}

func TestQueue_EnqueueAssignsDefaults(t *testing.T) {
	q := NewQueue(openTestDB(t), zap.NewNop())
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "s1", nil, body("hello"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	msg, err := q.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if msg.SessionID != "s1" {
		t.Errorf("session = %s", msg.SessionID)
	}
	if msg.ThreadID != nil {
		t.Errorf("expected nil thread id, got %s", *msg.ThreadID)
	}
	if msg.RetryCount != 0 {
		t.Errorf("retry count = %d", msg.RetryCount)
	}
	if msg.LastError != nil {
		t.Errorf("expected nil last error, got %s", *msg.LastError)
	}
	if msg.CreatedAt == 0 {
		t.Error("created_at not set")
	}

	var decoded map[string]string
	if err := json.Unmarshal(msg.WebhookBody, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded["content"] != "hello" {
		t.Errorf("content = %q", decoded["content"])
	}
}

func TestQueue_DequeueIsFIFOAcrossSessions(t *testing.T) {
	q := NewQueue(openTestDB(t), zap.NewNop(), WithNowFunc(fixedClock()))
	ctx := context.Background()

	sessions := []string{"a", "b", "a", "c", "b"}
	var ids []int64
	for i, s := range sessions {
		id, err := q.Enqueue(ctx, s, nil, body(string(rune('0'+i))))
		if err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	got, err := q.Dequeue(ctx, 3)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(got))
	}
	for i, msg := range got {
		if msg.ID != ids[i] {
			t.Errorf("position %d: id = %d, want %d", i, msg.ID, ids[i])
		}
		if msg.SessionID != sessions[i] {
			t.Errorf("position %d: session = %s, want %s", i, msg.SessionID, sessions[i])
		}
	}
}

func TestQueue_DequeueOrdersByCreatedAtFirst(t *testing.T) {
	times := []time.Time{
		time.UnixMilli(2000),
		time.UnixMilli(1000),
	}
	i := 0
	clock := func() time.Time {
		at := times[i]
		i++
		return at
	}
	q := NewQueue(openTestDB(t), zap.NewNop(), WithNowFunc(clock))
	ctx := context.Background()

	later, _ := q.Enqueue(ctx, "s", nil, body("later"))
	earlier, _ := q.Enqueue(ctx, "s", nil, body("earlier"))

	got, err := q.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(got) != 2 || got[0].ID != earlier || got[1].ID != later {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestQueue_DequeueIsNonDestructive(t *testing.T) {
	q := NewQueue(openTestDB(t), zap.NewNop())
	ctx := context.Background()

	id, _ := q.Enqueue(ctx, "s1", nil, body("x"))

	for i := 0; i < 2; i++ {
		got, err := q.Dequeue(ctx, 1)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if len(got) != 1 || got[0].ID != id {
			t.Fatalf("dequeue %d: expected row %d, got %+v", i, id, got)
		}
	}
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q := NewQueue(openTestDB(t), zap.NewNop())

	got, err := q.Dequeue(context.Background(), 1)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty queue, got %d rows", len(got))
	}
}

func TestQueue_DeleteIsIdempotent(t *testing.T) {
	q := NewQueue(openTestDB(t), zap.NewNop())
	ctx := context.Background()

	id, _ := q.Enqueue(ctx, "s1", nil, body("x"))
	keep, _ := q.Enqueue(ctx, "s1", nil, body("y"))

	if err := q.Delete(ctx, id); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := q.Delete(ctx, id); err != nil {
		t.Fatalf("second delete: %v", err)
	}

	count, _ := q.Count(ctx)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	if _, err := q.Get(ctx, keep); err != nil {
		t.Fatalf("other row should survive: %v", err)
	}
	if _, err := q.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueue_UpdateThreadIDConverges(t *testing.T) {
	q := NewQueue(openTestDB(t), zap.NewNop())
	ctx := context.Background()

	first, _ := q.Enqueue(ctx, "s", nil, body("b1"))
	second, _ := q.Enqueue(ctx, "s", nil, body("b2"))
	preassigned, _ := q.Enqueue(ctx, "s", strPtr("T2"), body("b3"))
	other, _ := q.Enqueue(ctx, "other", nil, body("b4"))

	patched, err := q.UpdateThreadID(ctx, "s", "T")
	if err != nil {
		t.Fatalf("UpdateThreadID: %v", err)
	}
	if patched != 2 {
		t.Errorf("patched = %d, want 2", patched)
	}

	for _, id := range []int64{first, second} {
		msg, _ := q.Get(ctx, id)
		if msg.ThreadID == nil || *msg.ThreadID != "T" {
			t.Errorf("row %d: expected thread T, got %v", id, msg.ThreadID)
		}
	}

	msg, _ := q.Get(ctx, preassigned)
	if msg.ThreadID == nil || *msg.ThreadID != "T2" {
		t.Errorf("pre-assigned row changed: %v", msg.ThreadID)
	}

	msg, _ = q.Get(ctx, other)
	if msg.ThreadID != nil {
		t.Errorf("other session row changed: %v", *msg.ThreadID)
	}
}

func TestQueue_UpdateRetryCount(t *testing.T) {
	q := NewQueue(openTestDB(t), zap.NewNop())
	ctx := context.Background()

	id, _ := q.Enqueue(ctx, "s", nil, body("x"))

	for attempt := 1; attempt <= 5; attempt++ {
		if err := q.UpdateRetryCount(ctx, id, attempt, "boom"); err != nil {
			t.Fatalf("UpdateRetryCount: %v", err)
		}
		msg, _ := q.Get(ctx, id)
		if msg.RetryCount != attempt {
			t.Errorf("retry count = %d, want %d", msg.RetryCount, attempt)
		}
		if msg.LastError == nil || *msg.LastError != "boom" {
			t.Errorf("last error = %v", msg.LastError)
		}
	}
}

func TestQueue_Count(t *testing.T) {
	q := NewQueue(openTestDB(t), zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		q.Enqueue(ctx, "s", nil, body("x"))
	}

	count, err := q.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 4 {
		t.Fatalf("count = %d, want 4", count)
	}
}

func TestQueue_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	first, err := New(ctx, Config{Path: path}, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id, err := NewQueue(first, zap.NewNop()).Enqueue(ctx, "s", strPtr("T"), body("persist me"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	first.Close()

	second, err := New(ctx, Config{Path: path}, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	got, err := NewQueue(second, zap.NewNop()).Dequeue(ctx, 1)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(got) != 1 || got[0].ID != id {
		t.Fatalf("expected row %d after reopen, got %+v", id, got)
	}
	if got[0].ThreadID == nil || *got[0].ThreadID != "T" {
		t.Errorf("thread id lost across reopen")
	}
}

func TestNew_UnsupportedDriver(t *testing.T) {
	_, err := New(context.Background(), Config{Driver: "mysql"}, zap.NewNop())
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	lite := &DB{driver: DriverSQLite}

	query := "UPDATE t SET a = ? WHERE b = ? AND c = ?"
	if got := pg.rebind(query); got != "UPDATE t SET a = $1 WHERE b = $2 AND c = $3" {
		t.Errorf("postgres rebind = %q", got)
	}
	if got := lite.rebind(query); got != query {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}

func TestSchema(t *testing.T) {
	for _, driver := range []string{DriverSQLite, DriverPostgres} {
		ddl, err := Schema(driver)
		if err != nil {
			t.Fatalf("%s: %v", driver, err)
		}
		if len(ddl) != 2 {
			t.Errorf("%s: expected table and index, got %d statements", driver, len(ddl))
		}
	}
	if _, err := Schema("mysql"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
