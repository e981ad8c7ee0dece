package offline

import (
	"context"
	"encoding/json"
	"testing"
)

func TestMemoryStoreOrdering(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	for _, url := range []string{"/api/v1/bookmarks", "/api/v1/bookmarks/7", "/api/v1/bookmarks"} {
		if _, err := store.Append(ctx, Operation{URL: url, Method: "POST"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	ops, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("expected 3 pending operations, got %d", len(ops))
	}
	for i, op := range ops {
		if op.ID != uint64(i+1) {
			t.Fatalf("expected insertion-order ids, got %v", ops)
		}
	}

	if err := store.Delete(ctx, 2); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ops, err = store.List(ctx)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(ops) != 2 || ops[0].ID != 1 || ops[1].ID != 3 {
		t.Fatalf("unexpected remaining operations: %v", ops)
	}
}

func TestLevelDBStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewLevelDB(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	payload := json.RawMessage(`{"articleId":"42"}`)
	id, err := store.Append(ctx, Operation{URL: "/api/v1/bookmarks", Method: "POST", Data: payload})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected first id 1, got %d", id)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Simulated worker restart: reopen and expect the record plus a
	// continuing sequence.
	reopened, err := NewLevelDB(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	ops, err := reopened.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("expected 1 pending operation after reopen, got %d", len(ops))
	}
	if ops[0].ID != 1 || ops[0].URL != "/api/v1/bookmarks" || string(ops[0].Data) != `{"articleId":"42"}` {
		t.Fatalf("unexpected record after reopen: %+v", ops[0])
	}

	next, err := reopened.Append(ctx, Operation{URL: "/api/v1/bookmarks", Method: "DELETE"})
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if next != 2 {
		t.Fatalf("expected sequence to continue at 2, got %d", next)
	}
}

func TestLevelDBStoreDeleteWhole(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewLevelDB(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	a, _ := store.Append(ctx, Operation{URL: "/a", Method: "POST"})
	b, _ := store.Append(ctx, Operation{URL: "/b", Method: "POST"})
	c, _ := store.Append(ctx, Operation{URL: "/c", Method: "POST"})

	if err := store.Delete(ctx, b); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ops, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ops) != 2 || ops[0].ID != a || ops[1].ID != c {
		t.Fatalf("unexpected remaining operations: %v", ops)
	}

	n, err := store.Len(ctx)
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected len 2, got %d", n)
	}
}
