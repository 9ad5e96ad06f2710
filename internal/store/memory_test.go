package store_test

import (
	"context"
	"testing"

	"DealMetrics/internal/store"
)

// testRow is a minimal Row for exercising the store contract.
type testRow struct {
	K string `json:"k"`
	C int64  `json:"c"`
	A int64  `json:"a"`
	V string `json:"v"`
}

func (r *testRow) Key() store.Key { return store.Key(r.K) }
func (r *testRow) Cursor() int64  { return r.C }
func (r *testRow) AsOf() int64    { return r.A }

func TestMemoryStore_AbsentKeyIsNil(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	row, err := st.GetLatest(ctx, "r", "unseen")
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if row != nil {
		t.Errorf("unseen key: got %+v, want nil", row)
	}

	row, err = st.GetAsOf(ctx, "r", "unseen", 100)
	if err != nil {
		t.Fatalf("get as of: %v", err)
	}
	if row != nil {
		t.Errorf("unseen key as-of: got %+v, want nil", row)
	}
}

func TestMemoryStore_LatestFollowsAppends(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	rows := []store.Row{
		&testRow{K: "k1", C: 1, A: 100, V: "first"},
		&testRow{K: "k1", C: 2, A: 200, V: "second"},
	}
	if err := st.Append(ctx, "r", rows); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := st.GetLatest(ctx, "r", "k1")
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if got.(*testRow).V != "second" {
		t.Errorf("latest: got %q, want second", got.(*testRow).V)
	}
}

func TestMemoryStore_AsOfBoundary(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	if err := st.Append(ctx, "r", []store.Row{
		&testRow{K: "k1", C: 1, A: 100, V: "early"},
		&testRow{K: "k1", C: 2, A: 200, V: "late"},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	cases := []struct {
		unix int64
		want string
	}{
		{99, ""},
		{100, "early"},
		{199, "early"},
		{200, "late"},
		{5000, "late"},
	}
	for _, c := range cases {
		got, err := st.GetAsOf(ctx, "r", "k1", c.unix)
		if err != nil {
			t.Fatalf("get as of %d: %v", c.unix, err)
		}
		if c.want == "" {
			if got != nil {
				t.Errorf("as of %d: got %+v, want nil", c.unix, got)
			}
			continue
		}
		if got == nil || got.(*testRow).V != c.want {
			t.Errorf("as of %d: got %+v, want %q", c.unix, got, c.want)
		}
	}
}

func TestMemoryStore_DuplicateCursorIsNoOp(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	if err := st.Append(ctx, "r", []store.Row{&testRow{K: "k1", C: 1, A: 100, V: "original"}}); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := st.Append(ctx, "r", []store.Row{&testRow{K: "k1", C: 1, A: 100, V: "rewrite"}}); err != nil {
		t.Fatalf("second append: %v", err)
	}

	if got := st.Len("r"); got != 1 {
		t.Fatalf("rows: got %d, want 1", got)
	}
	row, _ := st.GetLatest(ctx, "r", "k1")
	if row.(*testRow).V != "original" {
		t.Errorf("duplicate cursor overwrote the row: got %q", row.(*testRow).V)
	}
}

func TestMemoryStore_RollupsAreIsolated(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	if err := st.Append(ctx, "a", []store.Row{&testRow{K: "k1", C: 1, A: 100, V: "in-a"}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	row, err := st.GetLatest(ctx, "b", "k1")
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if row != nil {
		t.Errorf("rollup b leaked rollup a's row: %+v", row)
	}
}

func TestMemoryStore_KeysAreIsolated(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	if err := st.Append(ctx, "r", []store.Row{
		&testRow{K: "k1", C: 1, A: 100, V: "one"},
		&testRow{K: "k2", C: 5, A: 500, V: "two"},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	row, _ := st.GetLatest(ctx, "r", "k1")
	if row.(*testRow).V != "one" {
		t.Errorf("k1 latest: got %q, want one", row.(*testRow).V)
	}
	row, _ = st.GetLatest(ctx, "r", "k2")
	if row.(*testRow).V != "two" {
		t.Errorf("k2 latest: got %q, want two", row.(*testRow).V)
	}
}
