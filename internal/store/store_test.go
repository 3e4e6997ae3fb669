package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(MemoryDSN)
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestChatIDCanonical(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b, want string
	}{
		{"alice", "bob", "alice-bob"},
		{"bob", "alice", "alice-bob"},
		{"alice", "~", "~"},
		{"~", "bob", "~"},
		{"alice", "alice", "alice-alice"},
		{"Bob", "alice", "Bob-alice"}, // byte-wise comparison, uppercase sorts first
	}
	for _, tt := range tests {
		if got := ChatID(tt.a, tt.b); got != tt.want {
			t.Errorf("ChatID(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestChatIDSymmetric(t *testing.T) {
	t.Parallel()

	pairs := [][2]string{{"alice", "bob"}, {"zed", "amy"}, {"n1", "n2"}, {"~", "carol"}}
	for _, p := range pairs {
		if ChatID(p[0], p[1]) != ChatID(p[1], p[0]) {
			t.Errorf("ChatID not symmetric for %q, %q", p[0], p[1])
		}
	}
}

func TestAppendAndHistoryOrder(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()
	chat := ChatID("alice", "bob")

	for i, body := range []string{"one", "two", "three"} {
		sender := "alice"
		if i%2 == 1 {
			sender = "bob"
		}
		if err := st.Append(ctx, chat, sender, body); err != nil {
			t.Fatalf("append %q: %v", body, err)
		}
	}

	entries, err := st.History(ctx, chat, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	want := []Entry{{"alice", "one"}, {"bob", "two"}, {"alice", "three"}}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d: got %#v, want %#v", i, entries[i], want[i])
		}
	}
}

func TestHistorySharedBetweenDirections(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	if err := st.Append(ctx, ChatID("bob", "alice"), "bob", "hi"); err != nil {
		t.Fatalf("append: %v", err)
	}
	entries, err := st.History(ctx, ChatID("alice", "bob"), 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 1 || entries[0] != (Entry{Sender: "bob", Body: "hi"}) {
		t.Fatalf("unexpected entries: %#v", entries)
	}
}

func TestHistoryUnknownChatIsEmpty(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	entries, err := st.History(context.Background(), "alice-bob", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(entries))
	}
}

func TestHistoryLimitKeepsOldest(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := st.Append(ctx, "~", "alice", fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	entries, err := st.History(ctx, "~", 3)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i, e := range entries {
		if want := fmt.Sprintf("m%d", i); e.Body != want {
			t.Errorf("entry %d: got %q, want %q", i, e.Body, want)
		}
	}
}

func TestCounts(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	for _, chat := range []string{"alice-bob", "alice-bob", "~"} {
		if err := st.Append(ctx, chat, "alice", "x"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	msgs, err := st.MessageCount(ctx)
	if err != nil {
		t.Fatalf("message count: %v", err)
	}
	chats, err := st.ChatCount(ctx)
	if err != nil {
		t.Fatalf("chat count: %v", err)
	}
	if msgs != 3 || chats != 2 {
		t.Fatalf("got msgs=%d chats=%d, want 3 2", msgs, chats)
	}
}

func TestOpenFileBackedStore(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "data", "broker.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open file-backed store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	if err := st.Append(ctx, "alice-bob", "alice", "hello"); err != nil {
		t.Fatalf("append: %v", err)
	}
	entries, err := st.History(ctx, "alice-bob", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
}

func TestOpenEmptyDSNDefaultsToMemory(t *testing.T) {
	t.Parallel()

	st, err := Open("")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.Append(context.Background(), "~", "alice", "hi"); err != nil {
		t.Fatalf("append: %v", err)
	}
}
