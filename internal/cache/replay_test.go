package cache

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/oriys/pulsar/internal/kv"
)

func TestReplay_NeverCalled(t *testing.T) {
	store := kv.NewMemoryStore()
	defer store.Close()

	var buf bytes.Buffer
	if err := Replay(context.Background(), store, "test.unused", &buf); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	want := "test.unused was called 0 times:\n"
	if buf.String() != want {
		t.Fatalf("expected %q, got %q", want, buf.String())
	}
}

func TestReplay_Format(t *testing.T) {
	store := kv.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	identity := "Cache.Store"
	for _, in := range []string{"Hello", "42"} {
		if err := store.RPush(ctx, identity+inputsSuffix, []byte(in)); err != nil {
			t.Fatalf("RPush failed: %v", err)
		}
	}
	for _, out := range []string{"key-1", "key-2"} {
		if err := store.RPush(ctx, identity+outputsSuffix, []byte(out)); err != nil {
			t.Fatalf("RPush failed: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := Replay(ctx, store, identity, &buf); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	want := "Cache.Store was called 2 times:\n" +
		"Cache.Store(*Hello) -> key-1\n" +
		"Cache.Store(*42) -> key-2\n"
	if buf.String() != want {
		t.Fatalf("expected report:\n%s\ngot:\n%s", want, buf.String())
	}
}

func TestReplay_TruncatesMismatchedLists(t *testing.T) {
	store := kv.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	identity := "test.partial"
	for _, in := range []string{"a", "b", "c"} {
		if err := store.RPush(ctx, identity+inputsSuffix, []byte(in)); err != nil {
			t.Fatalf("RPush failed: %v", err)
		}
	}
	if err := store.RPush(ctx, identity+outputsSuffix, []byte("only one")); err != nil {
		t.Fatalf("RPush failed: %v", err)
	}

	var buf bytes.Buffer
	if err := Replay(ctx, store, identity, &buf); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if lines[0] != "test.partial was called 3 times:" {
		t.Fatalf("expected header to count inputs, got %q", lines[0])
	}
	if len(lines) != 2 {
		t.Fatalf("expected 1 replay line after the header, got %d", len(lines)-1)
	}
	if lines[1] != "test.partial(*a) -> only one" {
		t.Fatalf("unexpected replay line: %q", lines[1])
	}
}

func TestReplay_AfterInstrumentedCalls(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	values := []any{"Hello", 42}
	keys := make([]string, 0, len(values))
	for _, v := range values {
		key, err := c.Store(ctx, v)
		if err != nil {
			t.Fatalf("Store failed: %v", err)
		}
		keys = append(keys, key)
	}

	var buf bytes.Buffer
	if err := Replay(ctx, c.Underlying(), StoreIdentity, &buf); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	report := buf.String()
	if !strings.HasPrefix(report, "Cache.Store was called 2 times:\n") {
		t.Fatalf("unexpected header in report:\n%s", report)
	}
	for i, v := range values {
		line := fmt.Sprintf("Cache.Store(*%v) -> %s\n", v, keys[i])
		if !strings.Contains(report, line) {
			t.Fatalf("expected report to contain %q, got:\n%s", line, report)
		}
	}
}
