package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	calls := 0
	fn := func() error { calls++; return nil }

	if ran, err := m.Once(ctx, "k", time.Hour, fn); err != nil || !ran {
		t.Fatalf("первый вызов должен выполниться: %v %v", ran, err)
	}
	if ran, _ := m.Once(ctx, "k", time.Hour, fn); ran {
		t.Fatalf("повторный вызов не должен выполняться")
	}
	if calls != 1 {
		t.Fatalf("ожидали один вызов, получили %d", calls)
	}

	failing := func() error { return errors.New("fail") }
	if _, err := m.Once(ctx, "f", time.Hour, failing); err == nil {
		t.Fatalf("ожидали ошибку")
	}
	if ran, _ := m.Once(ctx, "f", time.Hour, fn); !ran {
		t.Fatalf("после ошибки ключ должен сниматься")
	}
}

func TestMemoryCounterExpires(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	for range 3 {
		if _, err := m.Incr(ctx, "c", time.Minute); err != nil {
			t.Fatalf("incr: %v", err)
		}
	}
	if n, _ := m.Count(ctx, "c"); n != 3 {
		t.Fatalf("ожидали 3, получили %d", n)
	}
	now = now.Add(2 * time.Minute)
	if n, _ := m.Count(ctx, "c"); n != 0 {
		t.Fatalf("счётчик должен истечь, получили %d", n)
	}
}
