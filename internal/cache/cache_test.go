package cache

import (
	"errors"
	"testing"
	"time"
)

func TestCacheSetGet(t *testing.T) {
	c := New[string](Config{TTL: time.Minute, MaxSize: 10})

	c.Set("a", "1")
	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}
	if _, ok := c.Get("b"); ok {
		t.Fatal("expected miss for unknown key")
	}

	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Fatalf("stats = %d hits, %d misses", hits, misses)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := New[int](Config{TTL: time.Minute, MaxSize: 10})

	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }

	c.Set("a", 42)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected hit before expiry")
	}

	current = current.Add(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected miss after expiry")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not removed, len=%d", c.Len())
	}
}

func TestCacheEvictsOldestInserted(t *testing.T) {
	c := New[int](Config{TTL: time.Hour, MaxSize: 2})

	c.Set("first", 1)
	c.Set("second", 2)

	// Touching "first" must not protect it: eviction is insertion-order,
	// not LRU.
	if _, ok := c.Get("first"); !ok {
		t.Fatal("expected hit for first")
	}

	c.Set("third", 3)

	if _, ok := c.Get("first"); ok {
		t.Fatal("oldest-inserted entry should have been evicted")
	}
	if _, ok := c.Get("second"); !ok {
		t.Fatal("second entry should survive")
	}
	if _, ok := c.Get("third"); !ok {
		t.Fatal("third entry should survive")
	}
}

func TestCacheGetOrCompute(t *testing.T) {
	c := New[string](Config{TTL: time.Minute, MaxSize: 10})

	calls := 0
	compute := func() (string, error) {
		calls++
		return "value", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrCompute("k", compute)
		if err != nil {
			t.Fatalf("GetOrCompute: %v", err)
		}
		if v != "value" {
			t.Fatalf("GetOrCompute = %q", v)
		}
	}
	if calls != 1 {
		t.Fatalf("compute called %d times, want 1", calls)
	}

	wantErr := errors.New("boom")
	_, err := c.GetOrCompute("other", func() (string, error) { return "", wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected compute error, got %v", err)
	}
	if _, ok := c.Get("other"); ok {
		t.Fatal("failed compute must not be cached")
	}
}
