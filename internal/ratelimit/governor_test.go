package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAcquire_BoundWithinWindow(t *testing.T) {
	g := New(Config{Limit: 10, Window: 100 * time.Millisecond}, nil)

	var admitted int
	var mu sync.Mutex
	var wg sync.WaitGroup

	start := time.Now()
	for i := 0; i < 11; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := g.Acquire(ctx, "p", "e"); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	mu.Lock()
	defer mu.Unlock()
	if admitted != 11 {
		t.Fatalf("expected all 11 eventually admitted, got %d", admitted)
	}
	// the 11th caller must have waited roughly one window out.
	if elapsed < 90*time.Millisecond {
		t.Fatalf("expected the 11th admission to wait near the window, elapsed=%v", elapsed)
	}
}

func TestNotifyRetryAfter_BlocksUntilDeadline(t *testing.T) {
	g := New(Config{Limit: 1000, Window: time.Minute}, nil)

	d := 80 * time.Millisecond
	g.NotifyRetryAfter("p", "e", d)

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.Acquire(ctx, "p", "e"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < d-10*time.Millisecond {
		t.Fatalf("acquire returned before retry-after elapsed: %v < %v", elapsed, d)
	}
}

func TestNotifyRetryAfter_NeverRetreats(t *testing.T) {
	g := New(Config{Limit: 1000, Window: time.Minute}, nil)

	g.NotifyRetryAfter("p", "e", 200*time.Millisecond)
	g.NotifyRetryAfter("p", "e", 50*time.Millisecond) // shorter: must not shrink the cooldown

	w := g.windowFor("p", "e")
	w.mu.Lock()
	until := w.cooldownUntil
	w.mu.Unlock()

	if time.Until(until) < 150*time.Millisecond {
		t.Fatalf("cooldown retreated: remaining=%v", time.Until(until))
	}
}
