// Package ratelimit implements the per-endpoint sliding-window rate
// governor that fronts every call to the chat platform and the embedding
// provider (knowthis/spec.md §4.1).
package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"

	"knowthis/internal/metrics"
)

// Config is the admission policy for one (provider, endpoint) key.
type Config struct {
	Limit  int           // requests admitted per Window
	Window time.Duration // sliding window size, default 60s
}

// Governor owns one window per (provider, endpoint) key. Each window has its
// own mutex so unrelated endpoints never contend (spec §5: "one mutex per
// key; fine-grained").
type Governor struct {
	mu       sync.Mutex // guards windows map only
	windows  map[string]*window
	defaults Config
	perKey   map[string]Config
}

// New creates a Governor. defaultCfg applies to any key with no entry in
// perKey.
func New(defaultCfg Config, perKey map[string]Config) *Governor {
	if perKey == nil {
		perKey = map[string]Config{}
	}
	return &Governor{
		windows:  make(map[string]*window),
		defaults: defaultCfg,
		perKey:   perKey,
	}
}

func key(provider, endpoint string) string { return provider + ":" + endpoint }

func (g *Governor) windowFor(provider, endpoint string) *window {
	k := key(provider, endpoint)
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.windows[k]
	if !ok {
		cfg := g.defaults
		if c, ok := g.perKey[k]; ok {
			cfg = c
		}
		if cfg.Window == 0 {
			cfg.Window = 60 * time.Second
		}
		w = newWindow(cfg)
		g.windows[k] = w
	}
	return w
}

// Acquire blocks until (provider, endpoint) has capacity and any active
// cooldown has elapsed, then admits the call. It returns early with
// ctx.Err() if the context is cancelled while waiting.
func (g *Governor) Acquire(ctx context.Context, provider, endpoint string) error {
	start := time.Now()
	err := g.windowFor(provider, endpoint).acquire(ctx)
	metrics.GovernorWaitDuration.WithLabelValues(provider, endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	metrics.GovernorAdmissions.WithLabelValues(provider, endpoint).Inc()
	return nil
}

// NotifyRetryAfter records a server-issued retry-after hint for a key.
// cooldown_until is advanced, never retreated: max(existing, now+d).
func (g *Governor) NotifyRetryAfter(provider, endpoint string, d time.Duration) {
	g.windowFor(provider, endpoint).notifyRetryAfter(d)
	metrics.GovernorThrottles.WithLabelValues(provider, endpoint).Inc()
}

// window is one sliding-window counter plus a FIFO queue of parked waiters.
type window struct {
	mu            sync.Mutex
	limit         int
	span          time.Duration
	admitted      *list.List // of time.Time, oldest at Front
	cooldownUntil time.Time
	waiters       *list.List // of chan struct{}, oldest (first blocked) at Front
}

func newWindow(cfg Config) *window {
	return &window{
		limit:    cfg.Limit,
		span:     cfg.Window,
		admitted: list.New(),
		waiters:  list.New(),
	}
}

// nextWake returns the duration to wait before re-checking admission, or
// zero if admission should be attempted immediately.
func (w *window) nextWake(now time.Time) time.Duration {
	if now.Before(w.cooldownUntil) {
		return w.cooldownUntil.Sub(now)
	}
	if w.admitted.Len() >= w.limit {
		oldest := w.admitted.Front().Value.(time.Time)
		wait := w.span - now.Sub(oldest)
		if wait > 0 {
			return wait
		}
	}
	return 0
}

func (w *window) trim(now time.Time) {
	cutoff := now.Add(-w.span)
	for w.admitted.Len() > 0 {
		front := w.admitted.Front()
		if front.Value.(time.Time).Before(cutoff) {
			w.admitted.Remove(front)
			continue
		}
		break
	}
}

func (w *window) acquire(ctx context.Context) error {
	// Register as a waiter so admission stays FIFO across goroutines
	// blocked on the same key: each caller parks behind whoever arrived
	// first, and is only woken (via a send on its own buffered channel) once
	// it is at the front and capacity may exist.
	w.mu.Lock()
	myTurn := make(chan struct{}, 1)
	elem := w.waiters.PushBack(myTurn)
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.waiters.Remove(elem)
		w.mu.Unlock()
		w.wakeFront()
	}()

	for {
		w.mu.Lock()
		isFront := w.waiters.Front() == elem
		now := time.Now()
		w.trim(now)
		wait := w.nextWake(now)
		if isFront && wait == 0 {
			w.admitted.PushBack(now)
			w.mu.Unlock()
			return nil
		}
		w.mu.Unlock()

		if !isFront {
			// Not yet our turn: park until the waiter ahead leaves and
			// wakeFront nudges us.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-myTurn:
			}
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		case <-myTurn:
			timer.Stop()
		}
	}
}

// wakeFront nudges whichever waiter is now at the front of the queue so it
// re-checks admission promptly instead of waiting out its timer.
func (w *window) wakeFront() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if front := w.waiters.Front(); front != nil {
		ch := front.Value.(chan struct{})
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (w *window) notifyRetryAfter(d time.Duration) {
	w.mu.Lock()
	candidate := time.Now().Add(d)
	if candidate.After(w.cooldownUntil) {
		w.cooldownUntil = candidate
	}
	w.mu.Unlock()
	w.wakeFront()
}
