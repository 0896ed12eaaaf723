package infra

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/seenimoa/indexsignal/internal/config"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *clock { return &clock{t: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)} }

// storeContract exercises behaviour every Store backend must share.
func storeContract(t *testing.T, s Store, prefix string) {
	t.Helper()
	ctx := context.Background()
	key := prefix + "quote:NIFTY"

	if _, err := s.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("Get on empty store: expected ErrCacheMiss, got %v", err)
	}
	if err := s.Set(ctx, key, []byte("24150.5"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, key)
	if err != nil || string(got) != "24150.5" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get after Delete: expected ErrCacheMiss, got %v", err)
	}

	type payload struct {
		Symbol string  `json:"symbol"`
		Weight float64 `json:"weight"`
	}
	if err := SetJSON(ctx, s, prefix+"json", payload{"TCS", 0.04}, time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	var p payload
	if err := GetJSON(ctx, s, prefix+"json", &p); err != nil || p.Symbol != "TCS" || p.Weight != 0.04 {
		t.Errorf("GetJSON = %+v, %v", p, err)
	}
	_ = s.Delete(ctx, prefix+"json")
}

// ── Memory store ──

func TestMemoryStoreContract(t *testing.T) {
	storeContract(t, NewMemoryStore(0), "")
}

func TestMemoryStoreTTL(t *testing.T) {
	c := newClock()
	m := NewMemoryStore(0)
	m.now = c.now
	ctx := context.Background()

	_ = m.Set(ctx, "a", []byte("1"), 10*time.Second)
	_ = m.Set(ctx, "forever", []byte("2"), 0)
	c.advance(9 * time.Second)
	if _, err := m.Get(ctx, "a"); err != nil {
		t.Fatalf("entry expired early: %v", err)
	}
	c.advance(time.Second)
	if _, err := m.Get(ctx, "a"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("entry should expire at its TTL, got %v", err)
	}
	c.advance(24 * time.Hour)
	if _, err := m.Get(ctx, "forever"); err != nil {
		t.Errorf("zero TTL entry expired: %v", err)
	}
}

func TestMemoryStoreEviction(t *testing.T) {
	c := newClock()
	m := NewMemoryStore(2)
	m.now = c.now
	ctx := context.Background()

	_ = m.Set(ctx, "a", []byte("1"), time.Hour)
	_ = m.Set(ctx, "b", []byte("2"), time.Hour)
	_ = m.Set(ctx, "a", []byte("3"), time.Hour) // overwrite does not evict
	if m.Len() != 2 {
		t.Fatalf("Len = %d, want 2", m.Len())
	}
	_ = m.Set(ctx, "c", []byte("4"), time.Hour)
	if _, err := m.Get(ctx, "b"); !errors.Is(err, ErrCacheMiss) {
		t.Error("oldest insertion should be evicted")
	}
	if v, _ := m.Get(ctx, "a"); string(v) != "3" {
		t.Errorf("a = %q, want refreshed value 3", v)
	}

	// Expired entries are reclaimed before evicting live ones.
	_ = m.Set(ctx, "short", []byte("x"), time.Second)
	c.advance(2 * time.Second)
	_ = m.Set(ctx, "d", []byte("5"), time.Hour)
	if _, err := m.Get(ctx, "c"); err != nil {
		t.Errorf("live entry c evicted while an expired one existed: %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	m := NewMemoryStore(0)
	ctx := context.Background()
	buf := []byte("abc")
	_ = m.Set(ctx, "k", buf, 0)
	buf[0] = 'z'
	got, _ := m.Get(ctx, "k")
	got[1] = 'z'
	if again, _ := m.Get(ctx, "k"); string(again) != "abc" {
		t.Errorf("stored value mutated: %q", again)
	}
}

func TestMemoryStoreConcurrent(t *testing.T) {
	m := NewMemoryStore(64)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", (i*j)%80)
				_ = m.Set(ctx, key, []byte("v"), time.Minute)
				_, _ = m.Get(ctx, key)
			}
		}()
	}
	wg.Wait()
	if n := m.Len(); n > 64 {
		t.Errorf("Len = %d exceeds max entries", n)
	}
}

// ── Redis store ──

func TestRedisStoreContract(t *testing.T) {
	url := os.Getenv("INDEXSIGNAL_TEST_REDIS_URL")
	if url == "" {
		t.Skip("INDEXSIGNAL_TEST_REDIS_URL not set")
	}
	s, err := NewRedisStore(url, "indexsignal-test")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer s.Close()
	storeContract(t, s, fmt.Sprintf("%d:", time.Now().UnixNano()))
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url", ""); err == nil {
		t.Error("expected error for invalid redis URL")
	}
}

func TestNewStore(t *testing.T) {
	cfg := config.Default().Cache
	s, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("NewStore(memory): %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("default backend = %T, want *MemoryStore", s)
	}

	cfg.Backend = "none"
	s, _ = NewStore(cfg)
	_ = s.Set(context.Background(), "k", []byte("v"), time.Minute)
	if _, err := s.Get(context.Background(), "k"); !errors.Is(err, ErrCacheMiss) {
		t.Error("none backend should never hit")
	}
}

// ── Rate limiter ──

func TestRateLimiterBurstAndRefill(t *testing.T) {
	c := newClock()
	rl := NewRateLimiter(3, 3*time.Second)
	rl.now = c.now
	rl.lastRefill = c.now()

	for i := 0; i < 3; i++ {
		if !rl.TryAcquire() {
			t.Fatalf("token %d should be available", i)
		}
	}
	if rl.TryAcquire() {
		t.Fatal("bucket should be empty")
	}
	c.advance(time.Second)
	if !rl.TryAcquire() {
		t.Error("one token should refill per second")
	}
	c.advance(10 * time.Second)
	n := 0
	for rl.TryAcquire() {
		n++
	}
	if n != 3 {
		t.Errorf("refill should cap at burst size, got %d", n)
	}
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestNilRateLimiter(t *testing.T) {
	rl := PerSecond(0)
	if !rl.TryAcquire() || rl.Wait(context.Background()) != nil {
		t.Error("nil limiter should never block")
	}
}
