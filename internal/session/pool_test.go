package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClient struct {
	mu           sync.Mutex
	logins       int
	refreshes    int
	refreshFails bool
}

func (f *fakeClient) Login(ctx context.Context, creds Credentials) (string, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	return fmt.Sprintf("session-%d", f.logins), time.Hour, nil
}

func (f *fakeClient) Refresh(ctx context.Context, sessionID string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshFails {
		return 0, fmt.Errorf("refresh unavailable")
	}
	return time.Hour, nil
}

func (f *fakeClient) Invalidate(ctx context.Context, sessionID string) error {
	return nil
}

func testConfig(maxSize int) Config {
	return Config{
		InitSize:          0,
		MaxSize:           maxSize,
		BorrowTimeout:      200 * time.Millisecond,
		RefreshThreshold:  time.Minute,
		MaintenancePeriod: 0,
		CacheSize:         10,
	}
}

func TestPoolBorrowCreatesSessionWhenEmpty(t *testing.T) {
	fc := &fakeClient{}
	p := newPool(fc, Credentials{Mechanism: "simple", Username: "u"}, testConfig(2))

	s, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ID == "" {
		t.Fatal("expected a session ID")
	}
	if fc.logins != 1 {
		t.Fatalf("expected 1 login, got %d", fc.logins)
	}
}

func TestPoolReleaseReusesSession(t *testing.T) {
	fc := &fakeClient{}
	p := newPool(fc, Credentials{Mechanism: "simple", Username: "u"}, testConfig(2))

	s1, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Release(s1)

	s2, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s2.ID != s1.ID {
		t.Fatalf("expected session reuse, got new session %s != %s", s2.ID, s1.ID)
	}
	if fc.logins != 1 {
		t.Fatalf("expected exactly 1 login across borrow/release/borrow, got %d", fc.logins)
	}
}

func TestPoolBorrowTimesOutWhenExhausted(t *testing.T) {
	fc := &fakeClient{}
	p := newPool(fc, Credentials{Mechanism: "simple", Username: "u"}, testConfig(1))

	s1, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Release(s1)

	_, err = p.Borrow(context.Background())
	if err == nil {
		t.Fatal("expected PoolExhausted error")
	}
}

func TestPoolConcurrentBorrowReleaseLinearisable(t *testing.T) {
	fc := &fakeClient{}
	p := newPool(fc, Credentials{Mechanism: "simple", Username: "u"}, testConfig(4))

	const workers = 20
	const iterations = 50
	var outstanding atomic.Int64
	var maxObserved atomic.Int64

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				s, err := p.Borrow(context.Background())
				if err != nil {
					continue
				}
				n := outstanding.Add(1)
				for {
					cur := maxObserved.Load()
					if n <= cur || maxObserved.CompareAndSwap(cur, n) {
						break
					}
				}
				outstanding.Add(-1)
				p.Release(s)
			}
		}()
	}
	wg.Wait()

	if maxObserved.Load() > 4 {
		t.Fatalf("observed %d outstanding borrows, exceeding MaxSize 4", maxObserved.Load())
	}
	if outstanding.Load() != 0 {
		t.Fatalf("expected 0 outstanding after all goroutines finished, got %d", outstanding.Load())
	}
}

func TestPoolStartAuthenticatesInitSize(t *testing.T) {
	fc := &fakeClient{}
	cfg := testConfig(5)
	cfg.InitSize = 3
	p := newPool(fc, Credentials{Mechanism: "simple", Username: "u"}, cfg)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.logins != 3 {
		t.Fatalf("expected 3 eager logins, got %d", fc.logins)
	}
	if len(p.free) != 3 {
		t.Fatalf("expected 3 free sessions, got %d", len(p.free))
	}
}

func TestPoolBorrowRefreshesNearExpirySession(t *testing.T) {
	fc := &fakeClient{}
	cfg := testConfig(2)
	cfg.RefreshThreshold = time.Hour * 2 // always below threshold, so every borrow refreshes
	p := newPool(fc, Credentials{Mechanism: "simple", Username: "u"}, cfg)

	s, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Release(s)

	if _, err := p.Borrow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.refreshes == 0 {
		t.Fatal("expected at least one refresh when session is near expiry")
	}
}

func TestPoolInvalidateDropsSessionFromRotation(t *testing.T) {
	fc := &fakeClient{}
	p := newPool(fc, Credentials{Mechanism: "simple", Username: "u"}, testConfig(1))

	s, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Invalidate(context.Background(), s)

	s2, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s2.ID == s.ID {
		t.Fatal("expected a freshly authenticated session after invalidate")
	}
	if fc.logins != 2 {
		t.Fatalf("expected 2 logins (original + replacement), got %d", fc.logins)
	}
}
