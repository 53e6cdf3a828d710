package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/icatproject/icat-gateway/internal/gwerrors"
	"github.com/icatproject/icat-gateway/internal/gwlog"
)

// Config bundles the pool's sizing and timing parameters; cmd/gateway
// translates gatewayconfig's PoolConfig/CatalogueConfig into this shape at
// bootstrap.
type Config struct {
	InitSize          int
	MaxSize           int
	BorrowTimeout     time.Duration
	RefreshThreshold  time.Duration
	MaintenancePeriod time.Duration
	CacheSize         int
}

// sessionClient is the subset of Client's wire operations the pool needs.
// Extracted as an interface so pool behaviour can be tested without a real
// catalogue.
type sessionClient interface {
	Login(ctx context.Context, creds Credentials) (string, time.Duration, error)
	Refresh(ctx context.Context, sessionID string) (time.Duration, error)
	Invalidate(ctx context.Context, sessionID string) error
}

// Pool owns N authenticated sessions for a single configured catalogue
// identity. The free list is guarded by mu; outstanding borrows are bounded
// by sem, a counting semaphore of capacity MaxSize. No component holds mu
// across a network call: a session is removed from the free list, mu
// released, then the catalogue call issued.
type Pool struct {
	client   sessionClient
	identity Credentials
	cfg      Config

	mu   sync.Mutex
	free []*Session

	sem chan struct{}

	authCache *authenticatorCache
	nextSeq   atomic.Uint64
}

// NewPool constructs a Pool against client for the given identity. Start
// must be called before the pool is used, to eagerly authenticate its
// initial sessions and launch the background maintenance task.
func NewPool(client *Client, identity Credentials, cfg Config) *Pool {
	return newPool(client, identity, cfg)
}

func newPool(client sessionClient, identity Credentials, cfg Config) *Pool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}
	return &Pool{
		client:    client,
		identity:  identity,
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.MaxSize),
		authCache: newAuthenticatorCache(cfg.CacheSize),
	}
}

// Start eagerly authenticates InitSize sessions and launches the background
// maintenance goroutine. The goroutine runs until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) error {
	for i := 0; i < p.cfg.InitSize && i < p.cfg.MaxSize; i++ {
		s, err := p.authenticate(ctx)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.free = append(p.free, s)
		p.mu.Unlock()
	}

	if p.cfg.MaintenancePeriod > 0 {
		go p.maintain(ctx)
	}
	return nil
}

func (p *Pool) maintain(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.MaintenancePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refreshIdleSessions(ctx)
		}
	}
}

func (p *Pool) refreshIdleSessions(ctx context.Context) {
	p.mu.Lock()
	pending := p.free
	p.free = nil
	p.mu.Unlock()

	var refreshed []*Session
	for _, s := range pending {
		if time.Until(s.expiresAt) >= p.cfg.RefreshThreshold {
			refreshed = append(refreshed, s)
			continue
		}
		lifetime, err := p.client.Refresh(ctx, s.ID)
		if err != nil {
			gwlog.LogWarning("dropping idle session that failed refresh: " + err.Error())
			continue
		}
		s.expiresAt = time.Now().Add(lifetime)
		refreshed = append(refreshed, s)
	}

	p.mu.Lock()
	p.free = append(p.free, refreshed...)
	p.mu.Unlock()
}

func (p *Pool) authenticate(ctx context.Context) (*Session, error) {
	id, lifetime, err := p.client.Login(ctx, p.identity)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	s := &Session{
		ID:        id,
		Identity:  p.identity,
		issuedAt:  now,
		expiresAt: now.Add(lifetime),
		seq:       p.nextSeq.Add(1),
	}
	p.authCache.put(p.identity, id)
	return s, nil
}

// Borrow returns an authenticated session, blocking up to cfg.BorrowTimeout
// if the pool is at capacity. If the returned session's remaining lifetime
// is below the refresh threshold it is refreshed out-of-line before being
// handed back.
func (p *Pool) Borrow(ctx context.Context) (*Session, error) {
	timer := time.NewTimer(p.cfg.BorrowTimeout)
	defer timer.Stop()

	select {
	case p.sem <- struct{}{}:
	case <-timer.C:
		return nil, gwerrors.NewPoolExhausted("borrow timed out waiting for a free session")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s, err := p.acquireOrCreate(ctx)
	if err != nil {
		<-p.sem
		return nil, err
	}

	if time.Until(s.expiresAt) < p.cfg.RefreshThreshold {
		lifetime, err := p.client.Refresh(ctx, s.ID)
		if err != nil {
			<-p.sem
			return nil, err
		}
		s.expiresAt = time.Now().Add(lifetime)
	}

	return s, nil
}

func (p *Pool) acquireOrCreate(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		s := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()
	return p.authenticate(ctx)
}

// Release returns s to the free list.
func (p *Pool) Release(s *Session) {
	p.mu.Lock()
	p.free = append(p.free, s)
	p.mu.Unlock()
	<-p.sem
}

// Invalidate drops s, best-effort logging the catalogue logout, for use
// when the catalogue has reported the session gone. ctx bounds only the
// logout call; invalidation always proceeds even if it fails.
func (p *Pool) Invalidate(ctx context.Context, s *Session) {
	if err := p.client.Invalidate(ctx, s.ID); err != nil {
		gwlog.LogWarning("invalidate: " + err.Error())
	}
	p.authCache.remove(s.Identity)
	<-p.sem
}
