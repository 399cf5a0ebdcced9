// Package transport provides a reusable-channel connection pool and a
// network-state supervisor. Generalizes the teacher's one-shot
// defaultHTTPClient/transferHTTPClient construction in root.go into a real
// pool keyed by server address with the lifecycle fields of spec.md §4.6,
// and borrows internal/driveops/transfer_manager.go's semaphore-gating
// pattern for bounded concurrent acquisition.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Channel is a reusable transport connection. Implementations wrap an
// actual wire connection (see internal/rpcconn); the pool only needs to
// know how to health-check and close one.
type Channel interface {
	Ping(ctx context.Context) error
	Close() error
}

// Dialer creates a new Channel to a server address.
type Dialer func(ctx context.Context, addr string) (Channel, error)

// PoolConfig controls acquisition, idle pruning, and health-check cadence.
type PoolConfig struct {
	MaxIdle             int
	AcquireTimeout      time.Duration
	ConnectionTimeout   time.Duration
	MaxIdleTime         time.Duration
	MaxLifetime         time.Duration
	HealthCheckInterval time.Duration
}

// DefaultPoolConfig matches spec.md §7's stated defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdle:             16,
		AcquireTimeout:      5 * time.Second,
		ConnectionTimeout:   10 * time.Second,
		MaxIdleTime:         5 * time.Minute,
		MaxLifetime:         30 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// ErrAcquireTimeout is returned by Acquire when no channel becomes
// available (idle or newly dialed) before the pool's AcquireTimeout.
var ErrAcquireTimeout = errors.New("transport: acquire timed out")

// entry wraps a Channel with the lifecycle fields spec.md §4.6 names:
// created-at, last-used, in-use, use-count.
type entry struct {
	channel  Channel
	created  time.Time
	lastUsed time.Time
	inUse    bool
	useCount int
}

// Pool manages reusable Channels to a single server address, bounding
// concurrent acquisition with a semaphore sized to MaxIdle and pruning
// channels that exceed MaxIdleTime or MaxLifetime.
type Pool struct {
	addr   string
	dialer Dialer
	config PoolConfig
	logger *slog.Logger

	mu      sync.Mutex
	entries []*entry
	sem     chan struct{}
}

// NewPool constructs a Pool for one server address.
func NewPool(addr string, dialer Dialer, config PoolConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		addr:   addr,
		dialer: dialer,
		config: config,
		logger: logger,
		sem:    make(chan struct{}, config.MaxIdle),
	}
}

// Acquire returns a healthy channel: an idle one if available, otherwise
// a newly dialed one, subject to the pool's AcquireTimeout.
func (p *Pool) Acquire(ctx context.Context) (Channel, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.AcquireTimeout)
	defer cancel()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ErrAcquireTimeout
	}

	p.pruneExpired()

	if ch := p.takeIdle(); ch != nil {
		return ch, nil
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, p.config.ConnectionTimeout)
	defer dialCancel()

	ch, err := p.dialer(dialCtx, p.addr)
	if err != nil {
		<-p.sem
		return nil, fmt.Errorf("transport: dialing %s: %w", p.addr, err)
	}

	now := time.Now()

	p.mu.Lock()
	p.entries = append(p.entries, &entry{channel: ch, created: now, lastUsed: now, inUse: true, useCount: 1})
	p.mu.Unlock()

	return ch, nil
}

// Release returns ch to the idle set unless it has expired or is not one
// of the pool's entries, in which case it is closed.
func (p *Pool) Release(ch Channel) {
	p.mu.Lock()

	var e *entry
	for _, candidate := range p.entries {
		if candidate.channel == ch {
			e = candidate
			break
		}
	}

	if e == nil {
		p.mu.Unlock()
		<-p.sem
		_ = ch.Close()

		return
	}

	expired := p.expired(e)
	if !expired {
		e.inUse = false
		e.lastUsed = time.Now()
	} else {
		p.removeLocked(e)
	}

	p.mu.Unlock()

	<-p.sem

	if expired {
		_ = ch.Close()
	}
}

// takeIdle removes and returns the most-recently-used healthy idle entry,
// if any. Caller must hold the pool's semaphore slot already.
func (p *Pool) takeIdle() Channel {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *entry
	for _, e := range p.entries {
		if e.inUse {
			continue
		}

		if best == nil || e.lastUsed.After(best.lastUsed) {
			best = e
		}
	}

	if best == nil {
		return nil
	}

	best.inUse = true
	best.useCount++

	return best.channel
}

// pruneExpired closes and drops any idle entry past MaxIdleTime or
// MaxLifetime, run opportunistically on every Acquire and periodically by
// Pool.RunHealthChecks.
func (p *Pool) pruneExpired() {
	p.mu.Lock()
	var stale []*entry

	kept := p.entries[:0]
	for _, e := range p.entries {
		if !e.inUse && p.expired(e) {
			stale = append(stale, e)
			continue
		}

		kept = append(kept, e)
	}
	p.entries = kept
	p.mu.Unlock()

	for _, e := range stale {
		_ = e.channel.Close()
	}
}

func (p *Pool) expired(e *entry) bool {
	now := time.Now()
	return now.Sub(e.lastUsed) > p.config.MaxIdleTime || now.Sub(e.created) > p.config.MaxLifetime
}

func (p *Pool) removeLocked(target *entry) {
	kept := p.entries[:0]
	for _, e := range p.entries {
		if e != target {
			kept = append(kept, e)
		}
	}

	p.entries = kept
}

// RunHealthChecks runs a background loop, every HealthCheckInterval,
// health-probing idle channels and pruning unhealthy or expired ones.
// Blocks until ctx is canceled.
func (p *Pool) RunHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.healthCheckOnce(ctx)
		}
	}
}

func (p *Pool) healthCheckOnce(ctx context.Context) {
	p.mu.Lock()
	candidates := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		if !e.inUse {
			candidates = append(candidates, e)
		}
	}
	p.mu.Unlock()

	for _, e := range candidates {
		probeCtx, cancel := context.WithTimeout(ctx, p.config.ConnectionTimeout)
		err := e.channel.Ping(probeCtx)
		cancel()

		if err != nil {
			p.logger.Warn("transport: idle channel failed health probe, dropping", "addr", p.addr, "error", err)

			p.mu.Lock()
			p.removeLocked(e)
			p.mu.Unlock()

			_ = e.channel.Close()
		}
	}

	p.pruneExpired()
}

// Close closes every channel in the pool, idle or in-use.
func (p *Pool) Close() error {
	p.mu.Lock()
	entries := p.entries
	p.entries = nil
	p.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		if err := e.channel.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Manager memoizes one Pool per server address, per spec.md §4.6's "pool
// manager memoizes pools per server address (double-checked read-then-write)".
type Manager struct {
	mu     sync.RWMutex
	pools  map[string]*Pool
	dialer Dialer
	config PoolConfig
	logger *slog.Logger
}

// NewManager constructs a Manager that lazily dials pools with dialer.
func NewManager(dialer Dialer, config PoolConfig, logger *slog.Logger) *Manager {
	return &Manager{
		pools:  make(map[string]*Pool),
		dialer: dialer,
		config: config,
		logger: logger,
	}
}

// PoolFor returns the memoized Pool for addr, creating one on first use.
func (m *Manager) PoolFor(addr string) *Pool {
	m.mu.RLock()
	p, ok := m.pools[addr]
	m.mu.RUnlock()

	if ok {
		return p
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pools[addr]; ok {
		return p
	}

	p = NewPool(addr, m.dialer, m.config, m.logger)
	m.pools[addr] = p

	return p
}

// CloseAll closes every pool the Manager has created.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*Pool)
	m.mu.Unlock()

	var firstErr error
	for _, p := range pools {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
