package execution

import (
	"context"
	"sync"
	"time"
)

// CooldownStore records "last accepted" per instrument. TryAcquire must
// check and record in one step: true means the caller is admitted and the
// window now starts from this call.
type CooldownStore interface {
	TryAcquire(ctx context.Context, instrumentID string, window time.Duration) (bool, error)
}

// MemoryCooldown is the single-process CooldownStore.
type MemoryCooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{last: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryCooldown) TryAcquire(_ context.Context, instrumentID string, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if last, ok := m.last[instrumentID]; ok && now.Sub(last) < window {
		return false, nil
	}
	m.last[instrumentID] = now
	return true, nil
}

// Gate serializes order-affecting work per instrument and drops repeats
// inside the cooldown window.
//
// Locks are created on first sight of an instrument and never removed; the
// set is bounded by what is actually traded.
type Gate struct {
	cooldown time.Duration
	store    CooldownStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGate creates a gate. A nil store means in-memory.
func NewGate(cooldown time.Duration, store CooldownStore) *Gate {
	if store == nil {
		store = NewMemoryCooldown()
	}
	return &Gate{
		cooldown: cooldown,
		store:    store,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Admit reports whether an alert for instrumentID may proceed. It is checked
// before the lock so a duplicate never waits behind the original.
func (g *Gate) Admit(ctx context.Context, instrumentID string) (bool, error) {
	if g.cooldown <= 0 {
		return true, nil
	}
	return g.store.TryAcquire(ctx, instrumentID, g.cooldown)
}

// WithLock runs fn while holding instrumentID's lock.
func (g *Gate) WithLock(instrumentID string, fn func() error) error {
	lock := g.lockFor(instrumentID)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

func (g *Gate) lockFor(instrumentID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[instrumentID]
	if !ok {
		l = &sync.Mutex{}
		g.locks[instrumentID] = l
	}
	return l
}
