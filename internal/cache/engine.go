package cache

import (
	"container/list"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrShutdown is returned by Put once the engine has been closed.
var ErrShutdown = errors.New("cache: engine is shut down")

// DefaultSweepInterval is how often the background sweeper scans for expired
// entries when no explicit interval is configured.
const DefaultSweepInterval = time.Second

// entry is the internal representation of a cached value. A nil TTL means
// the entry never expires.
type entry struct {
	insertedAt time.Time
	key        string
	value      []byte
	ttl        *time.Duration
}

func (e *entry) expiresAt() (time.Time, bool) {
	if e.ttl == nil {
		return time.Time{}, false
	}
	return e.insertedAt.Add(*e.ttl), true
}

func (e *entry) expired(now time.Time) bool {
	deadline, ok := e.expiresAt()
	if !ok {
		return false
	}
	return !now.Before(deadline)
}

// Stats is a point-in-time snapshot of the engine's counters.
type Stats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	CurrentSize int     `json:"current_size"`
	Capacity    int     `json:"capacity"`
}

// SnapshotEntry describes one live entry as returned by Engine.Snapshot.
// TTLRemaining is nil for entries that never expire.
type SnapshotEntry struct {
	Key          string         `json:"key"`
	Value        []byte         `json:"value"`
	TTLRemaining *time.Duration `json:"ttl_remaining_seconds,omitempty"`
}

// Engine is a capacity-bounded, recency-ordered key/value store with
// per-entry TTL. All mutating and reading operations are serialized on a
// single mutex; the only work that happens outside that lock is the
// background sweeper's brief per-tick scan, which takes the lock itself.
//
// Recency order is modeled as a doubly linked list: the most-recently
// touched key sits at the back, the least-recently touched at the front.
// Get moves the touched element to the back; Put inserts at the back;
// capacity overflow evicts from the front.
type Engine struct {
	order    *list.List
	index    map[string]*list.Element
	log      *zap.SugaredLogger
	stopCh   chan struct{}
	capacity int
	hits     atomic.Uint64
	misses   atomic.Uint64
	mu              sync.Mutex
	wg              sync.WaitGroup
	closed          bool
	sweepConfigured bool
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger attaches a logger used for sweeper diagnostics. Defaults to a
// no-op logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithSweepInterval overrides DefaultSweepInterval for the background TTL
// sweeper. A non-positive interval disables the sweeper entirely; expiry
// then only happens lazily, on access.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.sweepConfigured = true
		e.startSweeper(d)
	}
}

// NewEngine creates a cache engine with a fixed positive capacity and starts
// its background TTL sweeper at DefaultSweepInterval unless overridden via
// WithSweepInterval.
func NewEngine(capacity int, opts ...Option) *Engine {
	if capacity <= 0 {
		capacity = 1
	}
	e := &Engine{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
		log:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if !e.sweepConfigured {
		e.startSweeper(DefaultSweepInterval)
	}
	return e
}

func (e *Engine) startSweeper(interval time.Duration) {
	if interval <= 0 {
		return
	}
	e.stopCh = make(chan struct{})
	e.wg.Add(1)
	go e.sweepLoop(interval)
}

func (e *Engine) sweepLoop(interval time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.sweep()
		case <-e.stopCh:
			return
		}
	}
}

// sweep scans every entry once and removes those past their TTL. A swept
// entry is not counted as a miss; it is simply gone by the time anyone next
// looks for it.
func (e *Engine) sweep() {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	var next *list.Element
	for el := e.order.Front(); el != nil; el = next {
		next = el.Next()
		ent := el.Value.(*entry)
		if ent.expired(now) {
			e.order.Remove(el)
			delete(e.index, ent.key)
		}
	}
}

// Get returns the value for key and whether it was a live hit. A miss
// (absent or expired) increments the miss counter; a hit moves the entry to
// the most-recent end and increments the hit counter.
func (e *Engine) Get(key string) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	el, ok := e.index[key]
	if !ok {
		e.misses.Add(1)
		return nil, false
	}
	ent := el.Value.(*entry)
	if ent.expired(time.Now()) {
		e.order.Remove(el)
		delete(e.index, key)
		e.misses.Add(1)
		return nil, false
	}

	e.order.MoveToBack(el)
	e.hits.Add(1)
	out := make([]byte, len(ent.value))
	copy(out, ent.value)
	return out, true
}

// Put inserts or replaces the entry for key. A ttl of zero or negative means
// the entry never expires. On insert, if the engine is over capacity the
// least-recent entry is evicted.
func (e *Engine) Put(key string, value []byte, ttl time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrShutdown
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	var ttlPtr *time.Duration
	if ttl > 0 {
		ttlPtr = &ttl
	}

	if el, ok := e.index[key]; ok {
		ent := el.Value.(*entry)
		ent.value = stored
		ent.insertedAt = time.Now()
		ent.ttl = ttlPtr
		e.order.MoveToBack(el)
		return nil
	}

	ent := &entry{key: key, value: stored, insertedAt: time.Now(), ttl: ttlPtr}
	el := e.order.PushBack(ent)
	e.index[key] = el

	if e.order.Len() > e.capacity {
		e.evictOldest()
	}
	return nil
}

func (e *Engine) evictOldest() {
	front := e.order.Front()
	if front == nil {
		return
	}
	ent := front.Value.(*entry)
	e.order.Remove(front)
	delete(e.index, ent.key)
	e.log.Debugw("evicted least-recent entry", "key", ent.key)
}

// Delete removes key if present and reports whether it was present.
func (e *Engine) Delete(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	el, ok := e.index[key]
	if !ok {
		return false
	}
	e.order.Remove(el)
	delete(e.index, key)
	return true
}

// Clear empties the engine. Hit/miss counters are left untouched.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.order = list.New()
	e.index = make(map[string]*list.Element)
}

// Stats returns the current hit/miss counters, hit rate, and size.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	size := e.order.Len()
	e.mu.Unlock()

	hits := e.hits.Load()
	misses := e.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:        hits,
		Misses:      misses,
		HitRate:     rate,
		CurrentSize: size,
		Capacity:    e.capacity,
	}
}

// Snapshot returns every live entry with its remaining TTL, if any.
// Expired entries are excluded without being counted as misses.
func (e *Engine) Snapshot() []SnapshotEntry {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]SnapshotEntry, 0, e.order.Len())
	for el := e.order.Front(); el != nil; el = el.Next() {
		ent := el.Value.(*entry)
		if ent.expired(now) {
			continue
		}
		se := SnapshotEntry{Key: ent.key, Value: append([]byte(nil), ent.value...)}
		if deadline, ok := ent.expiresAt(); ok {
			remaining := deadline.Sub(now)
			se.TTLRemaining = &remaining
		}
		out = append(out, se)
	}
	return out
}

// Close stops the background sweeper and marks the engine shut down. Puts
// issued after Close return ErrShutdown; Get/Delete/Clear/Stats/Snapshot
// remain usable against whatever state the engine held at shutdown.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	if e.stopCh != nil {
		close(e.stopCh)
		e.wg.Wait()
	}
}
