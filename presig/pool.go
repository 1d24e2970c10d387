// Package presig implements the per-node Presignature Pool of §4.G:
// offline-generated, expiring presignatures typed by the exact participant
// set they were produced for, with take/refill/evict discipline. The
// background-eviction-plus-foreground-lazy-check shape follows the same
// pattern as the grant package's replay Guard, adapted from a session-id
// cache to a participant-set-keyed presignature cache.
package presig

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/torcus-network/wallet-cluster/observability"
)

// ValidityWindow is how long a presignature remains usable after
// generation, per §3's Presignature invariant: "expires after 1 hour."
const ValidityWindow = time.Hour

// DefaultEvictionInterval is how often the background sweep checks every
// participant set's bucket for expired entries.
const DefaultEvictionInterval = time.Minute

// Presignature is message-independent precomputed data enabling exactly one
// subsequent online signature for the exact participant set it was
// produced for (§3).
type Presignature struct {
	Secret       []byte
	PublicData   []byte
	Participants []int
	GeneratedAt  time.Time
}

// Expired reports whether the presignature has outlived ValidityWindow as
// of now.
func (p *Presignature) Expired(now time.Time) bool {
	return now.Sub(p.GeneratedAt) > ValidityWindow
}

// Generator produces a fresh presignature for a participant set. The
// actual CGGMP24 presigning math is out of scope; concrete generators are
// wired in by node bootstrap against an external presigning engine.
type Generator interface {
	Generate(ctx context.Context, participants []int) (*Presignature, error)
}

// Stats summarizes one participant set's bucket, per the pool's stats()
// operation.
type Stats struct {
	Participants []int
	Count        int
	OldestAge    time.Duration
}

type bucket struct {
	takeMu sync.Mutex // serializes take() for this participant set (§5)
	mu     sync.Mutex // guards items
	items  []*Presignature
}

// Pool is the per-node Presignature Pool. Every operation is safe for
// concurrent use.
type Pool struct {
	mu        sync.RWMutex
	buckets   map[string]*bucket
	generator Generator
	limiter   *rate.Limiter

	metrics interface {
		SetPoolSize(string, int)
		RecordTaken(string)
		RecordExpired(string, int)
		RecordRefill(string)
	}

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Presignature Pool backed by generator, whose background
// refill is throttled to refillRate presignatures per second (burst
// refillBurst) so a cold pool cannot starve online signing of CPU/network
// capacity (§4.G "rate-limited to avoid starving online signing").
func New(generator Generator, refillRate rate.Limit, refillBurst int) *Pool {
	p := &Pool{
		buckets:   make(map[string]*bucket),
		generator: generator,
		limiter:   rate.NewLimiter(refillRate, refillBurst),
		metrics:   observability.PresigMetrics(),
		stopCh:    make(chan struct{}),
	}
	go p.runEvictionLoop(DefaultEvictionInterval)
	runtime.SetFinalizer(p, func(p *Pool) { p.Close() })
	return p
}

func setKey(participants []int) string {
	sorted := append([]int(nil), participants...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, v := range sorted {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (p *Pool) bucketFor(participants []int) (*bucket, string) {
	key := setKey(participants)
	p.mu.RLock()
	b, ok := p.buckets[key]
	p.mu.RUnlock()
	if ok {
		return b, key
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok = p.buckets[key]; ok {
		return b, key
	}
	b = &bucket{}
	p.buckets[key] = b
	return b, key
}

// Take returns a presignature whose stored participants equal the caller's
// request set exactly, consuming it, or ok=false if the bucket is empty or
// every stored entry has expired (§4.G: "An empty pool is a valid state").
// Calls for the same participant set are serialized so two concurrent
// takers never receive the same entry.
func (p *Pool) Take(participants []int) (*Presignature, bool) {
	b, key := p.bucketFor(participants)
	b.takeMu.Lock()
	defer b.takeMu.Unlock()

	now := time.Now()
	b.mu.Lock()
	for len(b.items) > 0 {
		candidate := b.items[0]
		b.items = b.items[1:]
		if candidate.Expired(now) {
			continue
		}
		b.mu.Unlock()
		p.metrics.RecordTaken(key)
		return candidate, true
	}
	b.mu.Unlock()
	return nil, false
}

// Insert adds a presignature to its participant set's bucket. GeneratedAt
// is stamped with now if unset.
func (p *Pool) Insert(ps *Presignature) error {
	if len(ps.Participants) == 0 {
		return fmt.Errorf("presig: participants must not be empty")
	}
	if ps.GeneratedAt.IsZero() {
		ps.GeneratedAt = time.Now()
	}
	b, key := p.bucketFor(ps.Participants)
	b.mu.Lock()
	b.items = append(b.items, ps)
	n := len(b.items)
	b.mu.Unlock()
	p.metrics.SetPoolSize(key, n)
	return nil
}

// Refill generates presignatures for participants until its bucket holds
// target unexpired entries, throttled by the pool's rate limiter. It
// returns the number actually generated and stops early (returning the
// partial count and the limiter's error) if ctx is cancelled mid-wait.
func (p *Pool) Refill(ctx context.Context, participants []int, target int) (int, error) {
	b, key := p.bucketFor(participants)
	generated := 0
	for {
		b.mu.Lock()
		now := time.Now()
		current := 0
		for _, item := range b.items {
			if !item.Expired(now) {
				current++
			}
		}
		b.mu.Unlock()
		if current >= target {
			return generated, nil
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return generated, err
		}
		ps, err := p.generator.Generate(ctx, participants)
		if err != nil {
			return generated, fmt.Errorf("presig: generate for %s: %w", key, err)
		}
		if err := p.Insert(ps); err != nil {
			return generated, err
		}
		generated++
		p.metrics.RecordRefill(key)
	}
}

// EvictExpired removes every expired presignature from every bucket and
// returns the total number evicted, per §3's "evicted lazily on inspection
// and eagerly by a background task."
func (p *Pool) EvictExpired() int {
	now := time.Now()
	total := 0

	p.mu.RLock()
	buckets := make(map[string]*bucket, len(p.buckets))
	for k, b := range p.buckets {
		buckets[k] = b
	}
	p.mu.RUnlock()

	for key, b := range buckets {
		b.mu.Lock()
		kept := b.items[:0]
		evicted := 0
		for _, item := range b.items {
			if item.Expired(now) {
				evicted++
				continue
			}
			kept = append(kept, item)
		}
		b.items = kept
		n := len(b.items)
		b.mu.Unlock()

		if evicted > 0 {
			total += evicted
			p.metrics.RecordExpired(key, evicted)
		}
		p.metrics.SetPoolSize(key, n)
	}
	return total
}

// Stats reports the current size and oldest-entry age of every participant
// set's bucket.
func (p *Pool) Stats() []Stats {
	now := time.Now()
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Stats, 0, len(p.buckets))
	for key, b := range p.buckets {
		b.mu.Lock()
		count := len(b.items)
		var oldest time.Duration
		for _, item := range b.items {
			if age := now.Sub(item.GeneratedAt); age > oldest {
				oldest = age
			}
		}
		b.mu.Unlock()

		participants := make([]int, 0, count)
		for _, part := range strings.Split(key, ",") {
			if part == "" {
				continue
			}
			n, _ := strconv.Atoi(part)
			participants = append(participants, n)
		}
		out = append(out, Stats{Participants: participants, Count: count, OldestAge: oldest})
	}
	return out
}

func (p *Pool) runEvictionLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.EvictExpired()
		case <-p.stopCh:
			return
		}
	}
}

// Close stops the background eviction sweep.
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}
