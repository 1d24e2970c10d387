package presig

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

type fakeGenerator struct {
	n atomic.Int64
}

func (g *fakeGenerator) Generate(ctx context.Context, participants []int) (*Presignature, error) {
	id := g.n.Add(1)
	return &Presignature{
		Secret:       []byte(fmt.Sprintf("secret-%d", id)),
		PublicData:   []byte("pub"),
		Participants: append([]int(nil), participants...),
		GeneratedAt:  time.Now(),
	}, nil
}

func TestPoolTakeReturnsExactSetMatchOnly(t *testing.T) {
	p := New(&fakeGenerator{}, rate.Inf, 100)
	defer p.Close()

	ps := &Presignature{Secret: []byte("s1"), Participants: []int{0, 1, 2}, GeneratedAt: time.Now()}
	if err := p.Insert(ps); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, ok := p.Take([]int{0, 1}); ok {
		t.Fatal("expected no match for subset participant set")
	}
	if _, ok := p.Take([]int{0, 1, 2, 3}); ok {
		t.Fatal("expected no match for superset participant set")
	}
	got, ok := p.Take([]int{2, 0, 1})
	if !ok {
		t.Fatal("expected match regardless of input order")
	}
	if string(got.Secret) != "s1" {
		t.Fatalf("expected s1, got %s", got.Secret)
	}
	if _, ok := p.Take([]int{0, 1, 2}); ok {
		t.Fatal("expected presignature consumed at most once")
	}
}

func TestPoolEmptyIsValidState(t *testing.T) {
	p := New(&fakeGenerator{}, rate.Inf, 100)
	defer p.Close()

	if _, ok := p.Take([]int{5, 6}); ok {
		t.Fatal("expected no entry for unseen participant set")
	}
}

func TestPoolRefillReachesTarget(t *testing.T) {
	p := New(&fakeGenerator{}, rate.Limit(1000), 1000)
	defer p.Close()

	n, err := p.Refill(context.Background(), []int{1, 2, 3}, 5)
	if err != nil {
		t.Fatalf("refill: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 generated, got %d", n)
	}
	stats := p.Stats()
	if len(stats) != 1 || stats[0].Count != 5 {
		t.Fatalf("expected bucket of 5, got %+v", stats)
	}

	n, err = p.Refill(context.Background(), []int{1, 2, 3}, 5)
	if err != nil {
		t.Fatalf("refill (already at target): %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no additional generation once at target, got %d", n)
	}
}

func TestPoolEvictExpired(t *testing.T) {
	p := New(&fakeGenerator{}, rate.Inf, 100)
	defer p.Close()

	stale := &Presignature{Secret: []byte("old"), Participants: []int{1, 2}, GeneratedAt: time.Now().Add(-2 * ValidityWindow)}
	fresh := &Presignature{Secret: []byte("new"), Participants: []int{1, 2}, GeneratedAt: time.Now()}
	if err := p.Insert(stale); err != nil {
		t.Fatal(err)
	}
	if err := p.Insert(fresh); err != nil {
		t.Fatal(err)
	}

	evicted := p.EvictExpired()
	if evicted != 1 {
		t.Fatalf("expected 1 evicted, got %d", evicted)
	}
	got, ok := p.Take([]int{1, 2})
	if !ok || string(got.Secret) != "new" {
		t.Fatalf("expected fresh entry to survive eviction, got %+v ok=%v", got, ok)
	}
}

func TestPoolTakeSkipsExpiredLazily(t *testing.T) {
	p := New(&fakeGenerator{}, rate.Inf, 100)
	defer p.Close()

	stale := &Presignature{Secret: []byte("old"), Participants: []int{9}, GeneratedAt: time.Now().Add(-2 * ValidityWindow)}
	if err := p.Insert(stale); err != nil {
		t.Fatal(err)
	}
	if _, ok := p.Take([]int{9}); ok {
		t.Fatal("expected take to skip an already-expired entry")
	}
}
