package main

import (
	"context"
	"fmt"
	"sync"
)

// BudgetUsage is the state of one (kind, day) counter. Used only grows; Reserved
// covers dispatches in flight.
type BudgetUsage struct {
	Used     int
	Reserved int
}

// BudgetStore holds the daily counters. Reserve must check and increment in one
// atomic step.
type BudgetStore interface {
	Reserve(ctx context.Context, kind Kind, day string, limit int) (bool, error)
	Commit(ctx context.Context, kind Kind, day string) error
	Release(ctx context.Context, kind Kind, day string) error
	Usage(ctx context.Context, kind Kind, day string) (BudgetUsage, error)
}

// BudgetGuard gates mutating actions against per-kind daily limits
type BudgetGuard struct {
	mu     sync.Mutex
	store  BudgetStore
	limits map[Kind]int
}

// NewBudgetGuard validates the limits. Every mutating kind needs a non-negative limit.
func NewBudgetGuard(store BudgetStore, limits map[Kind]int) (*BudgetGuard, error) {
	for _, kind := range []Kind{KindLike, KindComment} {
		limit, ok := limits[kind]
		if !ok {
			return nil, fmt.Errorf("missing daily limit for %s", kind)
		}
		if limit < 0 {
			return nil, fmt.Errorf("negative daily limit for %s: %d", kind, limit)
		}
	}
	copied := make(map[Kind]int, len(limits))
	for k, v := range limits {
		copied[k] = v
	}
	return &BudgetGuard{store: store, limits: copied}, nil
}

// TryConsume reserves one slot for kind on day. It returns false, without changing
// state, when the limit is already reached. Read-only kinds are always allowed.
func (g *BudgetGuard) TryConsume(ctx context.Context, kind Kind, day string) (bool, error) {
	if !kind.Mutating() {
		return true, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.store.Reserve(ctx, kind, day, g.limits[kind])
}

// Record commits a reservation after the dispatch succeeded
func (g *BudgetGuard) Record(ctx context.Context, kind Kind, day string) error {
	if !kind.Mutating() {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.store.Commit(ctx, kind, day)
}

// Release hands back a reservation after the dispatch failed or was abandoned
func (g *BudgetGuard) Release(ctx context.Context, kind Kind, day string) error {
	if !kind.Mutating() {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.store.Release(ctx, kind, day)
}

// Remaining returns how many more actions of kind are allowed on day
func (g *BudgetGuard) Remaining(ctx context.Context, kind Kind, day string) (int, error) {
	limit, ok := g.limits[kind]
	if !ok {
		return 0, fmt.Errorf("no limit for %s", kind)
	}
	u, err := g.store.Usage(ctx, kind, day)
	if err != nil {
		return 0, err
	}
	if left := limit - u.Used - u.Reserved; left > 0 {
		return left, nil
	}
	return 0, nil
}

// Limit returns the configured limit for kind
func (g *BudgetGuard) Limit(kind Kind) (int, bool) {
	limit, ok := g.limits[kind]
	return limit, ok
}

func limitsFromSettings(s *Settings) map[Kind]int {
	limits := make(map[Kind]int, len(s.Budget.Limits))
	for name, v := range s.Budget.Limits {
		limits[Kind(name)] = v
	}
	return limits
}
