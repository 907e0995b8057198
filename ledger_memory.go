package main

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type actionKey struct {
	itemID string
	kind   Kind
}

type budgetKey struct {
	kind Kind
	day  string
}

// MemoryLedger keeps the ledger in process memory. State is lost on exit; it backs
// dry runs and tests.
type MemoryLedger struct {
	mu      sync.Mutex
	actions map[actionKey]ActionRecord
	days    map[actionKey]string
	order   []actionKey
	skips   []ActionRecord
	seen    map[string]time.Time
	budgets map[budgetKey]BudgetUsage
	now     func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		actions: make(map[actionKey]ActionRecord),
		days:    make(map[actionKey]string),
		seen:    make(map[string]time.Time),
		budgets: make(map[budgetKey]BudgetUsage),
		now:     time.Now,
	}
}

func (l *MemoryLedger) HasActed(ctx context.Context, itemID string, kind Kind) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.actions[actionKey{itemID, kind}]
	return ok && rec.Outcome == OutcomeSucceeded, nil
}

func (l *MemoryLedger) RecordAttempt(ctx context.Context, rec ActionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := actionKey{rec.ItemID, rec.Kind}
	if _, ok := l.actions[key]; ok {
		return fmt.Errorf("%s/%s: %w", rec.ItemID, rec.Kind, ErrDuplicateAction)
	}
	if rec.At.IsZero() {
		rec.At = l.now()
	}
	if rec.Outcome == "" {
		rec.Outcome = OutcomePending
	}
	l.actions[key] = rec
	l.days[key] = DayKey(rec.At)
	l.order = append(l.order, key)
	return nil
}

func (l *MemoryLedger) Resolve(ctx context.Context, itemID string, kind Kind, outcome Outcome, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := actionKey{itemID, kind}
	rec, ok := l.actions[key]
	if !ok || rec.Outcome != OutcomePending {
		return fmt.Errorf("resolving %s/%s: no pending attempt", itemID, kind)
	}
	rec.Outcome = outcome
	rec.Reason = reason
	rec.At = l.now()
	l.actions[key] = rec
	return nil
}

func (l *MemoryLedger) LogSkip(ctx context.Context, rec ActionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec.At.IsZero() {
		rec.At = l.now()
	}
	l.skips = append(l.skips, rec)
	return nil
}

// Skips returns a copy of the logged skips
func (l *MemoryLedger) Skips() []ActionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ActionRecord(nil), l.skips...)
}

func (l *MemoryLedger) MarkSeen(ctx context.Context, itemID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[itemID]; !ok {
		l.seen[itemID] = l.now()
	}
	return nil
}

func (l *MemoryLedger) HasSeen(ctx context.Context, itemID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[itemID]
	return ok, nil
}

func (l *MemoryLedger) CountSucceeded(ctx context.Context, kind Kind, day string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, rec := range l.actions {
		if key.kind == kind && rec.Outcome == OutcomeSucceeded && l.days[key] == day {
			n++
		}
	}
	return n, nil
}

func (l *MemoryLedger) Recent(ctx context.Context, limit int) ([]ActionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ActionRecord, 0, len(l.order))
	for _, key := range l.order {
		out = append(out, l.actions[key])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemoryLedger) Prune(ctx context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for id, at := range l.seen {
		if at.Before(before) {
			delete(l.seen, id)
			n++
		}
	}
	return n, nil
}

func (l *MemoryLedger) Reserve(ctx context.Context, kind Kind, day string, limit int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := budgetKey{kind, day}
	u := l.budgets[key]
	if u.Used+u.Reserved >= limit {
		return false, nil
	}
	u.Reserved++
	l.budgets[key] = u
	return true, nil
}

func (l *MemoryLedger) Commit(ctx context.Context, kind Kind, day string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := budgetKey{kind, day}
	u := l.budgets[key]
	if u.Reserved > 0 {
		u.Reserved--
	}
	u.Used++
	l.budgets[key] = u
	return nil
}

func (l *MemoryLedger) Release(ctx context.Context, kind Kind, day string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := budgetKey{kind, day}
	u := l.budgets[key]
	if u.Reserved > 0 {
		u.Reserved--
		l.budgets[key] = u
	}
	return nil
}

func (l *MemoryLedger) Usage(ctx context.Context, kind Kind, day string) (BudgetUsage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.budgets[budgetKey{kind, day}], nil
}

func (l *MemoryLedger) Close() error { return nil }
