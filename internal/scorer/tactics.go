package scorer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/sentinel/internal/model"
)

// TacticSource resolves a canonical pattern to a learned tactic.
type TacticSource interface {
	Lookup(pattern string) (*model.Tactic, bool)
}

// TacticLister is the subset of the store used to load tactics.
type TacticLister interface {
	ListTactics(ctx context.Context) ([]*model.Tactic, error)
}

// TacticBook is an in-memory, read-mostly copy of the tactic table.
type TacticBook struct {
	mu      sync.RWMutex
	tactics map[string]*model.Tactic
}

// NewTacticBook creates an empty book.
func NewTacticBook() *TacticBook {
	return &TacticBook{tactics: make(map[string]*model.Tactic)}
}

// Lookup returns a copy of the tactic for pattern.
func (b *TacticBook) Lookup(pattern string) (*model.Tactic, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tactics[pattern]
	if !ok {
		return nil, false
	}
	c := *t
	return &c, true
}

// Put adds or replaces a tactic.
func (b *TacticBook) Put(t *model.Tactic) {
	c := *t
	b.mu.Lock()
	b.tactics[t.Pattern] = &c
	b.mu.Unlock()
}

// Delete removes the tactic for pattern, if any.
func (b *TacticBook) Delete(pattern string) {
	b.mu.Lock()
	delete(b.tactics, pattern)
	b.mu.Unlock()
}

// Len returns the number of tactics held.
func (b *TacticBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tactics)
}

// Load replaces the book's contents with the store's tactic table.
func (b *TacticBook) Load(ctx context.Context, src TacticLister) error {
	list, err := src.ListTactics(ctx)
	if err != nil {
		return err
	}
	next := make(map[string]*model.Tactic, len(list))
	for _, t := range list {
		c := *t
		next[t.Pattern] = &c
	}
	b.mu.Lock()
	b.tactics = next
	b.mu.Unlock()
	return nil
}

// Refresh reloads the book every interval until ctx is done. Load errors
// are logged and the previous contents kept.
func (b *TacticBook) Refresh(ctx context.Context, src TacticLister, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Load(ctx, src); err != nil && ctx.Err() == nil {
				logger.Warn("scorer: tactic refresh failed", "err", err)
			}
		}
	}
}
