// Package guard serializes ingestion runs for the same asset.
package guard

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked is returned when another run holds the key.
var ErrLocked = errors.New("run already in progress")

// Local is an in-process guard. It only protects runs inside one process.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates an in-process guard.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// Acquire claims key without blocking. The returned release is idempotent.
func (g *Local) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[key]; ok {
		return nil, ErrLocked
	}
	g.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, nil
}
