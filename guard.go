package core

import (
	"context"
	"sync"
)

type guardKey struct{}

// ReentrancyGuard serializes mutating operations and refuses nested entry.
// The context returned by Enter travels into every external collaborator
// call, so a collaborator calling back into a mutator inside the same
// operation is rejected with ReentrantCall instead of deadlocking on the
// mutex.
type ReentrancyGuard struct {
	mu sync.Mutex
}

// Enter acquires the guard. The returned release must run on every exit
// path; the returned context must be the one passed to all downstream calls.
func (g *ReentrancyGuard) Enter(ctx context.Context) (context.Context, func(), error) {
	if ctx.Value(guardKey{}) == g {
		return ctx, nil, ReentrantCall
	}

	g.mu.Lock()
	return context.WithValue(ctx, guardKey{}, g), g.mu.Unlock, nil
}
