package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrLocked signals the provisioning gate of a service could not be acquired
// before the caller's context ended.
var ErrLocked = errors.New("service locked")

// gate is a tiny 1-token semaphore whose Lock honours a context.
type gate struct{ ch chan struct{} }

func newGate() *gate {
	g := &gate{ch: make(chan struct{}, 1)}
	g.ch <- struct{}{} // token present => unlocked
	return g
}

func (g *gate) Lock(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) Unlock() {
	select {
	case g.ch <- struct{}{}:
	default:
		panic("unlock of unlocked gate")
	}
}

// gates hands out one gate per normalized service key. A gate is dropped
// once no caller holds or waits on it.
type gates struct {
	mu sync.Mutex
	m  map[string]*gateRef
}

type gateRef struct {
	g    *gate
	refs int // holders plus waiters, guarded by gates.mu
}

// lock acquires the gate for key. Always returns a valid unlock func.
func (gs *gates) lock(ctx context.Context, key string) (func(), error) {
	r := gs.acquire(key)
	if err := r.g.Lock(ctx); err != nil {
		gs.release(key, r)
		return func() {}, fmt.Errorf("%s: %w: %w", key, ErrLocked, err)
	}
	return func() {
		r.g.Unlock()
		gs.release(key, r)
	}, nil
}

func (gs *gates) acquire(key string) *gateRef {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if gs.m == nil {
		gs.m = make(map[string]*gateRef)
	}
	r, ok := gs.m[key]
	if !ok {
		r = &gateRef{g: newGate()}
		gs.m[key] = r
	}
	r.refs++
	return r
}

func (gs *gates) release(key string, r *gateRef) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	r.refs--
	if r.refs == 0 {
		delete(gs.m, key)
	}
}

// len reports how many keys currently have a gate.
func (gs *gates) len() int {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return len(gs.m)
}
