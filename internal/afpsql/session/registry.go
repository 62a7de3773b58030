// Package session manages named connection pools: the registry of already-
// connected sessions, and the precedence by which a query request resolves
// which Connection Spec to connect with (spec §3/§4.3).
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentfirst/afpsql/internal/afpsql/adapter"
	"github.com/agentfirst/afpsql/internal/afpsql/config"
)

// Connector opens a Pool for a Connection Spec. Satisfied by adapter.Connect,
// parameterized here so the registry can be exercised with a fake in tests.
type Connector func(ctx context.Context, spec config.ConnectionSpec, maxConns int32) (adapter.Pool, error)

// Registry holds one connected Pool per named session, connecting lazily on
// first use and reusing the pool across queries. Grounded on
// rapidloop-rapidrows's datasources type, which keeps one *pgxpool.Pool per
// datasource name in a map guarded against concurrent access; this registry
// uses a plain RWMutex+map instead of sync.Map since pools are added only on
// a session's first Get (or per query for an inline one-off session),
// rarely compared to the read-heavy lookup of an already open pool.
type Registry struct {
	connect Connector

	mu    sync.RWMutex
	pools map[string]adapter.Pool
}

// NewRegistry builds an empty Registry that uses connect to open new pools.
func NewRegistry(connect Connector) *Registry {
	return &Registry{connect: connect, pools: map[string]adapter.Pool{}}
}

// Get returns the pool already open for name, connecting it first against
// spec if this is the first request to use it. Concurrent Get calls for the
// same not-yet-open name may race to connect; the loser's pool is closed and
// discarded, the winner's is kept. This keeps the common path (an already
// open session) lock-cheap under RLock.
func (r *Registry) Get(ctx context.Context, name string, spec config.ConnectionSpec, maxConns int32) (adapter.Pool, error) {
	r.mu.RLock()
	pool, ok := r.pools[name]
	r.mu.RUnlock()
	if ok {
		return pool, nil
	}

	if spec.IsZero() {
		return nil, fmt.Errorf("session %q is not configured", name)
	}

	opened, err := r.connect(ctx, spec, maxConns)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.pools[name]; ok {
		r.mu.Unlock()
		opened.Close()
		return existing, nil
	}
	r.pools[name] = opened
	r.mu.Unlock()

	return opened, nil
}

// Forget closes and removes name's pool, if any, so the next Get reconnects
// it fresh. Used when a "config" request replaces a session's spec.
func (r *Registry) Forget(name string) {
	r.mu.Lock()
	pool, ok := r.pools[name]
	delete(r.pools, name)
	r.mu.Unlock()
	if ok {
		pool.Close()
	}
}

// CloseAll closes every open pool, in no particular order, for process
// shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	pools := r.pools
	r.pools = map[string]adapter.Pool{}
	r.mu.Unlock()
	for _, pool := range pools {
		pool.Close()
	}
}
