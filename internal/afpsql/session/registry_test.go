package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfirst/afpsql/internal/afpsql/adapter"
	"github.com/agentfirst/afpsql/internal/afpsql/adapter/adaptertest"
	"github.com/agentfirst/afpsql/internal/afpsql/config"
)

func connectorFor(pool *adaptertest.Pool) Connector {
	return func(ctx context.Context, spec config.ConnectionSpec, maxConns int32) (adapter.Pool, error) {
		return pool, nil
	}
}

func TestRegistryGetConnectsOnceAndReuses(t *testing.T) {
	pool := adaptertest.NewPool()
	calls := 0
	reg := NewRegistry(func(ctx context.Context, spec config.ConnectionSpec, maxConns int32) (adapter.Pool, error) {
		calls++
		return pool, nil
	})

	spec := config.ConnectionSpec{Host: "h"}
	got1, err := reg.Get(context.Background(), "default", spec, 0)
	require.NoError(t, err)
	got2, err := reg.Get(context.Background(), "default", spec, 0)
	require.NoError(t, err)

	assert.Same(t, pool, got1)
	assert.Same(t, pool, got2)
	assert.Equal(t, 1, calls)
}

func TestRegistryGetRejectsZeroSpecForUnopenedSession(t *testing.T) {
	reg := NewRegistry(connectorFor(adaptertest.NewPool()))
	_, err := reg.Get(context.Background(), "nope", config.ConnectionSpec{}, 0)
	assert.Error(t, err)
}

func TestRegistryGetPropagatesConnectError(t *testing.T) {
	wantErr := errors.New("connect failed")
	reg := NewRegistry(func(ctx context.Context, spec config.ConnectionSpec, maxConns int32) (adapter.Pool, error) {
		return nil, wantErr
	})
	_, err := reg.Get(context.Background(), "default", config.ConnectionSpec{Host: "h"}, 0)
	assert.ErrorIs(t, err, wantErr)
}

func TestRegistryForgetClosesAndAllowsReconnect(t *testing.T) {
	first := adaptertest.NewPool()
	second := adaptertest.NewPool()
	pools := []*adaptertest.Pool{first, second}
	i := 0
	reg := NewRegistry(func(ctx context.Context, spec config.ConnectionSpec, maxConns int32) (adapter.Pool, error) {
		p := pools[i]
		i++
		return p, nil
	})

	spec := config.ConnectionSpec{Host: "h"}
	got1, err := reg.Get(context.Background(), "default", spec, 0)
	require.NoError(t, err)
	assert.Same(t, first, got1)

	reg.Forget("default")
	assert.True(t, first.Closed)

	got2, err := reg.Get(context.Background(), "default", spec, 0)
	require.NoError(t, err)
	assert.Same(t, second, got2)
}

func TestRegistryCloseAllClosesEveryPool(t *testing.T) {
	a := adaptertest.NewPool()
	b := adaptertest.NewPool()
	pools := map[string]*adaptertest.Pool{"a": a, "b": b}
	reg := NewRegistry(func(ctx context.Context, spec config.ConnectionSpec, maxConns int32) (adapter.Pool, error) {
		return pools[spec.Host], nil
	})

	_, err := reg.Get(context.Background(), "a", config.ConnectionSpec{Host: "a"}, 0)
	require.NoError(t, err)
	_, err = reg.Get(context.Background(), "b", config.ConnectionSpec{Host: "b"}, 0)
	require.NoError(t, err)

	reg.CloseAll()
	assert.True(t, a.Closed)
	assert.True(t, b.Closed)
}
