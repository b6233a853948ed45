package gateway

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodebridge/relay/pkg/types"
)

func TestIdempotencyStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenIdempotencyStore(filepath.Join(dir, "relay.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	cached, err := store.Load(ctx, "task-1", "key-1")
	require.NoError(t, err)
	require.Nil(t, cached)

	resp := types.Response{RequestID: "r1", Status: "success", Action: "git_status"}
	require.NoError(t, store.Store(ctx, "task-1", "key-1", resp))

	cached, err = store.Load(ctx, "task-1", "key-1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	require.Equal(t, "git_status", cached.Action)
}

func TestIdempotencyStoreDistinguishesKeys(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenIdempotencyStore(filepath.Join(dir, "relay.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Store(ctx, "task-1", "key-1", types.Response{Action: "a"}))

	cached, err := store.Load(ctx, "task-1", "key-2")
	require.NoError(t, err)
	require.Nil(t, cached)
}
