package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iredis "github.com/aelexs/authclient/internal/redis"
)

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client := iredis.NewClient(iredis.Config{
		Addr:    mr.Addr(),
		Timeout: 5 * time.Second,
	})
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})

	require.NotNil(t, client.RDB, "client.RDB must be non-nil")

	// Verify that RDB satisfies the Cmdable interface.
	var _ iredis.Cmdable = client.RDB
}

func TestClient_Ping(t *testing.T) {
	t.Run("reachable server", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := iredis.NewClient(iredis.Config{Addr: mr.Addr(), Timeout: time.Second})
		t.Cleanup(func() { _ = client.Close() })

		require.NoError(t, client.Ping(context.Background()))
	})

	t.Run("closed server", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		client := iredis.NewClient(iredis.Config{Addr: addr, Timeout: 200 * time.Millisecond})
		t.Cleanup(func() { _ = client.Close() })

		err := client.Ping(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ping redis")
	})
}

func TestNil(t *testing.T) {
	mr := miniredis.RunT(t)
	client := iredis.NewClient(iredis.Config{Addr: mr.Addr(), Timeout: time.Second})
	t.Cleanup(func() { _ = client.Close() })

	err := client.RDB.Get(context.Background(), "missing").Err()
	assert.ErrorIs(t, err, iredis.Nil)
}
