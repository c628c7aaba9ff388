package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	require.NoError(t, c.Set(ctx, "aws:bucket:assets-a1b2c3d4", "assets-a1b2c3d4-xyz", ProvisionedNameTTL))

	value, ok, err := c.Get(ctx, "aws:bucket:assets-a1b2c3d4")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "assets-a1b2c3d4-xyz", value)
}

func TestMemory_Missing(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	_, ok, err := c.Get(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "key", "value", time.Hour))

	_, ok, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Hour)
	_, ok, err = c.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_ZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "key", "value", 0))

	now = now.Add(1000 * time.Hour)
	_, ok, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_Delete(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	require.NoError(t, c.Set(ctx, "key", "value", 0))
	require.NoError(t, c.Delete(ctx, "key"))

	_, ok, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, ok)
}
