package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authz-engine/prp-core/pkg/types"
)

func result(ids ...string) *types.RetrievalResult {
	return &types.RetrievalResult{DocumentIDs: ids}
}

func TestLRU_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(4, time.Minute)

	_, ok := c.Get(ctx, "k1")
	assert.False(t, ok)

	c.Set(ctx, "k1", result("d1", "d2"))
	got, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, []string{"d1", "d2"}, got.DocumentIDs)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 0.5, stats.HitRate)
}

func TestLRU_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(2, time.Minute)

	c.Set(ctx, "k1", result("a"))
	c.Set(ctx, "k2", result("b"))

	// Touch k1 so k2 becomes the eviction victim.
	_, ok := c.Get(ctx, "k1")
	require.True(t, ok)

	c.Set(ctx, "k3", result("c"))

	_, ok = c.Get(ctx, "k2")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "k1")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "k3")
	assert.True(t, ok)
}

func TestLRU_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(4, 10*time.Millisecond)

	c.Set(ctx, "k1", result("a"))
	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get(ctx, "k1")
	assert.False(t, ok)
}

func TestLRU_Cleanup(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(8, 10*time.Millisecond)

	c.Set(ctx, "k1", result("a"))
	c.Set(ctx, "k2", result("b"))
	time.Sleep(30 * time.Millisecond)
	c.Set(ctx, "k3", result("c"))

	assert.Equal(t, 2, c.Cleanup())
	assert.Equal(t, 1, c.Stats().Size)
}

func TestLRU_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(8, time.Minute)

	c.Set(ctx, "k1", result("a"))
	c.Set(ctx, "k2", result("b"))

	c.Delete(ctx, "k1")
	_, ok := c.Get(ctx, "k1")
	assert.False(t, ok)

	c.Clear(ctx)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestKey_DeterministicAcrossMapOrder(t *testing.T) {
	b1 := &types.Bindings{
		Subject: map[string]interface{}{"role": "admin", "id": "u1"},
		Action:  map[string]interface{}{"name": "read"},
	}
	b2 := &types.Bindings{
		Subject: map[string]interface{}{"id": "u1", "role": "admin"},
		Action:  map[string]interface{}{"name": "read"},
	}

	k1, err := Key(7, b1)
	require.NoError(t, err)
	k2, err := Key(7, b2)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestKey_SensitiveToRevisionAndBindings(t *testing.T) {
	b := &types.Bindings{Action: map[string]interface{}{"name": "read"}}

	k1, err := Key(1, b)
	require.NoError(t, err)
	k2, err := Key(2, b)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2, "revision bump must invalidate keys")

	other := &types.Bindings{Action: map[string]interface{}{"name": "write"}}
	k3, err := Key(1, other)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestKey_RejectsUnserializableBindings(t *testing.T) {
	b := &types.Bindings{
		Environment: map[string]interface{}{"ch": make(chan int)},
	}
	_, err := Key(1, b)
	assert.Error(t, err)
}

func TestLRU_ManyEntries(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(100, time.Minute)
	for i := 0; i < 250; i++ {
		c.Set(ctx, fmt.Sprintf("k%03d", i), result("d"))
	}
	assert.Equal(t, 100, c.Stats().Size)
}
