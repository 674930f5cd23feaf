package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/reconcilekit/internal/resource"
)

func TestCache_PutGetDelete(t *testing.T) {
	c := New[string]()
	id := resource.NewID("a", "ns")

	_, ok := c.Get(id)
	assert.False(t, ok)

	c.Put(id, "v1")
	c.Put(id, "v2")
	v, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, "v2", v)
	assert.Equal(t, 1, c.Len())

	old, ok := c.Delete(id)
	assert.True(t, ok)
	assert.Equal(t, "v2", old)
	assert.Equal(t, 0, c.Len())

	_, ok = c.Delete(id)
	assert.False(t, ok)
}

func TestCache_StaleWriteDoesNotResurrectDeletion(t *testing.T) {
	c := New[string]()
	id := resource.NewID("a", "ns")
	c.Put(id, "v1")

	// A slow poll starts before the deletion is observed.
	slow := c.Observe()
	c.Delete(id)

	assert.False(t, c.PutObserved(id, "stale", slow))
	_, ok := c.Get(id)
	assert.False(t, ok)

	// A poll started after the deletion may legitimately recreate the entry.
	fresh := c.Observe()
	assert.True(t, c.PutObserved(id, "recreated", fresh))
	v, _ := c.Get(id)
	assert.Equal(t, "recreated", v)
}

func TestCache_PruneTombstones(t *testing.T) {
	c := New[string]()
	id := resource.NewID("a", "ns")
	slow := c.Observe()
	c.Delete(id)

	c.PruneTombstones(c.Observe())
	assert.True(t, c.PutObserved(id, "v", slow))

	c.Delete(id)
	c.ForgetTombstone(id)
	assert.True(t, c.PutObserved(id, "v", slow))
}

func TestCache_Indexes(t *testing.T) {
	c := New[map[string]string]()
	byOwner := func(_ resource.ID, labels map[string]string) []string {
		if owner, ok := labels["owner"]; ok {
			return []string{owner}
		}
		return nil
	}

	a := resource.NewID("a", "ns")
	b := resource.NewID("b", "ns")
	c.Put(a, map[string]string{"owner": "p1"})
	require.NoError(t, c.AddIndexer("owner", byOwner))
	require.Error(t, c.AddIndexer("owner", byOwner))
	c.Put(b, map[string]string{"owner": "p1"})

	ids, err := c.ByIndex("owner", "p1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []resource.ID{a, b}, ids)

	// Re-owning moves the entry between index keys.
	c.Put(b, map[string]string{"owner": "p2"})
	ids, _ = c.ByIndex("owner", "p1")
	assert.Equal(t, []resource.ID{a}, ids)
	ids, _ = c.ByIndex("owner", "p2")
	assert.Equal(t, []resource.ID{b}, ids)

	c.Delete(a)
	ids, _ = c.ByIndex("owner", "p1")
	assert.Empty(t, ids)

	_, err = c.ByIndex("missing", "x")
	assert.Error(t, err)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := resource.NewID("r", "ns")
			for j := 0; j < 200; j++ {
				c.Put(id, n*j)
				c.Get(id)
				c.Keys()
				if j%50 == 0 {
					c.Delete(id)
				}
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 1)
}
