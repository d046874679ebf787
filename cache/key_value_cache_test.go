package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpdateAndGet(t *testing.T) {
	c := New()
	c.UpdateKeyValue("key1", "value1", 1)
	got := c.GetKeyValuePairs([]string{"key1", "key2"})
	require.Equal(t, map[string]string{"key1": "value1"}, got)
}

func TestMaxLCTWins(t *testing.T) {
	c := New()
	c.UpdateKeyValue("key1", "newer", 10)
	c.UpdateKeyValue("key1", "older", 5)
	require.Equal(t, "newer", c.GetKeyValuePairs([]string{"key1"})["key1"])

	c.UpdateKeyValue("key1", "newest", 11)
	require.Equal(t, "newest", c.GetKeyValuePairs([]string{"key1"})["key1"])

	// Equal LCT keeps the stored value.
	c.UpdateKeyValue("key1", "tied", 11)
	require.Equal(t, "newest", c.GetKeyValuePairs([]string{"key1"})["key1"])
}

func TestDeleteTombstone(t *testing.T) {
	c := New()
	c.UpdateKeyValue("key1", "value1", 5)
	c.DeleteKey("key1", 5)
	require.Empty(t, c.GetKeyValuePairs([]string{"key1"}))

	// A late update below the tombstone is dropped.
	c.UpdateKeyValue("key1", "stale", 4)
	require.Empty(t, c.GetKeyValuePairs([]string{"key1"}))

	// A newer update resurrects the key.
	c.UpdateKeyValue("key1", "fresh", 6)
	require.Equal(t, "fresh", c.GetKeyValuePairs([]string{"key1"})["key1"])
}

func TestDeleteBelowStoredIsDropped(t *testing.T) {
	c := New()
	c.UpdateKeyValue("key1", "value1", 10)
	c.DeleteKey("key1", 9)
	require.Equal(t, "value1", c.GetKeyValuePairs([]string{"key1"})["key1"])
}

func TestKeyValueSet(t *testing.T) {
	c := New()
	c.UpdateKeyValueSet("set1", []string{"b", "a", "c"}, 1)
	got := c.GetKeyValueSet([]string{"set1", "missing"})
	require.Equal(t, []string{"a", "b", "c"}, got["set1"])
	require.Empty(t, got["missing"])

	c.DeleteValuesInSet("set1", []string{"b"}, 2)
	require.Equal(t, []string{"a", "c"}, c.GetKeyValueSet([]string{"set1"})["set1"])

	// Deleting with an older LCT is a no-op.
	c.DeleteValuesInSet("set1", []string{"a"}, 1)
	require.Equal(t, []string{"a", "c"}, c.GetKeyValueSet([]string{"set1"})["set1"])

	// Re-adding the deleted value with a newer LCT brings it back.
	c.UpdateKeyValueSet("set1", []string{"b"}, 3)
	require.Equal(t, []string{"a", "b", "c"}, c.GetKeyValueSet([]string{"set1"})["set1"])
}

func TestRemoveDeletedKeys(t *testing.T) {
	c := New()
	c.UpdateKeyValue("key1", "value1", 1)
	c.DeleteKey("key1", 2)
	c.RemoveDeletedKeys(2)

	// After cleanup the tombstone is gone and updates at or below the
	// cleanup bound stay dropped.
	c.UpdateKeyValue("key1", "stale", 2)
	require.Empty(t, c.GetKeyValuePairs([]string{"key1"}))

	c.UpdateKeyValue("key1", "fresh", 3)
	require.Equal(t, "fresh", c.GetKeyValuePairs([]string{"key1"})["key1"])
}

func TestRemoveDeletedSetValues(t *testing.T) {
	c := New()
	c.UpdateKeyValueSet("set1", []string{"a", "b"}, 1)
	c.DeleteValuesInSet("set1", []string{"a"}, 2)
	c.RemoveDeletedKeys(2)
	require.Equal(t, []string{"b"}, c.GetKeyValueSet([]string{"set1"})["set1"])
}

func TestConcurrentWritesSameKey(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(lct int64) {
			defer wg.Done()
			c.UpdateKeyValue("key1", fmt.Sprintf("v%d", lct), lct)
		}(int64(i + 1))
	}
	wg.Wait()
	require.Equal(t, "v64", c.GetKeyValuePairs([]string{"key1"})["key1"])
}
