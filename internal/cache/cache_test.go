package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupMiss(t *testing.T) {
	c := New(nil)
	_, ok := c.Lookup("www.example.com:80/")
	assert.False(t, ok)
}

func TestAddThenLookupHit(t *testing.T) {
	c := New(nil)
	c.Add("www.example.com:80/index.html", []byte("hello world"))

	got, ok := c.Lookup("www.example.com:80/index.html")
	require.True(t, ok)
	assert.Equal(t, []byte("hello world"), got)
}

func TestLookupReturnsACopy(t *testing.T) {
	c := New(nil)
	c.Add("k", []byte("hello world"))

	got, ok := c.Lookup("k")
	require.True(t, ok)
	got[0] = 'X'

	again, ok := c.Lookup("k")
	require.True(t, ok)
	assert.Equal(t, byte('h'), again[0])
}

func TestAddRejectsOversizedObject(t *testing.T) {
	c := New(nil)
	c.Add("k", make([]byte, MaxObjectSize+1))

	_, ok := c.Lookup("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Count)
}

func TestAddRejectsEmptyObject(t *testing.T) {
	c := New(nil)
	c.Add("k", nil)

	_, ok := c.Lookup("k")
	assert.False(t, ok)
}

func TestAddDuplicateKeyReplaces(t *testing.T) {
	c := New(nil)
	c.Add("k", []byte("first"))
	c.Add("k", []byte("second, and longer"))

	got, ok := c.Lookup("k")
	require.True(t, ok)
	assert.Equal(t, []byte("second, and longer"), got)
	assert.Equal(t, 1, c.Stats().Count)
}

func TestByteAccounting(t *testing.T) {
	c := New(nil)
	c.Add("a", []byte("12345"))
	c.Add("b", []byte("1234567890"))

	stats := c.Stats()
	assert.Equal(t, 15, stats.UsedBytes)
	assert.Equal(t, MaxCacheSize-15, stats.FreeBytes)
	assert.Equal(t, 2, stats.Count)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(nil)

	objSize := MaxObjectSize
	perEntry := make([]byte, objSize)
	capacity := MaxCacheSize / objSize

	for i := 0; i < capacity; i++ {
		c.Add(fmt.Sprintf("key-%d", i), perEntry)
	}
	require.Equal(t, capacity, c.Stats().Count)

	// Touch key-0 so it becomes most-recently-used and survives the
	// next insert, which must evict key-1 instead.
	_, ok := c.Lookup("key-0")
	require.True(t, ok)

	c.Add("key-new", perEntry)

	_, ok = c.Lookup("key-0")
	assert.True(t, ok, "recently-used entry must survive eviction")

	_, ok = c.Lookup("key-1")
	assert.False(t, ok, "least-recently-used entry must be evicted")

	_, ok = c.Lookup("key-new")
	assert.True(t, ok)
}

func TestEvictionStopsOnceRoomExists(t *testing.T) {
	c := New(nil)
	c.Add("a", make([]byte, 100))
	c.Add("b", make([]byte, 100))
	c.Add("c", make([]byte, 100))

	c.Add("d", make([]byte, 50))

	assert.Equal(t, 4, c.Stats().Count, "no eviction needed when room already exists")
}

func TestNeverExceedsMaxCacheSize(t *testing.T) {
	c := New(nil)
	for i := 0; i < 50; i++ {
		c.Add(fmt.Sprintf("key-%d", i), make([]byte, MaxObjectSize))
	}
	assert.LessOrEqual(t, c.Stats().UsedBytes, MaxCacheSize)
}

func TestListStaysConsistentUnderConcurrentLoad(t *testing.T) {
	c := New(nil)
	const workers = 16
	const opsPerWorker = 200

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < opsPerWorker; i++ {
				key := fmt.Sprintf("w%d-k%d", w, i%7)
				if i%3 == 0 {
					c.Add(key, []byte(fmt.Sprintf("payload-%d-%d", w, i)))
				} else {
					c.Lookup(key)
				}
			}
		}(w)
	}
	wg.Wait()

	// checkConsistencyLocked runs on every Add/hit; reaching here without
	// a panic already proves the list stayed consistent. Stats should
	// also still be an internally coherent snapshot.
	stats := c.Stats()
	assert.GreaterOrEqual(t, stats.Count, 0)
	assert.LessOrEqual(t, stats.UsedBytes, MaxCacheSize)
}

func TestLookupToleratesRaceWithEviction(t *testing.T) {
	c := New(nil)
	objSize := MaxObjectSize
	perEntry := make([]byte, objSize)
	capacity := MaxCacheSize / objSize

	for i := 0; i < capacity; i++ {
		c.Add(fmt.Sprintf("key-%d", i), perEntry)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < capacity; i++ {
			c.Lookup(fmt.Sprintf("key-%d", i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < capacity; i++ {
			c.Add(fmt.Sprintf("fresh-%d", i), perEntry)
		}
	}()
	wg.Wait()

	// A Lookup racing an eviction of the same entry must resolve to a
	// clean hit or a clean miss, never a corrupted read; the absence of
	// a panic from checkConsistencyLocked is the assertion.
	assert.LessOrEqual(t, c.Stats().UsedBytes, MaxCacheSize)
}

func TestStatsIsReadLockOnly(t *testing.T) {
	c := New(nil)
	c.Add("k", []byte("v"))

	var wg sync.WaitGroup
	wg.Add(8)
	for i := 0; i < 8; i++ {
		go func() {
			defer wg.Done()
			c.Stats()
		}()
	}
	wg.Wait()
}
