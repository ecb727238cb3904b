// ABOUTME: Tests for the TTL cache used for push deduplication and lookup memoization.
// ABOUTME: Validates TTL expiration, size limits, eviction order, values, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_Check_NotSeen(t *testing.T) {
	cache := NewSet(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.Check("never-seen-key"))
}

func TestCache_Mark(t *testing.T) {
	cache := NewSet(5*time.Minute, 100)
	defer cache.Close()

	cache.Mark("msg-1")
	cache.Mark("msg-2")

	assert.True(t, cache.Check("msg-1"))
	assert.True(t, cache.Check("msg-2"))
	assert.False(t, cache.Check("msg-3"))
	assert.Equal(t, 2, cache.Len())
}

func TestCache_Check_Expired(t *testing.T) {
	cache := NewSet(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("expiring-key")
	assert.True(t, cache.Check("expiring-key"))

	time.Sleep(20 * time.Millisecond)

	assert.False(t, cache.Check("expiring-key"))
}

func TestCache_Mark_UpdatesTimestamp(t *testing.T) {
	cache := NewSet(50*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("refresh-key")
	time.Sleep(30 * time.Millisecond)
	cache.Mark("refresh-key")
	time.Sleep(30 * time.Millisecond)

	// Still present because it was refreshed
	assert.True(t, cache.Check("refresh-key"))
}

func TestCache_EvictionOrder(t *testing.T) {
	cache := NewSet(5*time.Minute, 3)
	defer cache.Close()

	cache.Mark("first")
	cache.Mark("second")
	cache.Mark("third")
	cache.Mark("fourth")

	assert.False(t, cache.Check("first"), "first should be evicted")
	assert.True(t, cache.Check("second"))
	assert.True(t, cache.Check("third"))
	assert.True(t, cache.Check("fourth"))

	// Re-marking moves a key to the back of the eviction order
	cache.Mark("second")
	cache.Mark("fifth")

	assert.False(t, cache.Check("third"), "third is now the oldest")
	assert.True(t, cache.Check("second"))
	assert.Equal(t, 3, cache.Len())
}

func TestCache_PutGet(t *testing.T) {
	cache := New[string, int](5*time.Minute, 10)
	defer cache.Close()

	_, ok := cache.Get("answer")
	assert.False(t, ok)

	cache.Put("answer", 42)
	v, ok := cache.Get("answer")
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	cache.Put("answer", 43)
	v, _ = cache.Get("answer")
	assert.Equal(t, 43, v)

	cache.Delete("answer")
	_, ok = cache.Get("answer")
	assert.False(t, ok)
}

func TestCache_Get_Expired(t *testing.T) {
	cache := New[string, string](10*time.Millisecond, 10)
	defer cache.Close()

	cache.Put("user-1", "Dana")
	time.Sleep(20 * time.Millisecond)

	_, ok := cache.Get("user-1")
	assert.False(t, ok)
}

func TestCache_Cleanup(t *testing.T) {
	cache := NewSet(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("cleanup-1")
	cache.Mark("cleanup-2")
	time.Sleep(20 * time.Millisecond)

	cache.runCleanup()
	assert.Equal(t, 0, cache.Len(), "cleanup should remove expired entries")
}

func TestCache_CheckAndMark(t *testing.T) {
	cache := NewSet(10*time.Millisecond, 100)
	defer cache.Close()

	assert.False(t, cache.CheckAndMark("key"), "first CheckAndMark should return false")
	assert.True(t, cache.CheckAndMark("key"), "second CheckAndMark should return true")

	time.Sleep(20 * time.Millisecond)
	assert.False(t, cache.CheckAndMark("key"), "should not be seen after expiry")
}

func TestCache_CheckAndMark_Atomic(t *testing.T) {
	cache := NewSet(5*time.Minute, 100)
	defer cache.Close()

	const numGoroutines = 100
	var winners atomic.Int32
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			if !cache.CheckAndMark("contested-key") {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load(), "exactly one goroutine should win the race for CheckAndMark")
}

func TestCache_Concurrent(t *testing.T) {
	cache := New[string, int](5*time.Minute, 1000)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d-%d", id%10, j%10)
				cache.Put(key, j)
				cache.Get(key)
				cache.Check(key)
			}
		}(i)
	}
	wg.Wait()

	cache.Mark("final-key")
	assert.True(t, cache.Check("final-key"))
}

func TestCache_Close(t *testing.T) {
	cache := NewSet(5*time.Minute, 100)
	cache.Mark("before-close")
	assert.True(t, cache.Check("before-close"))

	cache.Close()
	cache.Close()
}
