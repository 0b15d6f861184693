package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRegistry_RegisterGet tests basic store and retrieve.
func TestRegistry_RegisterGet(t *testing.T) {
	r := New[string, int]()

	r.Register("a", 1)
	r.Register("b", 2)

	v, ok := r.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = r.Get("ghost")
	assert.False(t, ok)

	assert.True(t, r.Has("b"))
	assert.False(t, r.Has("ghost"))
	assert.Equal(t, 2, r.Len())
}

// TestRegistry_Overwrite tests that re-registering replaces the value.
func TestRegistry_Overwrite(t *testing.T) {
	r := New[string, string]()

	r.Register("k", "first")
	r.Register("k", "second")

	v, ok := r.Get("k")
	require.True(t, ok)
	assert.Equal(t, "second", v)
	assert.Equal(t, 1, r.Len())
}

// TestRegistry_Delete tests removal.
func TestRegistry_Delete(t *testing.T) {
	r := New[string, int]()
	r.Register("a", 1)

	r.Delete("a")
	r.Delete("never-existed")

	assert.False(t, r.Has("a"))
	assert.Equal(t, 0, r.Len())
}

// TestRegistry_Keys tests key listing.
func TestRegistry_Keys(t *testing.T) {
	r := New[string, int]()
	r.Register("a", 1)
	r.Register("b", 2)
	r.Register("c", 3)

	assert.ElementsMatch(t, []string{"a", "b", "c"}, r.Keys())
}

// TestRegistry_Range tests iteration and early stop.
func TestRegistry_Range(t *testing.T) {
	r := New[string, int]()
	r.Register("a", 1)
	r.Register("b", 2)
	r.Register("c", 3)

	seen := map[string]int{}
	r.Range(func(k string, v int) bool {
		seen[k] = v
		return true
	})
	assert.Equal(t, map[string]int{"a": 1, "b": 2, "c": 3}, seen)

	visits := 0
	r.Range(func(string, int) bool {
		visits++
		return false
	})
	assert.Equal(t, 1, visits)
}

// TestRegistry_GetOrCreate tests lazy construction.
func TestRegistry_GetOrCreate(t *testing.T) {
	r := New[string, []int]()

	created := 0
	factory := func() []int {
		created++
		return []int{}
	}

	first := r.GetOrCreate("k", factory)
	second := r.GetOrCreate("k", factory)

	assert.Equal(t, 1, created)
	assert.Equal(t, first, second)
}

// TestRegistry_ConcurrentAccess tests mixed readers and writers.
func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New[int, int]()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Register(n, j)
				r.Get(n)
				r.GetOrCreate(n+100, func() int { return n })
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 16, r.Len())
}
