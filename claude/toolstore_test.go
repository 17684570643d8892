package claude

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolStore_RecordLookup(t *testing.T) {
	s := NewToolStore()

	_, ok := s.Lookup("t1")
	assert.False(t, ok)

	s.Record("t1", "Read")
	name, ok := s.Lookup("t1")
	require.True(t, ok)
	assert.Equal(t, "Read", name)

	// Last writer wins on reuse.
	s.Record("t1", "Edit")
	name, _ = s.Lookup("t1")
	assert.Equal(t, "Edit", name)
	assert.Equal(t, 1, s.Len())
}

func TestToolStore_IgnoresEmpty(t *testing.T) {
	s := NewToolStore()
	s.Record("", "Read")
	s.Record("t1", "")
	assert.Equal(t, 0, s.Len())

	_, ok := s.Lookup("")
	assert.False(t, ok)
}

func TestToolStores_IsolatedPerHandle(t *testing.T) {
	stores := NewToolStores()
	stores.For("session-a").Record("t1", "Read")

	_, ok := stores.For("session-b").Lookup("t1")
	assert.False(t, ok, "one session's store must not answer another's lookup")

	name, ok := stores.For("session-a").Lookup("t1")
	require.True(t, ok)
	assert.Equal(t, "Read", name)
}

func TestToolStores_GetDoesNotCreate(t *testing.T) {
	stores := NewToolStores()
	_, ok := stores.Get("missing")
	assert.False(t, ok)

	stores.For("present")
	_, ok = stores.Get("present")
	assert.True(t, ok)
}

func TestToolStores_RemoveIdempotent(t *testing.T) {
	stores := NewToolStores()
	stores.For("h").Record("t1", "Bash")

	assert.True(t, stores.Remove("h"))
	assert.False(t, stores.Remove("h"))

	// A fresh store after removal starts empty.
	assert.Equal(t, 0, stores.For("h").Len())
}

func TestToolStores_ConcurrentAccess(t *testing.T) {
	stores := NewToolStores()
	var wg sync.WaitGroup
	for i := range 8 {
		handle := fmt.Sprintf("h%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := range 200 {
				stores.For(handle).Record(fmt.Sprintf("t%d", j), "Read")
			}
		}()
		go func() {
			defer wg.Done()
			for j := range 200 {
				stores.For(handle).Lookup(fmt.Sprintf("t%d", j))
			}
		}()
	}
	wg.Wait()

	for i := range 8 {
		assert.Equal(t, 200, stores.For(fmt.Sprintf("h%d", i)).Len())
	}
}
