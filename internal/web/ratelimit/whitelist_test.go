package ratelimit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWhitelist(t *testing.T) {
	w := NewWhitelist("b", "a", "")
	assert.Equal(t, 2, w.Len())
	assert.Equal(t, []string{"a", "b"}, w.List())

	assert.True(t, w.Contains("a"))
	assert.True(t, w.Contains("zzz", "b"))
	assert.False(t, w.Contains("c"))

	assert.True(t, w.Remove("a"))
	assert.False(t, w.Remove("a"))
	assert.False(t, w.Contains("a"))

	w.Clear()
	assert.Equal(t, 0, w.Len())
}

func TestWhitelist_NilContains(t *testing.T) {
	var w *Whitelist
	assert.False(t, w.Contains("a"))
}

func TestWhitelist_Concurrent(t *testing.T) {
	w := NewWhitelist()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			w.Add("key")
		}()
		go func() {
			defer wg.Done()
			w.Contains("key")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, w.Len())
}
