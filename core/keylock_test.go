package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex(t *testing.T) {
	km := NewKeyedMutex()

	var (
		wg      sync.WaitGroup
		counter = make(map[string]int)
		mu      sync.Mutex // guards map writes across keys only
	)
	keys := []string{"a", "b", "c"}
	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			unlock := km.Lock(key)
			defer unlock()

			mu.Lock()
			v := counter[key]
			mu.Unlock()
			v++
			mu.Lock()
			counter[key] = v
			mu.Unlock()
		}(keys[i%len(keys)])
	}
	wg.Wait()

	for _, k := range keys {
		assert.Equal(t, 100, counter[k], k)
	}
	assert.Equal(t, 0, km.Len(), "idle keys are dropped")

	unlock := km.Lock("a")
	assert.Equal(t, 1, km.Len())
	unlock()
	unlock() // idempotent
	assert.Equal(t, 0, km.Len())
}
