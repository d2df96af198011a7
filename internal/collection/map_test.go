package collection

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncMap_PutIfAbsent(t *testing.T) {
	m := NewSyncMap[string, int]()
	assert.True(t, m.PutIfAbsent("a", 1))
	assert.False(t, m.PutIfAbsent("a", 2))
	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	m.Delete("a")
	assert.True(t, m.PutIfAbsent("a", 3))
}

func TestSyncMap_PutIfAbsentConcurrent(t *testing.T) {
	m := NewSyncMap[string, int]()
	var wg sync.WaitGroup
	wins := make(chan int, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if m.PutIfAbsent("key", i) {
				wins <- i
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one writer shall win")
}
