package keyedmutex

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLock_SerializesSameKey(t *testing.T) {
	m := New()

	const goroutines = 50
	counter := 0

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			unlock := m.Lock("order-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines, counter)
	assert.Equal(t, 0, m.Len(), "entries should be reclaimed after unlock")
}

func TestLock_IndependentKeys(t *testing.T) {
	m := New()

	unlockA := m.Lock("order-a")
	defer unlockA()

	// A different key must not block.
	done := make(chan struct{})
	go func() {
		unlockB := m.Lock("order-b")
		unlockB()
		close(done)
	}()
	<-done

	assert.Equal(t, 1, m.Len())
}

func TestLock_Reentry(t *testing.T) {
	m := New()

	unlock := m.Lock("k")
	unlock()
	unlock2 := m.Lock("k")
	unlock2()

	assert.Equal(t, 0, m.Len())
}
