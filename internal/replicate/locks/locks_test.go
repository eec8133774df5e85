package locks

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTable_SerializesSameID(t *testing.T) {
	table := New()
	var mu sync.Mutex
	order := []string{}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		unlock := table.Lock("a")
		defer unlock()
		mu.Lock()
		order = append(order, "first-start")
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		order = append(order, "first-end")
		mu.Unlock()
	}()
	time.Sleep(2 * time.Millisecond)
	go func() {
		defer wg.Done()
		unlock := table.Lock("a")
		defer unlock()
		mu.Lock()
		order = append(order, "second-start")
		mu.Unlock()
	}()
	wg.Wait()

	assert.Equal(t, []string{"first-start", "first-end", "second-start"}, order)
}

func TestTable_DistinctIDsDoNotBlock(t *testing.T) {
	table := New()
	done := make(chan struct{})

	unlockA := table.Lock("a")
	go func() {
		unlockB := table.Lock("b")
		defer unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on distinct id blocked")
	}
	unlockA()
}

func TestTable_ReleasesEntryWhenUncontended(t *testing.T) {
	table := New()
	unlock := table.Lock("a")
	unlock()
	assert.Empty(t, table.byID)
}
