package syncutil

import (
	"sync"
	"testing"
	"time"
)

func TestLockSerializesSameKey(t *testing.T) {
	var m ShardedMutex
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("wal_1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
}

func TestLockAllOppositeOrdersDoNotDeadlock(t *testing.T) {
	var m ShardedMutex
	forward := []string{"wal_a", "wal_b", "wal_c"}
	backward := []string{"wal_c", "wal_b", "wal_a"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			unlock := m.LockAll(forward...)
			unlock()
		}
	}()
	for i := 0; i < 500; i++ {
		unlock := m.LockAll(backward...)
		unlock()
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("overlapping lock sets deadlocked")
	}
}

func TestLockAllCollapsesDuplicateKeys(t *testing.T) {
	var m ShardedMutex

	unlock := m.LockAll("wal_x", "wal_x", "wal_x")
	unlock()

	// The shard must be free again after a single unlock.
	unlock = m.Lock("wal_x")
	unlock()
}
