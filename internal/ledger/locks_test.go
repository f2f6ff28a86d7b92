package ledger

import (
	"sync"
	"testing"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	locks := NewKeyedMutex()

	const workers = 50
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.Lock("hk-1")
			counter++
			locks.Unlock("hk-1")
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Errorf("counter = %d, want %d", counter, workers)
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	locks := NewKeyedMutex()

	locks.Lock("hk-1")
	done := make(chan struct{})
	go func() {
		locks.Lock("hk-2")
		locks.Unlock("hk-2")
		close(done)
	}()

	<-done // must not deadlock while hk-1 is held
	locks.Unlock("hk-1")
}

func TestKeyedMutexCleansUpEntries(t *testing.T) {
	locks := NewKeyedMutex()

	locks.Lock("hk-1")
	locks.Unlock("hk-1")

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.locks) != 0 {
		t.Errorf("lock map has %d entries after release, want 0", len(locks.locks))
	}
}
