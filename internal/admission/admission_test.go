package admission

import (
	"sync"
	"testing"
)

func TestTryAcquire_Bound(t *testing.T) {
	c := NewController(3)

	for i := 0; i < 3; i++ {
		if !c.TryAcquire() {
			t.Fatalf("TryAcquire() #%d = false, want true", i+1)
		}
	}

	if c.TryAcquire() {
		t.Error("TryAcquire() over ceiling = true, want false")
	}

	if active, max := c.Snapshot(); active != 3 || max != 3 {
		t.Errorf("Snapshot() = (%d, %d), want (3, 3)", active, max)
	}

	// One release frees exactly one slot.
	c.Release()
	if !c.TryAcquire() {
		t.Error("TryAcquire() after Release() = false, want true")
	}
	if c.TryAcquire() {
		t.Error("TryAcquire() should be at ceiling again")
	}
}

func TestTryAcquire_RejectionDoesNotMutate(t *testing.T) {
	c := NewController(1)
	if !c.TryAcquire() {
		t.Fatal("TryAcquire() = false, want true")
	}

	for i := 0; i < 5; i++ {
		c.TryAcquire()
	}

	if active, _ := c.Snapshot(); active != 1 {
		t.Errorf("active = %d after rejected acquires, want 1", active)
	}
}

func TestController_Concurrent(t *testing.T) {
	const ceiling = 8
	c := NewController(ceiling)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.TryAcquire() {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted > ceiling {
		t.Errorf("admitted %d concurrent acquires, ceiling is %d", admitted, ceiling)
	}
	active, _ := c.Snapshot()
	if int(active) != admitted {
		t.Errorf("active = %d, want %d", active, admitted)
	}

	for i := 0; i < admitted; i++ {
		c.Release()
	}
	if active, _ := c.Snapshot(); active != 0 {
		t.Errorf("active = %d after all releases, want 0", active)
	}
}
