package ref

import (
	"sync"
	"sync/atomic"
	"testing"
)

type referent struct {
	destroyed atomic.Bool
}

func TestRefCountsStartAtOneOwner(t *testing.T) {
	var r Ref

	if r.Strong() != 0 || r.Weak() != 0 {
		t.Fatalf("Expected zeroed counters, got strong=%d weak=%d", r.Strong(), r.Weak())
	}

	r.AddRef()
	if r.Release() {
		t.Error("Release with an owner left should not report destruction")
	}
	if !r.Release() {
		t.Error("Releasing the last owner should report destruction")
	}
	if r.TryUpgrade() {
		t.Error("Upgrade must fail once the sentinel is reached")
	}
	if r.Strong() != -1 {
		t.Errorf("Expected strong count -1, got %d", r.Strong())
	}
}

func TestHandleDestroyAndFreeAreSeparate(t *testing.T) {
	obj := &referent{}
	destroys := 0
	h := New(obj, func(o *referent) {
		destroys++
		o.destroyed.Store(true)
	})

	// a weak observer keeps the control block alive
	h.AddWeak()

	if !h.Release() {
		t.Fatal("Releasing the creator reference should destroy the referent")
	}
	if destroys != 1 {
		t.Fatalf("Expected 1 destroy, got %d", destroys)
	}
	if !obj.destroyed.Load() {
		t.Error("Referent was not destroyed")
	}

	if got, ok := h.Get(); ok || got != nil {
		t.Error("Weak upgrade succeeded after destruction")
	}

	if !h.Destroyed() {
		t.Error("Handle should report destruction while a weak handle is alive")
	}
	if !h.ReleaseWeak() {
		t.Error("Releasing the last weak handle should free the control block")
	}
}

func TestHandleUpgradeKeepsReferentAlive(t *testing.T) {
	obj := &referent{}
	h := New(obj, func(o *referent) { o.destroyed.Store(true) })

	got, ok := h.Get()
	if !ok || got != obj {
		t.Fatal("Upgrade of a live referent failed")
	}

	h.Release() // creator
	if obj.destroyed.Load() {
		t.Fatal("Referent destroyed while an upgraded reference is outstanding")
	}

	if !h.Release() {
		t.Error("Releasing the upgraded reference should destroy the referent")
	}
	if !obj.destroyed.Load() {
		t.Error("Referent was not destroyed")
	}
}

func TestHandleConcurrentAddRelease(t *testing.T) {
	const workers = 64
	const rounds = 1000

	obj := &referent{}
	var destroys atomic.Int32
	h := New(obj, func(o *referent) {
		destroys.Add(1)
		o.destroyed.Store(true)
	})

	var wg sync.WaitGroup
	var violations atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				h.AddRef()
				if obj.destroyed.Load() {
					violations.Add(1)
				}
				h.Release()
			}
		}()
	}
	wg.Wait()

	if destroys.Load() != 0 {
		t.Fatalf("Referent destroyed while the creator reference was held (%d)", destroys.Load())
	}
	if violations.Load() != 0 {
		t.Fatalf("Observed destroyed referent %d times while holding a strong reference", violations.Load())
	}

	h.Release()
	if destroys.Load() != 1 {
		t.Errorf("Expected exactly one destroy, got %d", destroys.Load())
	}
}

func TestHandleConcurrentUpgradeRace(t *testing.T) {
	const upgraders = 32

	for round := 0; round < 200; round++ {
		obj := &referent{}
		var destroys atomic.Int32
		h := New(obj, func(o *referent) {
			destroys.Add(1)
			o.destroyed.Store(true)
		})
		h.AddWeak()

		var wg sync.WaitGroup
		var bad atomic.Int32
		start := make(chan struct{})
		for i := 0; i < upgraders; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if o, ok := h.Get(); ok {
					if o.destroyed.Load() {
						bad.Add(1)
					}
					h.Release()
				}
			}()
		}

		close(start)
		h.Release() // creator races with the upgraders
		wg.Wait()

		if destroys.Load() != 1 {
			t.Fatalf("round %d: expected exactly one destroy, got %d", round, destroys.Load())
		}
		if bad.Load() != 0 {
			t.Fatalf("round %d: upgraded to a destroyed referent %d times", round, bad.Load())
		}
		if !h.ReleaseWeak() {
			t.Fatalf("round %d: control block not freed by last weak release", round)
		}
	}
}
