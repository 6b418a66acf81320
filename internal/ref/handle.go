package ref

import "sync/atomic"

// Handle is the control block shared by every strong and weak handle of a
// referent. The creator owns one strong reference; the strong side as a whole
// owns one weak reference, released right after destruction.
type Handle[T any] struct {
	ref     Ref
	target  atomic.Pointer[T]
	destroy func(*T)
}

// New creates a control block for target. destroy runs exactly once, when the
// last strong reference is released.
func New[T any](target *T, destroy func(*T)) *Handle[T] {
	h := &Handle[T]{destroy: destroy}
	h.target.Store(target)
	return h
}

// AddRef adds a strong reference
func (h *Handle[T]) AddRef() {
	h.ref.AddRef()
}

// Release drops a strong reference. It returns true if the referent was
// destroyed by this call.
func (h *Handle[T]) Release() bool {
	if !h.ref.Release() {
		return false
	}

	if h.destroy != nil {
		if t := h.target.Load(); t != nil {
			h.destroy(t)
		}
	}
	h.ReleaseWeak()
	return true
}

// AddWeak adds a weak reference
func (h *Handle[T]) AddWeak() {
	h.ref.AddWeak()
}

// ReleaseWeak drops a weak reference. It returns true if the control block
// was freed by this call.
func (h *Handle[T]) ReleaseWeak() bool {
	if !h.ref.ReleaseWeak() {
		return false
	}
	h.target.Store(nil)
	return true
}

// Get upgrades a weak handle to a strong one. The caller must Release the
// returned referent.
func (h *Handle[T]) Get() (*T, bool) {
	if h == nil || !h.ref.TryUpgrade() {
		return nil, false
	}
	return h.target.Load(), true
}

// Destroyed reports whether the last strong reference has been released
func (h *Handle[T]) Destroyed() bool {
	return h.ref.Strong() < 0
}

// Counts returns the raw strong and weak counters
func (h *Handle[T]) Counts() (strong, weak int64) {
	return h.ref.Strong(), h.ref.Weak()
}
