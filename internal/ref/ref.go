// Package ref implements strong/weak ownership counting for objects that are
// torn down while other goroutines may still hold handles to them.
//
// Both counters start at zero, which means "one owner". A counter that drops
// to -1 has no owners left: the strong side destroys the referent, the weak
// side frees the control block. A weak handle is upgraded to a strong one with
// a compare-and-swap loop that refuses once the strong count reached -1, so a
// destroyed referent is never resurrected.
package ref

import "sync/atomic"

// Ref holds the strong and weak counters
type Ref struct {
	refs     atomic.Int64
	weakRefs atomic.Int64
}

// AddRef adds a strong reference
func (r *Ref) AddRef() {
	r.refs.Add(1)
}

// Release drops a strong reference and reports whether it was the last one
func (r *Ref) Release() bool {
	return r.refs.Add(-1) == -1
}

// AddWeak adds a weak reference
func (r *Ref) AddWeak() {
	r.weakRefs.Add(1)
}

// ReleaseWeak drops a weak reference and reports whether it was the last one
func (r *Ref) ReleaseWeak() bool {
	return r.weakRefs.Add(-1) == -1
}

// TryUpgrade takes a strong reference unless the referent is already destroyed
func (r *Ref) TryUpgrade() bool {
	owners := r.refs.Load()
	for owners > -1 {
		if r.refs.CompareAndSwap(owners, owners+1) {
			return true
		}
		owners = r.refs.Load()
	}
	return false
}

// Strong returns the raw strong counter (-1 once destroyed)
func (r *Ref) Strong() int64 {
	return r.refs.Load()
}

// Weak returns the raw weak counter (-1 once freed)
func (r *Ref) Weak() int64 {
	return r.weakRefs.Load()
}
