// Package handle implements the request-handle tracking table: a
// handle(uint64) -> ref(uint64) map that preserves per-request correlation
// across the parent/child process boundary so RSP, REGIST, and RELEASE
// frames can be routed back to the RPC connection that owns them.
//
// The table does not own a lock. Per §4.2 it is guarded by the
// parent->child queue's mutex, reused rather than given an independent
// lock, because every handle mutation already happens either inside that
// queue's Push critical section (REQ frames) or in an explicit table op
// that must serialize against the same section to preserve the
// insert-happens-before-remove ordering described in §5. The caller is
// responsible for holding that lock around every method call.
package handle

// Table is an unordered handle -> ref map. It is NOT internally
// synchronized; every method must be called with the owning queue's mutex
// held.
type Table struct {
	entries map[uint64]uint64
}

// New creates an empty table with capacity room for initialCap entries
// before the underlying map grows.
func New(initialCap int) *Table {
	return &Table{entries: make(map[uint64]uint64, initialCap)}
}

// Insert records ref for handle, overwriting any existing entry for the
// same handle. Called from Push while the REQ's frame is still invisible
// to any consumer, so the insert happens-before any RSP/RELEASE that could
// remove it.
func (t *Table) Insert(handle, ref uint64) {
	t.entries[handle] = ref
}

// Remove deletes handle from the table and returns its stored ref and true,
// or (0, false) if handle was not present. The bool distinguishes a
// legitimately registered ref of 0 from a missing handle.
func (t *Table) Remove(handle uint64) (uint64, bool) {
	ref, ok := t.entries[handle]
	if !ok {
		return 0, false
	}
	delete(t.entries, handle)
	return ref, true
}

// Len reports the number of live handles.
func (t *Table) Len() int {
	return len(t.entries)
}

// Drain removes every entry from the table, invoking fn(handle) for each
// one before the table is cleared. Used when the child process dies: every
// outstanding handle must be told its request will never be answered.
func (t *Table) Drain(fn func(handle uint64)) {
	for h := range t.entries {
		fn(h)
	}
	t.entries = make(map[uint64]uint64, len(t.entries))
}
