// Package tier builds the two cache-usage-specific wrappers around
// swisstable.Table: Verify (the trusted cache, generational FIFO eviction)
// and Record (the quarantine cache, frequency-threshold eviction). Each
// owns the tier-specific metadata the bare hash map core knows nothing
// about — oldest/newest generation for Verify, the (constant) eviction
// frequency floor for Record — and wires its own eviction.Reduce* function
// into the table's OnReduce hook.
package tier

import (
	"github.com/Voskan/cfi-vcache/internal/eviction"
	"github.com/Voskan/cfi-vcache/internal/swisstable"
)

// Verify is the trusted signature cache. A hit is the validator's fast
// path; entries age out by generation.
type Verify struct {
	Table *swisstable.Table

	// OldestGeneration/NewestGeneration start at 1/0 — oldest strictly
	// greater than newest. No eviction runs before the table has live
	// entries, and the first promotion increments NewestGeneration to 1
	// before anything is admitted, so the apparent inversion never
	// surfaces as a live invariant violation.
	OldestGeneration uint32
	NewestGeneration uint32

	// OnEvict, if set, is called after every eviction pass with the number
	// of slots freed. The owning Validator wires this to its metrics sink;
	// nil is fine for tests that don't care.
	OnEvict func(n int)
}

// NewVerify constructs a Verify tier over a pre-sized Groups slice (see
// swisstable.NewTable for why the slice, not a count, is the parameter).
// hash/eq let callers (tests, mainly) inject deterministic functions that
// force collisions and probe-chain wraparound on demand; pass nil for both
// to get swisstable.DefaultHash/DefaultEq.
func NewVerify(groups []swisstable.Group, hash swisstable.HashFunc, eq swisstable.EqFunc) *Verify {
	if hash == nil {
		hash = swisstable.DefaultHash
	}
	if eq == nil {
		eq = swisstable.DefaultEq
	}
	v := &Verify{
		Table:            swisstable.NewTable(groups, hash, eq),
		OldestGeneration: 1,
		NewestGeneration: 0,
	}
	v.Table.OnReduce = func(t *swisstable.Table) {
		n := eviction.ReduceVerify(t, &v.OldestGeneration, v.NewestGeneration)
		if v.OnEvict != nil {
			v.OnEvict(n)
		}
	}
	return v
}

// Find reports whether sig is present, returning the stored copy (with its
// admission generation in Data) on a hit.
func (v *Verify) Find(sig swisstable.Signature) (swisstable.Signature, bool) {
	idx, ok := v.Table.Find(sig)
	if !ok {
		return swisstable.Signature{}, false
	}
	return v.Table.KeyAt(idx), true
}

// Insert stamps sig with the current NewestGeneration and inserts it.
// Promotion never deduplicates: a signature already present may be
// inserted again, ending up as a second copy in a different slot.
func (v *Verify) Insert(sig swisstable.Signature) int {
	sig.Data = uint64(v.NewestGeneration)
	return v.Table.Insert(sig)
}

// Record is the quarantine cache: it accumulates observation frequencies
// for candidates not yet trusted.
type Record struct {
	Table *swisstable.Table

	// EvictionMinFreq is written once at construction
	// (eviction.MapMigrateMinFreq + 1) and never mutated afterward — see
	// eviction.ReduceRecord's doc comment.
	EvictionMinFreq uint64

	// OnEvict, if set, is called after every eviction pass with the number
	// of slots freed. The owning Validator wires this to its metrics sink;
	// nil is fine for tests that don't care.
	OnEvict func(n int)
}

// NewRecord constructs a Record tier over a pre-sized Groups slice.
func NewRecord(groups []swisstable.Group, hash swisstable.HashFunc, eq swisstable.EqFunc) *Record {
	if hash == nil {
		hash = swisstable.DefaultHash
	}
	if eq == nil {
		eq = swisstable.DefaultEq
	}
	r := &Record{
		Table:           swisstable.NewTable(groups, hash, eq),
		EvictionMinFreq: eviction.MapMigrateMinFreq + 1,
	}
	r.Table.OnReduce = func(t *swisstable.Table) {
		n := eviction.ReduceRecord(t, r.EvictionMinFreq)
		if r.OnEvict != nil {
			r.OnEvict(n)
		}
	}
	return r
}

// Track looks up sig; if present, bumps its observed frequency; otherwise
// inserts it with frequency 1. Insert alone would not dedup, so the lookup
// here is mandatory.
func (r *Record) Track(sig swisstable.Signature) {
	if idx, ok := r.Table.Find(sig); ok {
		r.Table.IncDataAt(idx, 1)
		return
	}
	sig.Data = 1
	r.Table.Insert(sig)
}

// Clear empties the record tier (called after a promotion pass).
func (r *Record) Clear() {
	r.Table.Clear()
}
