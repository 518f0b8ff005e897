// Package swisstable implements a fixed-size, open-addressing hash map
// core: a table of Groups with insertion, lookup, iteration, and clearing.
// It never grows — the two tiers built on top of it (internal/tier) are
// each constructed with a fixed group count for the process lifetime.
//
// Table is deliberately ignorant of which tier it backs: the hash function
// and equality comparator are parameters of the type rather than baked in,
// so tests can supply deterministic stand-ins (see table_test.go). Eviction
// is likewise injected as a callback (OnReduce) rather than hard-coded,
// keeping the eviction policies (internal/eviction) a separate, swappable
// component.
package swisstable

import (
	"github.com/Voskan/cfi-vcache/internal/group"
)

// Signature is the logical key: a (type, vptr) pair plus a per-tier payload.
// Data means an observed frequency in the record tier and an admission
// generation in the verify tier; it is never part of identity.
type Signature struct {
	Type uint64
	VPtr uint64
	Data uint64
}

// HashDescriptor is the 7-bit metadata byte plus position derived from a
// key's hash, stored alongside each occupied slot so a slot's control byte
// can be cross-checked against the hash that placed it there.
type HashDescriptor struct {
	Meta byte
	Pos  uint64
}

// Group is one 16-slot group: a control word plus parallel key and hash
// arrays. It contains no pointers, so it is safe to back with memory the
// garbage collector never scans (internal/pagestore).
type Group struct {
	Control group.Control
	Keys    [group.Size]Signature
	Hashes  [group.Size]HashDescriptor
}

// HashFunc computes the 64-bit hash of a Signature's identity fields.
type HashFunc func(Signature) uint64

// EqFunc reports whether two Signatures are the same key (ignoring Data).
type EqFunc func(a, b Signature) bool

// DefaultHash computes (type · 2654435761) XOR (vptr · 2246822519) in the
// machine's native (64-bit) word; the multiplications wrap modulo 2^64,
// matching unsigned size_t arithmetic on a 64-bit host.
func DefaultHash(s Signature) uint64 {
	return (s.Type * 2654435761) ^ (s.VPtr * 2246822519)
}

// DefaultEq implements field-wise equality on (Type, VPtr).
func DefaultEq(a, b Signature) bool {
	return a.Type == b.Type && a.VPtr == b.VPtr
}

func splitHash(h uint64) (meta byte, pos uint64) {
	// Metadata is the low 7 bits; position is everything from bit 8 up.
	// Bit 7 of the hash is unused.
	return byte(h & 0x7f), h >> 8
}

// Table is a fixed-size map of Groups. Every field is exported because the
// eviction policies in internal/eviction operate directly on it — the hash
// map core and the eviction policies are separate components, but both are
// trusted internals of this module, not public API.
type Table struct {
	Groups   []Group
	NGroups  int
	Size     int // NGroups * group.Size
	Items    int
	Sentinel int

	Hash HashFunc
	Eq   EqFunc

	// OnReduce runs the tier-appropriate eviction policy. It is set once by
	// the owning tier (internal/tier) right after construction.
	OnReduce func(*Table)
}

// LoadFactorThreshold is the load above which Insert triggers eviction
// before placing the new entry.
const LoadFactorThreshold = 0.75

// NewTable constructs a Table over a pre-sized Groups slice. The slice's
// length fixes the table's capacity for its entire lifetime; groups is
// typically backed by a page-aligned region from internal/pagestore, but a
// plain make([]Group, n) works identically for tests.
func NewTable(groups []Group, hash HashFunc, eq EqFunc) *Table {
	for i := range groups {
		groups[i].Control = group.NewEmptyControl()
	}
	return &Table{
		Groups:  groups,
		NGroups: len(groups),
		Size:    len(groups) * group.Size,
		Hash:    hash,
		Eq:      eq,
	}
}

// SentinelGroup returns the number of groups in the occupied prefix
// (group(sentinel) + 1) — the wraparound modulus Find uses once it has
// exhausted the starting group, so lookups never probe groups beyond the
// high-water mark any key has ever occupied.
func (t *Table) SentinelGroup() int {
	return t.Sentinel/group.Size + 1
}

func (t *Table) shouldReduce() bool {
	return float64(t.Items) >= LoadFactorThreshold*float64(t.Size)
}

// Find looks up key starting from its hash-derived home group, probing
// forward through occupied groups until it hits a match or an empty slot,
// or has probed every group of the occupied prefix once. It returns the
// slot index and true on a hit, or (0, false) on a miss.
func (t *Table) Find(key Signature) (int, bool) {
	meta, pos := splitHash(t.Hash(key))
	idx := int(pos % uint64(t.Size))
	g := idx / group.Size
	p := idx % group.Size
	return t.findFrom(g, p, meta, key)
}

func (t *Table) findFrom(g, p int, meta byte, key Signature) (int, bool) {
	grp := &t.Groups[g]
	matches := group.ProbeFrom(&grp.Control, p, meta)
	for matches != 0 {
		var i int
		i, matches = group.NextMatch(matches)
		if t.Eq(grp.Keys[i], key) {
			return g*group.Size + i, true
		}
	}
	if group.ProbeFrom(&grp.Control, p, group.Empty) != 0 {
		return 0, false
	}

	endGroup := t.SentinelGroup()
	for step := 0; step < endGroup; step++ {
		g = (g + 1) % endGroup
		grp = &t.Groups[g]
		matches = group.Probe(&grp.Control, meta)
		for matches != 0 {
			var i int
			i, matches = group.NextMatch(matches)
			if t.Eq(grp.Keys[i], key) {
				return g*group.Size + i, true
			}
		}
		if group.Probe(&grp.Control, group.Empty) != 0 {
			return 0, false
		}
	}
	return 0, false
}

// KeyAt returns the Signature stored at a slot index returned by Find or
// Iterate.
func (t *Table) KeyAt(idx int) Signature {
	return t.Groups[idx/group.Size].Keys[idx%group.Size]
}

// IncDataAt adds delta to the Data payload stored at idx. Used by the
// record tier's Track to bump an observed frequency in place.
func (t *Table) IncDataAt(idx int, delta uint64) {
	t.Groups[idx/group.Size].Keys[idx%group.Size].Data += delta
}

// Insert places key in the first empty-or-deleted slot found by probing
// from its hash-derived home group. It does not deduplicate: callers that
// need upsert semantics (the record tier's Track) must Find first. If the
// load factor threshold is crossed, OnReduce runs before the new entry is
// placed.
func (t *Table) Insert(key Signature) int {
	if t.shouldReduce() && t.OnReduce != nil {
		t.OnReduce(t)
	}

	meta, pos := splitHash(t.Hash(key))
	idx := int(pos % uint64(t.Size))
	g := idx / group.Size
	p := idx % group.Size

	return t.insertAt(g, p, meta, pos, key)
}

func (t *Table) insertAt(g, p int, meta byte, pos uint64, key Signature) int {
	if slot, ok := t.firstEmptyOrDeletedFrom(g, p); ok {
		t.place(g, slot, meta, pos, key)
		return g*group.Size + slot
	}

	for {
		g = (g + 1) % t.NGroups
		if slot, ok := t.firstEmptyOrDeleted(g); ok {
			t.place(g, slot, meta, pos, key)
			return g*group.Size + slot
		}
	}
}

func (t *Table) firstEmptyOrDeletedFrom(g, p int) (int, bool) {
	grp := &t.Groups[g]
	emptyMask := group.ProbeFrom(&grp.Control, p, group.Empty)
	deletedMask := group.ProbeFrom(&grp.Control, p, group.Deleted)
	return firstOfEither(emptyMask, deletedMask)
}

func (t *Table) firstEmptyOrDeleted(g int) (int, bool) {
	grp := &t.Groups[g]
	emptyMask := group.Probe(&grp.Control, group.Empty)
	deletedMask := group.Probe(&grp.Control, group.Deleted)
	return firstOfEither(emptyMask, deletedMask)
}

func firstOfEither(emptyMask, deletedMask uint16) (int, bool) {
	if emptyMask == 0 && deletedMask == 0 {
		return 0, false
	}
	e := group.MatchMetadata(emptyMask)
	d := group.MatchMetadata(deletedMask)
	if e < d {
		return e, true
	}
	return d, true
}

func (t *Table) place(g, p int, meta byte, pos uint64, key Signature) {
	grp := &t.Groups[g]
	grp.Control[p] = meta
	grp.Keys[p] = key
	grp.Hashes[p] = HashDescriptor{Meta: meta, Pos: pos}

	t.Items++
	idx := g*group.Size + p
	if idx > t.Sentinel {
		t.Sentinel = idx
	}
}

// Clear resets every control byte in the sentinel-bounded prefix to Empty
// and drops Items to zero. Sentinel is deliberately left untouched: the
// high-water mark of occupied slots still bounds future lookups correctly
// even once the table is logically empty, and recomputing it would require
// a full scan for no behavioral benefit.
func (t *Table) Clear() {
	empty := group.NewEmptyControl()
	for g := 0; g < t.SentinelGroup(); g++ {
		t.Groups[g].Control = empty
	}
	t.Items = 0
}

// Iterate visits indices 0..Sentinel inclusive, one per call, advancing
// *cursor. It returns (nil, true) for a no-value slot (empty or deleted),
// (key, true) for a live slot, and (nil, false) once the cursor passes
// Sentinel.
func (t *Table) Iterate(cursor *int) (*Signature, bool) {
	if *cursor > t.Sentinel {
		return nil, false
	}
	idx := *cursor
	grp := &t.Groups[idx/group.Size]
	p := idx % group.Size
	*cursor++

	if grp.Control[p]&0x80 != 0 {
		return nil, true
	}
	return &grp.Keys[p], true
}
