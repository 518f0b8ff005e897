// Package eviction implements the two tier eviction policies: generational
// FIFO for the verify tier and frequency-threshold for the record tier.
// Both walk the occupied prefix of a swisstable.Table via MatchFull, mark
// slots Deleted, and decrement Items until at least MapEvictMinCount slots
// have been freed in the invocation.
//
// Policies are plain functions rather than an interface implemented by the
// tiers themselves, so the hash map core (internal/swisstable) stays
// ignorant of tier-specific metadata.
package eviction

import (
	"fmt"

	"github.com/Voskan/cfi-vcache/internal/group"
	"github.com/Voskan/cfi-vcache/internal/swisstable"
)

// MapEvictMinCount is the minimum number of slots a single eviction
// invocation must free.
const MapEvictMinCount = 10

// MapMigrateMinFreq is the minimum observed frequency a record-tier entry
// must exceed to be promoted; it also seeds the record tier's eviction
// threshold (eviction_min_freq = MapMigrateMinFreq + 1).
const MapMigrateMinFreq = 4

// ReduceVerify implements the generational FIFO policy: every live slot
// with Data <= *oldestGeneration is evicted; *oldestGeneration advances by
// one after each full pass over the table, until MapEvictMinCount slots
// have been freed. The loop condition is `<=` rather than `<`, so a run
// that completes frees at least MapEvictMinCount+1 slots rather than
// exactly MapEvictMinCount — deliberately kept as an off-by-one rather than
// tightened, since either bound satisfies "frees at least 10 slots" and
// changing it would be an unforced behavioral deviation. Returns the number
// of slots actually freed, so callers can report it (e.g. as a metric).
func ReduceVerify(t *swisstable.Table, oldestGeneration *uint32, newestGeneration uint32) int {
	if t.NGroups <= 0 {
		return 0
	}

	evicted := 0
	for evicted <= MapEvictMinCount {
		endGroup := t.SentinelGroup()
		for g := 0; g < endGroup; g++ {
			grp := &t.Groups[g]
			full := group.MatchFull(&grp.Control)
			for full != 0 {
				var i int
				i, full = group.NextMatch(full)
				if grp.Keys[i].Data <= uint64(*oldestGeneration) {
					grp.Control[i] = group.Deleted
					evicted++
					t.Items--
				}
			}
		}
		*oldestGeneration++
		if *oldestGeneration > newestGeneration {
			panic(fmt.Sprintf("eviction: oldest_generation (%d) exceeded newest_generation (%d)", *oldestGeneration, newestGeneration))
		}
	}

	if t.Items == 0 {
		t.Sentinel = 0
	}
	return evicted
}

// ReduceRecord implements the frequency-threshold policy: every live slot
// with Data <= the current threshold is evicted; the threshold starts at
// initialMinFreq and doubles between passes within this single invocation.
// It is not persisted back to the caller: eviction_min_freq is read-only
// after a tier is constructed. Returns the number of slots actually freed,
// so callers can report it (e.g. as a metric).
func ReduceRecord(t *swisstable.Table, initialMinFreq uint64) int {
	if t.NGroups <= 0 {
		return 0
	}

	minFreq := initialMinFreq
	evicted := 0
	for evicted <= MapEvictMinCount {
		endGroup := t.SentinelGroup()
		for g := 0; g < endGroup; g++ {
			grp := &t.Groups[g]
			full := group.MatchFull(&grp.Control)
			for full != 0 {
				var i int
				i, full = group.NextMatch(full)
				if grp.Keys[i].Data <= minFreq {
					grp.Control[i] = group.Deleted
					evicted++
					t.Items--
				}
			}
		}
		minFreq *= 2
	}

	if t.Items == 0 {
		t.Sentinel = 0
	}
	return evicted
}
