// Package bench provides reproducible micro-benchmarks for cfi-vcache.
// Run via:  go test ./bench -bench=. -benchmem -cpu 1
//
// We measure:
//  1. ValidateHit       – verify-tier fast path, no mutation
//  2. ValidateMiss      – record-tier tracking path, below promotion
//  3. ValidatePromotion – steady-state workload that crosses
//     MIGRATE_VCALL_THRESH on every batch
//
// Results are printed in ns/op + alloc/op so CI can diff via benchstat.
// The validator has no internal concurrency story, so there is no
// parallel benchmark here: benchmarking concurrent calls to a structure
// designed for a single mutator would only measure host-side locking, not
// the validator itself.
package bench

import (
	"math/rand"
	"testing"

	vcache "github.com/Voskan/cfi-vcache/pkg"
)

const benchKeys = 1 << 14

var benchTypes, benchVPtrs = func() ([]uint64, []uint64) {
	r := rand.New(rand.NewSource(42))
	types := make([]uint64, benchKeys)
	vptrs := make([]uint64, benchKeys)
	for i := range types {
		types[i] = r.Uint64()
		vptrs[i] = r.Uint64()
	}
	return types, vptrs
}()

func newBenchValidator(b *testing.B, opts ...vcache.Option) *vcache.Validator {
	v, err := vcache.New(opts...)
	if err != nil {
		b.Fatalf("vcache.New: %v", err)
	}
	b.Cleanup(func() { _ = v.Close() })
	return v
}

// BenchmarkValidateHit measures the verify tier's fast path in isolation:
// every signature is promoted up front, into a verify tier large enough that
// no eviction runs, so every subsequent Validate call is a verify-tier hit.
func BenchmarkValidateHit(b *testing.B) {
	v := newBenchValidator(b, vcache.WithMigrateThreshold(5), vcache.WithGroupCounts(benchKeys/8, 0))
	for i := 0; i < benchKeys; i++ {
		for j := 0; j < 6; j++ { // cross MAP_MIGRATE_MIN_FREQ, then promote
			v.Validate(benchTypes[i], benchVPtrs[i])
		}
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx := i & (benchKeys - 1)
		v.Validate(benchTypes[idx], benchVPtrs[idx])
	}
}

// BenchmarkValidateMiss measures the record-tier tracking path: every call
// misses the verify tier and falls through to track-or-insert, but the miss
// counter never crosses the (very high) migrate threshold, so promotion
// never runs during the timed loop.
func BenchmarkValidateMiss(b *testing.B) {
	v := newBenchValidator(b, vcache.WithMigrateThreshold(1<<30))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx := i & (benchKeys - 1)
		v.Validate(benchTypes[idx], benchVPtrs[idx])
	}
}

// BenchmarkValidatePromotion measures steady-state cost when the miss
// counter repeatedly crosses MIGRATE_VCALL_THRESH, forcing promotion
// (record-tier iteration + verify-tier insert + record-tier clear) on a
// regular cadence.
func BenchmarkValidatePromotion(b *testing.B) {
	v := newBenchValidator(b, vcache.WithMigrateThreshold(64), vcache.WithGroupCounts(8, 4))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx := i & (benchKeys - 1)
		v.Validate(benchTypes[idx], benchVPtrs[idx])
	}
}
