package vcache

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Voskan/cfi-vcache/internal/eviction"
)

func newTestValidator(t *testing.T, opts ...Option) *Validator {
	t.Helper()
	v, err := New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func TestFirstObservationIsAMiss(t *testing.T) {
	v := newTestValidator(t)
	if trusted := v.Validate(1, 100); trusted {
		t.Fatal("first observation of an unknown pair reported trusted")
	}
	snap := v.Snapshot()
	if snap.RecordItems != 1 {
		t.Fatalf("RecordItems = %d after one miss, want 1", snap.RecordItems)
	}
}

func TestRepeatedObservationAccumulatesFrequencyWithoutPromoting(t *testing.T) {
	v := newTestValidator(t, WithMigrateThreshold(1000))
	for i := 0; i < 3; i++ {
		if trusted := v.Validate(1, 100); trusted {
			t.Fatalf("call %d unexpectedly trusted before promotion", i)
		}
	}
	snap := v.Snapshot()
	if snap.RecordItems != 1 {
		t.Fatalf("RecordItems = %d after 3 observations of the same pair, want 1 (tracked, not duplicated)", snap.RecordItems)
	}
	if snap.VerifyItems != 0 {
		t.Fatalf("VerifyItems = %d, want 0 (no promotion should have run yet)", snap.VerifyItems)
	}
}

func TestSubThresholdMissesAreNeverPromoted(t *testing.T) {
	v := newTestValidator(t, WithMigrateThreshold(100))
	for i := uint64(0); i < 50; i++ {
		v.Validate(i, i)
	}
	snap := v.Snapshot()
	if snap.VerifyItems != 0 {
		t.Fatalf("VerifyItems = %d after 50 misses against a threshold of 100, want 0", snap.VerifyItems)
	}
	if snap.MissCounter != 50 {
		t.Fatalf("MissCounter = %d, want 50", snap.MissCounter)
	}
}

func TestThresholdCrossingTriggersPromotion(t *testing.T) {
	v := newTestValidator(t, WithMigrateThreshold(7))

	// Observe the same pair enough times to exceed eviction.MapMigrateMinFreq
	// (the minimum frequency Promote requires), then cross the miss-counter
	// threshold with distinct misses so promotion actually runs.
	hot := [2]uint64{7, 70}
	for i := 0; i < eviction.MapMigrateMinFreq+2; i++ {
		v.Validate(hot[0], hot[1])
	}
	// Two more distinct misses take missCounter from 6 to 8, past the
	// threshold of 7.
	v.Validate(1, 1)
	v.Validate(2, 2)

	snap := v.Snapshot()
	if snap.VerifyItems == 0 {
		t.Fatal("expected at least one signature promoted to the verify tier")
	}
	if snap.MissCounter != 0 {
		t.Fatalf("MissCounter = %d after a promotion pass, want reset to 0", snap.MissCounter)
	}
	if snap.RecordItems != 0 {
		t.Fatalf("RecordItems = %d after a promotion pass, want 0 (record tier cleared)", snap.RecordItems)
	}

	// The promoted pair must now be a verify-tier hit.
	if trusted := v.Validate(hot[0], hot[1]); !trusted {
		t.Fatal("a promoted pair was not reported trusted on the next call")
	}
}

func TestLowFrequencyPairsAreNotPromoted(t *testing.T) {
	v := newTestValidator(t, WithMigrateThreshold(2))

	// Observed only once each — below eviction.MapMigrateMinFreq — so even
	// though enough distinct misses occur to cross the miss-counter
	// threshold, none of them qualify for promotion.
	v.Validate(1, 1)
	v.Validate(2, 2)
	v.Validate(3, 3)

	snap := v.Snapshot()
	if snap.VerifyItems != 0 {
		t.Fatalf("VerifyItems = %d, want 0 (no pair crossed the promotion frequency floor)", snap.VerifyItems)
	}
}

func TestVerifyTierHitDoesNotMutateEitherTier(t *testing.T) {
	v := newTestValidator(t, WithMigrateThreshold(2))
	hot := [2]uint64{9, 90}
	for i := 0; i < eviction.MapMigrateMinFreq+2; i++ {
		v.Validate(hot[0], hot[1])
	}
	v.Validate(1, 1)
	v.Validate(2, 2) // crosses threshold, promotes hot

	before := v.Snapshot()
	if before.VerifyItems == 0 {
		t.Fatal("setup failed: nothing was promoted")
	}

	if trusted := v.Validate(hot[0], hot[1]); !trusted {
		t.Fatal("expected a verify-tier hit for the promoted pair")
	}
	after := v.Snapshot()

	if after.VerifyItems != before.VerifyItems {
		t.Fatalf("VerifyItems changed across a pure verify-tier hit: before=%d after=%d", before.VerifyItems, after.VerifyItems)
	}
	if after.RecordItems != before.RecordItems {
		t.Fatalf("RecordItems changed across a pure verify-tier hit: before=%d after=%d", before.RecordItems, after.RecordItems)
	}
	if after.MissCounter != before.MissCounter {
		t.Fatalf("MissCounter changed across a pure verify-tier hit: before=%d after=%d", before.MissCounter, after.MissCounter)
	}
}

func TestVerifyTierEvictsAcrossGenerations(t *testing.T) {
	// A tiny verify tier (1 group = 16 slots) and repeated promotion passes,
	// each of which bumps NewestGeneration and promotes one hot pair; once
	// the 13th promoted pair trips the load factor (12 of 16), ReduceVerify
	// must evict entries from older generations to make room.
	v := newTestValidator(t, WithMigrateThreshold(eviction.MapMigrateMinFreq+2), WithGroupCounts(1, 4))

	for batch := uint64(0); batch < 13; batch++ {
		base := batch * 10
		for i := 0; i < eviction.MapMigrateMinFreq+2; i++ {
			v.Validate(base, base)
		}
		// one distinct miss takes missCounter past the threshold and forces
		// a promotion pass that promotes the hot pair
		v.Validate(base+1, base+1)
	}

	snap := v.Snapshot()
	if snap.VerifyOldestGen <= 1 {
		t.Fatalf("VerifyOldestGen = %d after many promotion passes against a tiny tier, want eviction to have advanced it past 1", snap.VerifyOldestGen)
	}
	if snap.VerifyNewestGen == 0 {
		t.Fatal("VerifyNewestGen never advanced despite repeated promotions")
	}
}

func TestRecordTierEvictsLowFrequencyEntriesUnderPressure(t *testing.T) {
	// A tiny record tier (1 group = 16 slots) with a high migrate
	// threshold (promotion never runs) forces many distinct low-frequency
	// misses to trip the record tier's own load-factor eviction.
	v := newTestValidator(t, WithMigrateThreshold(1<<20), WithGroupCounts(4, 1))

	for i := uint64(0); i < 60; i++ {
		v.Validate(i, i)
	}

	snap := v.Snapshot()
	if snap.RecordItems >= 60 {
		t.Fatalf("RecordItems = %d after 60 distinct low-frequency misses against a 16-slot record tier, want eviction to have freed some", snap.RecordItems)
	}
}

func TestRecordTierEvictionIncrementsEvictionMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	v := newTestValidator(t, WithMetrics(reg), WithMigrateThreshold(1<<20), WithGroupCounts(4, 1))

	for i := uint64(0); i < 60; i++ {
		v.Validate(i, i)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var recordEvictions float64
	for _, mf := range mfs {
		if mf.GetName() != "cfi_vcache_evictions_total" {
			continue
		}
		for _, m := range mf.Metric {
			for _, lbl := range m.GetLabel() {
				if lbl.GetName() == "tier" && lbl.GetValue() == "record" {
					recordEvictions = m.GetCounter().GetValue()
				}
			}
		}
	}
	if recordEvictions == 0 {
		t.Fatal("cfi_vcache_evictions_total{tier=\"record\"} is 0 despite record-tier eviction under pressure")
	}
}

func TestSnapshotReportsRecordSample(t *testing.T) {
	v := newTestValidator(t, WithMigrateThreshold(1000))
	v.Validate(7, 70)
	v.Validate(7, 70)
	v.Validate(8, 80)

	snap := v.Snapshot()
	if len(snap.RecordSample) != 2 {
		t.Fatalf("len(RecordSample) = %d, want 2", len(snap.RecordSample))
	}
	var foundHot bool
	for _, s := range snap.RecordSample {
		if s.TypeID == 7 && s.VPtr == 70 {
			foundHot = true
			if s.Frequency != 2 {
				t.Fatalf("frequency for the twice-observed pair = %d, want 2", s.Frequency)
			}
		}
	}
	if !foundHot {
		t.Fatal("RecordSample did not include the twice-observed pair")
	}
}

func TestSnapshotRecordSampleIsBounded(t *testing.T) {
	v := newTestValidator(t, WithMigrateThreshold(1<<20), WithGroupCounts(4, 8))
	for i := uint64(0); i < 100; i++ {
		v.Validate(i, i)
	}
	snap := v.Snapshot()
	if len(snap.RecordSample) > maxSnapshotSample {
		t.Fatalf("len(RecordSample) = %d, want at most %d", len(snap.RecordSample), maxSnapshotSample)
	}
}

func TestCloseIsIdempotentSafe(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestWithoutLockingStillFunctionsSingleThreaded(t *testing.T) {
	v := newTestValidator(t, WithoutLocking())
	if trusted := v.Validate(1, 1); trusted {
		t.Fatal("unexpected trusted result on first observation")
	}
}
