package vcache

// validator.go ties internal/tier's two tables into the two-tier validator:
// the constructor validates and applies options, then builds the backing
// structures; the public surface is a small set of methods with no exposed
// internals.
//
// The validator carries no sharding: it is invoked from a single logical
// mutator context, so there is exactly one verify tier and one record
// tier, not N of them.

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Voskan/cfi-vcache/internal/pagestore"
	"github.com/Voskan/cfi-vcache/internal/tier"
)

// Validator implements cfi_vcall_validation. The zero value is not usable;
// construct with New.
type Validator struct {
	verify *tier.Verify
	record *tier.Record

	verifyRegion *pagestore.Region
	recordRegion *pagestore.Region

	migrateThreshold uint32
	missCounter      uint32

	metrics metricsSink
	logger  *zap.Logger
	audit   AuditSink

	// mu is an optional host-side convenience, not a core invariant: the
	// validator is designed for a single logical mutator context and
	// carries no internal thread-safety guarantee of its own. New installs
	// this mutex by default so a host that calls Validate from more than one
	// goroutine doesn't corrupt the tables; WithoutLocking removes it for
	// hosts that already serialize calls themselves.
	mu *sync.Mutex
}

// New constructs a Validator. Both tiers are backed by mmap'd, page-aligned,
// GC-invisible memory (internal/pagestore) sized per the given or default
// group counts.
func New(opts ...Option) (*Validator, error) {
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	verifyGroups, verifyRegion, err := pagestore.NewGroups(cfg.verifyGroups)
	if err != nil {
		return nil, fmt.Errorf("vcache: allocate verify tier: %w", err)
	}
	recordGroups, recordRegion, err := pagestore.NewGroups(cfg.recordGroups)
	if err != nil {
		_ = verifyRegion.Close()
		return nil, fmt.Errorf("vcache: allocate record tier: %w", err)
	}

	v := &Validator{
		verify:           tier.NewVerify(verifyGroups, cfg.hashFn, cfg.eqFn),
		record:           tier.NewRecord(recordGroups, cfg.hashFn, cfg.eqFn),
		verifyRegion:     verifyRegion,
		recordRegion:     recordRegion,
		migrateThreshold: cfg.migrateThreshold,
		metrics:          newMetricsSink(cfg.registry),
		logger:           cfg.logger,
		audit:            noopAuditSink{},
	}
	if cfg.audit != nil {
		v.audit = cfg.audit
	}
	if !cfg.lockless {
		v.mu = &sync.Mutex{}
	}

	v.verify.OnEvict = func(n int) { v.metrics.incEviction("verify", n) }
	v.record.OnEvict = func(n int) { v.metrics.incEviction("record", n) }

	return v, nil
}

// Close releases the mmap'd backing memory. Unlike a C implementation's
// static globals, the mmap'd regions here need an explicit release point.
func (v *Validator) Close() error {
	err1 := v.verifyRegion.Close()
	err2 := v.recordRegion.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Validate implements cfi_vcall_validation(type_id, vptr): it answers
// whether the pair is currently trusted, recording and possibly promoting
// it otherwise. Always safe to call; never fails.
func (v *Validator) Validate(typeID, vptr uint64) bool {
	if v.mu != nil {
		v.mu.Lock()
		defer v.mu.Unlock()
	}

	sig := Signature{Type: typeID, VPtr: vptr}

	if _, ok := v.verify.Find(sig); ok {
		// Fast path: neither tier is mutated on a verify-tier hit.
		v.metrics.incHit()
		return true
	}

	v.metrics.incMiss()
	v.record.Track(sig)

	v.missCounter++
	if v.missCounter > v.migrateThreshold {
		v.promote()
		v.missCounter = 0
	}
	return false
}

// promote runs the record-to-verify migration pass. Called with v.mu held
// (if any).
func (v *Validator) promote() {
	v.verify.NewestGeneration++

	promoted := 0
	cursor := 0
	for {
		sig, more := v.record.Table.Iterate(&cursor)
		if !more {
			break
		}
		if sig == nil {
			continue
		}
		if sig.Data <= migrateMinFreq {
			continue
		}
		v.verify.Insert(*sig)
		promoted++
		if err := v.audit.RecordPromotion(*sig, v.verify.NewestGeneration); err != nil {
			v.logger.Warn("audit sink failed to record promotion",
				zap.Uint64("type_id", sig.Type),
				zap.Uint64("vptr", sig.VPtr),
				zap.Error(err))
		}
	}
	v.record.Clear()

	v.metrics.incPromotion(promoted)
	v.metrics.setItems("verify", v.verify.Table.Items)
	v.metrics.setItems("record", v.record.Table.Items)

	if promoted > 0 {
		v.logger.Info("promoted signatures from record to verify tier",
			zap.Int("count", promoted),
			zap.Uint32("generation", v.verify.NewestGeneration))
	}
}

// maxSnapshotSample bounds how many record-tier entries Snapshot reports, so
// the debug endpoint stays cheap to poll even against a full table.
const maxSnapshotSample = 16

// RecordSample is one quarantined (not yet trusted) signature reported by
// Snapshot, for operators inspecting which candidates are building up
// frequency toward promotion.
type RecordSample struct {
	TypeID    uint64 `json:"type_id"`
	VPtr      uint64 `json:"vptr"`
	Frequency uint64 `json:"frequency"`
}

// Snapshot reports point-in-time occupancy for both tiers. Its JSON form is
// what cmd/cfi-vcache-inspect reads from a host's debug HTTP endpoint; this
// package does not serve that endpoint itself.
type Snapshot struct {
	VerifyItems      int            `json:"verify_items"`
	RecordItems      int            `json:"record_items"`
	VerifyOldestGen  uint32         `json:"verify_oldest_generation"`
	VerifyNewestGen  uint32         `json:"verify_newest_generation"`
	MissCounter      uint32         `json:"miss_counter"`
	MigrateThreshold uint32         `json:"migrate_threshold"`
	RecordSample     []RecordSample `json:"record_sample"`
}

// Snapshot returns a consistent view of both tiers' occupancy, plus a bounded
// sample of record-tier candidates an operator can inspect or feed through a
// symbol resolver (see cmd/cfi-vcache-inspect).
func (v *Validator) Snapshot() Snapshot {
	if v.mu != nil {
		v.mu.Lock()
		defer v.mu.Unlock()
	}

	var sample []RecordSample
	cursor := 0
	for len(sample) < maxSnapshotSample {
		sig, more := v.record.Table.Iterate(&cursor)
		if !more {
			break
		}
		if sig == nil {
			continue
		}
		sample = append(sample, RecordSample{TypeID: sig.Type, VPtr: sig.VPtr, Frequency: sig.Data})
	}

	return Snapshot{
		VerifyItems:      v.verify.Table.Items,
		RecordItems:      v.record.Table.Items,
		VerifyOldestGen:  v.verify.OldestGeneration,
		VerifyNewestGen:  v.verify.NewestGeneration,
		MissCounter:      v.missCounter,
		MigrateThreshold: v.migrateThreshold,
		RecordSample:     sample,
	}
}
