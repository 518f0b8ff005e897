package vcache

// config.go defines the internal configuration object and the set of
// functional options New accepts: an unexported config struct plus a
// closure-based Option type, so the constructor signature stays stable as
// options are added.
//
// Design notes
// ------------
// • All fields get sensible defaults in defaultConfig().
// • Options never allocate unless strictly necessary.
// • The struct itself is unexported: callers can only influence behaviour
//   through Option, which keeps the zero-value story simple and leaves
//   room to add knobs later without breaking callers.

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Voskan/cfi-vcache/internal/eviction"
	"github.com/Voskan/cfi-vcache/internal/swisstable"
)

// Default tier sizes and migration threshold; all overridable at
// construction time via Option.
const (
	// DefaultVerifyGroupNum is the verify tier's group count (~8 pages).
	DefaultVerifyGroupNum = 81
	// DefaultRecordGroupNum is the record tier's group count (~1 page).
	DefaultRecordGroupNum = 10
	// DefaultMigrateThreshold is MIGRATE_VCALL_THRESH.
	DefaultMigrateThreshold = 100
)

// Option configures a Validator constructed by New.
type Option func(*config)

type config struct {
	verifyGroups int
	recordGroups int

	migrateThreshold uint32

	registry *prometheus.Registry
	logger   *zap.Logger
	audit    AuditSink

	hashFn swisstable.HashFunc
	eqFn   swisstable.EqFunc

	lockless bool
}

func defaultConfig() *config {
	return &config{
		verifyGroups:     DefaultVerifyGroupNum,
		recordGroups:     DefaultRecordGroupNum,
		migrateThreshold: DefaultMigrateThreshold,
		logger:           zap.NewNop(),
		hashFn:           swisstable.DefaultHash,
		eqFn:             swisstable.DefaultEq,
	}
}

// WithMetrics enables Prometheus metrics collection for the validator.
// Passing nil disables metrics (the default).
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *config) { c.registry = reg }
}

// WithLogger plugs an external zap.Logger. The validator never logs on the
// Validate hot path — only promotion events and audit-sink errors.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithAuditSink registers a sink that records every signature promoted from
// the record tier to the verify tier, for offline forensic review. See
// audit.go.
func WithAuditSink(sink AuditSink) Option {
	return func(c *config) { c.audit = sink }
}

// WithMigrateThreshold overrides MIGRATE_VCALL_THRESH, the miss-counter
// value that triggers a promotion pass.
func WithMigrateThreshold(n uint32) Option {
	return func(c *config) {
		if n > 0 {
			c.migrateThreshold = n
		}
	}
}

// WithGroupCounts overrides VERIFY_GROUP_NUM / RECORD_GROUP_NUM, the two
// tiers' fixed group counts. Intended for tests that want a small table to
// exercise eviction without inserting tens of thousands of entries.
func WithGroupCounts(verifyGroups, recordGroups int) Option {
	return func(c *config) {
		if verifyGroups > 0 {
			c.verifyGroups = verifyGroups
		}
		if recordGroups > 0 {
			c.recordGroups = recordGroups
		}
	}
}

// WithHashEq overrides the hash and equality functions the tiers use,
// exposing {hash, eq} as parameters of the map type so tests can supply
// deterministic hashes that force collisions and probe-chain wraparound on
// demand.
func WithHashEq(hash swisstable.HashFunc, eq swisstable.EqFunc) Option {
	return func(c *config) {
		if hash != nil {
			c.hashFn = hash
		}
		if eq != nil {
			c.eqFn = eq
		}
	}
}

// WithoutLocking disables the Validator's internal critical-section mutex.
// The core carries no locking discipline of its own; New wraps the entry
// point in a sync.Mutex by default purely as a convenience for hosts that
// do call it from multiple goroutines. A host that already guarantees
// single-threaded access (the intended deployment) can opt out of paying
// for that mutex.
func WithoutLocking() Option {
	return func(c *config) { c.lockless = true }
}

func applyOptions(opts []Option) (*config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.verifyGroups <= 0 {
		return nil, errInvalidVerifyGroups
	}
	if cfg.recordGroups <= 0 {
		return nil, errInvalidRecordGroups
	}
	if cfg.migrateThreshold == 0 {
		return nil, errInvalidMigrateThreshold
	}
	return cfg, nil
}

var (
	errInvalidVerifyGroups     = errors.New("vcache: verify group count must be > 0")
	errInvalidRecordGroups     = errors.New("vcache: record group count must be > 0")
	errInvalidMigrateThreshold = errors.New("vcache: migrate threshold must be > 0")
)

// migrateMinFreq mirrors eviction.MapMigrateMinFreq for this package's
// promotion pass: a record-tier entry is promoted only if its observed
// frequency exceeds it.
const migrateMinFreq = eviction.MapMigrateMinFreq
