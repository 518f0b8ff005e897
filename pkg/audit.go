package vcache

// audit.go provides an optional promotion audit trail: every signature
// migrated from the record tier to the verify tier can be recorded to an
// external sink for offline forensic review — "which indirect call targets
// did this process come to trust, and when".

import (
	"encoding/binary"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// AuditSink receives every Signature promoted into the verify tier. An
// implementation must be safe to call from within Validate's caller (which
// may itself be guarded by a single host mutex; the sink itself adds no
// further synchronization).
type AuditSink interface {
	RecordPromotion(sig Signature, generation uint32) error
}

// noopAuditSink is the default: promotion does not pay for an audit trail
// unless the caller asks for one via WithAuditSink.
type noopAuditSink struct{}

func (noopAuditSink) RecordPromotion(Signature, uint32) error { return nil }

// BadgerAuditSink persists promotions to an embedded BadgerDB, keyed by the
// big-endian type_id followed by the big-endian vptr (see auditKey) so a
// replay tool can range-scan by type_id.
type BadgerAuditSink struct {
	db *badger.DB
}

// NewBadgerAuditSink opens (or creates) a Badger database at dir. The caller
// owns the returned sink's lifetime and must call Close when done.
func NewBadgerAuditSink(dir string) (*BadgerAuditSink, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("vcache: open audit db %q: %w", dir, err)
	}
	return &BadgerAuditSink{db: db}, nil
}

// Close releases the underlying Badger database.
func (s *BadgerAuditSink) Close() error {
	return s.db.Close()
}

// auditKey packs (type_id, vptr) into a 16-byte big-endian key so Badger's
// lexicographic key ordering groups entries by type_id.
func auditKey(sig Signature) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[0:8], sig.Type)
	binary.BigEndian.PutUint64(key[8:16], sig.VPtr)
	return key
}

// RecordPromotion writes the promotion generation as the value for this
// signature's key. A later promotion of the same signature overwrites the
// generation, which is fine: the audit trail answers "is this target
// trusted, and as of which generation", not "list every promotion event".
func (s *BadgerAuditSink) RecordPromotion(sig Signature, generation uint32) error {
	val := make([]byte, 4)
	binary.BigEndian.PutUint32(val, generation)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(auditKey(sig), val)
	})
}

// Lookup reports the generation at which sig was last promoted, if ever.
func (s *BadgerAuditSink) Lookup(sig Signature) (generation uint32, found bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get(auditKey(sig))
		if getErr == badger.ErrKeyNotFound {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		found = true
		return item.Value(func(b []byte) error {
			generation = binary.BigEndian.Uint32(b)
			return nil
		})
	})
	return generation, found, err
}
