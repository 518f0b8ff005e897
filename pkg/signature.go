package vcache

// signature.go re-exports the internal swisstable.Signature type under the
// name the public API uses, so callers never need to import an
// internal/... path directly.

import "github.com/Voskan/cfi-vcache/internal/swisstable"

// Signature is the logical key the validator checks: a (type_id, vptr)
// pair identifying one virtual-dispatch target.
type Signature = swisstable.Signature
