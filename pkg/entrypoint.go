package vcache

// entrypoint.go exposes cfi_vcall_validation(type_id, vptr), the sole
// function a host instruments into its indirect-call sites. Go has no
// equivalent of a linker-level public symbol backed by process-wide static
// state, so the closest idiomatic rendition is a lazily-initialized
// package-level default Validator behind a small set of free functions.

import (
	"sync"
)

var (
	defaultOnce      sync.Once
	defaultValidator *Validator
	defaultInitErr   error
)

// defaultOptions can be overridden by InitDefault before first use; after
// the default Validator is created, further calls to InitDefault are no-ops
// (the host chose not to call it before the first Validate/CfiVcallValidation
// call, which built one with zero options).
var defaultOptions []Option

// InitDefault configures the package-level default Validator. It must be
// called, if at all, before the first call to CfiVcallValidation; once the
// default Validator has been lazily constructed, InitDefault has no effect.
func InitDefault(opts ...Option) {
	defaultOptions = opts
}

func ensureDefault() *Validator {
	defaultOnce.Do(func() {
		defaultValidator, defaultInitErr = New(defaultOptions...)
	})
	return defaultValidator
}

// CfiVcallValidation is the sole external entry point a host instruments
// into its indirect-call sites. It answers "seen before and trusted" (true,
// fast path) or "not yet trusted" (false, slow path: the pair is recorded
// and, once the process-wide miss counter crosses MIGRATE_VCALL_THRESH,
// promoted candidates migrate into the trusted tier). Always safe to call;
// never fails — a default-constructor failure (which can only happen if
// the host's platform cannot mmap two small anonymous regions) degrades to
// "not trusted" rather than panicking, since a CFI validator that cannot
// initialize must fail closed, not crash the instrumented program.
func CfiVcallValidation(typeID, vptr uint64) bool {
	v := ensureDefault()
	if v == nil {
		return false
	}
	return v.Validate(typeID, vptr)
}

// DefaultValidator returns the package-level Validator used by
// CfiVcallValidation, constructing it on first call. Returns an error only
// if construction failed (see CfiVcallValidation's fail-closed note).
func DefaultValidator() (*Validator, error) {
	v := ensureDefault()
	return v, defaultInitErr
}
