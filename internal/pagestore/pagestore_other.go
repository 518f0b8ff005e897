//go:build !(linux || darwin || freebsd || openbsd || netbsd)

package pagestore

import "github.com/Voskan/cfi-vcache/internal/swisstable"

// PageSize is the page size alignment assumes on typical host platforms.
const PageSize = 4096

// Region is a no-op stand-in on platforms without an anonymous mmap syscall
// wired through golang.org/x/sys/unix. The tiers still function correctly;
// they simply lose the "outside the Go heap" property of the mmap'd build.
type Region struct{}

// Close is a no-op.
func (r *Region) Close() error { return nil }

// Bytes returns nil: there is no raw mapping to inspect on this platform.
func (r *Region) Bytes() []byte { return nil }

// PagesForGroups mirrors the mmap build's accounting for reporting purposes
// even though no real pages are mapped here.
func PagesForGroups(n int) int {
	const groupBytes = 16 + 16*24 + 16*16 // Control + Keys + Hashes, see swisstable.Group
	total := n * groupBytes
	return (total + PageSize - 1) / PageSize
}

// NewGroups falls back to an ordinary heap-allocated slice.
func NewGroups(n int) ([]swisstable.Group, *Region, error) {
	return make([]swisstable.Group, n), &Region{}, nil
}
