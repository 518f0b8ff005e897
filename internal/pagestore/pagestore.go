//go:build linux || darwin || freebsd || openbsd || netbsd

// Package pagestore provides the static, page-aligned, GC-invisible backing
// memory the two tiers need: a bounded-memory, page-aligned, statically
// sized backing store suitable for insertion into a running process's
// address space without heap allocation.
//
// A C implementation gets this for free from the linker
// (`alignas(PAGE_SIZE)` static globals). Go has no equivalent storage-class
// attribute, so this package asks the kernel directly: golang.org/x/sys/unix
// anonymous mmap returns memory that is already page-aligned, is not part
// of the Go heap, and (since swisstable.Group contains no pointers) is
// never visited by the garbage collector.
//
// This package centralises the module's remaining unavoidable unsafe usage
// in one small, heavily documented place.
package pagestore

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/Voskan/cfi-vcache/internal/swisstable"
)

// PageSize is the page size alignment assumes on typical host platforms.
const PageSize = 4096

// Region is one anonymous, page-aligned mapping.
type Region struct {
	buf []byte
}

// NewRegion maps nPages pages of zeroed, read-write anonymous memory.
func NewRegion(nPages int) (*Region, error) {
	if nPages <= 0 {
		nPages = 1
	}
	buf, err := unix.Mmap(-1, 0, nPages*PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("pagestore: mmap %d pages: %w", nPages, err)
	}
	return &Region{buf: buf}, nil
}

// Close releases the mapping. Safe to call on a nil-backed Region.
func (r *Region) Close() error {
	if r == nil || r.buf == nil {
		return nil
	}
	err := unix.Munmap(r.buf)
	r.buf = nil
	return err
}

// Bytes exposes the raw mapping, mostly for tests that want to confirm
// alignment or zero-fill.
func (r *Region) Bytes() []byte { return r.buf }

// groupBytes is the memory footprint of one swisstable.Group.
var groupBytes = int(unsafe.Sizeof(swisstable.Group{}))

// PagesForGroups returns how many pages a region needs to hold n Groups.
func PagesForGroups(n int) int {
	total := n * groupBytes
	return (total + PageSize - 1) / PageSize
}

// NewGroups maps a region sized for exactly n groups and returns a []Group
// overlaid onto it. The returned slice's backing array lives entirely
// inside the mapping: growing it, or retaining it past Close, is undefined
// behaviour.
func NewGroups(n int) ([]swisstable.Group, *Region, error) {
	region, err := NewRegion(PagesForGroups(n))
	if err != nil {
		return nil, nil, err
	}
	if n == 0 {
		return nil, region, nil
	}
	groups := unsafe.Slice((*swisstable.Group)(unsafe.Pointer(&region.buf[0])), n)
	return groups, region, nil
}
