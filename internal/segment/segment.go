// Package segment provides a non-owning, "borrowed" view over a
// shared-memory byte region. The region itself is created by a
// collaborator (the node-management layer that forked the child process);
// the conduit never creates, grows, or munmaps it on its own, it only reads
// and writes into the bytes it was handed. NewAnonymous exists solely to
// give single-process demos and tests a real mmap'd region to exercise.
package segment

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/taosdata/dproc/internal/logging"
)

// Region is a borrowed view over a byte-addressed shared-memory segment.
// It owns none of the underlying memory: Close only unmaps the bytes when
// the Region itself was produced by NewAnonymous, matching the spec's
// ownership rule that the shared region belongs to whoever created it.
type Region struct {
	buf     []byte
	ownsMap bool
}

// Borrow wraps an already-mapped byte slice supplied by a collaborator.
// The returned Region does not own buf and Close is a no-op.
func Borrow(buf []byte) *Region {
	return &Region{buf: buf}
}

// NewAnonymous creates an anonymous MAP_SHARED region of the given size,
// for single-process ("BOTH" side) demos and tests that have no external
// collaborator to supply a segment. The returned Region owns the mapping
// and Close unmaps it.
func NewAnonymous(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("segment: size must be positive, got %d", size)
	}
	page := os.Getpagesize()
	if rem := size % page; rem != 0 {
		size += page - rem
	}
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("segment: mmap anonymous region: %w", err)
	}
	logging.Default().Debug("mapped anonymous shared segment", "bytes", len(buf))
	return &Region{buf: buf, ownsMap: true}, nil
}

// Bytes returns the full backing slice.
func (r *Region) Bytes() []byte { return r.buf }

// Len returns the size of the region in bytes.
func (r *Region) Len() int { return len(r.buf) }

// Slice returns the sub-region [off, off+size), still backed by the same
// memory (no copy) so writes through it are visible to every holder of the
// parent Region.
func (r *Region) Slice(off, size int) ([]byte, error) {
	if off < 0 || size < 0 || off+size > len(r.buf) {
		return nil, fmt.Errorf("segment: slice [%d:%d) out of bounds for %d-byte region", off, off+size, len(r.buf))
	}
	return r.buf[off : off+size], nil
}

// Close unmaps the region if this Region owns the mapping (i.e. it was
// created by NewAnonymous). Borrowed regions are left untouched: their
// lifecycle belongs to the collaborator that created them.
func (r *Region) Close() error {
	if !r.ownsMap || r.buf == nil {
		return nil
	}
	err := unix.Munmap(r.buf)
	r.buf = nil
	return err
}
