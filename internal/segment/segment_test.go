package segment

import (
	"bytes"
	"os"
	"testing"
)

func TestNewAnonymousRoundsUpToPageSize(t *testing.T) {
	r, err := NewAnonymous(1)
	if err != nil {
		t.Fatalf("NewAnonymous: %v", err)
	}
	defer r.Close()

	if r.Len() != os.Getpagesize() {
		t.Fatalf("Len = %d, want %d", r.Len(), os.Getpagesize())
	}
}

func TestNewAnonymousRejectsNonPositiveSize(t *testing.T) {
	if _, err := NewAnonymous(0); err == nil {
		t.Fatal("expected error for size 0")
	}
	if _, err := NewAnonymous(-1); err == nil {
		t.Fatal("expected error for negative size")
	}
}

func TestSliceReadWriteSharedBacking(t *testing.T) {
	r, err := NewAnonymous(4096)
	if err != nil {
		t.Fatalf("NewAnonymous: %v", err)
	}
	defer r.Close()

	s, err := r.Slice(8, 16)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	copy(s, bytes.Repeat([]byte{0xAB}, 16))

	again, err := r.Slice(8, 16)
	if err != nil {
		t.Fatalf("Slice again: %v", err)
	}
	if !bytes.Equal(again, bytes.Repeat([]byte{0xAB}, 16)) {
		t.Fatalf("Slice did not share backing memory with prior write")
	}
}

func TestSliceOutOfBounds(t *testing.T) {
	r, err := NewAnonymous(4096)
	if err != nil {
		t.Fatalf("NewAnonymous: %v", err)
	}
	defer r.Close()

	if _, err := r.Slice(-1, 10); err == nil {
		t.Fatal("expected error for negative offset")
	}
	if _, err := r.Slice(0, r.Len()+1); err == nil {
		t.Fatal("expected error for size exceeding region")
	}
	if _, err := r.Slice(r.Len(), 1); err == nil {
		t.Fatal("expected error for offset at region end with nonzero size")
	}
}

func TestBorrowDoesNotOwnMapping(t *testing.T) {
	buf := make([]byte, 64)
	r := Borrow(buf)
	if r.Len() != 64 {
		t.Fatalf("Len = %d, want 64", r.Len())
	}
	// Close on a borrowed region must be a no-op: it must not attempt to
	// munmap memory it never mapped.
	if err := r.Close(); err != nil {
		t.Fatalf("Close on borrowed region: %v", err)
	}
	if r.Bytes() == nil {
		t.Fatal("Bytes should remain valid after Close on a borrowed region")
	}
}

func TestCloseOwnedRegionIsIdempotentSafe(t *testing.T) {
	r, err := NewAnonymous(4096)
	if err != nil {
		t.Fatalf("NewAnonymous: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
