package alloc

import "testing"

func TestHeadPoolMallocSizes(t *testing.T) {
	hp := NewHeadPool()
	sizes := []int{1, 100, headSize1k, headSize1k + 1, headSize8k, headSize8k + 1, headSize64k, headSize64k + 1}

	for _, size := range sizes {
		buf := hp.Malloc(size)
		if len(buf) != size {
			t.Fatalf("Malloc(%d) len = %d, want %d", size, len(buf), size)
		}
		hp.Free(buf)
	}
}

func TestHeadPoolReusesBuckets(t *testing.T) {
	hp := NewHeadPool()

	buf := hp.Malloc(512)
	for i := range buf {
		buf[i] = 0xAB
	}
	hp.Free(buf)

	// A second request in the same bucket should come back usable, even if
	// it happens to reuse the same backing array.
	buf2 := hp.Malloc(512)
	if len(buf2) != 512 {
		t.Fatalf("second Malloc len = %d, want 512", len(buf2))
	}
}

func TestHeadPoolFreeDropsOversizedBuffer(t *testing.T) {
	hp := NewHeadPool()
	// Bigger than the largest bucket: Malloc grows a one-off slice.
	buf := hp.Malloc(headSize64k + 1024)
	// Free must not panic even though this capacity matches no bucket.
	hp.Free(buf)
}

func TestBodyPoolMallocFree(t *testing.T) {
	bp := NewBodyPool()
	buf := bp.Malloc(128)
	if len(buf) != 128 {
		t.Fatalf("Malloc(128) len = %d, want 128", len(buf))
	}
	bp.Free(buf)
}
