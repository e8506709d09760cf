package ringbuf

import (
	"bytes"
	"testing"

	"github.com/taosdata/dproc/internal/alloc"
	"github.com/taosdata/dproc/internal/handle"
	"github.com/taosdata/dproc/internal/rpc"
)

type fakeBodyPool struct{}

func (fakeBodyPool) Malloc(size int) []byte { return make([]byte, size) }
func (fakeBodyPool) Free(buf []byte)        {}

func newTestQueue(t *testing.T, payload int) *Queue {
	t.Helper()
	region := make([]byte, payload+ctrlTotalSize)
	q, err := New(Config{
		Region:  region,
		Name:    "test",
		Owner:   true,
		Handles: handle.New(8),
		Heads:   alloc.NewHeadPool(),
		Bodies:  fakeBodyPool{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return q
}

func TestPushPopFIFO(t *testing.T) {
	q := newTestQueue(t, 256)

	const n = 16 // a 2-byte head (8-byte padded) + 8-byte header is 16 bytes/frame, 256/16 = 16
	for i := 0; i < n; i++ {
		if err := q.Push([]byte{0x01, 0x02}, nil, rpc.FrameReq, 0, 0); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		head, body, ftype, ok, err := q.Pop()
		if err != nil || !ok {
			t.Fatalf("pop %d: ok=%v err=%v", i, ok, err)
		}
		if !bytes.Equal(head, []byte{0x01, 0x02}) {
			t.Fatalf("pop %d: head = %v, want [1 2]", i, head)
		}
		if len(body) != 0 {
			t.Fatalf("pop %d: body = %v, want empty", i, body)
		}
		if ftype != rpc.FrameReq {
			t.Fatalf("pop %d: ftype = %v, want REQ", i, ftype)
		}
	}
}

func TestPushFailsWhenFull(t *testing.T) {
	q := newTestQueue(t, 256)

	var pushed int
	for {
		if err := q.Push([]byte{0x01, 0x02}, nil, rpc.FrameReq, 0, 0); err != nil {
			if err != ErrOutOfShmMem {
				t.Fatalf("unexpected push error: %v", err)
			}
			break
		}
		pushed++
		if pushed > 1000 {
			t.Fatal("queue never reported full")
		}
	}

	// Draining one frame must free enough room for exactly one more push.
	if _, _, _, ok, err := q.Pop(); err != nil || !ok {
		t.Fatalf("pop: ok=%v err=%v", ok, err)
	}
	if err := q.Push([]byte{0x01, 0x02}, nil, rpc.FrameReq, 0, 0); err != nil {
		t.Fatalf("push after drain: %v", err)
	}
}

func TestWrapAroundRoundTrip(t *testing.T) {
	q := newTestQueue(t, 64)

	// Force tail to 50 so that the upcoming frame's head payload
	// (16 padded bytes starting at offset 58) straddles the physical end
	// of a 64-byte ring: this is the "header fits, head payload wraps"
	// case from §4.1 step 7(b).
	q.storeTail(50)
	q.storeHead(50)
	q.storeAvail(uint32(q.total))

	head := bytes.Repeat([]byte{0xAB}, 16)
	body := bytes.Repeat([]byte{0xCD}, 8)
	if err := q.Push(head, body, rpc.FrameRsp, 0, 0); err != nil {
		t.Fatalf("straddling push: %v", err)
	}

	gotHead, gotBody, ftype, ok, err := q.Pop()
	if err != nil || !ok {
		t.Fatalf("straddling pop: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(gotHead, head) {
		t.Fatalf("head mismatch after wrap: got %v", gotHead)
	}
	if !bytes.Equal(gotBody, body) {
		t.Fatalf("body mismatch after wrap: got %v", gotBody)
	}
	if ftype != rpc.FrameRsp {
		t.Fatalf("ftype mismatch after wrap: got %v", ftype)
	}
}

func TestHandleCorrelationRoundTrip(t *testing.T) {
	q := newTestQueue(t, 256)

	const h, ref = 0xDEADBEEF, 0x42
	if err := q.Push([]byte{0x01}, nil, rpc.FrameReq, h, ref); err != nil {
		t.Fatalf("push REQ: %v", err)
	}
	if _, _, _, ok, err := q.Pop(); err != nil || !ok {
		t.Fatalf("pop REQ: ok=%v err=%v", ok, err)
	}
	if err := q.Push([]byte{0x01}, nil, rpc.FrameRsp, 0, 0); err != nil {
		t.Fatalf("push RSP: %v", err)
	}
	if _, _, _, ok, err := q.Pop(); err != nil || !ok {
		t.Fatalf("pop RSP: ok=%v err=%v", ok, err)
	}

	if got, ok := q.RemoveHandle(h); !ok || got != ref {
		t.Fatalf("RemoveHandle first call = (%d, %v), want (%d, true)", got, ok, ref)
	}
	if got, ok := q.RemoveHandle(h); ok || got != 0 {
		t.Fatalf("RemoveHandle second call = (%d, %v), want (0, false)", got, ok)
	}
}

func TestInvalidParaOnEmptyHead(t *testing.T) {
	q := newTestQueue(t, 256)
	if err := q.Push(nil, []byte{1}, rpc.FrameReq, 0, 0); err != ErrInvalidPara {
		t.Fatalf("err = %v, want ErrInvalidPara", err)
	}
}

func TestNewFailsOnUndersizedRegion(t *testing.T) {
	region := make([]byte, ctrlTotalSize+1024)
	_, err := New(Config{Region: region, Name: "tiny", Owner: true, Heads: alloc.NewHeadPool(), Bodies: fakeBodyPool{}})
	if err == nil {
		t.Fatal("expected New to fail for a payload at the 1024-byte floor")
	}
}
