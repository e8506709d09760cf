// Package ringbuf implements the conduit's single-consumer (multi-producer)
// shared-memory ring buffer (SPQueue in the original design): a
// byte-addressed FIFO of framed records guarded by a process-shared mutex
// and woken by a process-shared counting semaphore.
//
// A Queue never allocates or owns the memory it runs over — it is carved
// out of a byte slice (ultimately backed by internal/segment.Region)
// supplied by the caller, and its control fields (head/tail/avail/items)
// live at fixed offsets inside that same slice so that a second process
// mapping the identical bytes observes the same state.
package ringbuf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/taosdata/dproc/internal/alloc"
	"github.com/taosdata/dproc/internal/constants"
	"github.com/taosdata/dproc/internal/handle"
	"github.com/taosdata/dproc/internal/logging"
	"github.com/taosdata/dproc/internal/rpc"
	"github.com/taosdata/dproc/internal/shmsync"
)

// Sentinel errors. The root package maps these onto its own *Error/ErrCode
// type at the boundary; kept as plain sentinels here so this package has
// no dependency on the root package (which depends on ringbuf, not the
// other way around).
var (
	// ErrInvalidPara is returned for a zero-length head or a nil head on Push.
	ErrInvalidPara = errors.New("ringbuf: invalid parameters")
	// ErrOutOfShmMem is returned when Push finds insufficient room. Pop
	// reports a logically empty queue as ok=false with a nil error instead.
	ErrOutOfShmMem = errors.New("ringbuf: out of shared memory")
	// ErrOutOfMemory is returned when Pop's buffer allocation fails.
	ErrOutOfMemory = errors.New("ringbuf: allocation failed")
)

// Control header layout, all fixed offsets inside the ring's backing byte
// slice so both sides of a shared mapping agree on where each field lives.
const (
	offHead  = 0
	offTail  = 4
	offAvail = 8
	offItems = 12
	offName  = 16

	ctrlHeaderSize = offName + constants.NameMaxLen
	mutexOff       = ctrlHeaderSize
	semOff         = mutexOff + shmsync.MutexSize
	ctrlTotalSize  = semOff + shmsync.SemSize
)

func ceil8(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + 7) &^ 7
}

// Queue is one direction of the conduit: a fixed-size byte region carrying
// framed records, consumed by exactly one goroutine and produced by any
// number of concurrent callers.
type Queue struct {
	ctrl    []byte // control header + sync primitive bytes
	payload []byte // the ring's data bytes, length == total
	total   int

	mu  *shmsync.Mutex
	sem *shmsync.Sem

	handles *handle.Table // non-nil only for the parent->child queue
	heads   *alloc.HeadPool
	bodies  alloc.BodyPool

	log *logging.Logger
}

// Config describes how to carve a Queue out of a shared region.
type Config struct {
	// Region is the byte slice this queue's control header and payload
	// are carved from.
	Region []byte
	// Name is the queue's display label, truncated to constants.NameMaxLen.
	Name string
	// Owner is true for the side that logically owns the queue (the
	// parent, for both queues in this system) and must initialize the
	// synchronization primitives and control fields. The non-owning side
	// attaches to an already-live queue.
	Owner bool
	// Handles, when non-nil, is the handle table Push inserts into for
	// REQ frames with a non-zero handle (only the parent->child queue
	// carries one, per §4.2).
	Handles *handle.Table
	Heads   *alloc.HeadPool
	Bodies  alloc.BodyPool
}

// New carves a Queue out of cfg.Region. total = len(Region) -
// ceil8(control header size); if total <= MinQueuePayload, New fails.
func New(cfg Config) (*Queue, error) {
	if len(cfg.Region) < ctrlTotalSize {
		return nil, fmt.Errorf("ringbuf: region too small for control header: %w", ErrOutOfMemory)
	}
	total := len(cfg.Region) - ceil8(ctrlTotalSize)
	if total <= constants.MinQueuePayload {
		return nil, fmt.Errorf("ringbuf: payload %d bytes <= minimum %d: %w", total, constants.MinQueuePayload, ErrOutOfMemory)
	}

	ctrl := cfg.Region[:ctrlTotalSize]
	payload := cfg.Region[ceil8(ctrlTotalSize) : ceil8(ctrlTotalSize)+total]

	q := &Queue{
		ctrl:    ctrl,
		payload: payload,
		total:   total,
		handles: cfg.Handles,
		heads:   cfg.Heads,
		bodies:  cfg.Bodies,
		log:     logging.Default().With("queue", cfg.Name),
	}

	mutexBytes := ctrl[mutexOff : mutexOff+shmsync.MutexSize]
	semBytes := ctrl[semOff : semOff+shmsync.SemSize]

	if cfg.Owner {
		mu, err := shmsync.InitMutex(mutexBytes)
		if err != nil {
			return nil, fmt.Errorf("ringbuf: init mutex: %w", err)
		}
		sem, err := shmsync.InitSem(semBytes, 0)
		if err != nil {
			return nil, fmt.Errorf("ringbuf: init semaphore: %w", err)
		}
		q.mu, q.sem = mu, sem
		q.setName(cfg.Name)
		q.storeHead(0)
		q.storeTail(0)
		q.storeAvail(uint32(total))
		q.storeItems(0)
	} else {
		mu, err := shmsync.OpenMutex(mutexBytes)
		if err != nil {
			return nil, fmt.Errorf("ringbuf: open mutex: %w", err)
		}
		sem, err := shmsync.OpenSem(semBytes)
		if err != nil {
			return nil, fmt.Errorf("ringbuf: open semaphore: %w", err)
		}
		q.mu, q.sem = mu, sem
	}

	return q, nil
}

// Destroy releases the queue's synchronization primitives. Only the owning
// side should call this, during Endpoint teardown (§4.3 cleanup, and the
// Open Question in §9 resolving the C original's disabled destroy path).
func (q *Queue) Destroy() error {
	err1 := q.mu.Destroy()
	err2 := q.sem.Destroy()
	if err1 != nil {
		return err1
	}
	return err2
}

func (q *Queue) setName(name string) {
	if len(name) > constants.NameMaxLen {
		name = name[:constants.NameMaxLen]
	}
	nameBytes := q.ctrl[offName : offName+constants.NameMaxLen]
	for i := range nameBytes {
		nameBytes[i] = 0
	}
	copy(nameBytes, name)
}

// Name returns the queue's display label.
func (q *Queue) Name() string {
	nameBytes := q.ctrl[offName : offName+constants.NameMaxLen]
	n := 0
	for n < len(nameBytes) && nameBytes[n] != 0 {
		n++
	}
	return string(nameBytes[:n])
}

func (q *Queue) field(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&q.ctrl[off]))
}

func (q *Queue) loadHead() uint32       { return atomic.LoadUint32(q.field(offHead)) }
func (q *Queue) storeHead(v uint32)     { atomic.StoreUint32(q.field(offHead), v) }
func (q *Queue) loadTail() uint32       { return atomic.LoadUint32(q.field(offTail)) }
func (q *Queue) storeTail(v uint32)     { atomic.StoreUint32(q.field(offTail), v) }
func (q *Queue) loadAvail() uint32      { return atomic.LoadUint32(q.field(offAvail)) }
func (q *Queue) storeAvail(v uint32)    { atomic.StoreUint32(q.field(offAvail), v) }
func (q *Queue) loadItems() uint32      { return atomic.LoadUint32(q.field(offItems)) }
func (q *Queue) storeItems(v uint32)    { atomic.StoreUint32(q.field(offItems), v) }

// Items reports the current number of framed records in the queue. Safe to
// call without holding the mutex for diagnostics; not linearizable with
// concurrent Push/Pop.
func (q *Queue) Items() int { return int(q.loadItems()) }

// Total returns the queue's payload capacity in bytes.
func (q *Queue) Total() int { return q.total }

// header is the 8-byte record header (§3): raw_head_len, ftype, a zeroed
// reserved byte, and raw_body_len, little-endian.
func encodeHeader(dst []byte, rawHeadLen uint16, ftype rpc.FrameType, rawBodyLen uint32) {
	binary.LittleEndian.PutUint16(dst[0:2], rawHeadLen)
	dst[2] = byte(ftype)
	dst[3] = 0 // reserved, must be zeroed per §9 open question
	binary.LittleEndian.PutUint32(dst[4:8], rawBodyLen)
}

func decodeHeader(src []byte) (rawHeadLen uint16, ftype rpc.FrameType, rawBodyLen uint32) {
	rawHeadLen = binary.LittleEndian.Uint16(src[0:2])
	ftype = rpc.FrameType(src[2])
	rawBodyLen = binary.LittleEndian.Uint32(src[4:8])
	return
}

// writeAt copies src into ring starting at offset start, wrapping around
// total. This generalizes the five physical straddle cases enumerated in
// §4.1 (header-fits/head-straddles/body-straddles/...) into one modular
// copy, since none of those cases is anything but "split at the wrap
// point if the run crosses it".
func writeAt(ring []byte, total, start int, src []byte) {
	n := len(src)
	if n == 0 {
		return
	}
	if start+n <= total {
		copy(ring[start:start+n], src)
		return
	}
	first := total - start
	copy(ring[start:total], src[:first])
	copy(ring[0:n-first], src[first:])
}

func readAt(ring []byte, total, start int, dst []byte) {
	n := len(dst)
	if n == 0 {
		return
	}
	if start+n <= total {
		copy(dst, ring[start:start+n])
		return
	}
	first := total - start
	copy(dst[:first], ring[start:total])
	copy(dst[first:], ring[0:n-first])
}

// Push enqueues one framed record. It never blocks on fullness: a full
// queue fails immediately with ErrOutOfShmMem so the caller can decide on
// retry and backoff (§5).
func (q *Queue) Push(head, body []byte, ftype rpc.FrameType, handleID, ref uint64) error {
	if len(head) == 0 {
		return ErrInvalidPara
	}
	if len(head) > 0xFFFF {
		return fmt.Errorf("ringbuf: head %d bytes exceeds u16 raw_head_len: %w", len(head), ErrInvalidPara)
	}

	rawHeadLen := len(head)
	rawBodyLen := len(body)
	headLen := ceil8(rawHeadLen)
	bodyLen := ceil8(rawBodyLen)
	frameLen := 8 + headLen + bodyLen

	q.mu.Lock()

	tail := int(q.loadTail())
	remain := q.total - tail
	pad := 0
	if remain < 8 {
		pad = remain
	}
	needed := frameLen + pad
	if needed > int(q.loadAvail()) {
		q.mu.Unlock()
		return ErrOutOfShmMem
	}

	if handleID != 0 && ftype == rpc.FrameReq && q.handles != nil {
		q.handles.Insert(handleID, ref)
	}

	headerPos := tail
	if pad > 0 {
		headerPos = 0
	}
	var hdr [8]byte
	encodeHeader(hdr[:], uint16(rawHeadLen), ftype, uint32(rawBodyLen))
	copy(q.payload[headerPos:headerPos+8], hdr[:])

	payloadStart := (headerPos + 8) % q.total
	writeAt(q.payload, q.total, payloadStart, head)
	bodyStart := (payloadStart + headLen) % q.total
	writeAt(q.payload, q.total, bodyStart, body)

	newTail := (bodyStart + bodyLen) % q.total
	q.storeTail(uint32(newTail))
	q.storeAvail(uint32(int(q.loadAvail()) - needed))
	q.storeItems(q.loadItems() + 1)

	q.log.Debug("pushed frame", "ftype", ftype.String(), "head_len", rawHeadLen, "body_len", rawBodyLen, "items", q.loadItems())

	q.mu.Unlock()
	return q.sem.Post()
}

// Pop blocks on the queue's semaphore, then dequeues the oldest record.
// A return of (nil, nil, 0, false, nil) means the queue was woken for
// shutdown with nothing to deliver (§4.1 step 3 / §5 shutdown wake): the
// consumer must exit its loop rather than retry.
func (q *Queue) Pop() (headBuf, bodyBuf []byte, ftype rpc.FrameType, ok bool, err error) {
	if err := q.sem.Wait(); err != nil {
		return nil, nil, 0, false, err
	}

	q.mu.Lock()

	if q.loadItems() == 0 {
		q.mu.Unlock()
		// No re-post: this wake is the shutdown wake (§4.3 Stop). The
		// semaphore must not end up "owing" a wait to a future legitimate
		// push, so it is left at 0 — the caller (dispatch loop) interprets
		// this return as shutdown and exits without retrying.
		return nil, nil, 0, false, nil
	}

	head := int(q.loadHead())
	remain := q.total - head
	pad := 0
	if remain < 8 {
		pad = remain
	}
	headerPos := head
	if pad > 0 {
		headerPos = 0
	}

	rawHeadLen, fType, rawBodyLen := decodeHeader(q.payload[headerPos : headerPos+8])
	headLen := ceil8(int(rawHeadLen))
	bodyLen := ceil8(int(rawBodyLen))
	frameLen := 8 + headLen + bodyLen
	needed := frameLen + pad

	headOut := q.heads.Malloc(headLen)[:rawHeadLen]
	bodyOut := q.bodies.Malloc(bodyLen)[:rawBodyLen]
	if headOut == nil || bodyOut == nil {
		q.mu.Unlock()
		if perr := q.sem.Post(); perr != nil {
			return nil, nil, 0, false, perr
		}
		if headOut != nil {
			q.heads.Free(headOut)
		}
		if bodyOut != nil {
			q.bodies.Free(bodyOut)
		}
		return nil, nil, 0, false, ErrOutOfMemory
	}

	payloadStart := (headerPos + 8) % q.total
	readAt(q.payload, q.total, payloadStart, headOut)
	bodyStart := (payloadStart + headLen) % q.total
	readAt(q.payload, q.total, bodyStart, bodyOut)

	newHead := (bodyStart + bodyLen) % q.total
	q.storeHead(uint32(newHead))
	q.storeAvail(uint32(int(q.loadAvail()) + needed))
	q.storeItems(q.loadItems() - 1)

	q.log.Debug("popped frame", "ftype", fType.String(), "head_len", rawHeadLen, "body_len", rawBodyLen, "items", q.loadItems())

	q.mu.Unlock()
	return headOut, bodyOut, fType, true, nil
}

// WakeForShutdown posts the queue's semaphore without touching items,
// waking a consumer blocked in Pop so it can observe items == 0 and exit
// (§4.3 Stop, §5 "the only cancellation primitive is the semaphore-post
// wake").
func (q *Queue) WakeForShutdown() error {
	return q.sem.Post()
}

// RemoveHandle removes handleID from this queue's handle table under the
// same mutex Push used to insert it (§4.2's "reuse the parent->child
// queue's mutex" rule), returning its stored ref and true, or (0, false)
// if absent.
func (q *Queue) RemoveHandle(handleID uint64) (uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handles == nil {
		return 0, false
	}
	return q.handles.Remove(handleID)
}

// DrainHandles removes every entry from this queue's handle table, calling
// fn(handle) for each — used when the child process has died (§4.5).
func (q *Queue) DrainHandles(fn func(handleID uint64)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handles == nil {
		return
	}
	q.handles.Drain(fn)
}
