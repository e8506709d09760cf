// Package rpc defines the collaborator-facing contract types the conduit
// dispatch loops use: the wire-adjacent Message shape, the callback set the
// RPC runtime supplies, and the node message handler invoked per request.
// These are pure interface/struct contracts with no behavior of their own,
// kept in their own package so the conduit's root package and its
// internal/* dependencies can both reference them without an import cycle.
package rpc

import "encoding/binary"

// FrameType identifies what a conduit frame carries. Numeric values are
// part of the wire format (§3 of the framing spec) and MUST NOT change.
type FrameType uint8

const (
	// FrameReq is a request flowing parent -> child.
	FrameReq FrameType = 1
	// FrameRsp is a response flowing child -> parent.
	FrameRsp FrameType = 2
	// FrameRegist registers a broken-link callback, child -> parent.
	FrameRegist FrameType = 3
	// FrameRelease releases a handle, child -> parent.
	FrameRelease FrameType = 4
)

// String renders the frame type for logging.
func (f FrameType) String() string {
	switch f {
	case FrameReq:
		return "REQ"
	case FrameRsp:
		return "RSP"
	case FrameRegist:
		return "REGIST"
	case FrameRelease:
		return "RELEASE"
	default:
		return "UNKNOWN"
	}
}

// Code is an RPC-layer status/error code, e.g. NodeOffline below.
type Code int32

// NodeOffline is the code surfaced to RPC clients whose handle's owning
// child process has died mid-request.
const NodeOffline Code = 1001

// Message is the RPC message shape carried across the conduit. Handle
// identifies the live RPC channel in the parent's RPC runtime; AHandle and
// RefID are opaque correlation tokens round-tripped verbatim; Cont is the
// payload buffer (allocated/freed through the BodyPool allocator pair, see
// internal/alloc); Code is a status field. EncodeHead and DecodeHead do
// not carry Code, so it does not cross the conduit: a Message rebuilt
// from a popped frame always has Code 0.
type Message struct {
	Handle  uint64
	AHandle uint64
	RefID   int64
	Cont    []byte
	Code    Code
}

// SetResponse populates Cont and Code. On a non-nil NodeHandler error the
// child dispatch loop enqueues Cont as the body of a synthesized RSP frame
// (§4.4); Code is not part of that frame.
func (m *Message) SetResponse(cont []byte, code Code) {
	m.Cont = cont
	m.Code = code
}

// headSize is the fixed size of the encoded correlation header every
// frame's head payload carries: Handle, AHandle, RefID, each 8 bytes,
// little-endian.
const headSize = 24

// EncodeHead packs a Message's correlation fields into the fixed-size head
// payload a frame carries; Cont travels separately as the frame's body.
func EncodeHead(msg *Message) []byte {
	buf := make([]byte, headSize)
	binary.LittleEndian.PutUint64(buf[0:8], msg.Handle)
	binary.LittleEndian.PutUint64(buf[8:16], msg.AHandle)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(msg.RefID))
	return buf
}

// DecodeHead unpacks a frame's head payload into Handle, AHandle and RefID.
func DecodeHead(head []byte) (handle, ahandle uint64, refID int64) {
	handle = binary.LittleEndian.Uint64(head[0:8])
	ahandle = binary.LittleEndian.Uint64(head[8:16])
	refID = int64(binary.LittleEndian.Uint64(head[16:24]))
	return
}

// NodeHandler processes one inbound REQ. It is expected to populate a
// response on req (via SetResponse) when it wants the child dispatch loop
// to synthesize and enqueue a reply; returning a non-nil error triggers
// exactly that synthesis per §4.4.
type NodeHandler func(req *Message) error

// Callbacks is the set of RPC-layer entry points the parent dispatch loop
// invokes while demultiplexing the child->parent queue (§4.5).
type Callbacks struct {
	// SendResponse delivers a RSP frame's message back to the RPC
	// connection identified by msg.Handle, or (for child-death handling)
	// injects a synthetic NodeOffline response.
	SendResponse func(msg *Message)

	// RegisterBrokenLink wires up the broken-link notification argument
	// carried by a REGIST frame.
	RegisterBrokenLink func(msg *Message)

	// ReleaseHandle releases handle, invoked on a RELEASE frame after the
	// handle table entry has been removed. The code passed is the rebuilt
	// Message's Code, which is always 0 since frames do not carry it.
	ReleaseHandle func(handle uint64, code Code)
}
