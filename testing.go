package dproc

import (
	"sync"

	"github.com/taosdata/dproc/internal/rpc"
)

// MockRPC provides a mock node handler and callback set for testing
// Endpoint without a real RPC runtime. It records every call for
// verification, in the same call-tracking style as the reference
// codebase's own mock backend.
type MockRPC struct {
	mu sync.Mutex

	handlerCalls int
	handlerFunc  func(msg *rpc.Message) error

	responses       []*rpc.Message
	brokenLinkCalls []*rpc.Message
	releasedHandles []uint64
	releasedCodes   []rpc.Code
}

// NewMockRPC creates a MockRPC whose node handler, absent an override via
// SetHandlerFunc, returns nil for every request, so no RSP is synthesized.
func NewMockRPC() *MockRPC {
	return &MockRPC{}
}

// SetHandlerFunc overrides the handler invoked by Handler.
func (m *MockRPC) SetHandlerFunc(f func(msg *rpc.Message) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlerFunc = f
}

// Handler is the rpc.NodeHandler to pass to Endpoint.Run.
func (m *MockRPC) Handler(msg *rpc.Message) error {
	m.mu.Lock()
	m.handlerCalls++
	f := m.handlerFunc
	m.mu.Unlock()

	if f != nil {
		return f(msg)
	}
	return nil
}

// HandlerCalls reports how many times Handler has been invoked.
func (m *MockRPC) HandlerCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlerCalls
}

// Callbacks returns an rpc.Callbacks wired to this mock's recording
// methods, ready to pass to Endpoint.Run.
func (m *MockRPC) Callbacks() rpc.Callbacks {
	return rpc.Callbacks{
		SendResponse:       m.recordResponse,
		RegisterBrokenLink: m.recordBrokenLink,
		ReleaseHandle:      m.recordRelease,
	}
}

func (m *MockRPC) recordResponse(msg *rpc.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, msg)
}

func (m *MockRPC) recordBrokenLink(msg *rpc.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brokenLinkCalls = append(m.brokenLinkCalls, msg)
}

func (m *MockRPC) recordRelease(handle uint64, code rpc.Code) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releasedHandles = append(m.releasedHandles, handle)
	m.releasedCodes = append(m.releasedCodes, code)
}

// Responses returns every message passed to SendResponse, in call order.
func (m *MockRPC) Responses() []*rpc.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*rpc.Message, len(m.responses))
	copy(out, m.responses)
	return out
}

// BrokenLinkCalls returns every message passed to RegisterBrokenLink.
func (m *MockRPC) BrokenLinkCalls() []*rpc.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*rpc.Message, len(m.brokenLinkCalls))
	copy(out, m.brokenLinkCalls)
	return out
}

// ReleasedHandles returns every handle passed to ReleaseHandle, in call
// order. The status codes are recorded but not returned.
func (m *MockRPC) ReleasedHandles() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, len(m.releasedHandles))
	copy(out, m.releasedHandles)
	return out
}
