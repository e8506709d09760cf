package alloc

import "github.com/cloudwego/gopkg/cache/mempool"

// MempoolBodyPool implements BodyPool on top of cloudwego/gopkg's
// size-classed memory pool, giving body buffers a distinct allocator
// identity from HeadPool (§9's "two allocator pairs are a contract of the
// RPC layer, not an accident").
type MempoolBodyPool struct{}

// NewBodyPool returns the default, mempool-backed BodyPool.
func NewBodyPool() BodyPool {
	return MempoolBodyPool{}
}

func (MempoolBodyPool) Malloc(size int) []byte {
	return mempool.Malloc(size)
}

func (MempoolBodyPool) Free(buf []byte) {
	mempool.Free(buf)
}
