// Package dproc implements a shared-memory inter-process conduit: two
// single-consumer (multi-producer) ring buffers (parent->child and
// child->parent) plus a handle table, wired together by an Endpoint that
// runs the dispatch loops described in the component design. It is the
// transport a clustered-database RPC layer forks a worker process over,
// replacing sockets with a shared mapping for the hot request/response
// path.
package dproc

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/taosdata/dproc/internal/alloc"
	"github.com/taosdata/dproc/internal/constants"
	"github.com/taosdata/dproc/internal/handle"
	"github.com/taosdata/dproc/internal/logging"
	"github.com/taosdata/dproc/internal/ringbuf"
	"github.com/taosdata/dproc/internal/rpc"
	"github.com/taosdata/dproc/internal/segment"
)

// Side selects which dispatch loop(s) an Endpoint runs.
type Side int

const (
	// SideParent runs only the parent dispatch loop, consuming the
	// child->parent queue.
	SideParent Side = iota
	// SideChild runs only the child dispatch loop, consuming the
	// parent->child queue.
	SideChild
	// SideBoth runs both loops in the same process, for single-process
	// demos and tests.
	SideBoth
)

func (s Side) String() string {
	switch s {
	case SideParent:
		return "parent"
	case SideChild:
		return "child"
	case SideBoth:
		return "both"
	default:
		return "unknown"
	}
}

// EndpointConfig collects every tunable an Endpoint needs to initialize,
// mirroring a single params struct rather than a long constructor argument
// list.
type EndpointConfig struct {
	// Region is the shared-memory segment the two queues are carved from.
	Region *segment.Region
	// Side selects which dispatch loop(s) to run.
	Side Side
	// Name labels the endpoint's queues for logging.
	Name string
	// PushRetryInitialDelay and PushRetryMaxDelay bound the linear backoff
	// PutToParentQueue uses on a full queue.
	PushRetryInitialDelay time.Duration
	PushRetryMaxDelay     time.Duration
	// StopJoinTimeout bounds how long Stop waits for a dispatch loop to
	// exit after the shutdown wake.
	StopJoinTimeout time.Duration
	// ChildCPU and ParentCPU, when >= 0, pin the corresponding dispatch
	// loop's OS thread to that CPU via SchedSetaffinity, the same
	// round-robin queue-to-CPU pinning the reference codebase's queue
	// runner applies to its I/O loop. A negative value (the default)
	// leaves the loop unpinned.
	ChildCPU  int
	ParentCPU int
}

// DefaultEndpointConfig returns an EndpointConfig with the conduit's
// default timing constants and unpinned dispatch loops. Region is left
// nil; callers must set it before calling Init, which rejects a nil
// region.
func DefaultEndpointConfig() *EndpointConfig {
	return &EndpointConfig{
		Side:                  SideBoth,
		Name:                  "dproc",
		PushRetryInitialDelay: constants.PushRetryInitialDelay,
		PushRetryMaxDelay:     constants.PushRetryMaxDelay,
		StopJoinTimeout:       constants.StopJoinTimeout,
		ChildCPU:              -1,
		ParentCPU:             -1,
	}
}

// Endpoint owns one side of the conduit: the two ring-buffer queues, the
// handle table, and the dispatch-loop goroutines running over them. It
// does not own the shared region's memory (see internal/segment.Region).
type Endpoint struct {
	cfg EndpointConfig

	parentToChild *ringbuf.Queue // parent -> child REQ frames
	childToParent *ringbuf.Queue // child -> parent RSP/REGIST/RELEASE frames
	handles       *handle.Table
	heads         *alloc.HeadPool
	bodies        alloc.BodyPool

	handler   rpc.NodeHandler
	callbacks rpc.Callbacks

	metrics *Metrics
	log     *logging.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	childExitOnce sync.Once
}

// Init carves the two queues out of cfg.Region and constructs the handle
// table. The owning side (the side whose EndpointConfig.Side is SideParent
// or SideBoth) initializes the synchronization primitives; SideChild
// attaches to an already-live queue prepared by the parent.
func Init(cfg EndpointConfig) (*Endpoint, error) {
	if cfg.Region == nil {
		return nil, NewError("Init", ErrCodeInvalidParameters, "region must not be nil")
	}
	if cfg.PushRetryInitialDelay <= 0 {
		cfg.PushRetryInitialDelay = constants.PushRetryInitialDelay
	}
	if cfg.PushRetryMaxDelay <= 0 {
		cfg.PushRetryMaxDelay = constants.PushRetryMaxDelay
	}
	if cfg.StopJoinTimeout <= 0 {
		cfg.StopJoinTimeout = constants.StopJoinTimeout
	}

	owner := cfg.Side == SideParent || cfg.Side == SideBoth

	total := cfg.Region.Len()
	half := (total/2 + 7) &^ 7
	second := (total - half + 7) &^ 7
	if half+second > total {
		second -= 8
	}

	parentRegion, err := cfg.Region.Slice(0, half)
	if err != nil {
		return nil, NewError("Init", ErrCodeInvalidParameters, "region too small to split into two queues")
	}
	childRegion, err := cfg.Region.Slice(half, second)
	if err != nil {
		return nil, NewError("Init", ErrCodeInvalidParameters, "region too small to split into two queues")
	}

	handles := handle.New(constants.HandleTableInitialCapacity)
	heads := alloc.NewHeadPool()
	bodies := alloc.NewBodyPool()

	p2c, err := ringbuf.New(ringbuf.Config{
		Region:  parentRegion,
		Name:    cfg.Name + ".p2c",
		Owner:   owner,
		Handles: handles,
		Heads:   heads,
		Bodies:  bodies,
	})
	if err != nil {
		return nil, wrapRingbufErr("Init.parentToChild", err)
	}

	c2p, err := ringbuf.New(ringbuf.Config{
		Region: childRegion,
		Name:   cfg.Name + ".c2p",
		Owner:  owner,
		Heads:  heads,
		Bodies: bodies,
	})
	if err != nil {
		if owner {
			_ = p2c.Destroy()
		}
		return nil, wrapRingbufErr("Init.childToParent", err)
	}

	return &Endpoint{
		cfg:           cfg,
		parentToChild: p2c,
		childToParent: c2p,
		handles:       handles,
		heads:         heads,
		bodies:        bodies,
		metrics:       NewMetrics(),
		log:           logging.Default().With("endpoint", cfg.Name, "side", cfg.Side.String()),
		stopCh:        make(chan struct{}),
	}, nil
}

// Metrics returns the endpoint's counters.
func (e *Endpoint) Metrics() *Metrics { return e.metrics }

// Run spawns the dispatch loop goroutine(s) appropriate to the endpoint's
// side and returns immediately; the loops run until Stop wakes them.
func (e *Endpoint) Run(handler rpc.NodeHandler, callbacks rpc.Callbacks) error {
	e.handler = handler
	e.callbacks = callbacks

	if e.cfg.Side == SideChild || e.cfg.Side == SideBoth {
		e.wg.Add(1)
		go e.childDispatchLoop()
	}
	if e.cfg.Side == SideParent || e.cfg.Side == SideBoth {
		e.wg.Add(1)
		go e.parentDispatchLoop()
	}
	return nil
}

// Stop posts the semaphore on every queue a running dispatch loop is
// waiting on, then waits up to StopJoinTimeout for both loops to observe
// the shutdown wake and exit.
func (e *Endpoint) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		close(e.stopCh)
		if e.cfg.Side == SideChild || e.cfg.Side == SideBoth {
			if perr := e.parentToChild.WakeForShutdown(); perr != nil {
				err = wrapRingbufErr("Stop", perr)
			}
		}
		if e.cfg.Side == SideParent || e.cfg.Side == SideBoth {
			if perr := e.childToParent.WakeForShutdown(); perr != nil {
				err = wrapRingbufErr("Stop", perr)
			}
		}

		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(e.cfg.StopJoinTimeout):
			e.log.Warn("dispatch loop did not exit within StopJoinTimeout")
		}
	})
	return err
}

// Cleanup calls Stop, then releases the queues' synchronization
// primitives. Only the owning side should call this.
func (e *Endpoint) Cleanup() error {
	if err := e.Stop(); err != nil {
		return err
	}
	err1 := e.parentToChild.Destroy()
	err2 := e.childToParent.Destroy()
	e.metrics.Stop()
	if err1 != nil {
		return wrapRingbufErr("Cleanup", err1)
	}
	if err2 != nil {
		return wrapRingbufErr("Cleanup", err2)
	}
	return nil
}

// PutToChildQueue enqueues a REQ frame on the parent->child queue,
// registering handle/ref in the handle table as part of the same
// critical section (§4.1 step 5). It is a single-attempt enqueue: a full
// queue returns ErrCodeOutOfSHMMem immediately.
func (e *Endpoint) PutToChildQueue(head, body []byte, handleID, ref uint64) error {
	err := e.parentToChild.Push(head, body, rpc.FrameReq, handleID, ref)
	if err != nil {
		if err == ringbuf.ErrOutOfShmMem {
			e.metrics.PushFailures.Add(1)
		}
		return wrapRingbufErr("PutToChildQueue", err)
	}
	e.metrics.ReqPushed.Add(1)
	return nil
}

// linearBackOff implements backoff.BackOff with a bounded linear policy:
// the Nth retry sleeps N*initial, capped at max. This replaces the
// library's default exponential policy to match the "never drop a
// response" retry the parent side requires (§5).
type linearBackOff struct {
	initial time.Duration
	max     time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	d := time.Duration(b.attempt) * b.initial
	if d > b.max {
		d = b.max
	}
	return d
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// PutToParentQueue enqueues a frame on the child->parent queue with
// retry-until-success semantics: the parent side must never drop a
// response, so a full queue is retried under a bounded linear backoff
// rather than surfaced to the caller.
func (e *Endpoint) PutToParentQueue(head, body []byte, ftype rpc.FrameType) error {
	bo := &linearBackOff{initial: e.cfg.PushRetryInitialDelay, max: e.cfg.PushRetryMaxDelay}

	op := func() (struct{}, error) {
		pushErr := e.childToParent.Push(head, body, ftype, 0, 0)
		if pushErr == nil {
			return struct{}{}, nil
		}
		if pushErr == ringbuf.ErrOutOfShmMem {
			e.metrics.PushFailures.Add(1)
			return struct{}{}, pushErr
		}
		return struct{}{}, backoff.Permanent(pushErr)
	}

	_, err := backoff.Retry(context.Background(), op, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(0))
	if err != nil {
		return wrapRingbufErr("PutToParentQueue", err)
	}
	switch ftype {
	case rpc.FrameRsp:
		e.metrics.RspPushed.Add(1)
	case rpc.FrameRegist:
		e.metrics.RegistCount.Add(1)
	case rpc.FrameRelease:
		e.metrics.ReleaseCount.Add(1)
	}
	return nil
}

// RemoveRPCHandle removes handleID from the handle table, returning its
// stored ref and true, or (0, false) if it was not present — a registered
// ref of 0 is legitimate and must not be confused with "not found".
func (e *Endpoint) RemoveRPCHandle(handleID uint64) (uint64, bool) {
	return e.parentToChild.RemoveHandle(handleID)
}

// CloseRPCHandles drains the handle table and invokes the SendResponse
// callback with a NODE_OFFLINE response for every outstanding handle. It
// is invoked when the parent detects that the child process has exited
// (reported by an external collaborator, §4.5 child death handling).
func (e *Endpoint) CloseRPCHandles() {
	e.childExitOnce.Do(func() {
		e.parentToChild.DrainHandles(func(handleID uint64) {
			e.metrics.NodeOfflines.Add(1)
			if e.callbacks.SendResponse != nil {
				e.callbacks.SendResponse(&rpc.Message{Handle: handleID, Code: rpc.NodeOffline})
			}
		})
	})
}

// NotifyChildExit is the entry point an external collaborator calls when
// it observes the child process has terminated; it is equivalent to
// calling CloseRPCHandles directly, kept as a distinctly named method so
// call sites read as intent ("the child died") rather than mechanism
// ("drain the table").
func (e *Endpoint) NotifyChildExit() {
	e.CloseRPCHandles()
}
