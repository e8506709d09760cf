package dproc

import (
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/taosdata/dproc/internal/constants"
	"github.com/taosdata/dproc/internal/logging"
	"github.com/taosdata/dproc/internal/rpc"
)

// pinToCPU locks the calling goroutine to its OS thread and, if cpu >= 0,
// sets that thread's CPU affinity. It mirrors the reference codebase's
// queue runner, which pins each I/O loop to its own OS thread (there, a
// hard kernel requirement; here, an optional throughput tuning knob since
// nothing about the shared-memory protocol requires thread affinity).
// Callers must call this once at the top of a dispatch loop goroutine and
// never unlock, since the goroutine runs for the lifetime of the loop.
func pinToCPU(log *logging.Logger, loopName string, cpu int) {
	runtime.LockOSThread()
	if cpu < 0 {
		return
	}
	var mask unix.CPUSet
	mask.Set(cpu)
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		log.Warn("failed to set dispatch loop CPU affinity", "loop", loopName, "cpu", cpu, "error", err)
	}
}

// freeHead returns a popped head buffer to the head pool.
func (e *Endpoint) freeHead(buf []byte) {
	if buf != nil {
		e.heads.Free(buf)
	}
}

// freeBody returns a popped body buffer to the body pool.
func (e *Endpoint) freeBody(buf []byte) {
	if buf != nil {
		e.bodies.Free(buf)
	}
}

// childDispatchLoop consumes the parent->child queue (§4.4). It runs as
// its own goroutine, started by Run for SideChild and SideBoth endpoints,
// and returns only on the shutdown wake.
func (e *Endpoint) childDispatchLoop() {
	defer e.wg.Done()
	pinToCPU(e.log, "child", e.cfg.ChildCPU)
	e.log.Info("child dispatch loop starting")

	for {
		head, body, ftype, ok, err := e.parentToChild.Pop()
		if err != nil {
			// Transient allocation failure: the message is still queued,
			// the semaphore was re-posted by Pop. Sleep briefly and retry;
			// this is NOT a shutdown signal.
			e.metrics.PopRetries.Add(1)
			time.Sleep(constants.PopRetryDelay)
			continue
		}
		if !ok {
			e.log.Info("child dispatch loop exiting on shutdown wake")
			return
		}

		if ftype != rpc.FrameReq {
			e.log.Fatal("unexpected ftype on parent->child queue", "ftype", ftype.String())
			e.metrics.ProtocolDrops.Add(1)
			e.freeHead(head)
			e.freeBody(body)
			continue
		}

		handleID, ahandle, refID := rpc.DecodeHead(head)
		msg := &rpc.Message{Handle: handleID, AHandle: ahandle, RefID: refID, Cont: body}

		popTime := time.Now()
		if e.handler != nil {
			if hErr := e.handler(msg); hErr != nil {
				e.log.Warn("node handler returned error, synthesizing response", "handle", handleID, "error", hErr)
				respHead := rpc.EncodeHead(msg)
				if perr := e.PutToParentQueue(respHead, msg.Cont, rpc.FrameRsp); perr != nil {
					e.log.Error("failed to enqueue synthesized error response", "handle", handleID, "error", perr)
				}
			}
		}
		e.metrics.RecordLatency(time.Since(popTime))
		e.metrics.ReqHandled.Add(1)

		e.freeHead(head)
		e.freeBody(body)
	}
}

// parentDispatchLoop consumes the child->parent queue (§4.5). It runs as
// its own goroutine, started by Run for SideParent and SideBoth endpoints,
// and returns only on the shutdown wake.
func (e *Endpoint) parentDispatchLoop() {
	defer e.wg.Done()
	pinToCPU(e.log, "parent", e.cfg.ParentCPU)
	e.log.Info("parent dispatch loop starting")

	for {
		head, body, ftype, ok, err := e.childToParent.Pop()
		if err != nil {
			e.metrics.PopRetries.Add(1)
			time.Sleep(constants.PopRetryDelay)
			continue
		}
		if !ok {
			e.log.Info("parent dispatch loop exiting on shutdown wake")
			return
		}

		handleID, ahandle, refID := rpc.DecodeHead(head)
		msg := &rpc.Message{Handle: handleID, AHandle: ahandle, RefID: refID, Cont: body}

		switch ftype {
		case rpc.FrameRsp:
			if _, ok := e.RemoveRPCHandle(handleID); !ok {
				e.log.Warn("RSP for unknown handle", "handle", handleID)
			}
			if e.callbacks.SendResponse != nil {
				e.callbacks.SendResponse(msg)
			}
			e.metrics.RspDelivered.Add(1)
		case rpc.FrameRegist:
			if e.callbacks.RegisterBrokenLink != nil {
				e.callbacks.RegisterBrokenLink(msg)
			}
			e.freeBody(body)
		case rpc.FrameRelease:
			if _, ok := e.RemoveRPCHandle(handleID); !ok {
				e.log.Warn("RELEASE for unknown handle", "handle", handleID)
			}
			if e.callbacks.ReleaseHandle != nil {
				e.callbacks.ReleaseHandle(handleID, msg.Code)
			}
			e.freeBody(body)
		default:
			e.log.Fatal("unexpected ftype on child->parent queue", "ftype", ftype.String())
			e.metrics.ProtocolDrops.Add(1)
			e.freeBody(body)
		}

		e.freeHead(head)
	}
}
