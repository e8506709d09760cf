//go:build !linux || !cgo

package shmsync

import "sync"

// Portable backend: used on platforms without a cgo toolchain, or when cgo
// is disabled. It only provides in-process semantics (sync.Mutex / a
// channel-based counting semaphore) — correct for single-process "BOTH"
// mode, but not a substitute for the real PTHREAD_PROCESS_SHARED backend
// when parent and child are genuinely separate OS processes mapping the
// same segment.

type goMutex struct {
	mu *sync.Mutex
}

func initMutexImpl(mem []byte) (mutexImpl, error) {
	return &goMutex{mu: &sync.Mutex{}}, nil
}

func openMutexImpl(mem []byte) (mutexImpl, error) {
	return &goMutex{mu: &sync.Mutex{}}, nil
}

func (m *goMutex) Lock()          { m.mu.Lock() }
func (m *goMutex) Unlock()        { m.mu.Unlock() }
func (m *goMutex) Destroy() error { return nil }

type goSem struct {
	ch chan struct{}
}

func initSemImpl(mem []byte, value uint32) (semImpl, error) {
	s := &goSem{ch: make(chan struct{}, 1<<20)}
	for i := uint32(0); i < value; i++ {
		s.ch <- struct{}{}
	}
	return s, nil
}

func openSemImpl(mem []byte) (semImpl, error) {
	return &goSem{ch: make(chan struct{}, 1<<20)}, nil
}

func (s *goSem) Post() error {
	select {
	case s.ch <- struct{}{}:
	default:
	}
	return nil
}

func (s *goSem) Wait() error {
	<-s.ch
	return nil
}

func (s *goSem) Destroy() error { return nil }
