// Package shmsync provides cross-process synchronization primitives backed
// by bytes living inside a shared-memory region, instead of ordinary
// in-process locks. A PTHREAD_PROCESS_SHARED mutex and a process-shared
// POSIX counting semaphore only behave correctly when their control blocks
// live in memory mapped by every participating process; sync.Mutex and
// sync.Cond do not make that guarantee, so they cannot be used here.
package shmsync

import "errors"

// MutexSize is the number of bytes a Mutex reserves inside the shared
// region for the platform mutex representation.
const MutexSize = 64

// SemSize is the number of bytes a Sem reserves inside the shared region
// for the platform semaphore representation.
const SemSize = 32

// ErrTooSmall is returned when the byte slice handed to Init/Open is
// smaller than the primitive's required size.
var ErrTooSmall = errors.New("shmsync: backing memory too small")

// Mutex is a process-shared mutual-exclusion lock whose control block lives
// at a fixed offset inside a shared-memory region. The zero value is not
// usable; construct with InitMutex (owning side) or OpenMutex (attaching
// side).
type Mutex struct {
	impl mutexImpl
}

// InitMutex initializes a brand-new process-shared mutex in mem, which must
// be at least MutexSize bytes and must outlive the returned Mutex. Only the
// side that created the shared region calls this; every other side attaches
// with OpenMutex once the bytes are visible to it (e.g. post-fork).
func InitMutex(mem []byte) (*Mutex, error) {
	if len(mem) < MutexSize {
		return nil, ErrTooSmall
	}
	impl, err := initMutexImpl(mem)
	if err != nil {
		return nil, err
	}
	return &Mutex{impl: impl}, nil
}

// OpenMutex attaches to a mutex previously initialized (possibly by another
// process) in mem.
func OpenMutex(mem []byte) (*Mutex, error) {
	if len(mem) < MutexSize {
		return nil, ErrTooSmall
	}
	impl, err := openMutexImpl(mem)
	if err != nil {
		return nil, err
	}
	return &Mutex{impl: impl}, nil
}

// Lock acquires the mutex, blocking across process boundaries.
func (m *Mutex) Lock() { m.impl.Lock() }

// Unlock releases the mutex.
func (m *Mutex) Unlock() { m.impl.Unlock() }

// Destroy releases any out-of-band OS resources held by the mutex. Only the
// owning side should call this, during teardown.
func (m *Mutex) Destroy() error { return m.impl.Destroy() }

// Sem is a process-shared counting semaphore whose control block lives at a
// fixed offset inside a shared-memory region.
type Sem struct {
	impl semImpl
}

// InitSem initializes a brand-new process-shared semaphore in mem (at least
// SemSize bytes) with the given initial value. The ring buffer always
// initializes its semaphore at value 0.
func InitSem(mem []byte, value uint32) (*Sem, error) {
	if len(mem) < SemSize {
		return nil, ErrTooSmall
	}
	impl, err := initSemImpl(mem, value)
	if err != nil {
		return nil, err
	}
	return &Sem{impl: impl}, nil
}

// OpenSem attaches to a semaphore previously initialized in mem.
func OpenSem(mem []byte) (*Sem, error) {
	if len(mem) < SemSize {
		return nil, ErrTooSmall
	}
	impl, err := openSemImpl(mem)
	if err != nil {
		return nil, err
	}
	return &Sem{impl: impl}, nil
}

// Post increments the semaphore, waking one waiter if any is blocked in
// Wait. This is the conduit's only cancellation primitive: a consumer
// parked in Wait is woken by a Post issued against an empty queue during
// shutdown.
func (s *Sem) Post() error { return s.impl.Post() }

// Wait blocks until the semaphore's value is positive, then decrements it.
// This is the dispatch loops' suspension point.
func (s *Sem) Wait() error { return s.impl.Wait() }

// Destroy releases any out-of-band OS resources held by the semaphore.
func (s *Sem) Destroy() error { return s.impl.Destroy() }

type mutexImpl interface {
	Lock()
	Unlock()
	Destroy() error
}

type semImpl interface {
	Post() error
	Wait() error
	Destroy() error
}
