//go:build linux && cgo

package shmsync

/*
#include <pthread.h>
#include <semaphore.h>
#include <errno.h>
#include <string.h>

static int shmsync_mutex_init(pthread_mutex_t *m) {
    pthread_mutexattr_t attr;
    int rc = pthread_mutexattr_init(&attr);
    if (rc != 0) return rc;
    rc = pthread_mutexattr_setpshared(&attr, PTHREAD_PROCESS_SHARED);
    if (rc != 0) {
        pthread_mutexattr_destroy(&attr);
        return rc;
    }
    rc = pthread_mutex_init(m, &attr);
    pthread_mutexattr_destroy(&attr);
    return rc;
}

static int shmsync_sem_init(sem_t *s, unsigned int value) {
    return sem_init(s, 1, value);
}
*/
import "C"

import (
	"fmt"
	"syscall"
	"unsafe"
)

type pthreadMutex struct {
	ptr   *C.pthread_mutex_t
	owner bool
}

func initMutexImpl(mem []byte) (mutexImpl, error) {
	m := (*C.pthread_mutex_t)(unsafe.Pointer(&mem[0]))
	if rc := C.shmsync_mutex_init(m); rc != 0 {
		return nil, fmt.Errorf("shmsync: pthread_mutex_init failed: errno %d", int(rc))
	}
	return &pthreadMutex{ptr: m, owner: true}, nil
}

func openMutexImpl(mem []byte) (mutexImpl, error) {
	m := (*C.pthread_mutex_t)(unsafe.Pointer(&mem[0]))
	return &pthreadMutex{ptr: m}, nil
}

func (m *pthreadMutex) Lock() {
	C.pthread_mutex_lock(m.ptr)
}

func (m *pthreadMutex) Unlock() {
	C.pthread_mutex_unlock(m.ptr)
}

func (m *pthreadMutex) Destroy() error {
	if !m.owner {
		return nil
	}
	if rc := C.pthread_mutex_destroy(m.ptr); rc != 0 {
		return fmt.Errorf("shmsync: pthread_mutex_destroy failed: errno %d", int(rc))
	}
	return nil
}

type posixSem struct {
	ptr   *C.sem_t
	owner bool
}

func initSemImpl(mem []byte, value uint32) (semImpl, error) {
	s := (*C.sem_t)(unsafe.Pointer(&mem[0]))
	if rc := C.shmsync_sem_init(s, C.uint(value)); rc != 0 {
		return nil, fmt.Errorf("shmsync: sem_init failed: errno %d", int(rc))
	}
	return &posixSem{ptr: s, owner: true}, nil
}

func openSemImpl(mem []byte) (semImpl, error) {
	s := (*C.sem_t)(unsafe.Pointer(&mem[0]))
	return &posixSem{ptr: s}, nil
}

func (s *posixSem) Post() error {
	if rc, err := C.sem_post(s.ptr); rc != 0 {
		return fmt.Errorf("shmsync: sem_post failed: %v", err)
	}
	return nil
}

func (s *posixSem) Wait() error {
	for {
		rc, err := C.sem_wait(s.ptr)
		if rc == 0 {
			return nil
		}
		if errno, ok := err.(syscall.Errno); ok && errno == syscall.EINTR {
			continue
		}
		return fmt.Errorf("shmsync: sem_wait failed: %v", err)
	}
}

func (s *posixSem) Destroy() error {
	if !s.owner {
		return nil
	}
	if rc, err := C.sem_destroy(s.ptr); rc != 0 {
		return fmt.Errorf("shmsync: sem_destroy failed: %v", err)
	}
	return nil
}
