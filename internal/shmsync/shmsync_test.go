package shmsync

import (
	"sync"
	"testing"
	"time"
)

func TestMutexInitLockUnlock(t *testing.T) {
	mem := make([]byte, MutexSize)
	mu, err := InitMutex(mem)
	if err != nil {
		t.Fatalf("InitMutex: %v", err)
	}
	defer mu.Destroy()

	mu.Lock()
	mu.Unlock()
}

func TestMutexTooSmall(t *testing.T) {
	mem := make([]byte, MutexSize-1)
	if _, err := InitMutex(mem); err != ErrTooSmall {
		t.Fatalf("InitMutex with undersized buffer = %v, want ErrTooSmall", err)
	}
	if _, err := OpenMutex(mem); err != ErrTooSmall {
		t.Fatalf("OpenMutex with undersized buffer = %v, want ErrTooSmall", err)
	}
}

func TestMutexSerializesConcurrentAccess(t *testing.T) {
	mem := make([]byte, MutexSize)
	mu, err := InitMutex(mem)
	if err != nil {
		t.Fatalf("InitMutex: %v", err)
	}
	defer mu.Destroy()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mu.Lock()
			counter++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}
}

func TestSemInitValueAllowsThatManyWaits(t *testing.T) {
	mem := make([]byte, SemSize)
	sem, err := InitSem(mem, 2)
	if err != nil {
		t.Fatalf("InitSem: %v", err)
	}
	defer sem.Destroy()

	if err := sem.Wait(); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	if err := sem.Wait(); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
}

func TestSemPostWakesWaiter(t *testing.T) {
	mem := make([]byte, SemSize)
	sem, err := InitSem(mem, 0)
	if err != nil {
		t.Fatalf("InitSem: %v", err)
	}
	defer sem.Destroy()

	done := make(chan struct{})
	go func() {
		sem.Wait()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("Wait returned before Post")
	default:
	}

	if err := sem.Post(); err != nil {
		t.Fatalf("Post: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return within 1s of Post")
	}
}

func TestSemTooSmall(t *testing.T) {
	mem := make([]byte, SemSize-1)
	if _, err := InitSem(mem, 0); err != ErrTooSmall {
		t.Fatalf("InitSem with undersized buffer = %v, want ErrTooSmall", err)
	}
	if _, err := OpenSem(mem); err != ErrTooSmall {
		t.Fatalf("OpenSem with undersized buffer = %v, want ErrTooSmall", err)
	}
}
