package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTasksRunFIFOPerSubmitter(t *testing.T) {
	p := New(1)
	defer p.Shutdown()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		i := i
		p.Submit(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestFixedWorkerCountRunsTasksConcurrently(t *testing.T) {
	const workers = 4
	p := New(workers)
	defer p.Shutdown()

	var inFlight int32
	var maxSeen int32
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		p.Submit(func() {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				cur := atomic.LoadInt32(&maxSeen)
				if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			wg.Done()
		})
	}
	wg.Wait()
	assert.Equal(t, int32(workers), maxSeen)
}

func TestPanicInTaskDoesNotKillWorker(t *testing.T) {
	p := New(1)
	defer p.Shutdown()

	var panicked atomic.Bool
	p.OnPanic(func(r interface{}) { panicked.Store(true) })

	done := make(chan struct{})
	p.Submit(func() { panic("boom") })
	p.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker appears dead after a task panicked")
	}
	assert.True(t, panicked.Load())
}

func TestShutdownDrainsQueuedTasksThenReturns(t *testing.T) {
	p := New(2)
	var ran int32
	for i := 0; i < 50; i++ {
		p.Submit(func() { atomic.AddInt32(&ran, 1) })
	}
	p.Shutdown()
	assert.Equal(t, int32(50), ran)
}

func TestSubmitAfterShutdownIsDropped(t *testing.T) {
	p := New(1)
	p.Shutdown()

	require.NotPanics(t, func() {
		p.Submit(func() { t.Fatal("should never run") })
	})
}
