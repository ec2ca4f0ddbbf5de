package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootIsAlwaysMinimumExpiry(t *testing.T) {
	h := New()
	fake := time.Now()
	h.nowFn = func() time.Time { return fake }

	h.Add(1, 5000, func() {})
	h.Add(2, 1000, func() {})
	h.Add(3, 3000, func() {})

	require.Equal(t, 2, h.h[0].fd)
}

func TestAdjustResiftsHeap(t *testing.T) {
	h := New()
	fake := time.Now()
	h.nowFn = func() time.Time { return fake }

	h.Add(1, 5000, func() {})
	h.Add(2, 1000, func() {})

	h.Adjust(1, 100) // now the soonest
	assert.Equal(t, 1, h.h[0].fd)
}

func TestCancelAbsentFdIsNoop(t *testing.T) {
	h := New()
	assert.NotPanics(t, func() { h.Cancel(999) })
	assert.Equal(t, 0, h.Len())
}

func TestCancelRemovesEntry(t *testing.T) {
	h := New()
	h.Add(1, 1000, func() {})
	h.Add(2, 2000, func() {})
	h.Cancel(1)

	assert.Equal(t, 1, h.Len())
	_, stillThere := h.byFd[1]
	assert.False(t, stillThere)
}

func TestTickFiresExpiredCallbacksInOrder(t *testing.T) {
	h := New()
	fake := time.Now()
	h.nowFn = func() time.Time { return fake }

	var fired []int
	h.Add(1, 100, func() { fired = append(fired, 1) })
	h.Add(2, 50, func() { fired = append(fired, 2) })
	h.Add(3, 5000, func() { fired = append(fired, 3) })

	fake = fake.Add(200 * time.Millisecond)
	h.Tick()

	assert.Equal(t, []int{2, 1}, fired)
	assert.Equal(t, 1, h.Len())
}

func TestNextTickReturnsMinusOneWhenEmpty(t *testing.T) {
	h := New()
	assert.Equal(t, -1, h.NextTick())
}

func TestNextTickTicksFirstThenPeeksRoot(t *testing.T) {
	h := New()
	fake := time.Now()
	h.nowFn = func() time.Time { return fake }

	fired := false
	h.Add(1, 10, func() { fired = true })
	h.Add(2, 500, func() {})

	fake = fake.Add(20 * time.Millisecond)
	remaining := h.NextTick()

	assert.True(t, fired)
	assert.InDelta(t, 480, remaining, 5)
}

func TestAddExistingFdAdjustsAndReplacesCallback(t *testing.T) {
	h := New()
	fake := time.Now()
	h.nowFn = func() time.Time { return fake }

	calls := 0
	h.Add(1, 1000, func() { calls++ })
	h.Add(1, 10, func() { calls += 100 })

	fake = fake.Add(20 * time.Millisecond)
	h.Tick()

	assert.Equal(t, 100, calls)
	assert.Equal(t, 0, h.Len())
}
