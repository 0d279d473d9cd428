package crawler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkQueueFIFO(t *testing.T) {
	q := newWorkQueue[int](true)
	q.Push(1, 2, 3)

	for want := 1; want <= 3; want++ {
		got, ok := q.Dequeue()
		assert.True(t, ok)
		assert.Equal(t, want, got)
		q.Done()
	}

	_, ok := q.Dequeue()
	assert.False(t, ok, "sealed, empty and idle queue must report exhaustion")
}

func TestWorkQueueWaitsForActiveConsumers(t *testing.T) {
	q := newWorkQueue[int](true)
	q.Push(1)

	first, ok := q.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, 1, first)

	got := make(chan int, 1)
	go func() {
		v, ok := q.Dequeue()
		if ok {
			got <- v
		}
		close(got)
	}()

	// The second consumer must block while the first may still push.
	select {
	case <-got:
		t.Fatal("Dequeue returned while another consumer was active")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(2)
	q.Done()
	assert.Equal(t, 2, <-got)
}

func TestWorkQueueUnsealedBlocksUntilSeal(t *testing.T) {
	q := newWorkQueue[string](false)

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue()
		done <- ok
	}()

	select {
	case <-done:
		t.Fatal("Dequeue returned before the queue was sealed")
	case <-time.After(20 * time.Millisecond):
	}

	q.Seal()
	assert.False(t, <-done)
}

func TestWorkQueueCloseOnDone(t *testing.T) {
	q := newWorkQueue[int](false)
	ctx, cancel := context.WithCancel(context.Background())
	stop := q.CloseOnDone(ctx)
	defer stop()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := q.Dequeue()
			assert.False(t, ok)
		}()
	}

	cancel()
	wg.Wait()
}

func TestWorkQueueCounters(t *testing.T) {
	q := newWorkQueue[int](true)
	q.Push(1, 2)
	assert.Equal(t, 2, q.Len())

	_, _ = q.Dequeue()
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 1, q.Active())

	q.Done()
	assert.Zero(t, q.Active())
}
