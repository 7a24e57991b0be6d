package wbcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFOOrder(t *testing.T) {
	q := newQueue[int]()
	defer q.Close()

	for i := 0; i < 5; i++ {
		q.Put(i)
	}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		v, ok := q.Take(ctx)
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestQueueTakeBlocksUntilPut(t *testing.T) {
	q := newQueue[string]()
	defer q.Close()

	done := make(chan string, 1)
	go func() {
		v, ok := q.Take(context.Background())
		if ok {
			done <- v
		} else {
			done <- "CLOSED"
		}
	}()

	select {
	case <-done:
		t.Fatal("Take returned before Put")
	case <-time.After(20 * time.Millisecond):
	}

	q.Put("hello")
	select {
	case v := <-done:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("Take never unblocked")
	}
}

func TestQueueTakeRespectsContextCancellation(t *testing.T) {
	q := newQueue[int]()
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, ok := q.Take(ctx)
	assert.False(t, ok)
}

func TestQueueTryTakeNonBlocking(t *testing.T) {
	q := newQueue[int]()
	defer q.Close()

	_, ok := q.TryTake()
	assert.False(t, ok)

	q.Put(7)
	assert.Eventually(t, func() bool {
		v, ok := q.TryTake()
		return ok && v == 7
	}, time.Second, time.Millisecond)
}

func TestQueueCloseUnblocksWaitingTake(t *testing.T) {
	q := newQueue[int]()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Take(context.Background())
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Take never unblocked on Close")
	}
}

func TestQueueLenTracksBuffered(t *testing.T) {
	q := newQueue[int]()
	defer q.Close()

	assert.Equal(t, 0, q.Len())
	q.Put(1)
	q.Put(2)
	assert.Eventually(t, func() bool { return q.Len() == 2 }, time.Second, time.Millisecond)
	q.Take(context.Background())
	assert.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, time.Millisecond)
}
