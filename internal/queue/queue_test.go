package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[int]()

	for i := 1; i <= 3; i++ {
		require.True(t, q.Put(i))
	}
	assert.Equal(t, 3, q.Len())

	for i := 1; i <= 3; i++ {
		got, ok := q.TryGet()
		require.True(t, ok)
		assert.Equal(t, i, got)
	}

	_, ok := q.TryGet()
	assert.False(t, ok, "queue should be empty")
}

func TestQueue_GetBlocksUntilPut(t *testing.T) {
	q := New[string]()
	done := make(chan string, 1)

	go func() {
		v, err := q.Get(context.Background())
		if err == nil {
			done <- v
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Put("hello")

	select {
	case v := <-done:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("Get did not return after Put")
	}
}

func TestQueue_GetObservesContext(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_CloseDrainsThenReportsClosed(t *testing.T) {
	q := New[int]()
	q.Put(1)
	q.Close()

	assert.False(t, q.Put(2), "put after close should fail")

	v, err := q.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = q.Get(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	q.Close() // idempotent
}

func TestQueue_ConcurrentProducersPreserveCount(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup

	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Put(p*1000 + i)
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, 800, q.Len())

	// Per-producer order survives interleaving.
	last := map[int]int{}
	for q.Len() > 0 {
		v, _ := q.TryGet()
		p := v / 1000
		if prev, ok := last[p]; ok {
			assert.Greater(t, v, prev)
		}
		last[p] = v
	}
}
