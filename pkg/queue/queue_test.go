package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPushAndWaitAndPopFIFOOrder(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)
	q.Push(3)

	v, ok := q.WaitAndPop()
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = q.WaitAndPop()
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestWaitAndPopBlocksUntilPush(t *testing.T) {
	q := New[string]()
	done := make(chan string, 1)
	go func() {
		v, ok := q.WaitAndPop()
		if ok {
			done <- v
		} else {
			done <- "<finished>"
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push("hello")

	select {
	case v := <-done:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("WaitAndPop never returned")
	}
}

func TestMarkFinishedWakesAllConsumers(t *testing.T) {
	q := New[int]()
	const consumers = 5
	var wg sync.WaitGroup
	results := make([]bool, consumers)
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, ok := q.WaitAndPop()
			results[idx] = ok
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	q.MarkFinished()
	wg.Wait()

	for _, ok := range results {
		assert.False(t, ok)
	}
}

func TestMarkFinishedDrainsRemainingItemsFirst(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.MarkFinished()

	v, ok := q.WaitAndPop()
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = q.WaitAndPop()
	assert.False(t, ok)
}
