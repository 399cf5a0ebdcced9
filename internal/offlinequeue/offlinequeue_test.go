package offlinequeue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PushDrain(t *testing.T) {
	q := New[int](10)

	for i := 1; i <= 5; i++ {
		require.NoError(t, q.Push(i))
	}

	assert.Equal(t, 5, q.Len())
	assert.False(t, q.IsEmpty())

	items := q.Drain()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, items)
	assert.True(t, q.IsEmpty())
}

func TestQueue_PushFullReturnsErrFull(t *testing.T) {
	q := New[int](3)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Push(i))
	}

	err := q.Push(99)
	require.ErrorIs(t, err, ErrFull)
	assert.Equal(t, 3, q.Len())
}

func TestQueue_Clear(t *testing.T) {
	q := New[string](5)
	require.NoError(t, q.Push("a"))
	require.NoError(t, q.Push("b"))

	q.Clear()
	assert.True(t, q.IsEmpty())
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := New[int](1000)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = q.Push(n)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, q.Len())
}

func TestQueue_DrainEmptyReturnsNil(t *testing.T) {
	q := New[int](5)
	items := q.Drain()
	assert.Empty(t, items)
}
