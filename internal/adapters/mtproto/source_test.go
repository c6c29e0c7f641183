package mtproto

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inWorker выполняет f в отдельной горутине, как client.Run в gotd.
func inWorker(ctx context.Context, f func(context.Context) error) error {
	errc := make(chan error, 1)
	go func() { errc <- f(ctx) }()
	return <-errc
}

func emitAll(batches [][]int, finished *atomic.Bool) func(ctx context.Context, emit func([]int) error) error {
	return func(ctx context.Context, emit func([]int) error) error {
		defer finished.Store(true)
		return inWorker(ctx, func(ctx context.Context) error {
			for _, b := range batches {
				if err := emit(b); err != nil {
					return err
				}
			}
			return nil
		})
	}
}

func TestHandOffDeliversBatchesInOrder(t *testing.T) {
	var finished atomic.Bool
	var got [][]int
	handOff(context.Background(), emitAll([][]int{{1}, {2, 3}, {4}}, &finished), func(b []int, err error) bool {
		require.NoError(t, err)
		got = append(got, b)
		return true
	})
	assert.Equal(t, [][]int{{1}, {2, 3}, {4}}, got)
	assert.True(t, finished.Load())
}

func TestHandOffPanicStaysOnConsumerGoroutine(t *testing.T) {
	var finished atomic.Bool
	recovered := func() (rec any) {
		defer func() { rec = recover() }()
		handOff(context.Background(), emitAll([][]int{{1}, {2}, {3}}, &finished), func([]int, error) bool {
			panic("store bug")
		})
		return nil
	}()
	assert.Equal(t, "store bug", recovered)
	assert.True(t, finished.Load(), "производитель должен завершиться до выхода из handOff")
}

func TestHandOffStopsProducerWhenConsumerStops(t *testing.T) {
	var finished atomic.Bool
	calls := 0
	handOff(context.Background(), emitAll([][]int{{1}, {2}, {3}}, &finished), func([]int, error) bool {
		calls++
		return false
	})
	assert.Equal(t, 1, calls)
	assert.True(t, finished.Load())
}

func TestHandOffReportsProducerError(t *testing.T) {
	boom := errors.New("flood wait")
	var (
		batches int
		lastErr error
	)
	handOff(context.Background(), func(ctx context.Context, emit func([]int) error) error {
		if err := emit([]int{1}); err != nil {
			return err
		}
		return boom
	}, func(b []int, err error) bool {
		if err != nil {
			lastErr = err
			return false
		}
		batches++
		return true
	})
	assert.Equal(t, 1, batches)
	assert.ErrorIs(t, lastErr, boom)
}

func TestHandOffReportsCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var lastErr error
	handOff(ctx, func(ctx context.Context, emit func([]int) error) error {
		if err := emit([]int{1}); err != nil {
			return err
		}
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}, func(b []int, err error) bool {
		if err != nil {
			lastErr = err
		}
		return true
	})
	assert.ErrorIs(t, lastErr, context.Canceled)
}
