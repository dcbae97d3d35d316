package commit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend returned 500")

func TestPerID_SingleCallsOnce(t *testing.T) {
	var calls int32
	fn := PerID(func(ctx context.Context, id string) error {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "B", id)
		return nil
	}, 0)

	res, err := fn(context.Background(), []string{"B"})
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, res.Succeeded)
	assert.EqualValues(t, 1, calls)
}

func TestPerID_BulkRunsConcurrently(t *testing.T) {
	var inFlight, peak int32
	release := make(chan struct{})
	started := make(chan struct{}, 3)

	fn := PerID(func(ctx context.Context, id string) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		started <- struct{}{}
		<-release
		atomic.AddInt32(&inFlight, -1)
		return nil
	}, 0)

	done := make(chan Result)
	go func() {
		res, _ := fn(context.Background(), []string{"A", "B", "C"})
		done <- res
	}()
	for i := 0; i < 3; i++ {
		<-started
	}
	close(release)

	res := <-done
	assert.ElementsMatch(t, []string{"A", "B", "C"}, res.Succeeded)
	assert.EqualValues(t, 3, atomic.LoadInt32(&peak))
}

func TestPerID_PartialFailureIsNotAnError(t *testing.T) {
	fn := PerID(func(ctx context.Context, id string) error {
		if id == "C" {
			return errBackend
		}
		return nil
	}, 2)

	res, err := fn(context.Background(), []string{"B", "C"})
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, res.Succeeded)
	assert.Equal(t, []string{"C"}, res.Failed)
	assert.ErrorIs(t, res.Errors["C"], errBackend)
}

func TestPerID_TotalFailureReturnsError(t *testing.T) {
	fn := PerID(func(ctx context.Context, id string) error { return errBackend }, 0)

	res, err := fn(context.Background(), []string{"A", "B"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, []string{"A", "B"}, res.Failed)
}

func TestAll(t *testing.T) {
	var got []string
	fn := All(func(ctx context.Context, ids []string) error {
		got = ids
		return nil
	})
	res, err := fn(context.Background(), []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, got)
	assert.Equal(t, []string{"A", "B"}, res.Succeeded)
}

func TestExecutor_ErrorMeansAllFailed(t *testing.T) {
	e := NewExecutor()
	out := e.Execute(context.Background(), []string{"A", "B"}, func(ctx context.Context, ids []string) (Result, error) {
		return Result{Succeeded: ids}, errBackend
	})

	assert.True(t, out.AllFailed())
	assert.Equal(t, []string{"A", "B"}, out.Failed)
	assert.ErrorIs(t, out.Err, errBackend)
}

func TestExecutor_NormalizesResult(t *testing.T) {
	e := NewExecutor()
	out := e.Execute(context.Background(), []string{"A", "B", "C", "D"}, func(ctx context.Context, ids []string) (Result, error) {
		return Result{
			Succeeded: []string{"A", "B", "Z"},
			Failed:    []string{"B", "C"},
		}, nil
	})

	assert.True(t, out.Partial())
	assert.Equal(t, []string{"A"}, out.Succeeded)
	assert.Equal(t, []string{"B", "C", "D"}, out.Failed, "conflicting and unreported ids fail")
	assert.ErrorIs(t, out.Err, ErrNotReported)
}

func TestExecutor_RecoversPanic(t *testing.T) {
	e := NewExecutor()
	out := e.Execute(context.Background(), []string{"A"}, func(ctx context.Context, ids []string) (Result, error) {
		panic("nil map")
	})

	assert.True(t, out.AllFailed())
	assert.ErrorIs(t, out.Err, ErrPanicked)
}

func TestExecutor_AppliesTimeout(t *testing.T) {
	e := NewExecutor(WithTimeout(20 * time.Millisecond))
	out := e.Execute(context.Background(), []string{"A"}, PerID(func(ctx context.Context, id string) error {
		<-ctx.Done()
		return ctx.Err()
	}, 0))

	assert.True(t, out.AllFailed())
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
}

func TestExecutor_ConcurrentExecutions(t *testing.T) {
	e := NewExecutor()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := e.Execute(context.Background(), []string{"A", "B"}, PerID(func(ctx context.Context, id string) error { return nil }, 1))
			assert.True(t, out.AllSucceeded())
		}()
	}
	wg.Wait()
}
