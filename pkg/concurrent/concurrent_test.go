package concurrent

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lockstep-engine/lockstep/pkg/sequence"
)

func TestConcurrentRunsAll(t *testing.T) {
	var sum int64
	err := Concurrent(sequence.From([]int64{1, 2, 3, 4}), func(v int64) error {
		atomic.AddInt64(&sum, v)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(10), sum)
}

func TestConcurrentPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := Concurrent(sequence.From([]int{1, 2}), func(v int) error {
		if v == 2 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
}

func TestLimitedBoundsConcurrency(t *testing.T) {
	var inFlight, peak int32
	err := Limited(sequence.From(make([]int, 64)), 2, func(int) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		atomic.AddInt32(&inFlight, -1)
		return nil
	})
	require.NoError(t, err)
	require.LessOrEqual(t, peak, int32(2))
}
