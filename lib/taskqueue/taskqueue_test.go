package taskqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fiffu/uptimesync/lib/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestQueue(t *testing.T) (*Queue, *metrics.Metrics) {
	m := metrics.NewForTest()
	q := New(zap.NewNop(), m, 2, 8)
	q.Start()
	t.Cleanup(q.Stop)
	return q, m
}

func TestEnqueueRunsHandler(t *testing.T) {
	q, _ := newTestQueue(t)

	var got atomic.Uint64
	q.Register("noop", func(ctx context.Context, id uint) error {
		got.Store(uint64(id))
		return nil
	}, RetryPolicy{})

	require.NoError(t, q.Enqueue(context.Background(), "noop", 42))
	require.Eventually(t, func() bool { return got.Load() == 42 }, time.Second, time.Millisecond)
}

func TestRetriesUntilSuccess(t *testing.T) {
	q, m := newTestQueue(t)

	var calls atomic.Int32
	q.Register("flaky", func(ctx context.Context, id uint) error {
		if calls.Add(1) < 3 {
			return errors.New("region unavailable")
		}
		return nil
	}, RetryPolicy{Times: 5, Delay: time.Millisecond})

	require.NoError(t, q.Enqueue(context.Background(), "flaky", 1))
	require.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TaskRetries.WithLabelValues("flaky")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TaskFailures.WithLabelValues("flaky")))
}

func TestRetriesExhausted(t *testing.T) {
	q, m := newTestQueue(t)

	var calls atomic.Int32
	q.Register("broken", func(ctx context.Context, id uint) error {
		calls.Add(1)
		panic("boom")
	}, RetryPolicy{Times: 2, Delay: time.Millisecond})

	require.NoError(t, q.Enqueue(context.Background(), "broken", 1))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.TaskFailures.WithLabelValues("broken")) == 1
	}, time.Second, time.Millisecond)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TaskRetries.WithLabelValues("broken")))
}

func TestEnqueueErrors(t *testing.T) {
	m := metrics.NewForTest()
	q := New(zap.NewNop(), m, 1, 1)

	err := q.Enqueue(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, ErrUnknownTask)

	q.Register("noop", func(ctx context.Context, id uint) error { return nil }, RetryPolicy{})
	q.Start()
	q.Stop()

	err = q.Enqueue(context.Background(), "noop", 1)
	assert.ErrorIs(t, err, ErrStopped)
}
