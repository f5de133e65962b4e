package poller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actwaste/internal/sensor"
)

type countingSensor struct {
	refreshed *atomic.Int32
}

func (s countingSensor) Name() string                 { return "counter" }
func (s countingSensor) FriendlyName() string         { return "Counter" }
func (s countingSensor) Icon() string                 { return sensor.Icon }
func (s countingSensor) State() (sensor.Value, error) { return sensor.Unavailable(), nil }
func (s countingSensor) Refresh(context.Context)      { s.refreshed.Add(1) }

func sensors(n int) ([]sensor.Sensor, *atomic.Int32) {
	var count atomic.Int32
	out := make([]sensor.Sensor, n)
	for i := range out {
		out[i] = countingSensor{refreshed: &count}
	}
	return out, &count
}

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := New(nil, Options{Spec: "every now and then"})
	assert.Error(t, err)
}

func TestRunOnce(t *testing.T) {
	list, count := sensors(6)
	var after atomic.Int32
	p, err := New(list, Options{
		Spec:         "0 */6 * * *",
		AfterRefresh: func(context.Context) { after.Add(1) },
	})
	require.NoError(t, err)

	p.RunOnce(context.Background())
	assert.Equal(t, int32(6), count.Load())
	assert.Equal(t, int32(1), after.Load())
}

func TestRunOnceCanceled(t *testing.T) {
	list, count := sensors(3)
	var after atomic.Int32
	p, err := New(list, Options{
		Spec:         "@every 6h",
		AfterRefresh: func(context.Context) { after.Add(1) },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.RunOnce(ctx)
	assert.Zero(t, count.Load())
	assert.Zero(t, after.Load())
}

func TestScheduledPasses(t *testing.T) {
	list, count := sensors(2)
	p, err := New(list, Options{Spec: "@every 1s", Location: time.UTC})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool { return count.Load() >= 2 }, 5*time.Second, 50*time.Millisecond)
}

func TestNext(t *testing.T) {
	loc := time.UTC
	p, err := New(nil, Options{Spec: "0 */6 * * *", Location: loc})
	require.NoError(t, err)

	next := p.Next()
	require.False(t, next.IsZero())
	assert.True(t, next.After(time.Now()))
	assert.Zero(t, next.In(loc).Hour()%6)
	assert.Zero(t, next.Minute())
}
