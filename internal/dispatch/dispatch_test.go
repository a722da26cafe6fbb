package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type failingDispatcher struct {
	mu    sync.Mutex
	calls int
}

func (f *failingDispatcher) Schedule(context.Context, Content, time.Time) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "", errors.New("push service unavailable")
}

func (f *failingDispatcher) Cancel(context.Context, Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("push service unavailable")
}

func TestTimerDispatcherFires(t *testing.T) {
	d := NewTimerDispatcher(zap.NewNop())
	defer d.Stop()

	delivered := make(chan Handle, 1)
	var got Content
	d.OnDeliver(func(h Handle, c Content) {
		got = c
		delivered <- h
	})

	content := Content{
		Title: "Aspirin",
		Body:  "Take 1 tablet",
		Data:  map[string]string{DataScheduleID: "med1-0"},
	}
	h, err := d.Schedule(context.Background(), content, time.Now().Add(20*time.Millisecond))
	require.NoError(t, err)
	assert.NotEmpty(t, h)

	select {
	case fired := <-delivered:
		assert.Equal(t, h, fired)
		assert.Equal(t, "med1-0", got.Data[DataScheduleID])
	case <-time.After(2 * time.Second):
		t.Fatal("reminder did not fire")
	}
	assert.Equal(t, 0, d.Pending())
}

func TestTimerDispatcherCancel(t *testing.T) {
	d := NewTimerDispatcher(zap.NewNop())
	defer d.Stop()

	fired := make(chan struct{}, 1)
	d.OnDeliver(func(Handle, Content) { fired <- struct{}{} })

	h, err := d.Schedule(context.Background(), Content{Title: "x"}, time.Now().Add(50*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 1, d.Pending())

	require.NoError(t, d.Cancel(context.Background(), h))
	assert.Equal(t, 0, d.Pending())

	select {
	case <-fired:
		t.Fatal("cancelled reminder fired")
	case <-time.After(150 * time.Millisecond):
	}

	assert.Error(t, d.Cancel(context.Background(), h), "second cancel reports unknown handle")
}

func TestTimerDispatcherRejectsPast(t *testing.T) {
	d := NewTimerDispatcher(zap.NewNop())

	_, err := d.Schedule(context.Background(), Content{}, time.Now().Add(-time.Minute))
	assert.Error(t, err)
	assert.Equal(t, 0, d.Pending())
}

func TestTimerDispatcherUniqueHandles(t *testing.T) {
	d := NewTimerDispatcher(zap.NewNop())
	defer d.Stop()

	seen := make(map[Handle]bool)
	for i := 0; i < 20; i++ {
		h, err := d.Schedule(context.Background(), Content{}, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, seen[h])
		seen[h] = true
	}
	assert.Equal(t, 20, d.Pending())

	d.Stop()
	assert.Equal(t, 0, d.Pending())
}

func TestTimerDispatcherSurvivesCallbackPanic(t *testing.T) {
	d := NewTimerDispatcher(zap.NewNop())
	defer d.Stop()

	done := make(chan struct{})
	var calls atomic.Int32
	d.OnDeliver(func(Handle, Content) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		close(done)
	})

	_, err := d.Schedule(context.Background(), Content{}, time.Now().Add(10*time.Millisecond))
	require.NoError(t, err)
	_, err = d.Schedule(context.Background(), Content{}, time.Now().Add(60*time.Millisecond))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second reminder did not fire after panic")
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	inner := &failingDispatcher{}
	b := NewBreaker(inner, BreakerConfig{ConsecutiveFailures: 3, OpenTimeout: time.Minute}, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := b.Schedule(context.Background(), Content{}, time.Now().Add(time.Hour))
		assert.Error(t, err)
	}
	assert.Equal(t, "open", b.State())

	_, err := b.Schedule(context.Background(), Content{}, time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)

	err = b.Cancel(context.Background(), "h1")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)

	assert.Equal(t, 3, inner.calls, "open breaker must not reach the dispatcher")
}

func TestBreakerPassesThrough(t *testing.T) {
	inner := NewTimerDispatcher(zap.NewNop())
	defer inner.Stop()
	b := NewBreaker(inner, BreakerConfig{}, zap.NewNop())

	h, err := b.Schedule(context.Background(), Content{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, inner.Pending())

	require.NoError(t, b.Cancel(context.Background(), h))
	assert.Equal(t, 0, inner.Pending())
	assert.Equal(t, "closed", b.State())
}

func TestRateLimitedHonoursContext(t *testing.T) {
	inner := NewTimerDispatcher(zap.NewNop())
	defer inner.Stop()

	r := NewRateLimited(inner, 1, 1)

	_, err := r.Schedule(context.Background(), Content{}, time.Now().Add(time.Hour))
	require.NoError(t, err, "burst allows the first call")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Schedule(ctx, Content{}, time.Now().Add(time.Hour))
	assert.Error(t, err, "second call exceeds the limit within the deadline")
	assert.Equal(t, 1, inner.Pending())
}

func TestRateLimitedUnlimited(t *testing.T) {
	inner := NewTimerDispatcher(zap.NewNop())
	defer inner.Stop()

	r := NewRateLimited(inner, 0, 0)
	assert.Equal(t, rate.Inf, r.limiter.Limit())

	for i := 0; i < 10; i++ {
		h, err := r.Schedule(context.Background(), Content{}, time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.NoError(t, r.Cancel(context.Background(), h))
	}
	assert.Equal(t, 0, inner.Pending())
}
