package sensor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickerClockFires(t *testing.T) {
	var ticks atomic.Int32
	c := NewTickerClock()
	require.NoError(t, c.Start(5*time.Millisecond, func() { ticks.Add(1) }))
	defer c.Stop()

	assert.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)
}

func TestTickerClockStartTwice(t *testing.T) {
	c := NewTickerClock()
	require.NoError(t, c.Start(time.Hour, func() {}))
	defer c.Stop()

	assert.Error(t, c.Start(time.Hour, func() {}))
}

func TestTickerClockResetAppliesToNextTick(t *testing.T) {
	var ticks atomic.Int32
	c := NewTickerClock()
	require.NoError(t, c.Start(time.Hour, func() { ticks.Add(1) }))
	defer c.Stop()

	c.Reset(5 * time.Millisecond)

	assert.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, time.Millisecond)
}

func TestTickerClockKeepsTickingAfterPanickingTick(t *testing.T) {
	var ticks atomic.Int32
	c, err := New(DefaultConfig(),
		WithClock(NewTickerClock()),
		WithGenerator(GeneratorFunc(func(Mode, uint64) (int32, error) {
			if ticks.Add(1) == 1 {
				panic("first tick fails")
			}
			return 30000, nil
		})),
	)
	require.NoError(t, err)
	require.NoError(t, c.SetInterval(2))
	require.NoError(t, c.Start())
	defer c.Shutdown()

	assert.Eventually(t, func() bool { return c.Stats().SamplesGenerated >= 2 }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), c.Stats().TickFaults)
}

func TestTickerClockStopWaitsForTick(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	c := NewTickerClock()
	require.NoError(t, c.Start(time.Millisecond, func() {
		select {
		case started <- struct{}{}:
			<-release
			finished.Store(true)
		default:
		}
	}))

	<-started
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	c.Stop()

	assert.True(t, finished.Load())
}

func TestTickerClockStopBeforeStart(t *testing.T) {
	c := NewTickerClock()
	c.Stop()
	c.Stop()
}
