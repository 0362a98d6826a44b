package sensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThresholdEdgeTriggered(t *testing.T) {
	m := thresholdMonitor{threshold: 27000}

	temps := []int32{28000, 26000, 26500, 29000, 26999, 27000}
	want := []bool{false, true, false, false, true, false}

	for i, temp := range temps {
		assert.Equal(t, want[i], m.evaluate(temp), "temp=%d", temp)
	}
}

func TestThresholdAtThresholdTriggers(t *testing.T) {
	m := thresholdMonitor{threshold: 27000}

	assert.True(t, m.evaluate(27000))
	assert.True(t, m.consume())
	assert.False(t, m.consume())
}

func TestThresholdPendingLatchesUntilConsumed(t *testing.T) {
	m := thresholdMonitor{threshold: 27000}

	m.evaluate(26000)
	m.evaluate(28000)
	m.evaluate(28500)

	assert.True(t, m.pending)
	assert.True(t, m.consume())
	assert.False(t, m.pending)
}

func TestThresholdRearmForgetsLevel(t *testing.T) {
	m := thresholdMonitor{threshold: 27000}
	assert.True(t, m.evaluate(26000))
	assert.True(t, m.consume())

	m.rearm(30000)
	assert.Equal(t, int32(30000), m.threshold)
	assert.True(t, m.evaluate(25000))
	assert.False(t, m.evaluate(25500))

	// Re-writing the same value re-arms as well.
	m.rearm(30000)
	assert.True(t, m.evaluate(25000))
}

func TestThresholdRearmKeepsPending(t *testing.T) {
	m := thresholdMonitor{threshold: 27000}
	m.evaluate(26000)

	m.rearm(28000)
	assert.True(t, m.consume())
}
