package sensor

// thresholdMonitor turns the level comparison temp <= threshold into a
// one-shot event per downward crossing. There is no hysteresis band.
type thresholdMonitor struct {
	threshold int32
	below     bool
	pending   bool
}

// evaluate reports whether temp completes a crossing to at-or-below the
// threshold. A crossing latches pending until consume is called.
func (m *thresholdMonitor) evaluate(temp int32) bool {
	if temp > m.threshold {
		m.below = false
		return false
	}

	if m.below {
		return false
	}

	m.below = true
	m.pending = true

	return true
}

// rearm installs a threshold and forgets the previous level, so the next
// sample at or below it counts as a crossing. A pending event survives.
func (m *thresholdMonitor) rearm(threshold int32) {
	m.threshold = threshold
	m.below = false
}

// consume returns and clears the pending event.
func (m *thresholdMonitor) consume() bool {
	p := m.pending
	m.pending = false

	return p
}
