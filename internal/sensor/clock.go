package sensor

import (
	"sync"
	"time"

	"codeberg.org/mutker/simtemp/internal/errors"
)

// Clock drives the producer. Reset must not block: the core calls it while
// holding its lock, and the tick function takes that same lock.
type Clock interface {
	Start(interval time.Duration, tick func()) error
	Reset(interval time.Duration)
	Stop()
}

// TickerClock runs tick on a dedicated goroutine every interval.
type TickerClock struct {
	mu       sync.Mutex
	interval time.Duration
	started  bool
	reset    chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewTickerClock() *TickerClock {
	return &TickerClock{
		reset: make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (c *TickerClock) Start(interval time.Duration, tick func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return errors.New().WithMessage(errors.ErrAlreadyRunning, "clock already started")
	}
	if interval <= 0 {
		return errors.New().WithData(errors.ErrInvalidInterval, interval.String())
	}

	c.interval = interval
	c.started = true
	go c.run(tick)

	return nil
}

// Reset changes the interval; the next tick fires one full new interval
// from now.
func (c *TickerClock) Reset(interval time.Duration) {
	if interval <= 0 {
		return
	}

	c.mu.Lock()
	c.interval = interval
	c.mu.Unlock()

	select {
	case c.reset <- struct{}{}:
	default:
	}
}

// Stop halts the clock and waits for an in-flight tick to return.
func (c *TickerClock) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })

	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	if started {
		<-c.done
	}
}

func (c *TickerClock) current() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.interval
}

func (c *TickerClock) run(tick func()) {
	defer close(c.done)

	timer := time.NewTimer(c.current())
	defer timer.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-c.reset:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(c.current())
		case <-timer.C:
			// Re-arm before ticking so a failing tick cannot stop sampling.
			timer.Reset(c.current())

			select {
			case <-c.stop:
				return
			default:
			}

			tick()
		}
	}
}

// ManualClock never fires on its own; Fire runs one tick synchronously.
// It lets callers drive a Core deterministically.
type ManualClock struct {
	mu       sync.Mutex
	tick     func()
	interval time.Duration
	resets   int
	stopped  bool
}

func NewManualClock() *ManualClock {
	return &ManualClock{}
}

func (c *ManualClock) Start(interval time.Duration, tick func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tick != nil {
		return errors.New().WithMessage(errors.ErrAlreadyRunning, "clock already started")
	}
	c.tick = tick
	c.interval = interval

	return nil
}

func (c *ManualClock) Reset(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.interval = interval
	c.resets++
}

func (c *ManualClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
}

// Fire runs n ticks and reports whether the clock was armed.
func (c *ManualClock) Fire(n int) bool {
	c.mu.Lock()
	tick, stopped := c.tick, c.stopped
	c.mu.Unlock()

	if tick == nil || stopped {
		return false
	}
	for i := 0; i < n; i++ {
		tick()
	}

	return true
}

// Interval returns the interval most recently armed.
func (c *ManualClock) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.interval
}

// Resets returns how many times the clock was re-armed.
func (c *ManualClock) Resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.resets
}

// Stopped reports whether Stop was called.
func (c *ManualClock) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stopped
}
