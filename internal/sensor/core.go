package sensor

import (
	"context"
	"io"
	"sync"
	"time"

	"codeberg.org/mutker/simtemp/internal/errors"
	"codeberg.org/mutker/simtemp/internal/logger"
)

// State is the core lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateRunning
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sentinel errors; match with errors.Is.
var (
	ErrWouldBlock      = errors.New().New(errors.ErrWouldBlock)
	ErrInterrupted     = errors.New().New(errors.ErrInterrupted)
	ErrClosed          = errors.New().New(errors.ErrClosed)
	ErrInvalidArgument = errors.New().New(errors.ErrInvalidArgument)
	ErrCopyFault       = errors.New().New(errors.ErrCopyFault)
)

// Readiness is a non-blocking poll result.
type Readiness struct {
	DataReady  bool `json:"data_ready"`
	AlertReady bool `json:"alert_ready"`
}

// ReadyMask selects which conditions WaitReady waits for.
type ReadyMask uint8

const (
	ReadyData ReadyMask = 1 << iota
	ReadyAlert

	ReadyAny = ReadyData | ReadyAlert
)

// AlertEvent describes the most recent threshold crossing.
type AlertEvent struct {
	Seq             uint64
	Sample          Sample
	ThresholdMilliC int32
}

// Core is the simulated sensor. A single mutex guards the ring, the
// threshold monitor, the configuration and the stats. Waiters park on
// broadcast channels that are swapped under the lock and closed after it
// is released.
type Core struct {
	mu sync.Mutex

	state      State
	samplingMs int
	mode       Mode
	monitor    thresholdMonitor
	ring       *ring
	stats      Stats
	seq        uint64
	lastAlert  AlertEvent
	dataReady  chan struct{}
	alertReady chan struct{}
	done       chan struct{}

	clock Clock
	gen   Generator
	now   func() uint64
	log   logger.Logger
}

// Option configures a Core at construction.
type Option func(*Core)

// WithClock replaces the default TickerClock.
func WithClock(clock Clock) Option {
	return func(c *Core) {
		c.clock = clock
	}
}

// WithGenerator replaces the default RandomGenerator.
func WithGenerator(gen Generator) Option {
	return func(c *Core) {
		c.gen = gen
	}
}

// WithCapacity sets the ring depth.
func WithCapacity(n int) Option {
	return func(c *Core) {
		c.ring = newRing(n)
	}
}

// WithLogger sets the logger used for producer faults.
func WithLogger(log logger.Logger) Option {
	return func(c *Core) {
		c.log = log
	}
}

// WithTimeSource overrides the sample timestamp source.
func WithTimeSource(now func() uint64) Option {
	return func(c *Core) {
		c.now = now
	}
}

// New constructs a core in the Uninitialized state. Call Start to begin
// sampling.
func New(cfg Config, opts ...Option) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Core{
		state:      StateUninitialized,
		samplingMs: cfg.SamplingMs,
		mode:       cfg.Mode,
		monitor:    thresholdMonitor{threshold: cfg.ThresholdMilliC},
		dataReady:  make(chan struct{}),
		alertReady: make(chan struct{}),
		done:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.ring == nil {
		c.ring = newRing(DefaultCapacity)
	}
	if c.clock == nil {
		c.clock = NewTickerClock()
	}
	if c.gen == nil {
		c.gen = NewRandomGenerator()
	}
	if c.now == nil {
		c.now = monotonicNanos()
	}
	if c.log == nil {
		c.log = logger.Nop()
	}

	return c, nil
}

// monotonicNanos returns a clock that never goes backwards but still reads
// as nanoseconds since the Unix epoch.
func monotonicNanos() func() uint64 {
	base := time.Now()
	epoch := uint64(base.UnixNano())

	return func() uint64 {
		return epoch + uint64(time.Since(base))
	}
}

// Start arms the clock and moves the core to Running.
func (c *Core) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateRunning:
		return nil
	case StateShuttingDown, StateClosed:
		return ErrClosed
	}

	if err := c.clock.Start(time.Duration(c.samplingMs)*time.Millisecond, c.runTick); err != nil {
		return errors.New().Wrap(errors.ErrInitFailed, err)
	}
	c.state = StateRunning

	c.log.Debug().
		Int("sampling_ms", c.samplingMs).
		Int32("threshold_mc", c.monitor.threshold).
		Str("mode", c.mode.String()).
		Int("capacity", c.ring.capacity()).
		Msg("Sensor started")

	return nil
}

// State returns the current lifecycle state.
func (c *Core) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Core) runTick() {
	defer func() {
		if r := recover(); r != nil {
			c.recordFault()
			c.log.Error().Interface("panic", r).Msg("Recovered from producer fault")
		}
	}()

	c.Tick()
}

// Tick produces one sample. It is a no-op unless the core is Running.
func (c *Core) Tick() {
	seq, mode, ok := c.beginTick()
	if !ok {
		return
	}

	temp, err := c.gen.Next(mode, seq)
	if err != nil {
		c.recordFault()
		c.log.Warn().Err(err).Uint64("seq", seq).Str("mode", mode.String()).Msg("Generator fault, tick skipped")
		return
	}

	dataCh, alertCh, ok := c.commitTick(temp)
	if !ok {
		return
	}

	close(dataCh)
	if alertCh != nil {
		close(alertCh)
	}
}

func (c *Core) beginTick() (uint64, Mode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		return 0, 0, false
	}
	c.seq++

	return c.seq, c.mode, true
}

// commitTick stores the sample and swaps out the wait channels that the
// caller must close once the lock is released.
func (c *Core) commitTick(temp int32) (dataCh, alertCh chan struct{}, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		return nil, nil, false
	}

	s := Sample{
		Timestamp:  c.now(),
		TempMilliC: temp,
		Flags:      FlagNewSample,
	}

	crossed := c.monitor.evaluate(temp)
	if crossed {
		s.Flags |= FlagThresholdCrossed
		c.stats.AlertsTriggered++
		c.lastAlert = AlertEvent{
			Seq:             c.stats.AlertsTriggered,
			Sample:          s,
			ThresholdMilliC: c.monitor.threshold,
		}
	}

	if c.ring.push(s) {
		c.stats.SamplesDropped++
	}
	c.stats.SamplesGenerated++

	dataCh = c.dataReady
	c.dataReady = make(chan struct{})
	if crossed {
		alertCh = c.alertReady
		c.alertReady = make(chan struct{})
	}

	return dataCh, alertCh, true
}

func (c *Core) recordFault() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.TickFaults++
}

// tryPop pops a sample, or returns the channel to wait on when empty.
func (c *Core) tryPop() (Sample, <-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state >= StateShuttingDown {
		return Sample{}, nil, ErrClosed
	}
	if s, ok := c.ring.pop(); ok {
		return s, nil, nil
	}

	return Sample{}, c.dataReady, nil
}

// Read returns the oldest buffered sample. When the buffer is empty it
// fails with ErrWouldBlock, or, if blocking, waits until a sample arrives,
// ctx is done (ErrInterrupted) or the core shuts down (ErrClosed).
func (c *Core) Read(ctx context.Context, blocking bool) (Sample, error) {
	for {
		s, wait, err := c.tryPop()
		if err != nil {
			return Sample{}, err
		}
		if wait == nil {
			return s, nil
		}
		if !blocking {
			return Sample{}, ErrWouldBlock
		}

		select {
		case <-wait:
		case <-c.done:
			return Sample{}, ErrClosed
		case <-ctx.Done():
			return Sample{}, errors.New().Wrap(errors.ErrInterrupted, ctx.Err())
		}
	}
}

// ReadTo reads a sample and writes its wire record to w. The sample is
// consumed even if the write fails; the failure is counted as a read error
// and reported as ErrCopyFault.
func (c *Core) ReadTo(ctx context.Context, blocking bool, w io.Writer) (Sample, error) {
	s, err := c.Read(ctx, blocking)
	if err != nil {
		return Sample{}, err
	}

	if _, err := w.Write(s.AppendBinary(make([]byte, 0, SampleSize))); err != nil {
		c.mu.Lock()
		c.stats.ReadErrors++
		c.mu.Unlock()

		c.log.Warn().Err(err).Uint64("timestamp", s.Timestamp).Msg("Sample lost to copy fault")

		return s, errors.New().Wrap(errors.ErrCopyFault, err)
	}

	return s, nil
}

// Poll reports readiness without blocking. Observing AlertReady consumes the
// pending alert, so only the first poller after a crossing sees it.
func (c *Core) Poll() (Readiness, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state >= StateShuttingDown {
		return Readiness{}, ErrClosed
	}

	return Readiness{
		DataReady:  c.ring.len() > 0,
		AlertReady: c.monitor.consume(),
	}, nil
}

func (c *Core) pollMask(mask ReadyMask) (Readiness, <-chan struct{}, <-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state >= StateShuttingDown {
		return Readiness{}, nil, nil, ErrClosed
	}

	var r Readiness
	var dataCh, alertCh <-chan struct{}
	if mask&ReadyData != 0 {
		r.DataReady = c.ring.len() > 0
		dataCh = c.dataReady
	}
	if mask&ReadyAlert != 0 {
		r.AlertReady = c.monitor.consume()
		alertCh = c.alertReady
	}

	return r, dataCh, alertCh, nil
}

// WaitReady blocks until one of the conditions in mask holds, then returns
// the readiness restricted to mask. Alert readiness is consumed as in Poll.
func (c *Core) WaitReady(ctx context.Context, mask ReadyMask) (Readiness, error) {
	if mask&ReadyAny == 0 {
		return Readiness{}, ErrInvalidArgument
	}

	for {
		r, dataCh, alertCh, err := c.pollMask(mask)
		if err != nil {
			return Readiness{}, err
		}
		if r.DataReady || r.AlertReady {
			return r, nil
		}

		// A nil channel never fires, so unselected conditions are ignored.
		select {
		case <-dataCh:
		case <-alertCh:
		case <-c.done:
			return Readiness{}, ErrClosed
		case <-ctx.Done():
			return Readiness{}, errors.New().Wrap(errors.ErrInterrupted, ctx.Err())
		}
	}
}

// WaitAlert blocks until an alert newer than afterSeq exists and returns the
// latest one. It does not consume the pending alert seen by Poll.
func (c *Core) WaitAlert(ctx context.Context, afterSeq uint64) (AlertEvent, error) {
	for {
		c.mu.Lock()
		if c.state >= StateShuttingDown {
			c.mu.Unlock()
			return AlertEvent{}, ErrClosed
		}
		ev, wait := c.lastAlert, c.alertReady
		c.mu.Unlock()

		if ev.Seq > afterSeq {
			return ev, nil
		}

		select {
		case <-wait:
		case <-c.done:
			return AlertEvent{}, ErrClosed
		case <-ctx.Done():
			return AlertEvent{}, errors.New().Wrap(errors.ErrInterrupted, ctx.Err())
		}
	}
}

// Configure atomically replaces the sampling interval and threshold and
// re-arms the clock so the new interval applies from the next tick. Like
// SetThreshold it re-arms the threshold monitor.
func (c *Core) Configure(samplingMs int, thresholdMilliC int32) error {
	if err := validateInterval(samplingMs); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state >= StateShuttingDown {
		return ErrClosed
	}

	c.monitor.rearm(thresholdMilliC)
	c.setIntervalLocked(samplingMs)

	return nil
}

// SetInterval changes only the sampling interval.
func (c *Core) SetInterval(samplingMs int) error {
	if err := validateInterval(samplingMs); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state >= StateShuttingDown {
		return ErrClosed
	}
	c.setIntervalLocked(samplingMs)

	return nil
}

func (c *Core) setIntervalLocked(samplingMs int) {
	changed := c.samplingMs != samplingMs
	c.samplingMs = samplingMs

	if changed && c.state == StateRunning {
		c.clock.Reset(time.Duration(samplingMs) * time.Millisecond)
	}
}

// SetThreshold changes only the alert threshold. The monitor is re-armed:
// the next sample at or below the new threshold raises an alert even if the
// previous one was already below.
func (c *Core) SetThreshold(thresholdMilliC int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state >= StateShuttingDown {
		return ErrClosed
	}
	c.monitor.rearm(thresholdMilliC)

	return nil
}

// SetMode changes the generator mode from the next tick on.
func (c *Core) SetMode(mode Mode) error {
	if !mode.Valid() {
		return errors.New().Wrap(errors.ErrInvalidArgument,
			errors.New().WithData(errors.ErrInvalidMode, int(mode)))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state >= StateShuttingDown {
		return ErrClosed
	}
	c.mode = mode

	return nil
}

// Config returns the current configuration as one consistent snapshot.
func (c *Core) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Config{
		SamplingMs:      c.samplingMs,
		ThresholdMilliC: c.monitor.threshold,
		Mode:            c.mode,
	}
}

// Stats returns a copy of the counters.
func (c *Core) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stats
}

// Depth returns the number of buffered samples and the ring capacity.
func (c *Core) Depth() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ring.len(), c.ring.capacity()
}

// Shutdown stops the clock, releases every waiter with ErrClosed and makes
// all further operations fail with ErrClosed. It is idempotent.
func (c *Core) Shutdown() {
	c.mu.Lock()
	if c.state >= StateShuttingDown {
		c.mu.Unlock()
		return
	}
	wasRunning := c.state == StateRunning
	c.state = StateShuttingDown
	close(c.done)
	c.mu.Unlock()

	// Outside the lock: an in-flight tick may be waiting for it.
	if wasRunning {
		c.clock.Stop()
	}

	c.mu.Lock()
	c.state = StateClosed
	stats := c.stats
	c.mu.Unlock()

	c.log.Debug().
		Uint64("samples_generated", stats.SamplesGenerated).
		Uint64("alerts_triggered", stats.AlertsTriggered).
		Msg("Sensor closed")
}
