// Package attr presents sensor state as named text attributes with sysfs
// semantics: Show returns a newline-terminated value, Store accepts a value
// with surrounding whitespace and applies it immediately.
package attr

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"codeberg.org/mutker/simtemp/internal/errors"
	"codeberg.org/mutker/simtemp/internal/sensor"
)

const (
	SamplingMs = "sampling_ms"
	Threshold  = "threshold_mC"
	Mode       = "mode"
	Stats      = "stats"
)

// Target is the sensor surface the attributes read and write. *sensor.Core
// satisfies it.
type Target interface {
	Config() sensor.Config
	Stats() sensor.Stats
	SetInterval(samplingMs int) error
	SetThreshold(thresholdMilliC int32) error
	SetMode(mode sensor.Mode) error
}

type attribute struct {
	show  func(Target) string
	store func(Target, string) error
}

// Set is the attribute table of one sensor.
type Set struct {
	target Target
	attrs  map[string]attribute
}

func New(target Target) *Set {
	return &Set{
		target: target,
		attrs: map[string]attribute{
			SamplingMs: {show: showSamplingMs, store: storeSamplingMs},
			Threshold:  {show: showThreshold, store: storeThreshold},
			Mode:       {show: showMode, store: storeMode},
			Stats:      {show: showStats},
		},
	}
}

// Names returns the attribute names in sorted order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.attrs))
	for name := range s.attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Writable reports whether name accepts Store.
func (s *Set) Writable(name string) bool {
	a, ok := s.attrs[name]
	return ok && a.store != nil
}

func (s *Set) Show(name string) (string, error) {
	a, ok := s.attrs[name]
	if !ok {
		return "", errors.New().WithData(errors.ErrNotFound, name)
	}

	return a.show(s.target), nil
}

func (s *Set) Store(name, value string) error {
	errFactory := errors.New()

	a, ok := s.attrs[name]
	if !ok {
		return errFactory.WithData(errors.ErrNotFound, name)
	}
	if a.store == nil {
		return errFactory.WithData(errors.ErrPermission, name)
	}

	return a.store(s.target, strings.TrimSpace(value))
}

func showSamplingMs(t Target) string {
	return strconv.Itoa(t.Config().SamplingMs) + "\n"
}

func storeSamplingMs(t Target, v string) error {
	ms, err := strconv.Atoi(v)
	if err != nil {
		return errors.New().Wrap(errors.ErrInvalidArgument, err)
	}

	return t.SetInterval(ms)
}

func showThreshold(t Target) string {
	return strconv.FormatInt(int64(t.Config().ThresholdMilliC), 10) + "\n"
}

func storeThreshold(t Target, v string) error {
	mc, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return errors.New().Wrap(errors.ErrInvalidArgument, err)
	}

	return t.SetThreshold(int32(mc))
}

func showMode(t Target) string {
	return t.Config().Mode.String() + "\n"
}

func storeMode(t Target, v string) error {
	mode, err := sensor.ParseMode(v)
	if err != nil {
		return errors.New().Wrap(errors.ErrInvalidArgument, err)
	}

	return t.SetMode(mode)
}

func showStats(t Target) string {
	st := t.Stats()

	var b strings.Builder
	fmt.Fprintf(&b, "samples_generated %d\n", st.SamplesGenerated)
	fmt.Fprintf(&b, "alerts_triggered %d\n", st.AlertsTriggered)
	fmt.Fprintf(&b, "read_errors %d\n", st.ReadErrors)
	fmt.Fprintf(&b, "samples_dropped %d\n", st.SamplesDropped)
	fmt.Fprintf(&b, "tick_faults %d\n", st.TickFaults)

	return b.String()
}
