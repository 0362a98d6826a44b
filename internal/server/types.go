package server

import (
	"time"

	"codeberg.org/mutker/simtemp/internal/sensor"
)

// Public JSON types. They are decoupled from the sensor types so the wire
// shape stays stable.

// APIError is the body of every non-2xx JSON response.
type APIError struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Timestamp string `json:"timestamp"`
}

type HealthView struct {
	Status    string `json:"status"`
	State     string `json:"state"`
	Timestamp string `json:"timestamp"`
}

// ConfigView is both the body of GET /v1/config and, with every field set,
// the body of PUT /v1/config. Mode is ignored on PUT.
type ConfigView struct {
	SamplingMs      int    `json:"sampling_ms"`
	ThresholdMilliC int32  `json:"threshold_mC"`
	Mode            string `json:"mode,omitempty"`
}

// ConfigRequest requires both fields so the update is always applied as a
// pair.
type ConfigRequest struct {
	SamplingMs      *int   `json:"sampling_ms"`
	ThresholdMilliC *int32 `json:"threshold_mC"`
}

type SampleView struct {
	TimestampNs      uint64 `json:"timestamp_ns"`
	TempMilliC       int32  `json:"temp_mC"`
	NewSample        bool   `json:"new_sample"`
	ThresholdCrossed bool   `json:"threshold_crossed"`
}

type StatsView struct {
	sensor.Stats
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
	State    string `json:"state"`
}

type AttrsView struct {
	Names []string `json:"names"`
}

func FromSample(s sensor.Sample) SampleView {
	return SampleView{
		TimestampNs:      s.Timestamp,
		TempMilliC:       s.TempMilliC,
		NewSample:        s.Flags.Has(sensor.FlagNewSample),
		ThresholdCrossed: s.Crossed(),
	}
}

func FromConfig(c sensor.Config) ConfigView {
	return ConfigView{
		SamplingMs:      c.SamplingMs,
		ThresholdMilliC: c.ThresholdMilliC,
		Mode:            c.Mode.String(),
	}
}

// TimeNow is swapped out in tests.
var TimeNow = time.Now

func timestamp() string {
	return TimeNow().UTC().Format(time.RFC3339)
}
