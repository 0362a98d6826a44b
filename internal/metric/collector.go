// Package metric exports sensor counters and configuration to Prometheus.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"codeberg.org/mutker/simtemp/internal/sensor"
)

const namespace = "simtemp"

// Source is the read-only sensor surface the collector scrapes.
// *sensor.Core satisfies it.
type Source interface {
	Stats() sensor.Stats
	Config() sensor.Config
	Depth() (int, int)
}

// Collector reads a consistent snapshot from Source on every scrape, so no
// state is duplicated outside the core.
type Collector struct {
	src Source

	samplesGenerated *prometheus.Desc
	alertsTriggered  *prometheus.Desc
	readErrors       *prometheus.Desc
	samplesDropped   *prometheus.Desc
	tickFaults       *prometheus.Desc
	bufferDepth      *prometheus.Desc
	bufferCapacity   *prometheus.Desc
	samplingInterval *prometheus.Desc
	threshold        *prometheus.Desc
	mode             *prometheus.Desc
}

func NewCollector(src Source) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}

	return &Collector{
		src:              src,
		samplesGenerated: desc("samples_generated_total", "Samples produced by the sampling clock."),
		alertsTriggered:  desc("alerts_triggered_total", "Threshold crossings detected."),
		readErrors:       desc("read_errors_total", "Samples that could not be delivered to a reader."),
		samplesDropped:   desc("samples_dropped_total", "Samples overwritten before they were read."),
		tickFaults:       desc("tick_faults_total", "Ticks that failed to produce a sample."),
		bufferDepth:      desc("buffer_depth", "Samples currently buffered."),
		bufferCapacity:   desc("buffer_capacity", "Sample buffer capacity."),
		samplingInterval: desc("sampling_interval_ms", "Sampling interval in milliseconds."),
		threshold:        desc("threshold_millicelsius", "Alert threshold in millidegrees Celsius."),
		mode:             desc("mode", "Active simulation mode.", "mode"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.samplesGenerated
	ch <- c.alertsTriggered
	ch <- c.readErrors
	ch <- c.samplesDropped
	ch <- c.tickFaults
	ch <- c.bufferDepth
	ch <- c.bufferCapacity
	ch <- c.samplingInterval
	ch <- c.threshold
	ch <- c.mode
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Stats()
	cfg := c.src.Config()
	depth, capacity := c.src.Depth()

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(c.samplesGenerated, st.SamplesGenerated)
	counter(c.alertsTriggered, st.AlertsTriggered)
	counter(c.readErrors, st.ReadErrors)
	counter(c.samplesDropped, st.SamplesDropped)
	counter(c.tickFaults, st.TickFaults)

	gauge(c.bufferDepth, float64(depth))
	gauge(c.bufferCapacity, float64(capacity))
	gauge(c.samplingInterval, float64(cfg.SamplingMs))
	gauge(c.threshold, float64(cfg.ThresholdMilliC))
	for _, m := range []sensor.Mode{sensor.ModeNormal, sensor.ModeNoisy, sensor.ModeRamp} {
		v := 0.0
		if m == cfg.Mode {
			v = 1
		}
		gauge(c.mode, v, m.String())
	}
}

// NewRegistry returns a registry carrying the sensor collector plus the Go
// runtime and process collectors.
func NewRegistry(src Source) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
