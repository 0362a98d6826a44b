package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/simtemp/internal/journal"
	"codeberg.org/mutker/simtemp/internal/logger"
	"codeberg.org/mutker/simtemp/internal/sensor"
	"codeberg.org/mutker/simtemp/internal/server"
)

type fixture struct {
	core  *sensor.Core
	clock *sensor.ManualClock
	ts    *httptest.Server
	temps atomic.Int32
}

func newFixture(t *testing.T, opts server.Options) *fixture {
	t.Helper()

	f := &fixture{clock: sensor.NewManualClock()}
	f.temps.Store(30000)

	var ts atomic.Uint64
	gen := sensor.GeneratorFunc(func(sensor.Mode, uint64) (int32, error) {
		return f.temps.Load(), nil
	})
	core, err := sensor.New(sensor.DefaultConfig(),
		sensor.WithClock(f.clock),
		sensor.WithGenerator(gen),
		sensor.WithCapacity(4),
		sensor.WithTimeSource(func() uint64 { return ts.Add(1000) }),
	)
	require.NoError(t, err)
	require.NoError(t, core.Start())
	f.core = core

	opts.Logger = logger.Nop()
	f.ts = httptest.NewServer(server.New(core, opts).Handler())

	t.Cleanup(func() {
		core.Shutdown()
		f.ts.Close()
	})

	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, f.ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))

	return v
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, server.Options{})

	resp := f.do(t, http.MethodGet, "/v1/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[server.HealthView](t, resp)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "running", health.State)

	f.core.Shutdown()
	resp = f.do(t, http.MethodGet, "/v1/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSampleBinary(t *testing.T) {
	f := newFixture(t, server.Options{})
	f.temps.Store(-1500)
	f.clock.Fire(1)

	resp := f.do(t, http.MethodGet, "/v1/sample", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Len(t, body, sensor.SampleSize)

	var s sensor.Sample
	require.NoError(t, s.UnmarshalBinary(body))
	assert.Equal(t, int32(-1500), s.TempMilliC)
	assert.Equal(t, uint64(1000), s.Timestamp)
	assert.True(t, s.Crossed())
}

func TestSampleEmptyNonBlocking(t *testing.T) {
	f := newFixture(t, server.Options{})

	resp := f.do(t, http.MethodGet, "/v1/sample", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestSampleJSON(t *testing.T) {
	f := newFixture(t, server.Options{})
	f.clock.Fire(1)

	resp := f.do(t, http.MethodGet, "/v1/sample?format=json", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decode[server.SampleView](t, resp)
	assert.Equal(t, int32(30000), v.TempMilliC)
	assert.True(t, v.NewSample)
	assert.False(t, v.ThresholdCrossed)
}

func TestSampleBlockingWakes(t *testing.T) {
	f := newFixture(t, server.Options{})

	go func() {
		time.Sleep(50 * time.Millisecond)
		f.clock.Fire(1)
	}()

	resp := f.do(t, http.MethodGet, "/v1/sample?blocking=1&format=json", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(30000), decode[server.SampleView](t, resp).TempMilliC)
}

func TestSampleBlockingTimeout(t *testing.T) {
	f := newFixture(t, server.Options{})

	resp := f.do(t, http.MethodGet, "/v1/sample?blocking=true&timeout_ms=20", "")
	require.Equal(t, http.StatusRequestTimeout, resp.StatusCode)
	assert.Equal(t, "interrupted", decode[server.APIError](t, resp).Code)
}

func TestSampleHugeTimeoutIsCapped(t *testing.T) {
	f := newFixture(t, server.Options{})

	go func() {
		time.Sleep(50 * time.Millisecond)
		f.clock.Fire(1)
	}()

	resp := f.do(t, http.MethodGet, "/v1/sample?blocking=1&format=json&timeout_ms=9300000000000", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(30000), decode[server.SampleView](t, resp).TempMilliC)
}

// brokenWriter drops every body write, as a hung-up client would.
type brokenWriter struct {
	header   http.Header
	statuses []int
}

func (w *brokenWriter) Header() http.Header { return w.header }

func (w *brokenWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func (w *brokenWriter) WriteHeader(status int) { w.statuses = append(w.statuses, status) }

func TestSampleCopyFaultWritesNoError(t *testing.T) {
	core, err := sensor.New(sensor.DefaultConfig(), sensor.WithClock(sensor.NewManualClock()))
	require.NoError(t, err)
	t.Cleanup(core.Shutdown)
	require.NoError(t, core.Start())
	core.Tick()

	w := &brokenWriter{header: http.Header{}}
	req := httptest.NewRequest(http.MethodGet, "/v1/sample", nil)
	server.New(core, server.Options{Logger: logger.Nop()}).Handler().ServeHTTP(w, req)

	assert.Empty(t, w.statuses)
	assert.Equal(t, "application/octet-stream", w.header.Get("Content-Type"))
	assert.Equal(t, uint64(1), core.Stats().ReadErrors)

	n, _ := core.Depth()
	assert.Equal(t, 0, n)
}

func TestSampleAfterShutdown(t *testing.T) {
	f := newFixture(t, server.Options{})
	f.core.Shutdown()

	resp := f.do(t, http.MethodGet, "/v1/sample?blocking=1", "")
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestSampleBadParams(t *testing.T) {
	f := newFixture(t, server.Options{})

	for _, q := range []string{"blocking=maybe", "timeout_ms=-1", "timeout_ms=soon"} {
		resp := f.do(t, http.MethodGet, "/v1/sample?"+q, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestPollConsumesAlert(t *testing.T) {
	f := newFixture(t, server.Options{})
	f.temps.Store(20000)
	f.clock.Fire(1)

	resp := f.do(t, http.MethodGet, "/v1/poll", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ready := decode[sensor.Readiness](t, resp)
	assert.True(t, ready.DataReady)
	assert.True(t, ready.AlertReady)

	ready = decode[sensor.Readiness](t, f.do(t, http.MethodGet, "/v1/poll", ""))
	assert.True(t, ready.DataReady)
	assert.False(t, ready.AlertReady)
}

func TestPollWaitForAlert(t *testing.T) {
	f := newFixture(t, server.Options{})

	go func() {
		time.Sleep(30 * time.Millisecond)
		f.clock.Fire(1)
		f.temps.Store(20000)
		time.Sleep(30 * time.Millisecond)
		f.clock.Fire(1)
	}()

	resp := f.do(t, http.MethodGet, "/v1/poll?wait=1&events=alert", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ready := decode[sensor.Readiness](t, resp)
	assert.True(t, ready.AlertReady)
}

func TestPollHugeTimeoutIsCapped(t *testing.T) {
	f := newFixture(t, server.Options{})
	f.temps.Store(20000)

	go func() {
		time.Sleep(50 * time.Millisecond)
		f.clock.Fire(1)
	}()

	resp := f.do(t, http.MethodGet, "/v1/poll?wait=1&events=alert&timeout_ms=9300000000000", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[sensor.Readiness](t, resp).AlertReady)
}

func TestPollBadEvents(t *testing.T) {
	f := newFixture(t, server.Options{})

	resp := f.do(t, http.MethodGet, "/v1/poll?wait=1&events=heat", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConfigRoundTrip(t *testing.T) {
	f := newFixture(t, server.Options{})

	resp := f.do(t, http.MethodGet, "/v1/config", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cfg := decode[server.ConfigView](t, resp)
	assert.Equal(t, server.ConfigView{SamplingMs: 1000, ThresholdMilliC: 27000, Mode: "normal"}, cfg)

	resp = f.do(t, http.MethodPut, "/v1/config", `{"sampling_ms":100,"threshold_mC":30000}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cfg = decode[server.ConfigView](t, resp)
	assert.Equal(t, 100, cfg.SamplingMs)
	assert.Equal(t, int32(30000), cfg.ThresholdMilliC)
	assert.Equal(t, 100*time.Millisecond, f.clock.Interval())
}

func TestConfigRejectsInvalid(t *testing.T) {
	f := newFixture(t, server.Options{})

	bodies := []string{
		`{"sampling_ms":0,"threshold_mC":30000}`,
		`{"sampling_ms":10001,"threshold_mC":30000}`,
		`{"sampling_ms":100}`,
		`{"sampling_ms":100,"threshold_mC":1,"extra":true}`,
		`not json`,
	}
	for _, body := range bodies {
		resp := f.do(t, http.MethodPut, "/v1/config", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}

	assert.Equal(t, sensor.DefaultConfig(), f.core.Config())
}

func TestAttrs(t *testing.T) {
	f := newFixture(t, server.Options{})

	resp := f.do(t, http.MethodGet, "/v1/attrs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, decode[server.AttrsView](t, resp).Names, "threshold_mC")

	resp = f.do(t, http.MethodPut, "/v1/attrs/mode", "noisy\n")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "noisy\n", string(body))
	assert.Equal(t, sensor.ModeNoisy, f.core.Config().Mode)

	resp = f.do(t, http.MethodGet, "/v1/attrs/sampling_ms", "")
	body, _ = io.ReadAll(resp.Body)
	assert.Equal(t, "1000\n", string(body))

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/attrs/nope", "").StatusCode)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodPut, "/v1/attrs/stats", "0").StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/v1/attrs/sampling_ms", "0").StatusCode)
	assert.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodPut, "/v1/attrs/mode", strings.Repeat("x", 100)).StatusCode)
}

func TestStats(t *testing.T) {
	f := newFixture(t, server.Options{})
	f.clock.Fire(6)

	resp := f.do(t, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[server.StatsView](t, resp)
	assert.Equal(t, uint64(6), st.SamplesGenerated)
	assert.Equal(t, uint64(2), st.SamplesDropped)
	assert.Equal(t, 4, st.Depth)
	assert.Equal(t, 4, st.Capacity)
	assert.Equal(t, "running", st.State)
}

func TestAlertsWithoutJournal(t *testing.T) {
	f := newFixture(t, server.Options{})

	resp := f.do(t, http.MethodGet, "/v1/alerts", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAlertsFromJournal(t *testing.T) {
	cfg := journal.DefaultConfig()
	cfg.FlushInterval = time.Hour
	j, err := journal.NewService(cfg, logger.Nop())
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Record(context.Background(), &journal.Entry{Seq: 4, TempMilliC: 26000, ThresholdMilliC: 27000, RecordedAt: time.Now()}))

	f := newFixture(t, server.Options{Journal: j})

	resp := f.do(t, http.MethodGet, "/v1/alerts?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decode[[]journal.Entry](t, resp)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(4), entries[0].Seq)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/alerts?limit=0", "").StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, server.Options{})
	f.clock.Fire(2)

	resp := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "simtemp_samples_generated_total 2")
}

func TestStreamPushesBinaryFrames(t *testing.T) {
	f := newFixture(t, server.Options{})

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/v1/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	f.temps.Store(26000)
	f.clock.Fire(2)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < 2; i++ {
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.BinaryMessage, kind)

		var s sensor.Sample
		require.NoError(t, s.UnmarshalBinary(data))
		assert.Equal(t, int32(26000), s.TempMilliC)
		assert.Equal(t, uint64(1000*(i+1)), s.Timestamp)
		assert.Equal(t, i == 0, s.Crossed())
	}

	f.core.Shutdown()
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err)
}
