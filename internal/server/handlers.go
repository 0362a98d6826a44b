package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/simtemp/internal/errors"
	"codeberg.org/mutker/simtemp/internal/journal"
	"codeberg.org/mutker/simtemp/internal/sensor"
)

const maxAttrBody = 64

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	state := s.sensor.State()

	status := http.StatusOK
	health := "ok"
	if state >= sensor.StateShuttingDown {
		status = http.StatusServiceUnavailable
		health = "closed"
	}

	writeJSON(w, status, HealthView{
		Status:    health,
		State:     state.String(),
		Timestamp: timestamp(),
	})
}

// handleSample pops one sample.
// Query: blocking=bool, timeout_ms=int, format=binary|json (default binary).
// Binary responses carry exactly one 16-byte record.
func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	blocking, err := boolParam(q.Get("blocking"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	ctx, cancel, err := waitContext(r.Context(), q.Get("timeout_ms"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer cancel()

	if q.Get("format") == "json" {
		sample, err := s.sensor.Read(ctx, blocking)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, FromSample(sample))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(sensor.SampleSize))
	if _, err := s.sensor.ReadTo(ctx, blocking, w); err != nil {
		// The client is gone; the sample is already counted as a read error.
		if errors.CodeOf(err) == errors.ErrCopyFault {
			s.log.Debug().Err(err).Msg("Sample delivery failed")
			return
		}
		w.Header().Del("Content-Length")
		s.writeError(w, err)
	}
}

// handlePoll reports readiness.
// Query: wait=bool, events=data,alert (default both), timeout_ms=int.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	wait, err := boolParam(q.Get("wait"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var ready sensor.Readiness
	if wait {
		mask, err := parseMask(q.Get("events"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		ctx, cancel, err := waitContext(r.Context(), q.Get("timeout_ms"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		defer cancel()

		ready, err = s.sensor.WaitReady(ctx, mask)
		if err != nil {
			s.writeError(w, err)
			return
		}
	} else {
		ready, err = s.sensor.Poll()
		if err != nil {
			s.writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, ready)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, FromConfig(s.sensor.Config()))
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, errors.New().Wrap(errors.ErrInvalidArgument, err))
		return
	}
	if req.SamplingMs == nil || req.ThresholdMilliC == nil {
		s.writeError(w, errors.New().WithMessage(errors.ErrInvalidArgument,
			"sampling_ms and threshold_mC are both required"))
		return
	}

	if err := s.sensor.Configure(*req.SamplingMs, *req.ThresholdMilliC); err != nil {
		s.writeError(w, err)
		return
	}

	s.log.Info().
		Int("sampling_ms", *req.SamplingMs).
		Int32("threshold_mC", *req.ThresholdMilliC).
		Msg("Configuration updated")

	writeJSON(w, http.StatusOK, FromConfig(s.sensor.Config()))
}

func (s *Server) handleListAttrs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, AttrsView{Names: s.attrs.Names()})
}

func (s *Server) handleShowAttr(w http.ResponseWriter, r *http.Request) {
	v, err := s.attrs.Show(r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, v)
}

func (s *Server) handleStoreAttr(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxAttrBody+1))
	if err != nil {
		s.writeError(w, errors.New().Wrap(errors.ErrInvalidArgument, err))
		return
	}
	if len(body) > maxAttrBody {
		s.writeError(w, errors.New().WithMessage(errors.ErrInvalidArgument, "value too long"))
		return
	}

	if err := s.attrs.Store(name, string(body)); err != nil {
		s.writeError(w, err)
		return
	}

	s.log.Info().Str("attr", name).Str("value", strings.TrimSpace(string(body))).Msg("Attribute stored")

	s.handleShowAttr(w, r)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	depth, capacity := s.sensor.Depth()

	writeJSON(w, http.StatusOK, StatsView{
		Stats:    s.sensor.Stats(),
		Depth:    depth,
		Capacity: capacity,
		State:    s.sensor.State().String(),
	})
}

// handleAlerts lists journaled alerts, newest first. Query: limit=int.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, errors.New().WithMessage(errors.ErrUnavailable, "alert journal not configured"))
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, errors.New().WithData(errors.ErrInvalidArgument, v))
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

// statusFor maps error codes to HTTP statuses.
func statusFor(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrWouldBlock:
		return http.StatusNoContent
	case errors.ErrInterrupted:
		return http.StatusRequestTimeout
	case errors.ErrClosed:
		return http.StatusGone
	case errors.ErrInvalidArgument, errors.ErrInvalidInterval, errors.ErrInvalidMode:
		return http.StatusBadRequest
	case errors.ErrNotFound:
		return http.StatusNotFound
	case errors.ErrPermission:
		return http.StatusMethodNotAllowed
	case errors.ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)

	switch {
	case status == http.StatusNoContent:
		w.WriteHeader(status)
		return
	case status >= http.StatusInternalServerError:
		s.log.Warn().Err(err).Msg("Request failed")
	default:
		s.log.Debug().Err(err).Msg("Request rejected")
	}

	writeJSON(w, status, APIError{
		Error:     err.Error(),
		Code:      string(errors.CodeOf(err)),
		Timestamp: timestamp(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}

func boolParam(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.New().Wrap(errors.ErrInvalidArgument, err)
	}

	return b, nil
}

// waitContext bounds a blocking request by timeout_ms, capped at maxWait.
func waitContext(parent context.Context, v string) (context.Context, context.CancelFunc, error) {
	timeout := maxWait
	if v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return nil, nil, errors.New().WithData(errors.ErrInvalidArgument, v)
		}
		if int64(ms) > maxWait.Milliseconds() {
			ms = int(maxWait.Milliseconds())
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(parent, timeout)

	return ctx, cancel, nil
}

func parseMask(v string) (sensor.ReadyMask, error) {
	if v == "" {
		return sensor.ReadyAny, nil
	}

	var mask sensor.ReadyMask
	for _, ev := range strings.Split(v, ",") {
		switch strings.TrimSpace(ev) {
		case "data":
			mask |= sensor.ReadyData
		case "alert":
			mask |= sensor.ReadyAlert
		default:
			return 0, errors.New().WithData(errors.ErrInvalidArgument, ev)
		}
	}

	return mask, nil
}
