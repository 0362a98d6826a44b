// Package server exposes a sensor over HTTP: sample reads, readiness polls,
// configuration, attributes, statistics, a websocket sample stream and
// Prometheus metrics.
package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"codeberg.org/mutker/simtemp/internal/attr"
	"codeberg.org/mutker/simtemp/internal/errors"
	"codeberg.org/mutker/simtemp/internal/journal"
	"codeberg.org/mutker/simtemp/internal/logger"
	"codeberg.org/mutker/simtemp/internal/metric"
	"codeberg.org/mutker/simtemp/internal/sensor"
)

const (
	APIVersion     = "v1"
	DefaultAddress = "127.0.0.1:8787"

	// Upper bound on how long a single blocking request may wait.
	maxWait = 20 * time.Second
)

// Sensor is the device surface served over HTTP. *sensor.Core satisfies it.
type Sensor interface {
	attr.Target
	metric.Source

	State() sensor.State
	Read(ctx context.Context, blocking bool) (sensor.Sample, error)
	ReadTo(ctx context.Context, blocking bool, w io.Writer) (sensor.Sample, error)
	Poll() (sensor.Readiness, error)
	WaitReady(ctx context.Context, mask sensor.ReadyMask) (sensor.Readiness, error)
	Configure(samplingMs int, thresholdMilliC int32) error
}

// Options configures the HTTP server.
type Options struct {
	Addr              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	Logger            logger.Logger
	Journal           journal.Journal
	Registry          *prometheus.Registry
}

type Server struct {
	http     *http.Server
	sensor   Sensor
	attrs    *attr.Set
	journal  journal.Journal
	log      logger.Logger
	opts     Options
	upgrader websocket.Upgrader
}

// New constructs a server for s. It does not listen until ListenAndServe.
func New(s Sensor, opts Options) *Server {
	if s == nil {
		panic("server.New: sensor is nil")
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddress
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 5 * time.Second
	}
	if opts.ReadHeaderTimeout == 0 {
		opts.ReadHeaderTimeout = 2 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = maxWait + 10*time.Second
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Registry == nil {
		opts.Registry = metric.NewRegistry(s)
	}

	srv := &Server{
		sensor:  s,
		attrs:   attr.New(s),
		journal: opts.Journal,
		log:     opts.Logger,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  256,
			WriteBufferSize: 1024,
		},
	}

	mux := http.NewServeMux()
	prefix := "/" + APIVersion
	mux.HandleFunc("GET "+prefix+"/healthz", srv.handleHealthz)
	mux.HandleFunc("GET "+prefix+"/sample", srv.handleSample)
	mux.HandleFunc("GET "+prefix+"/poll", srv.handlePoll)
	mux.HandleFunc("GET "+prefix+"/config", srv.handleGetConfig)
	mux.HandleFunc("PUT "+prefix+"/config", srv.handlePutConfig)
	mux.HandleFunc("GET "+prefix+"/attrs", srv.handleListAttrs)
	mux.HandleFunc("GET "+prefix+"/attrs/{name}", srv.handleShowAttr)
	mux.HandleFunc("PUT "+prefix+"/attrs/{name}", srv.handleStoreAttr)
	mux.HandleFunc("GET "+prefix+"/stats", srv.handleStats)
	mux.HandleFunc("GET "+prefix+"/alerts", srv.handleAlerts)
	mux.HandleFunc("GET "+prefix+"/stream", srv.handleStream)
	mux.Handle("GET /metrics", metric.Handler(opts.Registry))

	srv.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           withLogging(mux, opts.Logger),
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       opts.IdleTimeout,
		BaseContext: func(net.Listener) context.Context {
			return context.Background()
		},
	}

	return srv
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe serves until Stop is called. A clean stop returns nil.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return errors.New().Wrap(errors.ErrInitFailed, err)
	}

	return s.Serve(ln)
}

func (s *Server) Serve(ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")

	if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return errors.New().Wrap(errors.ErrOperationFailed, err)
	}

	return nil
}

// Stop gracefully shuts down the server, waiting up to ShutdownTimeout.
// Handlers blocked on the sensor return once the sensor shuts down.
func (s *Server) Stop(ctx context.Context) error {
	if s.opts.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ShutdownTimeout)
		defer cancel()
	}

	if err := s.http.Shutdown(ctx); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}

// withLogging records method, path, status and duration of every request.
func withLogging(next http.Handler, log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := TimeNow()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New().WithMessage(errors.ErrInternal, "response writer cannot be hijacked")
	}
	w.status = http.StatusSwitchingProtocols

	return h.Hijack()
}
