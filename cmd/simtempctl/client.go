package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"codeberg.org/mutker/simtemp/internal/errors"
	"codeberg.org/mutker/simtemp/internal/sensor"
	"codeberg.org/mutker/simtemp/internal/server"
)

// client talks to simtempd's HTTP API.
type client struct {
	base string
	http *http.Client
}

func newClient(addr string) *client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	return &client{
		base: strings.TrimSuffix(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) do(ctx context.Context, method, path string, body io.Reader, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, errors.New().Wrap(errors.ErrInvalidArgument, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errors.New().Wrap(errors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr server.APIError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return resp.StatusCode, errors.New().WithMessage(errors.ErrOperationFailed,
			fmt.Sprintf("%s %s: %s", method, path, apiErr.Error))
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, errors.New().Wrap(errors.ErrOperationFailed, err)
		}
	}

	return resp.StatusCode, nil
}

func (c *client) config(ctx context.Context) (server.ConfigView, error) {
	var cfg server.ConfigView
	_, err := c.do(ctx, http.MethodGet, "/v1/config", nil, &cfg)

	return cfg, err
}

func (c *client) configure(ctx context.Context, samplingMs int, thresholdMilliC int32) error {
	body, err := json.Marshal(server.ConfigRequest{
		SamplingMs:      &samplingMs,
		ThresholdMilliC: &thresholdMilliC,
	})
	if err != nil {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	_, err = c.do(ctx, http.MethodPut, "/v1/config", bytes.NewReader(body), nil)

	return err
}

func (c *client) storeAttr(ctx context.Context, name, value string) error {
	_, err := c.do(ctx, http.MethodPut, "/v1/attrs/"+url.PathEscape(name), strings.NewReader(value+"\n"), nil)

	return err
}

func (c *client) stats(ctx context.Context) (server.StatsView, error) {
	var st server.StatsView
	_, err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &st)

	return st, err
}

// poll returns readiness. With wait set it blocks for up to timeout for
// the events in events ("data", "alert" or "data,alert").
func (c *client) poll(ctx context.Context, wait bool, events string, timeout time.Duration) (sensor.Readiness, error) {
	q := url.Values{}
	if wait {
		q.Set("wait", "1")
		q.Set("events", events)
		q.Set("timeout_ms", strconv.FormatInt(timeout.Milliseconds(), 10))
	}

	var ready sensor.Readiness
	status, err := c.do(ctx, http.MethodGet, "/v1/poll?"+q.Encode(), nil, &ready)
	if status == http.StatusRequestTimeout {
		return sensor.Readiness{}, nil
	}

	return ready, err
}

// stream dials the websocket sample stream.
func (c *client) stream(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.base + "/v1/stream")
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrInvalidArgument, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrUnavailable, err)
	}
	resp.Body.Close()

	return conn, nil
}
