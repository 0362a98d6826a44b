package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"codeberg.org/mutker/simtemp/internal/errors"
	"codeberg.org/mutker/simtemp/internal/logger"
	"codeberg.org/mutker/simtemp/internal/sensor"
	"codeberg.org/mutker/simtemp/internal/server"
)

const (
	testSamplingMs   = 100
	testThresholdMC  = 30000
	testPeriods      = 3
	testGrace        = 100 * time.Millisecond
	restoreSampling  = sensor.DefaultSamplingMs
	restoreThreshold = sensor.DefaultThresholdMilliC
)

type options struct {
	addr        string
	samplingMs  int
	thresholdMC int32
	mode        string
	test        bool
	stats       bool
	verbose     bool
}

func main() {
	var opts options
	fs := pflag.NewFlagSet("simtempctl", pflag.ContinueOnError)
	fs.StringVar(&opts.addr, "addr", envOr("SIMTEMP_ADDR", server.DefaultAddress), "simtempd address")
	fs.IntVar(&opts.samplingMs, "set-sampling-ms", 0, "Set the sampling interval in milliseconds")
	fs.Int32Var(&opts.thresholdMC, "set-threshold-mc", 0, "Set the alert threshold in millidegrees Celsius")
	fs.StringVar(&opts.mode, "set-mode", "", "Set the simulation mode: normal, noisy or ramp")
	fs.BoolVar(&opts.test, "test", false, "Run the alert acceptance test")
	fs.BoolVar(&opts.stats, "stats", false, "Print statistics and exit")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "Log debug output")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := logger.InfoLevel
	if opts.verbose {
		level = logger.DebugLevel
	}
	logger.Init(level, false)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := newClient(opts.addr)

	if err := run(ctx, c, fs, opts); err != nil {
		logger.Error().Err(err).Msg("simtempctl failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client, fs *pflag.FlagSet, opts options) error {
	configured := false

	if fs.Changed("set-mode") {
		if err := c.storeAttr(ctx, "mode", opts.mode); err != nil {
			return err
		}
		configured = true
	}
	if fs.Changed("set-sampling-ms") {
		if err := c.storeAttr(ctx, "sampling_ms", fmt.Sprint(opts.samplingMs)); err != nil {
			return err
		}
		configured = true
	}
	if fs.Changed("set-threshold-mc") {
		if err := c.storeAttr(ctx, "threshold_mC", fmt.Sprint(opts.thresholdMC)); err != nil {
			return err
		}
		configured = true
	}

	switch {
	case opts.test:
		return acceptanceTest(ctx, c)
	case opts.stats:
		return printStats(ctx, c)
	case configured:
		cfg, err := c.config(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("sampling_ms=%d threshold_mC=%d mode=%s\n", cfg.SamplingMs, cfg.ThresholdMilliC, cfg.Mode)
		return nil
	default:
		return monitor(ctx, c)
	}
}

// monitor prints every streamed sample until interrupted or the sensor
// closes.
func monitor(ctx context.Context, c *client) error {
	conn, err := c.stream(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	logger.Debug().Msg("Monitoring samples")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return errors.New().Wrap(errors.ErrUnavailable, err)
		}

		var s sensor.Sample
		if err := s.UnmarshalBinary(data); err != nil {
			return err
		}
		fmt.Println(formatSample(s))
	}
}

func formatSample(s sensor.Sample) string {
	ts := time.Unix(0, int64(s.Timestamp)).UTC().Format("2006-01-02T15:04:05.000Z")
	alert := 0
	if s.Crossed() {
		alert = 1
	}

	return fmt.Sprintf("%s temp=%.3fC alert=%d", ts, float64(s.TempMilliC)/1000, alert)
}

// acceptanceTest configures a fast interval and a high threshold, expects an
// alert within a few periods, and restores the defaults either way.
func acceptanceTest(ctx context.Context, c *client) (err error) {
	// Drop any alert left over from before the test.
	if _, err := c.poll(ctx, false, "", 0); err != nil {
		return err
	}

	if err := c.storeAttr(ctx, "mode", sensor.ModeNormal.String()); err != nil {
		return err
	}
	if err := c.configure(ctx, testSamplingMs, testThresholdMC); err != nil {
		return err
	}
	defer func() {
		if rerr := c.configure(context.Background(), restoreSampling, restoreThreshold); rerr != nil && err == nil {
			err = rerr
		}
	}()

	deadline := time.Now().Add(testPeriods*testSamplingMs*time.Millisecond + testGrace)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		ready, err := c.poll(ctx, true, "alert", remaining)
		if err != nil {
			return err
		}
		if ready.AlertReady {
			fmt.Println("PASS: threshold alert observed")
			return nil
		}
	}

	fmt.Println("FAIL: no threshold alert observed")

	return errors.New().WithMessage(errors.ErrTimeout, "no alert within test window")
}

func printStats(ctx context.Context, c *client) error {
	st, err := c.stats(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("state=%s depth=%d/%d\n", st.State, st.Depth, st.Capacity)
	fmt.Printf("samples_generated=%d alerts_triggered=%d read_errors=%d samples_dropped=%d tick_faults=%d\n",
		st.SamplesGenerated, st.AlertsTriggered, st.ReadErrors, st.SamplesDropped, st.TickFaults)

	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
