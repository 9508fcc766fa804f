package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/spf13/cobra"

	"github.com/joeycumines/go-ffibridge"
)

func newRootCommand() *cobra.Command {
	cfg := defaultConfig()
	var logLevel string

	cmd := &cobra.Command{
		Use:   "bridgestress",
		Short: "Stress a notification bridge with a simulated engine",
		Long: `Stress a notification bridge with a simulated engine.

Every scheduler is backed by its own event loop. Producers post sequenced
work to the schedulers, round trips block on handlers completed from other
goroutines, and the engine emits log lines to one subscriber per scheduler.

Example:
  bridgestress --schedulers 4 --producers 8 --events 10000
  bridgestress --round-trips 500 --rate 200 --metrics-addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			level, ok := ffibridge.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("invalid log level %q", logLevel)
			}
			cfg.logger = newLogger(level)
			return cfg.validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			res.print(cmd.OutOrStdout())
			if res.failed() {
				return fmt.Errorf("%d ordering violations, %d round trip mismatches", res.OrderViolations, res.RoundTripMismatches)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&cfg.Schedulers, "schedulers", cfg.Schedulers, "number of consumer contexts")
	f.IntVar(&cfg.Producers, "producers", cfg.Producers, "producer goroutines per scheduler")
	f.IntVar(&cfg.Events, "events", cfg.Events, "work items posted by each producer")
	f.IntVar(&cfg.RoundTrips, "round-trips", cfg.RoundTrips, "blocking round trips per scheduler")
	f.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "bound on each round trip")
	f.Float64Var(&cfg.Rate, "rate", cfg.Rate, "round trips started per second per scheduler, 0 for unlimited")
	f.IntVar(&cfg.LogLines, "log-lines", cfg.LogLines, "engine log lines emitted")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	f.StringVar(&logLevel, "log-level", "warn", "diagnostic log level (trace|debug|info|warn|error|off)")
	return cmd
}

func newLogger(level ffibridge.LogLevel) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		stumpy.L.WithLevel(level.Logiface()),
	).Logger()
}

type config struct {
	logger      *logiface.Logger[logiface.Event]
	MetricsAddr string
	Schedulers  int
	Producers   int
	Events      int
	RoundTrips  int
	LogLines    int
	Timeout     time.Duration
	Rate        float64
}

func defaultConfig() *config {
	return &config{
		Schedulers: 4,
		Producers:  4,
		Events:     5000,
		RoundTrips: 200,
		LogLines:   1000,
		Timeout:    5 * time.Second,
	}
}

func (c *config) validate() error {
	switch {
	case c.Schedulers <= 0:
		return fmt.Errorf("schedulers must be positive")
	case c.Producers < 0 || c.Events < 0 || c.RoundTrips < 0 || c.LogLines < 0:
		return fmt.Errorf("counts must not be negative")
	case c.Timeout <= 0:
		return fmt.Errorf("timeout must be positive")
	case c.Rate < 0:
		return fmt.Errorf("rate must not be negative")
	}
	return nil
}
