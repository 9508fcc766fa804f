package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/joeycumines/go-eventloop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/joeycumines/go-ffibridge"
	"github.com/joeycumines/go-ffibridge/bridgeprom"
	"github.com/joeycumines/go-ffibridge/internal/enginetest"
)

// result summarizes one run.
type result struct {
	Stats               ffibridge.Stats
	Elapsed             time.Duration
	Delivered           uint64
	LogLines            uint64
	RoundTripsOK        uint64
	RoundTripErrors     uint64
	OrderViolations     uint64
	RoundTripMismatches uint64
}

func (r *result) failed() bool {
	return r.OrderViolations != 0 || r.RoundTripMismatches != 0
}

func (r *result) print(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	row := func(name string, v any) { _, _ = fmt.Fprintf(tw, "%s\t%v\n", name, v) }
	row("elapsed", r.Elapsed.Round(time.Millisecond))
	row("delivered", r.Delivered)
	row("order violations", r.OrderViolations)
	row("round trips ok", r.RoundTripsOK)
	row("round trip errors", r.RoundTripErrors)
	row("round trip mismatches", r.RoundTripMismatches)
	row("log lines received", r.LogLines)
	row("posts", r.Stats.Posts)
	row("post failures", r.Stats.PostFailures)
	row("dispatched", r.Stats.Dispatched)
	row("inline runs", r.Stats.InlineRuns)
	row("stale tokens", r.Stats.StaleTokens)
	row("round trip timeouts", r.Stats.RoundTripTimeouts)
	row("schedulers finalized", r.Stats.SchedulersFinalized)
	_ = tw.Flush()
}

// consumer is the per scheduler state touched only on its loop.
type consumer struct {
	scheduler *ffibridge.Scheduler
	// last is the last sequence number seen from each producer.
	last []int
}

func run(ctx context.Context, cfg *config) (*result, error) {
	engine := enginetest.New()
	bridge, err := ffibridge.New(engine,
		ffibridge.WithLogger(cfg.logger),
		ffibridge.WithRoundTripTimeout(cfg.Timeout),
	)
	if err != nil {
		return nil, err
	}
	defer bridge.Close()

	if cfg.MetricsAddr != "" {
		stop, err := serveMetrics(cfg, bridge)
		if err != nil {
			return nil, err
		}
		defer stop()
	}

	loopCtx, stopLoops := context.WithCancel(ctx)
	var loops sync.WaitGroup
	defer func() {
		stopLoops()
		loops.Wait()
	}()

	var res result
	var logLines atomic.Uint64
	consumers := make([]*consumer, cfg.Schedulers)
	for i := range consumers {
		loop, err := eventloop.New()
		if err != nil {
			return nil, err
		}
		loops.Add(1)
		go func() {
			defer loops.Done()
			_ = loop.Run(loopCtx)
		}()
		s, err := bridge.NewScheduler(uint64(i+1), ffibridge.NewLoopPort(loop, bridge))
		if err != nil {
			return nil, err
		}
		if i == 0 {
			// engine errors reach the diagnostic logger whatever the sessions want
			if _, err := bridge.Loggers().InitDefault(ffibridge.LogLevelError, s, &ffibridge.LogifaceSink{Logger: cfg.logger}); err != nil {
				return nil, err
			}
		}
		consumers[i] = &consumer{scheduler: s, last: make([]int, cfg.Producers)}
		for p := range consumers[i].last {
			consumers[i].last[p] = -1
		}
		if _, err := bridge.Loggers().Register(uint64(i+1), ffibridge.LogLevelInfo, s, ffibridge.LogSinkFunc(func(ffibridge.LogLevel, string, string) {
			logLines.Add(1)
		})); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	var delivered, violations atomic.Uint64
	var rtOK, rtErr, rtMismatch atomic.Uint64
	g, gctx := errgroup.WithContext(ctx)

	for _, c := range consumers {
		for p := 0; p < cfg.Producers; p++ {
			g.Go(func() error {
				for seq := 0; seq < cfg.Events; seq++ {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					if !c.scheduler.Invoke(func() {
						if c.last[p] != seq-1 {
							violations.Add(1)
						}
						c.last[p] = seq
						delivered.Add(1)
					}) {
						return fmt.Errorf("scheduler %d rejected work", c.scheduler.ContextID())
					}
				}
				return nil
			})
		}

		g.Go(func() error {
			limit := rate.Inf
			if cfg.Rate > 0 {
				limit = rate.Limit(cfg.Rate)
			}
			limiter := rate.NewLimiter(limit, 1)
			for i := 0; i < cfg.RoundTrips; i++ {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
				want := i%5 == 0
				err := c.scheduler.AwaitResult(gctx, func(u *ffibridge.Unlock) {
					go func() {
						if want {
							u.Complete(errRejected)
							return
						}
						u.Complete(nil)
					}()
				})
				switch {
				case err == nil && !want, want && errors.Is(err, errRejected):
					rtOK.Add(1)
				case errors.Is(err, ffibridge.ErrRoundTripTimeout):
					rtErr.Add(1)
				case gctx.Err() != nil:
					return gctx.Err()
				default:
					rtMismatch.Add(1)
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		for i := 0; i < cfg.LogLines; i++ {
			level := ffibridge.LogLevelDebug
			if i%2 == 0 {
				level = ffibridge.LogLevelWarn
			}
			engine.Emit(level, "stress", "line")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// a round trip per scheduler flushes everything queued ahead of it
	for _, c := range consumers {
		if err := c.scheduler.InvokeAndWait(ctx, func() error { return nil }); err != nil {
			return nil, err
		}
		c.scheduler.Free()
	}
	waitFinalized(ctx, bridge)

	res.Elapsed = time.Since(start)
	res.Delivered = delivered.Load()
	res.OrderViolations = violations.Load()
	res.RoundTripsOK = rtOK.Load()
	res.RoundTripErrors = rtErr.Load()
	res.RoundTripMismatches = rtMismatch.Load()
	res.LogLines = logLines.Load()
	res.Stats = bridge.Stats()
	return &res, nil
}

var errRejected = errors.New("rejected by handler")

func waitFinalized(ctx context.Context, bridge *ffibridge.Bridge) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for bridge.Schedulers() != 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func serveMetrics(cfg *config, bridge *ffibridge.Bridge) (func(), error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(bridgeprom.NewCollector(bridge, "bridgestress", nil)); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cfg.logger.Err().Err(err).Log("metrics server failed")
		}
	}()
	cfg.logger.Info().Str("addr", ln.Addr().String()).Log("serving metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
