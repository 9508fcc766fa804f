// Package bridgeprom exports bridge statistics as Prometheus metrics.
package bridgeprom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joeycumines/go-ffibridge"
)

// StatsSource is anything with a bridge stats snapshot, typically a
// [ffibridge.Bridge].
type StatsSource interface {
	Stats() ffibridge.Stats
}

type metric struct {
	desc      *prometheus.Desc
	value     func(st *ffibridge.Stats) float64
	valueType prometheus.ValueType
}

// Collector is a [prometheus.Collector] reading one snapshot of a bridge's
// statistics per scrape.
type Collector struct {
	source  StatsSource
	metrics []metric
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for source. Metric names are prefixed
// with namespace, if not empty, and carry constLabels.
func NewCollector(source StatsSource, namespace string, constLabels prometheus.Labels) *Collector {
	c := &Collector{source: source}
	counter := func(name, help string, value func(st *ffibridge.Stats) uint64) {
		c.metrics = append(c.metrics, metric{
			desc:      prometheus.NewDesc(prometheus.BuildFQName(namespace, "bridge", name), help, nil, constLabels),
			value:     func(st *ffibridge.Stats) float64 { return float64(value(st)) },
			valueType: prometheus.CounterValue,
		})
	}
	gauge := func(name, help string, value func(st *ffibridge.Stats) float64) {
		c.metrics = append(c.metrics, metric{
			desc:      prometheus.NewDesc(prometheus.BuildFQName(namespace, "bridge", name), help, nil, constLabels),
			value:     value,
			valueType: prometheus.GaugeValue,
		})
	}

	counter("posts_total", "Tokens handed to consumer context ports.", func(st *ffibridge.Stats) uint64 { return st.Posts })
	counter("post_failures_total", "Tokens rejected by a torn down consumer context.", func(st *ffibridge.Stats) uint64 { return st.PostFailures })
	counter("dispatched_total", "Queued items run on a consumer context.", func(st *ffibridge.Stats) uint64 { return st.Dispatched })
	counter("inline_runs_total", "Items run inline by a reentrant invoke.", func(st *ffibridge.Stats) uint64 { return st.InlineRuns })
	counter("stale_tokens_total", "Tokens received after their scheduler was finalized.", func(st *ffibridge.Stats) uint64 { return st.StaleTokens })
	counter("panics_total", "Panics recovered from consumer code.", func(st *ffibridge.Stats) uint64 { return st.Panics })
	counter("schedulers_finalized_total", "Schedulers removed after draining.", func(st *ffibridge.Stats) uint64 { return st.SchedulersFinalized })
	counter("round_trips_total", "Blocking round trips started.", func(st *ffibridge.Stats) uint64 { return st.RoundTrips })
	counter("round_trip_timeouts_total", "Round trips that timed out.", func(st *ffibridge.Stats) uint64 { return st.RoundTripTimeouts })
	counter("round_trip_failures_total", "Round trips that ended with an error.", func(st *ffibridge.Stats) uint64 { return st.RoundTripFailures })
	counter("late_unlocks_total", "Completions of round trips that had already ended.", func(st *ffibridge.Stats) uint64 { return st.LateUnlocks })
	counter("stale_callbacks_total", "Deliveries skipped because the receiver was gone.", func(st *ffibridge.Stats) uint64 { return st.StaleCallbacks })
	counter("payloads_copied_total", "Engine payloads copied into owned storage.", func(st *ffibridge.Stats) uint64 { return st.PayloadsCopied })
	counter("payload_bytes_total", "Bytes copied out of engine payloads.", func(st *ffibridge.Stats) uint64 { return st.PayloadBytes })
	counter("log_dispatches_total", "Engine log lines handed to subscribers.", func(st *ffibridge.Stats) uint64 { return st.LogDispatches })
	counter("finalizers_run_total", "Handle finalizers run.", func(st *ffibridge.Stats) uint64 { return st.FinalizersRun })
	counter("handles_scavenged_total", "Collected weak handles released by scavenging.", func(st *ffibridge.Stats) uint64 { return st.HandlesScavenged })

	gauge("schedulers", "Schedulers not yet finalized.", func(st *ffibridge.Stats) float64 { return float64(st.Schedulers) })
	gauge("handles", "Live handles.", func(st *ffibridge.Stats) float64 { return float64(st.Handles) })
	gauge("log_subscribers", "Registered log subscribers.", func(st *ffibridge.Stats) float64 { return float64(st.LogSubscribers) })
	gauge("engine_log_level", "Log level last pushed to the engine.", func(st *ffibridge.Stats) float64 { return float64(st.EngineLogLevel) })

	return c
}

// Describe implements [prometheus.Collector].
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

// Collect implements [prometheus.Collector].
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.source.Stats()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.valueType, m.value(&st))
	}
}
