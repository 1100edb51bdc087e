// Package metrics exports frame loop and scheduler state to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"frametick/internal/eventbus"
	"frametick/internal/host"
)

type Options struct {
	// TickBuckets are histogram buckets in seconds for tick wall time.
	TickBuckets []float64
}

// Exporter implements host.FrameObserver for per-frame timings and turns
// published snapshots into gauges and counters.
type Exporter struct {
	tickSeconds  prom.Histogram
	deltaSeconds prom.Histogram

	frame      prom.Gauge
	active     prom.Gauge
	pending    prom.Gauge
	violations prom.Counter
	panics     prom.Counter
	dropped    prom.Counter

	poolSlots  *prom.GaugeVec
	poolLive   *prom.GaugeVec
	poolFree   *prom.GaugeVec
	poolAllocs *prom.CounterVec
	poolReuses *prom.CounterVec

	mu   sync.Mutex
	last lastSeen
}

// lastSeen holds the cumulative values of the previous snapshot so counters
// only ever grow by deltas.
type lastSeen struct {
	violations, panics, dropped uint64
	allocs, reuses              map[string]uint64
}

var _ host.FrameObserver = (*Exporter)(nil)

func New(namespace string, reg prom.Registerer, opts Options) (*Exporter, error) {
	if namespace == "" {
		namespace = "frametick"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.TickBuckets
	if len(buckets) == 0 {
		buckets = prom.ExponentialBuckets(0.0001, 2, 12) // 100µs .. ~200ms
	}

	gauge := func(name, help string) prom.Gauge {
		return prom.NewGauge(prom.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	counter := func(name, help string) prom.Counter {
		return prom.NewCounter(prom.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	poolGauge := func(name, help string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{Namespace: namespace, Subsystem: "pool", Name: name, Help: help}, []string{"kind"})
	}
	poolCounter := func(name, help string) *prom.CounterVec {
		return prom.NewCounterVec(prom.CounterOpts{Namespace: namespace, Subsystem: "pool", Name: name, Help: help}, []string{"kind"})
	}

	e := &Exporter{
		tickSeconds: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace, Name: "tick_duration_seconds",
			Help: "Wall time spent per frame in posted work and Scheduler.Tick.", Buckets: buckets,
		}),
		deltaSeconds: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace, Name: "frame_delta_seconds",
			Help: "Scaled dt fed to the scheduler.", Buckets: prom.ExponentialBuckets(0.001, 2, 10),
		}),
		frame:      gauge("frame", "Frames ticked by the scheduler."),
		active:     gauge("tasks_active", "Tasks in the active set."),
		pending:    gauge("tasks_pending", "Tasks scheduled during a tick, not yet merged."),
		violations: counter("invariant_violations_total", "Scheduler contract violations."),
		panics:     counter("frame_panics_total", "Panics recovered by the frame loop."),
		dropped:    counter("inbox_dropped_total", "Posts rejected because the frame inbox was full."),
		poolSlots:  poolGauge("slots", "Slots allocated per task kind."),
		poolLive:   poolGauge("live", "Slots holding a live task."),
		poolFree:   poolGauge("free", "Slots parked in the free list."),
		poolAllocs: poolCounter("allocs_total", "Slots created because the free list was empty."),
		poolReuses: poolCounter("reuses_total", "Acquisitions served from the free list."),
		last:       lastSeen{allocs: map[string]uint64{}, reuses: map[string]uint64{}},
	}

	var err error
	if e.tickSeconds, err = registerCollector(reg, e.tickSeconds); err != nil {
		return nil, err
	}
	if e.deltaSeconds, err = registerCollector(reg, e.deltaSeconds); err != nil {
		return nil, err
	}
	for _, g := range []*prom.Gauge{&e.frame, &e.active, &e.pending} {
		if *g, err = registerCollector(reg, *g); err != nil {
			return nil, err
		}
	}
	for _, c := range []*prom.Counter{&e.violations, &e.panics, &e.dropped} {
		if *c, err = registerCollector(reg, *c); err != nil {
			return nil, err
		}
	}
	for _, g := range []**prom.GaugeVec{&e.poolSlots, &e.poolLive, &e.poolFree} {
		if *g, err = registerCollector(reg, *g); err != nil {
			return nil, err
		}
	}
	for _, c := range []**prom.CounterVec{&e.poolAllocs, &e.poolReuses} {
		if *c, err = registerCollector(reg, *c); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// ObserveFrame runs on the frame thread; Prometheus collectors are safe for
// concurrent use.
func (e *Exporter) ObserveFrame(dt float64, took time.Duration) {
	if e == nil {
		return
	}
	e.tickSeconds.Observe(took.Seconds())
	e.deltaSeconds.Observe(dt)
}

// Update applies a published snapshot.
func (e *Exporter) Update(s host.Snapshot) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	sch := s.Scheduler
	e.frame.Set(float64(sch.Frame))
	e.active.Set(float64(sch.Active))
	e.pending.Set(float64(sch.Pending))
	addDelta(e.violations, &e.last.violations, sch.Violations)
	addDelta(e.panics, &e.last.panics, s.Loop.Panics)
	addDelta(e.dropped, &e.last.dropped, s.Loop.Dropped)

	for _, p := range sch.Pools {
		kind := normalizeLabel(p.Kind, "unknown")
		e.poolSlots.WithLabelValues(kind).Set(float64(p.Slots))
		e.poolLive.WithLabelValues(kind).Set(float64(p.Live))
		e.poolFree.WithLabelValues(kind).Set(float64(p.Free))

		prevA, prevR := e.last.allocs[kind], e.last.reuses[kind]
		addDelta(e.poolAllocs.WithLabelValues(kind), &prevA, p.Allocs)
		addDelta(e.poolReuses.WithLabelValues(kind), &prevR, p.Reuses)
		e.last.allocs[kind], e.last.reuses[kind] = prevA, prevR
	}
}

// Run feeds published snapshots into Update until ctx is done.
func (e *Exporter) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(16, host.EventSnapshot)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if s, ok := ev.Data.(host.Snapshot); ok {
				e.Update(s)
			}
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prom.Gatherer) http.Handler {
	if g == nil {
		g = prom.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func addDelta(c prom.Counter, prev *uint64, cur uint64) {
	if cur > *prev {
		c.Add(float64(cur - *prev))
	}
	*prev = cur
}

func normalizeLabel(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}
	var are prom.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	var zero T
	return zero, err
}
