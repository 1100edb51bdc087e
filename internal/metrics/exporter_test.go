package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"frametick/internal/eventbus"
	"frametick/internal/host"
	"frametick/internal/pool"
	"frametick/internal/task"
)

func snapshot(frame, violations, panics, allocs uint64, active int) host.Snapshot {
	return host.Snapshot{
		Loop: host.Stats{Frames: frame, Panics: panics},
		Scheduler: task.Snapshot{
			Frame:      frame,
			Active:     active,
			Violations: violations,
			Pools: []task.PoolStats{
				{Kind: "delayed", Slots: int(allocs), Live: active, Stats: pool.Stats{Allocs: allocs, Free: int(allocs) - active}},
			},
		},
	}
}

func TestUpdateSetsGaugesAndCounterDeltas(t *testing.T) {
	reg := prom.NewRegistry()
	e, err := New("ft", reg, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.Update(snapshot(10, 2, 1, 3, 2))
	e.Update(snapshot(20, 5, 1, 4, 1))

	if got := testutil.ToFloat64(e.frame); got != 20 {
		t.Fatalf("frame=%v want 20", got)
	}
	if got := testutil.ToFloat64(e.active); got != 1 {
		t.Fatalf("active=%v want 1", got)
	}
	if got := testutil.ToFloat64(e.violations); got != 5 {
		t.Fatalf("violations=%v want 5", got)
	}
	if got := testutil.ToFloat64(e.panics); got != 1 {
		t.Fatalf("panics=%v want 1", got)
	}
	if got := testutil.ToFloat64(e.poolAllocs.WithLabelValues("delayed")); got != 4 {
		t.Fatalf("allocs=%v want 4", got)
	}
	if got := testutil.ToFloat64(e.poolFree.WithLabelValues("delayed")); got != 3 {
		t.Fatalf("free=%v want 3", got)
	}
}

func TestObserveFrameFeedsHistograms(t *testing.T) {
	reg := prom.NewRegistry()
	e, err := New("ft", reg, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.ObserveFrame(1.0/60, 2*time.Millisecond)
	e.ObserveFrame(1.0/60, 3*time.Millisecond)

	if n := testutil.CollectAndCount(e.tickSeconds); n != 1 {
		t.Fatalf("tick histogram series=%d want 1", n)
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "ft_tick_duration_seconds" {
			if c := mf.GetMetric()[0].GetHistogram().GetSampleCount(); c != 2 {
				t.Fatalf("sample count=%d want 2", c)
			}
			return
		}
	}
	t.Fatal("ft_tick_duration_seconds not gathered")
}

func TestNewTwiceReusesCollectors(t *testing.T) {
	reg := prom.NewRegistry()
	a, err := New("ft", reg, Options{})
	if err != nil {
		t.Fatalf("first New: %v", err)
	}
	b, err := New("ft", reg, Options{})
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	a.frame.Set(7)
	if got := testutil.ToFloat64(b.frame); got != 7 {
		t.Fatalf("shared gauge=%v want 7", got)
	}
}

func TestRunConsumesBusSnapshots(t *testing.T) {
	reg := prom.NewRegistry()
	e, err := New("ft", reg, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, bus) }()

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(e.frame) != 42 {
		if time.Now().After(deadline) {
			t.Fatal("snapshot never applied")
		}
		bus.Publish(eventbus.Event{Type: host.EventSnapshot, Data: snapshot(42, 0, 0, 1, 0)})
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	reg := prom.NewRegistry()
	e, err := New("ft", reg, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.Update(snapshot(3, 0, 0, 1, 1))

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `ft_pool_live{kind="delayed"} 1`) {
		t.Fatalf("exposition missing pool gauge:\n%s", body)
	}
}
