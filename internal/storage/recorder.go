package storage

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"frametick/internal/eventbus"
	"frametick/pkg/logx"
)

// Counters is implemented by event payloads that carry scheduler counters.
// Payloads without it are stored with zero counters.
type Counters interface {
	Counters() (frame uint64, active int, violations uint64)
}

// Recorder appends every event of the given types to a store, tagged with
// a run id unique to this process.
type Recorder struct {
	store  Store
	bus    eventbus.Bus
	types  []string
	log    logx.Logger
	runID  string
	buffer int

	appended atomic.Uint64
	failed   atomic.Uint64
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger, types ...string) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{
		store:  store,
		bus:    bus,
		types:  types,
		log:    log.With(logx.String("comp", "recorder")),
		runID:  uuid.NewString(),
		buffer: 64,
	}
}

func (r *Recorder) RunID() string { return r.runID }

// Run records until ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	ch, unsub := r.bus.Subscribe(r.buffer, r.types...)
	defer unsub()
	r.log.Info("recording snapshots", logx.String("run_id", r.runID))
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.Record(ctx, e); err != nil {
				r.log.Warn("snapshot append failed", logx.String("type", e.Type), logx.Err(err))
			}
		}
	}
}

// Record stores a single event.
func (r *Recorder) Record(ctx context.Context, e eventbus.Event) error {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		r.failed.Add(1)
		return err
	}
	rec := Record{RunID: r.runID, At: e.Time, Payload: payload}
	if c, ok := e.Data.(Counters); ok {
		rec.Frame, rec.Active, rec.Violations = c.Counters()
	}
	actx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.store.AppendSnapshot(actx, rec); err != nil {
		r.failed.Add(1)
		return err
	}
	r.appended.Add(1)
	return nil
}

// Stats reports appended and failed record counts.
func (r *Recorder) Stats() (appended, failed uint64) {
	return r.appended.Load(), r.failed.Load()
}
