// Package host owns the frame thread: it paces frames, feeds dt to the task
// scheduler and is the only door through which other goroutines reach it.
package host

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"frametick/internal/eventbus"
	"frametick/internal/task"
	"frametick/pkg/logx"
	"frametick/pkg/systemd"
)

// EventSnapshot is published on the bus every Config.SnapshotEvery frames
// with a Snapshot as data.
const EventSnapshot = "frame.snapshot"

const (
	defaultFPS       = 60
	defaultMaxDelta  = 250 * time.Millisecond
	defaultInboxSize = 256
)

type Config struct {
	FPS           float64
	FixedStep     bool
	MaxDelta      time.Duration
	TimeScale     float64
	SnapshotEvery int
	InboxSize     int // read by New only
	Watchdog      bool
}

func (c Config) withDefaults() Config {
	if c.FPS <= 0 {
		c.FPS = defaultFPS
	}
	if c.MaxDelta <= 0 {
		c.MaxDelta = defaultMaxDelta
	}
	if c.TimeScale <= 0 {
		c.TimeScale = 1
	}
	if c.InboxSize <= 0 {
		c.InboxSize = defaultInboxSize
	}
	return c
}

// Scheduler is the frame-driven work the loop advances. *task.Scheduler
// implements it.
type Scheduler interface {
	Tick(dt float64)
	Stats() task.Snapshot
}

// FrameObserver is told about every completed frame, on the frame thread.
type FrameObserver interface {
	ObserveFrame(dt float64, took time.Duration)
}

type Option func(*Loop)

func WithBus(bus eventbus.Bus) Option { return func(l *Loop) { l.bus = bus } }

func WithNotifier(n *systemd.Notifier) Option { return func(l *Loop) { l.notify = n } }

func WithObserver(o FrameObserver) Option {
	return func(l *Loop) { l.observers = append(l.observers, o) }
}

type Loop struct {
	sched     Scheduler
	log       logx.Logger
	bus       eventbus.Bus
	notify    *systemd.Notifier
	observers []FrameObserver

	cfg   atomic.Pointer[Config]
	inbox chan func()

	frames   atomic.Uint64
	panics   atomic.Uint64
	dropped  atomic.Uint64
	lastDT   atomic.Uint64 // math.Float64bits
	lastPing time.Time
}

func New(sched Scheduler, cfg Config, log logx.Logger, opts ...Option) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	l := &Loop{
		sched: sched,
		log:   log.With(logx.String("comp", "host")),
		inbox: make(chan func(), cfg.InboxSize),
	}
	l.cfg.Store(&cfg)
	for _, o := range opts {
		o(l)
	}
	return l
}

// Apply swaps frame settings; Run picks them up on the next frame.
// InboxSize cannot change after New.
func (l *Loop) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	cfg.InboxSize = cap(l.inbox)
	l.cfg.Store(&cfg)
}

func (l *Loop) Config() Config { return *l.cfg.Load() }

// Post queues fn for the frame thread. It never blocks and reports false when
// the inbox is full. Posted functions run at the start of the next frame, in
// order, before the scheduler ticks.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return true
	}
	select {
	case l.inbox <- fn:
		return true
	default:
		l.dropped.Add(1)
		return false
	}
}

// Run drives frames until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	cfg := l.Config()
	lim := rate.NewLimiter(rate.Limit(cfg.FPS), 1)
	l.notify.Ready()
	l.notify.Status(fmt.Sprintf("running at %.0f fps", cfg.FPS))
	defer l.notify.Stopping()
	l.log.Info("frame loop started", logx.Float64("fps", cfg.FPS), logx.Bool("fixed_step", cfg.FixedStep))

	last := time.Now()
	for {
		if err := lim.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				l.log.Info("frame loop stopped", logx.Uint64("frames", l.frames.Load()))
				return nil
			}
			return fmt.Errorf("frame pacing: %w", err)
		}
		cfg = l.Config()
		if lim.Limit() != rate.Limit(cfg.FPS) {
			lim.SetLimit(rate.Limit(cfg.FPS))
		}
		now := time.Now()
		dt := now.Sub(last).Seconds()
		if cfg.FixedStep {
			dt = 1 / cfg.FPS
		}
		last = now
		l.Step(dt)
		l.pingWatchdog(cfg, now)
	}
}

// Step runs one frame with dt seconds of wall time: inbox first, then the
// scheduler. dt is clamped to MaxDelta and scaled by TimeScale.
func (l *Loop) Step(dt float64) {
	cfg := l.Config()
	if dt < 0 || math.IsNaN(dt) {
		dt = 0
	}
	dt = min(dt, cfg.MaxDelta.Seconds()) * cfg.TimeScale

	start := time.Now()
	l.drain()
	l.safely("tick", func() { l.sched.Tick(dt) })
	took := time.Since(start)

	frame := l.frames.Add(1)
	l.lastDT.Store(math.Float64bits(dt))
	for _, o := range l.observers {
		o.ObserveFrame(dt, took)
	}
	if cfg.SnapshotEvery > 0 && frame%uint64(cfg.SnapshotEvery) == 0 && l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: EventSnapshot, Data: l.Snapshot()})
	}
}

// drain runs what was queued when the frame began; functions posted by
// those functions wait for the next frame.
func (l *Loop) drain() {
	for n := len(l.inbox); n > 0; n-- {
		select {
		case fn := <-l.inbox:
			l.safely("inbox", fn)
		default:
			return
		}
	}
}

func (l *Loop) safely(stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.log.Error("frame panic recovered",
				logx.String("stage", stage),
				logx.Any("panic", r),
				logx.Uint64("frame", l.frames.Load()+1),
				logx.Stack(logx.StackTrace(3, 32)),
			)
		}
	}()
	fn()
}

func (l *Loop) pingWatchdog(cfg Config, now time.Time) {
	if !cfg.Watchdog {
		return
	}
	interval := l.notify.WatchdogInterval()
	if interval <= 0 || now.Sub(l.lastPing) < interval/2 {
		return
	}
	l.lastPing = now
	l.notify.Watchdog()
}

type Stats struct {
	Frames   uint64  `json:"frames"`
	Panics   uint64  `json:"panics"`
	Dropped  uint64  `json:"inbox_dropped"`
	InboxLen int     `json:"inbox_len"`
	LastDT   float64 `json:"last_dt"`
	FPS      float64 `json:"fps"`
}

// Snapshot is what the loop publishes on the bus.
type Snapshot struct {
	Time      time.Time     `json:"time"`
	Loop      Stats         `json:"loop"`
	Scheduler task.Snapshot `json:"scheduler"`
}

// Counters lets the snapshot recorder index records without decoding them.
func (s Snapshot) Counters() (frame uint64, active int, violations uint64) {
	return s.Scheduler.Frame, s.Scheduler.Active, s.Scheduler.Violations
}

func (l *Loop) Stats() Stats {
	return Stats{
		Frames:   l.frames.Load(),
		Panics:   l.panics.Load(),
		Dropped:  l.dropped.Load(),
		InboxLen: len(l.inbox),
		LastDT:   math.Float64frombits(l.lastDT.Load()),
		FPS:      l.Config().FPS,
	}
}

// Snapshot reads scheduler state and must run on the frame thread.
func (l *Loop) Snapshot() Snapshot {
	return Snapshot{Time: time.Now(), Loop: l.Stats(), Scheduler: l.sched.Stats()}
}
