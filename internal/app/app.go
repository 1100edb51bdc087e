// Package app wires the frame host: config, logging, the scheduler and its
// frame loop, scene effects, wall-clock triggers, snapshot storage and the
// HTTP side channel.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"frametick/internal/config"
	"frametick/internal/debugview"
	"frametick/internal/effects"
	"frametick/internal/eventbus"
	"frametick/internal/host"
	"frametick/internal/metrics"
	"frametick/internal/observability"
	"frametick/internal/runtime/supervisor"
	"frametick/internal/scene"
	"frametick/internal/storage"
	"frametick/internal/task"
	"frametick/internal/trigger"
	"frametick/pkg/logx"
	"frametick/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	sched    *task.Scheduler
	loop     *host.Loop
	screen   *effects.Screen
	camera   *effects.Camera
	triggers *trigger.Service

	store    storage.Store
	recorder *storage.Recorder

	reg      *prom.Registry
	exporter *metrics.Exporter
	hub      *debugview.Hub
	http     *observability.Server

	latest atomic.Pointer[host.Snapshot]
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("INFO"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	cfgm.SetLogger(log)
	log = log.With(logx.String("comp", "app"))

	frameCfg, err := mapFrameConfig(cfg)
	if err != nil {
		return nil, err
	}
	effectsCfg, err := mapEffectsConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{cfgm: cfgm, log: log, logs: logSvc, bus: eventbus.New()}

	a.sched = task.New(mapSchedulerConfig(cfg), log.With(logx.String("comp", "task")))

	opts := []host.Option{
		host.WithBus(a.bus),
		host.WithNotifier(systemd.NewNotifier(log.With(logx.String("comp", "systemd")))),
	}
	if oc, enabled := mapObservabilityConfig(cfg); enabled {
		a.http = observability.New(oc, log)
		if cfg.Observability.Metrics {
			a.reg = prom.NewRegistry()
			a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			if a.exporter, err = metrics.New("frametick", a.reg, metrics.Options{}); err != nil {
				return nil, err
			}
			opts = append(opts, host.WithObserver(a.exporter))
		}
		if cfg.Observability.DebugView {
			a.hub = debugview.NewHub(log)
		}
	}
	a.loop = host.New(a.sched, frameCfg, log, opts...)

	overlay := scene.NewSprite("overlay", log)
	title := scene.NewSprite("title", log)
	notices := scene.NewNoticePool(log, cfg.Scheduler.Prealloc)
	a.screen = effects.NewScreen(a.sched, overlay, title, notices, effectsCfg, log.With(logx.String("comp", "effects")))

	seed := cfg.Effects.ShakeSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	a.camera = effects.NewCamera(a.sched, scene.NewBody("camera", effects.Vec3{}), seed)

	a.triggers = trigger.New(a.loop, log.With(logx.String("comp", "trigger")))
	registerActions(a.triggers, a.screen, a.camera)
	if err := a.triggers.Apply(mapTriggerConfig(cfg)); err != nil {
		return nil, err
	}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		a.store = st
		a.recorder = storage.NewRecorder(st, a.bus, log.With(logx.String("comp", "recorder")), host.EventSnapshot)
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("run_id", a.recorder.RunID()))
	}

	if a.http != nil {
		a.mountHTTP()
	}
	return a, nil
}

func (a *App) mountHTTP() {
	if a.reg != nil {
		a.http.Handle("/metrics", metrics.Handler(a.reg))
	}
	if a.hub != nil {
		a.http.Handle("/debug/ws", a.hub)
	}
	a.http.HandleJSON("/debug/state", func() any { return a.State() })
	if a.store != nil {
		a.http.HandleJSON("/debug/recent", func() any {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			recs, err := a.store.Recent(ctx, a.recorder.RunID(), 20)
			if err != nil {
				return map[string]string{"error": err.Error()}
			}
			return recs
		})
	}
}

// State is the /debug/state document.
type State struct {
	Loop       host.Stats         `json:"loop"`
	Snapshot   *host.Snapshot     `json:"snapshot,omitempty"`
	Triggers   trigger.Snapshot   `json:"triggers"`
	Supervisor []supervisor.Stats `json:"supervisor,omitempty"`
	Recorder   *RecorderState     `json:"recorder,omitempty"`
	Viewers    int                `json:"viewers"`
}

type RecorderState struct {
	RunID    string `json:"run_id"`
	Appended uint64 `json:"appended"`
	Failed   uint64 `json:"failed"`
}

// State reads only goroutine-safe views; scheduler data comes from the last
// published snapshot.
func (a *App) State() State {
	st := State{
		Loop:     a.loop.Stats(),
		Snapshot: a.latest.Load(),
		Triggers: a.triggers.Snapshot(),
	}
	if a.sup != nil {
		st.Supervisor = a.sup.Snapshot()
	}
	if a.recorder != nil {
		appended, failed := a.recorder.Stats()
		st.Recorder = &RecorderState{RunID: a.recorder.RunID(), Appended: appended, Failed: failed}
	}
	if a.hub != nil {
		st.Viewers = a.hub.Clients()
	}
	return st
}

// Loop exposes the frame loop, mainly for posting work from tests.
func (a *App) Loop() *host.Loop { return a.loop }

// Done is closed when the app stops on its own, e.g. after a fatal error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.triggers.Start(a.sup.Context())
	a.sup.Go("frame.loop", a.loop.Run)

	if a.recorder != nil {
		a.sup.Go("storage.recorder", a.recorder.Run)
	}
	if a.exporter != nil {
		a.sup.Go("metrics.snapshots", func(c context.Context) error { return a.exporter.Run(c, a.bus) })
	}
	if a.hub != nil {
		a.sup.Go("debugview.hub", func(c context.Context) error { return a.hub.Run(c, a.bus) })
	}
	if a.http != nil {
		a.sup.GoRestart("observability.http", a.http.Serve, supervisor.RestartPolicy{
			MinBackoff: 500 * time.Millisecond,
			MaxBackoff: 10 * time.Second,
		})
	}

	snaps, unsub := a.bus.Subscribe(4, host.EventSnapshot)
	a.sup.Go("snapshot.cache", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-snaps:
				if !ok {
					return nil
				}
				if s, ok := e.Data.(host.Snapshot); ok {
					a.latest.Store(&s)
				}
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a validated config into the running components.
// Scheduler, storage and observability settings are read at startup only.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLoggingConfig(next))

	if fc, err := mapFrameConfig(next); err != nil {
		a.log.Warn("invalid frame config; keeping previous", logx.Err(err))
	} else {
		a.loop.Apply(fc)
	}

	if ec, err := mapEffectsConfig(next); err != nil {
		a.log.Warn("invalid effects config; keeping previous", logx.Err(err))
	} else if !a.loop.Post(func() { a.screen.Apply(ec) }) {
		a.log.Warn("frame inbox full; effects config not applied")
	}

	if err := a.triggers.Apply(mapTriggerConfig(next)); err != nil {
		a.log.Warn("invalid triggers; keeping previous", logx.Err(err))
	}

	for _, s := range sections {
		switch s {
		case "scheduler", "storage", "observability":
			a.log.Warn("config section changed; restart required", logx.String("section", s))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order, bounding each step so one
// stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Triggers first so nothing posts into a stopping loop.
	step("triggers", 2*time.Second, func(c context.Context) error { a.triggers.Stop(c); return nil })
	step("supervisor", 3*time.Second, a.sup.Stop)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.Uint64("frames", a.loop.Stats().Frames))
	if a.logs != nil {
		return a.logs.Close()
	}
	return nil
}
