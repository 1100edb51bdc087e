package app

import (
	"fmt"
	"strings"
	"time"

	"frametick/internal/config"
	"frametick/internal/effects"
	"frametick/internal/host"
	"frametick/internal/observability"
	"frametick/internal/storage"
	"frametick/internal/task"
	"frametick/internal/trigger"
	"frametick/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapFrameConfig(cfg *config.Config) (host.Config, error) {
	f := cfg.Frame
	maxDelta, err := config.ParseDurationField("frame.max_delta", f.MaxDelta)
	if err != nil {
		return host.Config{}, err
	}
	return host.Config{
		FPS:           f.FPS,
		FixedStep:     f.FixedStep,
		MaxDelta:      maxDelta,
		TimeScale:     f.TimeScale,
		SnapshotEvery: f.SnapshotEvery,
		InboxSize:     f.InboxSize,
		Watchdog:      f.Watchdog,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) task.Config {
	return task.Config{
		Strict:           cfg.Scheduler.Strict,
		Prealloc:         cfg.Scheduler.Prealloc,
		ViolationLogRate: cfg.Scheduler.ViolationLogRate,
	}
}

func mapEffectsConfig(cfg *config.Config) (effects.Config, error) {
	def := effects.DefaultFadeOptions()
	e := cfg.Effects
	fadeIn, err := config.Seconds("effects.fade_in", e.FadeIn, seconds(def.FadeIn))
	if err != nil {
		return effects.Config{}, err
	}
	fadeOut, err := config.Seconds("effects.fade_out", e.FadeOut, seconds(def.FadeOut))
	if err != nil {
		return effects.Config{}, err
	}
	hold, err := config.Seconds("effects.hold", e.Hold, seconds(def.Hold))
	if err != nil {
		return effects.Config{}, err
	}
	return effects.Config{
		Defaults:   effects.FadeOptions{FadeIn: fadeIn, FadeOut: fadeOut, Hold: hold},
		TitleQueue: e.TitleQueue,
	}, nil
}

func mapTriggerConfig(cfg *config.Config) trigger.Config {
	out := trigger.Config{Timezone: strings.TrimSpace(cfg.Timezone)}
	for _, t := range cfg.Triggers {
		if t.Disabled {
			continue
		}
		out.Definitions = append(out.Definitions, trigger.Definition{
			Name:     strings.TrimSpace(t.Name),
			Schedule: t.Schedule,
			Action:   strings.TrimSpace(t.Action),
			Params:   t.Params,
		})
	}
	return out
}

// mapStorageConfig reports enabled=false when storage is absent or "none".
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, Retain: sc.Retain}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapObservabilityConfig reports enabled=false when nothing would be served.
func mapObservabilityConfig(cfg *config.Config) (observability.Config, bool) {
	o := cfg.Observability
	addr := strings.TrimSpace(o.Addr)
	if addr == "" || !(o.Metrics || o.DebugView || o.Pprof) {
		return observability.Config{}, false
	}
	return observability.Config{
		Addr:          addr,
		Token:         strings.TrimSpace(o.Token),
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
		ReadTimeout:   10 * time.Second,
		IdleTimeout:   60 * time.Second,
	}, true
}

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }
