package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrInvalid = errors.New("invalid config")

// Validate reports every problem in cfg at once, joined under ErrInvalid.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	f := cfg.Frame
	if f.FPS < 0 || math.IsNaN(f.FPS) || math.IsInf(f.FPS, 0) {
		add(fmt.Errorf("frame.fps: must be a finite value >= 0"))
	}
	if f.TimeScale < 0 || math.IsNaN(f.TimeScale) {
		add(fmt.Errorf("frame.time_scale: must be >= 0"))
	}
	if f.SnapshotEvery < 0 {
		add(fmt.Errorf("frame.snapshot_every: must be >= 0"))
	}
	if f.InboxSize < 0 {
		add(fmt.Errorf("frame.inbox_size: must be >= 0"))
	}
	_, err := ParseDurationField("frame.max_delta", f.MaxDelta)
	add(err)

	if cfg.Scheduler.Prealloc < 0 {
		add(fmt.Errorf("scheduler.prealloc: must be >= 0"))
	}
	if cfg.Scheduler.ViolationLogRate < 0 {
		add(fmt.Errorf("scheduler.violation_log_rate: must be >= 0"))
	}

	e := cfg.Effects
	for _, p := range []struct{ path, raw string }{
		{"effects.fade_in", e.FadeIn},
		{"effects.fade_out", e.FadeOut},
		{"effects.hold", e.Hold},
	} {
		_, err := ParseDurationField(p.path, p.raw)
		add(err)
	}
	if e.TitleQueue < 0 {
		add(fmt.Errorf("effects.title_queue: must be >= 0"))
	}

	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("timezone: %w", err))
		}
	}

	seen := make(map[string]struct{}, len(cfg.Triggers))
	for i, t := range cfg.Triggers {
		path := fmt.Sprintf("triggers[%d]", i)
		name := strings.TrimSpace(t.Name)
		if name == "" {
			add(fmt.Errorf("%s.name: required", path))
		} else if _, dup := seen[name]; dup {
			add(fmt.Errorf("%s.name: duplicate trigger %q", path, name))
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(t.Schedule) == "" {
			add(fmt.Errorf("%s.schedule: required", path))
		}
		if strings.TrimSpace(t.Action) == "" {
			add(fmt.Errorf("%s.action: required", path))
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
		if s.Retain < 0 {
			add(fmt.Errorf("storage.retain: must be >= 0"))
		}
	}

	o := cfg.Observability
	if strings.TrimSpace(o.Addr) == "" && (o.Metrics || o.DebugView || o.Pprof) {
		add(fmt.Errorf("observability.addr: required when metrics, debug_view or pprof is enabled"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
