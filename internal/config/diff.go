package config

import (
	"reflect"
	"strings"

	"frametick/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// returns log fields describing the new values of those sections.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Frame != newCfg.Frame {
		changed = append(changed, "frame")
		attrs = append(attrs,
			logx.Float64("frame.fps", newCfg.Frame.FPS),
			logx.Bool("frame.fixed_step", newCfg.Frame.FixedStep),
			logx.Float64("frame.time_scale", newCfg.Frame.TimeScale),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.Bool("scheduler.strict", newCfg.Scheduler.Strict))
	}
	if oldCfg.Effects != newCfg.Effects {
		changed = append(changed, "effects")
	}
	if !reflect.DeepEqual(oldCfg.Triggers, newCfg.Triggers) ||
		strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) {
		changed = append(changed, "triggers")
		attrs = append(attrs,
			logx.Int("triggers.count", len(newCfg.Triggers)),
			logx.String("timezone", strings.TrimSpace(newCfg.Timezone)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if oldCfg.Observability != newCfg.Observability {
		changed = append(changed, "observability")
		attrs = append(attrs, logx.String("observability.addr", newCfg.Observability.Addr))
	}
	return changed, attrs
}
