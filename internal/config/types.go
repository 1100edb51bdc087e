package config

// Config is the framehost configuration file.
//
// All durations are Go duration strings ("16ms", "1.5s"). Effect timings are
// converted to seconds of frame time, the unit the task scheduler works in.
type Config struct {
	Logging       LoggingConfig       `json:"logging"`
	Frame         FrameConfig         `json:"frame"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	Effects       EffectsConfig       `json:"effects"`
	Triggers      []TriggerConfig     `json:"triggers,omitempty"`
	Timezone      string              `json:"timezone,omitempty"`
	Storage       *StorageConfig      `json:"storage,omitempty"`
	Observability ObservabilityConfig `json:"observability"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// FrameConfig controls the host frame loop.
//
// Defaults (when fields are omitted/zero):
//   - fps: 60
//   - max_delta: "250ms"
//   - time_scale: 1
//   - snapshot_every: 60 frames
//   - inbox_size: 256
type FrameConfig struct {
	FPS float64 `json:"fps,omitempty"`
	// FixedStep feeds 1/fps to the scheduler instead of measured wall time.
	FixedStep     bool    `json:"fixed_step,omitempty"`
	MaxDelta      string  `json:"max_delta,omitempty"`
	TimeScale     float64 `json:"time_scale,omitempty"`
	SnapshotEvery int     `json:"snapshot_every,omitempty"`
	InboxSize     int     `json:"inbox_size,omitempty"`
	// Watchdog pings systemd from the frame loop when WATCHDOG_USEC is set.
	Watchdog bool `json:"watchdog,omitempty"`
}

// SchedulerConfig mirrors task.Config. Strict is read once at startup.
type SchedulerConfig struct {
	Strict           bool    `json:"strict,omitempty"`
	Prealloc         int     `json:"prealloc,omitempty"`
	ViolationLogRate float64 `json:"violation_log_rate,omitempty"`
}

// EffectsConfig holds the default fade timings for screen effects.
type EffectsConfig struct {
	FadeIn  string `json:"fade_in,omitempty"`  // default "500ms"
	FadeOut string `json:"fade_out,omitempty"` // default "500ms"
	Hold    string `json:"hold,omitempty"`     // default "1s"

	// TitleQueue caps queued titles; the oldest is dropped when full. 0 means 16.
	TitleQueue int   `json:"title_queue,omitempty"`
	ShakeSeed  int64 `json:"shake_seed,omitempty"`
}

// TriggerConfig binds a wall-clock schedule to a named frame action.
//
// Example:
//
//	{ "name": "hourly-banner", "schedule": "0 * * * *", "action": "title", "params": { "text": "tick" } }
type TriggerConfig struct {
	Name     string            `json:"name"`
	Schedule string            `json:"schedule"`
	Action   string            `json:"action"`
	Params   map[string]string `json:"params,omitempty"`
	Disabled bool              `json:"disabled,omitempty"`
}

// StorageConfig controls snapshot persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./framehost.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	Retain      int    `json:"retain,omitempty"`       // sqlite only; 0 keeps all
}

// ObservabilityConfig controls the HTTP side channel: Prometheus metrics,
// the websocket snapshot stream, state dumps and pprof. Nothing listens
// unless Addr is set. A non-loopback Addr needs Token or AllowInsecure.
type ObservabilityConfig struct {
	Addr          string `json:"addr,omitempty"` // e.g. "127.0.0.1:9464"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Metrics       bool   `json:"metrics,omitempty"`
	DebugView     bool   `json:"debug_view,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}
