package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"frametick/internal/config"
	"frametick/internal/effects"
	"frametick/internal/storage"
	"frametick/internal/trigger"
)

func TestMapEffectsConfig(t *testing.T) {
	got, err := mapEffectsConfig(&config.Config{})
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if diff := cmp.Diff(effects.DefaultFadeOptions(), got.Defaults); diff != "" {
		t.Fatalf("defaults (-want +got):\n%s", diff)
	}

	got, err = mapEffectsConfig(&config.Config{Effects: config.EffectsConfig{FadeIn: "0s", Hold: "2s", TitleQueue: 4}})
	if err != nil {
		t.Fatalf("explicit: %v", err)
	}
	want := effects.Config{Defaults: effects.FadeOptions{FadeIn: 0, FadeOut: 0.5, Hold: 2}, TitleQueue: 4}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("explicit (-want +got):\n%s", diff)
	}

	if _, err := mapEffectsConfig(&config.Config{Effects: config.EffectsConfig{FadeOut: "soon"}}); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestMapStorageConfig(t *testing.T) {
	tests := []struct {
		name    string
		in      *config.StorageConfig
		want    storage.Config
		enabled bool
		wantErr bool
	}{
		{name: "absent"},
		{name: "none", in: &config.StorageConfig{Driver: "none"}},
		{name: "file", in: &config.StorageConfig{Driver: "File", Path: " ./snap "}, want: storage.Config{Driver: "file", Path: "./snap"}, enabled: true},
		{name: "sqlite default busy", in: &config.StorageConfig{Driver: "sqlite", Path: "x.db", Retain: 10},
			want: storage.Config{Driver: "sqlite", Path: "x.db", BusyTimeout: time.Second, Retain: 10}, enabled: true},
		{name: "sqlite no path", in: &config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "unknown", in: &config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, enabled, err := mapStorageConfig(&config.Config{Storage: tt.in})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if enabled != tt.enabled {
				t.Fatalf("enabled=%v want %v", enabled, tt.enabled)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestMapTriggerConfigSkipsDisabled(t *testing.T) {
	cfg := &config.Config{
		Timezone: " UTC ",
		Triggers: []config.TriggerConfig{
			{Name: "a", Schedule: "@every 1m", Action: "fade"},
			{Name: "b", Schedule: "@every 1m", Action: "fade", Disabled: true},
		},
	}
	want := trigger.Config{
		Timezone:    "UTC",
		Definitions: []trigger.Definition{{Name: "a", Schedule: "@every 1m", Action: "fade"}},
	}
	if diff := cmp.Diff(want, mapTriggerConfig(cfg)); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestMapObservabilityConfig(t *testing.T) {
	if _, enabled := mapObservabilityConfig(&config.Config{Observability: config.ObservabilityConfig{Addr: "127.0.0.1:0"}}); enabled {
		t.Fatal("addr alone should not enable the server")
	}
	oc, enabled := mapObservabilityConfig(&config.Config{Observability: config.ObservabilityConfig{Addr: "127.0.0.1:0", Pprof: true, Token: " t "}})
	if !enabled || !oc.Pprof || oc.Token != "t" {
		t.Fatalf("got %+v enabled=%v", oc, enabled)
	}
}

func TestFadeParams(t *testing.T) {
	def := effects.FadeOptions{FadeIn: 1, FadeOut: 1, Hold: 1}
	got, err := fadeParams(map[string]string{"fade_in": "250ms", "hold": "0s"}, def)
	if err != nil {
		t.Fatalf("fadeParams: %v", err)
	}
	if diff := cmp.Diff(effects.FadeOptions{FadeIn: 0.25, FadeOut: 1, Hold: 0}, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	for _, bad := range []map[string]string{{"fade_out": "-1s"}, {"hold": "later"}} {
		if _, err := fadeParams(bad, def); err == nil {
			t.Fatalf("expected error for %v", bad)
		}
	}
	if _, err := paramFloat(map[string]string{"x": "abc"}, "x", 0); err == nil {
		t.Fatal("expected paramFloat error")
	}
}

const testConfig = `
logging:
  level: error
frame:
  fps: 240
  snapshot_every: 1
scheduler:
  prealloc: 2
effects:
  fade_in: 10ms
  fade_out: 10ms
  hold: 10ms
triggers:
  - name: banner
    schedule: "@every 1h"
    action: title
    params:
      text: hello
  - name: bad
    schedule: "@every 1h"
    action: shake
    params:
      magnitude: lots
storage:
  driver: file
  path: %s
`

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAppRunsFramesTriggersAndRecords(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "framehost.yaml")
	body := []byte(fmtConfig(filepath.Join(dir, "snap")))
	if err := os.WriteFile(cfgPath, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	a, err := NewApp(cfgPath)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := a.triggers.Fire("banner"); err != nil {
		t.Fatalf("Fire banner: %v", err)
	}
	if err := a.triggers.Fire("bad"); err != nil {
		t.Fatalf("Fire bad: %v", err)
	}

	waitFor(t, "frames, snapshot and records", func() bool {
		st := a.State()
		return st.Loop.Frames > 5 && st.Snapshot != nil && st.Recorder != nil && st.Recorder.Appended > 0
	})
	waitFor(t, "trigger counters", func() bool {
		counts := map[string][2]uint64{}
		for _, e := range a.State().Triggers.Entries {
			counts[e.Name] = [2]uint64{e.Fired, e.Failed}
		}
		return counts["banner"] == [2]uint64{1, 0} && counts["bad"] == [2]uint64{1, 1}
	})

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := a.Err(); err != nil {
		t.Fatalf("supervisor error: %v", err)
	}
}

func fmtConfig(snapPath string) string {
	return fmt.Sprintf(testConfig, snapPath)
}
