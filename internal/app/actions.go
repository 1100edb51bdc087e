package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"frametick/internal/effects"
	"frametick/internal/scene"
	"frametick/internal/trigger"
)

// Trigger action names accepted in config.
const (
	ActionTitle       = "title"
	ActionFade        = "fade"
	ActionQuick       = "quick"
	ActionClearTitles = "clear_titles"
	ActionShake       = "shake"
	ActionFocus       = "focus"
)

// registerActions binds trigger actions to the scene. Actions run on the
// frame thread because the trigger service posts them through the loop.
func registerActions(t *trigger.Service, screen *effects.Screen, camera *effects.Camera) {
	t.Register(ActionTitle, func(p map[string]string) error {
		text := strings.TrimSpace(p["text"])
		if text == "" {
			return fmt.Errorf("title: text is required")
		}
		opts, err := fadeParams(p, screen.Defaults())
		if err != nil {
			return err
		}
		screen.Title(text, opts)
		return nil
	})
	t.Register(ActionFade, func(p map[string]string) error {
		opts, err := fadeParams(p, screen.Defaults())
		if err != nil {
			return err
		}
		screen.Fade(opts)
		return nil
	})
	t.Register(ActionQuick, func(p map[string]string) error {
		opts, err := fadeParams(p, screen.Defaults())
		if err != nil {
			return err
		}
		screen.Quick(p["icon"], p["text"], opts)
		return nil
	})
	t.Register(ActionClearTitles, func(map[string]string) error {
		screen.ClearTitles()
		return nil
	})
	t.Register(ActionShake, func(p map[string]string) error {
		d, err := paramSeconds(p, "duration", 0.5)
		if err != nil {
			return err
		}
		mag, err := paramFloat(p, "magnitude", 0.2)
		if err != nil {
			return err
		}
		camera.Shake(d, mag)
		return nil
	})
	t.Register(ActionFocus, func(p map[string]string) error {
		d, err := paramSeconds(p, "duration", 1)
		if err != nil {
			return err
		}
		var pos effects.Vec3
		for _, c := range []struct {
			key string
			dst *float64
		}{{"x", &pos.X}, {"y", &pos.Y}, {"z", &pos.Z}} {
			if *c.dst, err = paramFloat(p, c.key, 0); err != nil {
				return err
			}
		}
		name := p["name"]
		if name == "" {
			name = "focus"
		}
		camera.SwitchTarget(d, scene.NewBody(name, pos))
		return nil
	})
}

// fadeParams overrides def with fade_in, fade_out and hold durations.
func fadeParams(p map[string]string, def effects.FadeOptions) (effects.FadeOptions, error) {
	var err error
	if def.FadeIn, err = paramSeconds(p, "fade_in", def.FadeIn); err != nil {
		return def, err
	}
	if def.FadeOut, err = paramSeconds(p, "fade_out", def.FadeOut); err != nil {
		return def, err
	}
	if def.Hold, err = paramSeconds(p, "hold", def.Hold); err != nil {
		return def, err
	}
	return def, nil
}

func paramSeconds(p map[string]string, key string, def float64) (float64, error) {
	raw := strings.TrimSpace(p[key])
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("param %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("param %s: must be >= 0", key)
	}
	return d.Seconds(), nil
}

func paramFloat(p map[string]string, key string, def float64) (float64, error) {
	raw := strings.TrimSpace(p[key])
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("param %s: %w", key, err)
	}
	return v, nil
}
