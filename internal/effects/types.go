// Package effects implements timed presentation effects (screen fades,
// queued titles, quick notices, camera shake) on top of the task scheduler.
// Everything here runs on the frame thread.
package effects

import "math"

type Vec3 struct{ X, Y, Z float64 }

func (v Vec3) Add(o Vec3) Vec3      { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Scale(k float64) Vec3 { return Vec3{v.X * k, v.Y * k, v.Z * k} }

// Lerp moves from v toward o by t, clamped to [0, 1].
func (v Vec3) Lerp(o Vec3, t float64) Vec3 {
	t = clamp01(t)
	return Vec3{v.X + (o.X-v.X)*t, v.Y + (o.Y-v.Y)*t, v.Z + (o.Z-v.Z)*t}
}

// Graphic is anything that can be shown, hidden and faded.
type Graphic interface {
	SetVisible(bool)
	SetAlpha(float64)
}

type Text interface {
	Graphic
	SetText(string)
}

type Notice interface {
	Graphic
	SetContent(icon, text string)
}

type Transform interface {
	Position() Vec3
	SetPosition(Vec3)
}

// ObjectPool hands out reusable visual objects. *pool.Pool satisfies it.
type ObjectPool[T any] interface {
	Get() T
	Put(T)
}

// FadeOptions are in seconds of frame time. A zero FadeIn or FadeOut snaps
// the alpha instead of fading.
type FadeOptions struct {
	FadeIn  float64 `json:"fade_in"`
	FadeOut float64 `json:"fade_out"`
	Hold    float64 `json:"hold"`
}

func DefaultFadeOptions() FadeOptions {
	return FadeOptions{FadeIn: 0.5, FadeOut: 0.5, Hold: 1}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
