package effects

import (
	"math/rand/v2"

	"frametick/internal/task"
)

// Camera moves a transform: shakes around its resting position and glides
// between targets.
type Camera struct {
	sched *task.Scheduler
	body  Transform
	rng   *rand.Rand

	target Transform
	shake  task.Handle
	rest   Vec3
	glide  task.Handle
}

func NewCamera(sched *task.Scheduler, body Transform, seed int64) *Camera {
	return &Camera{
		sched: sched,
		body:  body,
		rng:   rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)),
	}
}

// Shake jitters the camera for duration seconds with an amplitude that decays
// from magnitude to zero, then puts it back where it was. A new shake
// replaces a running one.
func (c *Camera) Shake(duration, magnitude float64) task.Handle {
	if c.sched.Cancel(c.shake) {
		c.body.SetPosition(c.rest)
	}
	c.rest = c.body.Position()
	rest := c.rest
	jitter := c.sched.Routine(duration, func(elapsed, d float64) {
		amp := magnitude * (1 - clamp01(elapsed/d))
		off := Vec3{c.rng.Float64()*2 - 1, c.rng.Float64()*2 - 1, 0}.Scale(amp)
		c.body.SetPosition(rest.Add(off))
	})
	restore := c.sched.Instant(func() { c.body.SetPosition(rest) })
	c.shake = c.sched.Sequence(jitter, restore)
	c.sched.Schedule(c.shake)
	return c.shake
}

// Shaking reports whether a shake is running.
func (c *Camera) Shaking() bool { return c.sched.Active(c.shake) }

// SwitchTarget glides to target over duration seconds and then follows it.
func (c *Camera) SwitchTarget(duration float64, target Transform) task.Handle {
	c.sched.Cancel(c.glide)
	from := c.body.Position()
	glide := c.sched.Routine(duration, func(elapsed, d float64) {
		c.body.SetPosition(from.Lerp(target.Position(), elapsed/d))
	})
	adopt := c.sched.Instant(func() {
		c.target = target
		c.body.SetPosition(target.Position())
	})
	c.glide = c.sched.Sequence(glide, adopt)
	c.sched.Schedule(c.glide)
	return c.glide
}

// Target is the transform adopted by the last completed SwitchTarget.
func (c *Camera) Target() Transform { return c.target }
