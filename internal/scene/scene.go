// Package scene provides headless stand-ins for the renderer's objects. They
// record their state so the host binary can run without a display and tests
// can assert on what an effect did.
package scene

import (
	"math"
	"strconv"

	"frametick/internal/effects"
	"frametick/internal/pool"
	"frametick/pkg/logx"
)

// Sprite is a Graphic, a Text and a Notice.
type Sprite struct {
	name    string
	log     logx.Logger
	visible bool
	alpha   float64
	text    string
	icon    string
}

func NewSprite(name string, log logx.Logger) *Sprite {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sprite{name: name, log: log.With(logx.String("sprite", name))}
}

func (s *Sprite) Name() string   { return s.name }
func (s *Sprite) Visible() bool  { return s.visible }
func (s *Sprite) Alpha() float64 { return s.alpha }
func (s *Sprite) Text() string   { return s.text }
func (s *Sprite) Icon() string   { return s.icon }

func (s *Sprite) SetVisible(v bool) {
	if s.visible == v {
		return
	}
	s.visible = v
	s.log.Trace("visibility", logx.Bool("visible", v))
}

func (s *Sprite) SetAlpha(a float64) {
	if math.IsNaN(a) {
		a = 0
	}
	s.alpha = math.Max(0, math.Min(1, a))
}

func (s *Sprite) SetText(text string) {
	s.text = text
	s.log.Trace("text", logx.String("text", text))
}

func (s *Sprite) SetContent(icon, text string) {
	s.icon = icon
	s.SetText(text)
}

// Body is a Transform.
type Body struct {
	name string
	pos  effects.Vec3
}

func NewBody(name string, pos effects.Vec3) *Body { return &Body{name: name, pos: pos} }

func (b *Body) Name() string               { return b.name }
func (b *Body) Position() effects.Vec3     { return b.pos }
func (b *Body) SetPosition(p effects.Vec3) { b.pos = p }

// NewNoticePool returns a pool of hidden notice sprites. Notices come back
// from the pool reset: hidden, transparent and empty.
func NewNoticePool(log logx.Logger, prealloc int) *pool.Pool[effects.Notice] {
	n := 0
	p := pool.New(func() effects.Notice {
		n++
		return NewSprite("notice-"+strconv.Itoa(n), log)
	}, pool.OnPut(func(v effects.Notice) {
		v.SetVisible(false)
		v.SetAlpha(0)
		v.SetContent("", "")
	}))
	p.Reserve(prealloc)
	return p
}
