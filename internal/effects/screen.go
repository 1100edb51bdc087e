package effects

import (
	"frametick/internal/task"
	"frametick/pkg/logx"
)

const defaultTitleQueue = 16

type Config struct {
	Defaults FadeOptions
	// TitleQueue caps pending titles; the oldest is dropped when full.
	TitleQueue int
}

type titleRequest struct {
	text string
	opts FadeOptions
}

// Screen owns the full-screen overlay, the title line and the notice pool.
type Screen struct {
	sched   *task.Scheduler
	log     logx.Logger
	overlay Graphic
	title   Text
	notices ObjectPool[Notice]
	cfg     Config

	titles     []titleRequest
	titleScope *task.Scope // nil when no title is showing
	shown      uint64
	dropped    uint64
}

func NewScreen(sched *task.Scheduler, overlay Graphic, title Text, notices ObjectPool[Notice], cfg Config, log logx.Logger) *Screen {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Defaults == (FadeOptions{}) {
		cfg.Defaults = DefaultFadeOptions()
	}
	if cfg.TitleQueue <= 0 {
		cfg.TitleQueue = defaultTitleQueue
	}
	overlay.SetVisible(false)
	title.SetVisible(false)
	return &Screen{
		sched:   sched,
		log:     log.With(logx.String("comp", "screen")),
		overlay: overlay,
		title:   title,
		notices: notices,
		cfg:     cfg,
	}
}

// Apply replaces the defaults used by later effects.
func (sc *Screen) Apply(cfg Config) {
	if cfg.TitleQueue <= 0 {
		cfg.TitleQueue = defaultTitleQueue
	}
	sc.cfg = cfg
}

func (sc *Screen) Defaults() FadeOptions { return sc.cfg.Defaults }

// Fade shows the overlay, fades it in, holds, fades it out and hides it.
// The returned handle can be passed to Scheduler.Cancel.
func (sc *Screen) Fade(opts FadeOptions) task.Handle {
	seq := sc.sched.Sequence(fadeStages(sc.sched.Factory, sc.overlay, opts, nil, nil)...)
	sc.sched.Schedule(seq)
	return seq
}

// Title queues a title. Titles play one at a time in the order requested.
func (sc *Screen) Title(text string, opts FadeOptions) {
	if len(sc.titles) >= sc.cfg.TitleQueue {
		sc.titles = sc.titles[1:]
		sc.dropped++
		sc.log.Debug("title queue full; dropped oldest", logx.Int("queue", len(sc.titles)))
	}
	sc.titles = append(sc.titles, titleRequest{text: text, opts: opts})
	if sc.titleScope == nil {
		sc.nextTitle()
	}
}

// nextTitle starts the head of the queue. It is also the last stage of every
// title, so a busy queue drains one title after another.
func (sc *Screen) nextTitle() {
	if len(sc.titles) == 0 {
		sc.titleScope = nil
		return
	}
	req := sc.titles[0]
	sc.titles[0] = titleRequest{}
	sc.titles = sc.titles[1:]

	scope := sc.sched.NewScope("title")
	sc.titleScope = scope
	sc.shown++
	stages := fadeStages(scope.Factory, sc.title,
		req.opts,
		func() { sc.title.SetText(req.text) },
		func() {
			if sc.titleScope == scope {
				sc.nextTitle()
			}
		},
	)
	scope.ScheduleSequence(stages...)
}

// ClearTitles drops queued titles and cuts the current one short.
func (sc *Screen) ClearTitles() {
	clear(sc.titles)
	sc.titles = sc.titles[:0]
	if sc.titleScope != nil {
		sc.titleScope.Cancel()
		sc.titleScope = nil
	}
	sc.title.SetVisible(false)
	sc.title.SetAlpha(0)
}

// Quick shows a pooled notice once. The notice is hidden and returned to the
// pool when the sequence is released, including when it is cancelled.
func (sc *Screen) Quick(icon, text string, opts FadeOptions) task.Handle {
	n := sc.notices.Get()
	n.SetContent(icon, text)
	seq := sc.sched.Sequence(fadeStages(sc.sched.Factory, n, opts, nil, nil)...)
	sc.sched.OnRelease(seq, func() {
		n.SetVisible(false)
		sc.notices.Put(n)
	})
	sc.sched.Schedule(seq)
	return seq
}

type ScreenStats struct {
	TitlesShown   uint64 `json:"titles_shown"`
	TitlesDropped uint64 `json:"titles_dropped"`
	TitlesQueued  int    `json:"titles_queued"`
	TitleActive   bool   `json:"title_active"`
}

func (sc *Screen) Stats() ScreenStats {
	return ScreenStats{
		TitlesShown:   sc.shown,
		TitlesDropped: sc.dropped,
		TitlesQueued:  len(sc.titles),
		TitleActive:   sc.titleScope != nil,
	}
}

// fadeStages builds show, fade in, hold, fade out, hide. before runs with the
// show stage and after with the hide stage.
func fadeStages(f task.Factory, g Graphic, o FadeOptions, before, after func()) []task.Handle {
	return []task.Handle{
		f.Instant(func() {
			if before != nil {
				before()
			}
			g.SetAlpha(0)
			g.SetVisible(true)
		}),
		fadeTo(f, g, o.FadeIn, false),
		f.Wait(o.Hold),
		fadeTo(f, g, o.FadeOut, true),
		f.Instant(func() {
			g.SetVisible(false)
			if after != nil {
				after()
			}
		}),
	}
}

func fadeTo(f task.Factory, g Graphic, duration float64, out bool) task.Handle {
	alpha := func(p float64) float64 {
		if out {
			return 1 - p
		}
		return p
	}
	if duration <= 0 {
		return f.Instant(func() { g.SetAlpha(alpha(1)) })
	}
	return f.Routine(duration, func(elapsed, d float64) { g.SetAlpha(alpha(clamp01(elapsed / d))) })
}
