package trigger

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"frametick/pkg/logx"
)

var (
	ErrUnknownAction  = errors.New("trigger: unknown action")
	ErrUnknownTrigger = errors.New("trigger: unknown trigger")
)

// Poster hands a function to the frame thread. host.Loop implements it.
type Poster interface {
	Post(fn func()) bool
}

// Action runs on the frame thread with the trigger's params.
type Action func(params map[string]string) error

type Definition struct {
	Name     string
	Schedule string
	Action   string
	Params   map[string]string
}

type Config struct {
	Timezone    string
	Definitions []Definition
}

type entry struct {
	def     Definition
	expr    string
	id      cron.EntryID
	fired   atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	poster Poster
	parser cron.Parser

	actions map[string]Action
	cfg     Config
	loc     *time.Location
	c       *cron.Cron
	entries []*entry
}

func New(poster Poster, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log.With(logx.String("comp", "trigger")),
		poster: poster,
		// SecondOptional accepts both 5-field and 6-field (with seconds) specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		actions: map[string]Action{},
		loc:     time.Local,
	}
}

// Register makes an action available to definitions. Register before Apply.
func (s *Service) Register(name string, fn Action) {
	s.mu.Lock()
	s.actions[strings.TrimSpace(name)] = fn
	s.mu.Unlock()
}

// Apply validates cfg and replaces every entry. On error the previous
// entries stay in place.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("trigger: timezone %q: %w", tz, err)
		}
		loc = l
	}
	entries := make([]*entry, 0, len(cfg.Definitions))
	var errs []error
	for _, d := range cfg.Definitions {
		e, err := s.buildLocked(d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entries = append(entries, e)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	tzChanged := loc.String() != s.loc.String()
	s.cfg = cfg
	s.loc = loc
	if s.c == nil {
		s.entries = entries
		return nil
	}
	if tzChanged {
		s.restartLocked(entries)
		return nil
	}
	for _, e := range s.entries {
		s.c.Remove(e.id)
	}
	s.entries = entries
	s.registerLocked()
	return nil
}

func (s *Service) buildLocked(d Definition) (*entry, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return nil, errors.New("trigger: name required")
	}
	if _, ok := s.actions[strings.TrimSpace(d.Action)]; !ok {
		return nil, fmt.Errorf("%s: %w %q", name, ErrUnknownAction, d.Action)
	}
	sch, err := ParseSchedule(d.Schedule)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	expr := sch.Expr()
	if _, err := s.parser.Parse(expr); err != nil {
		return nil, fmt.Errorf("%s: cron %q: %w", name, expr, err)
	}
	d.Name = name
	d.Action = strings.TrimSpace(d.Action)
	d.Params = maps.Clone(d.Params)
	return &entry{def: d, expr: expr}, nil
}

func (s *Service) Start(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	s.registerLocked()
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("triggers", len(s.entries)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped")
}

func (s *Service) restartLocked(entries []*entry) {
	s.c.Stop()
	s.entries = entries
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	s.registerLocked()
	s.c.Start()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()))
}

func (s *Service) registerLocked() {
	for _, e := range s.entries {
		e := e
		id, err := s.c.AddFunc(e.expr, func() { s.post(e) })
		if err != nil {
			s.log.Error("trigger register failed", logx.String("name", e.def.Name), logx.String("spec", e.expr), logx.Err(err))
			continue
		}
		e.id = id
		s.log.Debug("trigger registered", logx.String("name", e.def.Name), logx.String("spec", e.expr), logx.String("action", e.def.Action))
	}
}

// Fire posts a trigger's action immediately, outside its schedule.
func (s *Service) Fire(name string) error {
	s.mu.Lock()
	var found *entry
	for _, e := range s.entries {
		if e.def.Name == name {
			found = e
			break
		}
	}
	s.mu.Unlock()
	if found == nil {
		return fmt.Errorf("%w %q", ErrUnknownTrigger, name)
	}
	s.post(found)
	return nil
}

func (s *Service) post(e *entry) {
	s.mu.Lock()
	fn := s.actions[e.def.Action]
	s.mu.Unlock()
	if fn == nil {
		return
	}
	ok := s.poster.Post(func() {
		e.fired.Add(1)
		if err := fn(e.def.Params); err != nil {
			e.failed.Add(1)
			s.log.Warn("trigger action failed", logx.String("name", e.def.Name), logx.String("action", e.def.Action), logx.Err(err))
		}
	})
	if !ok {
		e.dropped.Add(1)
		s.log.Warn("trigger dropped (frame inbox full)", logx.String("name", e.def.Name))
	}
}

type EntryInfo struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Action  string    `json:"action"`
	Next    time.Time `json:"next"`
	Prev    time.Time `json:"prev"`
	Fired   uint64    `json:"fired"`
	Dropped uint64    `json:"dropped"`
	Failed  uint64    `json:"failed"`
}

type Snapshot struct {
	Running  bool        `json:"running"`
	Timezone string      `json:"timezone"`
	Entries  []EntryInfo `json:"entries"`
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Running: s.c != nil, Timezone: s.loc.String()}
	for _, e := range s.entries {
		info := EntryInfo{
			Name:    e.def.Name,
			Spec:    e.expr,
			Action:  e.def.Action,
			Fired:   e.fired.Load(),
			Dropped: e.dropped.Load(),
			Failed:  e.failed.Load(),
		}
		if s.c != nil {
			ce := s.c.Entry(e.id)
			info.Next, info.Prev = ce.Next, ce.Prev
		}
		snap.Entries = append(snap.Entries, info)
	}
	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].Name < snap.Entries[j].Name })
	return snap
}

// NextRuns previews the next n fire times of a schedule in the service's zone.
func (s *Service) NextRuns(schedule string, n int) ([]time.Time, error) {
	sch, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}
	cs, err := s.parser.Parse(sch.Expr())
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	t := time.Now().In(s.loc)
	s.mu.Unlock()
	out := make([]time.Time, 0, n)
	for range n {
		t = cs.Next(t)
		out = append(out, t)
	}
	return out, nil
}
