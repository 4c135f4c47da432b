package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "dispatchbot/pkg/logx"
)

type Config struct {
	// Timezone for cron specs (IANA name). Empty means Local.
	Timezone string
}

type JobFunc func(ctx context.Context) error

type job struct {
	name    string
	spec    string
	timeout time.Duration
	run     JobFunc
	entryID cron.EntryID

	running atomic.Bool
	runs    atomic.Uint64
	skipped atomic.Uint64

	mu      sync.Mutex
	lastErr error
	lastDur time.Duration
}

// JobInfo is a point-in-time view of one job.
type JobInfo struct {
	Name     string
	Spec     string
	Next     time.Time
	Prev     time.Time
	Runs     uint64
	Skipped  uint64
	Running  bool
	LastErr  string
	LastTook time.Duration
}

type Service struct {
	mu   sync.Mutex
	log  logx.Logger
	cfg  Config
	loc  *time.Location
	c    *cron.Cron
	jobs map[string]*job

	// base is the Start context; job contexts derive from it.
	base context.Context
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, jobs: map[string]*job{}, base: context.Background()}
}

// Apply swaps the config. A timezone change re-registers every job.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && changed {
		s.stopCronLocked()
		s.startCronLocked()
	}
}

// Start begins triggering. Jobs added before Start are registered now.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.base = ctx
	s.startCronLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

// Stop halts triggering and waits for running jobs until ctx ends.
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
	s.log.Info("scheduler stopped")
}

func (s *Service) startCronLocked() {
	s.loc = time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			s.loc = loc
		} else {
			s.log.Warn("unknown timezone; using Local", logx.String("tz", tz))
		}
	}
	s.c = cron.New(cron.WithParser(parser), cron.WithLocation(s.loc))
	for _, j := range s.jobs {
		if err := s.registerLocked(j); err != nil {
			s.log.Error("schedule register failed", logx.String("name", j.name), logx.Err(err))
		}
	}
	s.c.Start()
}

func (s *Service) stopCronLocked() {
	if s.c == nil {
		return
	}
	s.c.Stop()
	for _, j := range s.jobs {
		j.entryID = 0
	}
	s.c = nil
}

func (s *Service) registerLocked(j *job) error {
	ps, err := ParseSchedule(j.spec)
	if err != nil {
		return err
	}
	fn := cron.FuncJob(func() { s.runJob(j) })
	switch ps.Kind {
	case SpecInterval:
		j.entryID = s.c.Schedule(intervalWithSpread(ps.Every, time.Now().In(s.loc)), fn)
	default:
		id, err := s.c.AddJob(ps.Cron, fn)
		if err != nil {
			return err
		}
		j.entryID = id
	}
	return nil
}

// Add registers or replaces the job called name.
func (s *Service) Add(name, spec string, timeout time.Duration, fn JobFunc) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if fn == nil {
		return errors.New("job required")
	}
	if err := Validate(spec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	j := &job{name: name, spec: spec, timeout: timeout, run: fn}
	s.jobs[name] = j
	if s.c != nil {
		if err := s.registerLocked(j); err != nil {
			delete(s.jobs, name)
			return err
		}
		s.log.Debug("schedule registered",
			logx.String("name", name),
			logx.String("spec", spec),
			logx.Time("next", s.c.Entry(j.entryID).Next),
		)
	}
	return nil
}

func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	j, ok := s.jobs[name]
	if !ok {
		return false
	}
	if s.c != nil && j.entryID != 0 {
		s.c.Remove(j.entryID)
	}
	delete(s.jobs, name)
	return true
}

// RunNow triggers name immediately, outside its schedule. It still honors
// the no-overlap rule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("schedule %q not found", name)
	}
	s.runJob(j)
	return nil
}

func (s *Service) runJob(j *job) {
	if !j.running.CompareAndSwap(false, true) {
		j.skipped.Add(1)
		s.log.Debug("job still running; skipped", logx.String("name", j.name))
		return
	}
	defer j.running.Store(false)

	s.mu.Lock()
	base := s.base
	s.mu.Unlock()
	ctx := base
	cancel := context.CancelFunc(func() {})
	if j.timeout > 0 {
		ctx, cancel = context.WithTimeout(base, j.timeout)
	}
	defer cancel()

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("job panic", logx.String("name", j.name), logx.String("stack", string(debug.Stack())))
			}
		}()
		return j.run(ctx)
	}()
	took := time.Since(start)
	j.runs.Add(1)

	j.mu.Lock()
	j.lastErr, j.lastDur = err, took
	j.mu.Unlock()

	if err != nil {
		s.log.Warn("job failed", logx.String("name", j.name), logx.Duration("took", took), logx.Err(err))
		return
	}
	s.log.Debug("job done", logx.String("name", j.name), logx.Duration("took", took))
}

// Snapshot lists jobs sorted by name.
func (s *Service) Snapshot() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := JobInfo{
			Name:    j.name,
			Spec:    j.spec,
			Runs:    j.runs.Load(),
			Skipped: j.skipped.Load(),
			Running: j.running.Load(),
		}
		if s.c != nil && j.entryID != 0 {
			e := s.c.Entry(j.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		j.mu.Lock()
		if j.lastErr != nil {
			info.LastErr = j.lastErr.Error()
		}
		info.LastTook = j.lastDur
		j.mu.Unlock()
		out = append(out, info)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}
