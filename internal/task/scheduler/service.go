package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"recsched/internal/metrics"
	"recsched/pkg/logx"
)

// ErrSkipped is returned by Trigger when the job is already running.
var ErrSkipped = errors.New("scheduler: job already running")

// ErrUnknownJob is returned for names that were never added.
var ErrUnknownJob = errors.New("scheduler: unknown job")

// Job is one periodic maintenance task.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

type jobDef struct {
	job     Job
	spec    ParsedSpec
	entryID cron.EntryID
	running atomic.Bool

	mu      sync.Mutex
	lastRun time.Time
	lastDur time.Duration
	lastErr string
	runs    uint64
	skipped uint64
}

type Service struct {
	mu   sync.Mutex
	log  logx.Logger
	loc  *time.Location
	c    *cron.Cron
	ctx  context.Context
	defs []*jobDef
}

// New returns a stopped service. timezone is an IANA name; empty means local.
func New(log logx.Logger, timezone string) (*Service, error) {
	loc := time.Local
	if tz := strings.TrimSpace(timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("scheduler timezone %q: %w", tz, err)
		}
		loc = l
	}
	return &Service{log: log.With(logx.String("comp", "maintenance")), loc: loc, ctx: context.Background()}, nil
}

// Add registers job, replacing any job with the same name.
func (s *Service) Add(job Job) error {
	if strings.TrimSpace(job.Name) == "" {
		return errors.New("scheduler: job name required")
	}
	if job.Run == nil {
		return fmt.Errorf("scheduler: job %s has no run func", job.Name)
	}
	if err := Validate(job.Schedule); err != nil {
		return fmt.Errorf("scheduler: job %s: %w", job.Name, err)
	}
	ps, _ := ParseSchedule(job.Schedule)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(job.Name)
	d := &jobDef{job: job, spec: ps}
	s.defs = append(s.defs, d)
	if s.c != nil {
		s.registerLocked(d)
	}
	return nil
}

// Remove unregisters a job. A run in flight finishes.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	i := slices.IndexFunc(s.defs, func(d *jobDef) bool { return d.job.Name == name })
	if i < 0 {
		return false
	}
	if s.c != nil && s.defs[i].entryID != 0 {
		s.c.Remove(s.defs[i].entryID)
	}
	s.defs = slices.Delete(s.defs, i, i+1)
	return true
}

// Start begins triggering. Runs use ctx as their parent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.c = cron.New(
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cronLogger{log: s.log})),
	)
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.defs)))
}

// Stop stops triggering and waits for running jobs until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
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

func (s *Service) registerLocked(d *jobDef) {
	var sched cron.Schedule
	switch d.spec.Kind {
	case SpecInterval:
		var jitter time.Duration
		sched, jitter = intervalWithSpread(d.spec.Every, time.Now().In(s.loc), d.job.Name)
		s.log.Debug("interval job registered", logx.String("job", d.job.Name), logx.Duration("every", d.spec.Every), logx.Duration("spread", jitter))
	default:
		parsed, err := specParser.Parse(d.spec.Cron)
		if err != nil {
			// Add validated the expression already.
			s.log.Error("cron job register failed", logx.String("job", d.job.Name), logx.Err(err))
			return
		}
		sched = parsed
		s.log.Debug("cron job registered", logx.String("job", d.job.Name), logx.String("spec", d.spec.Cron))
	}
	ctx := s.ctx
	d.entryID = s.c.Schedule(sched, cron.FuncJob(func() {
		_ = s.run(ctx, d)
	}))
}

// Trigger runs the named job now, in the caller's goroutine.
func (s *Service) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	i := slices.IndexFunc(s.defs, func(d *jobDef) bool { return d.job.Name == name })
	var d *jobDef
	if i >= 0 {
		d = s.defs[i]
	}
	s.mu.Unlock()
	if d == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, d)
}

func (s *Service) run(ctx context.Context, d *jobDef) error {
	name := d.job.Name
	if !d.running.CompareAndSwap(false, true) {
		d.mu.Lock()
		d.skipped++
		d.mu.Unlock()
		metrics.RecordMaintenanceRun(name, "skipped")
		s.log.Debug("job skipped; previous run still in flight", logx.String("job", name))
		return ErrSkipped
	}
	defer d.running.Store(false)

	if d.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.job.Timeout)
		defer cancel()
	}
	start := time.Now()
	err := d.job.Run(ctx)
	took := time.Since(start)

	d.mu.Lock()
	d.runs++
	d.lastRun = start
	d.lastDur = took
	d.lastErr = ""
	if err != nil {
		d.lastErr = err.Error()
	}
	d.mu.Unlock()

	if err != nil {
		metrics.RecordMaintenanceRun(name, "error")
		s.log.Warn("job failed", logx.String("job", name), logx.Duration("took", took), logx.Err(err))
		return err
	}
	metrics.RecordMaintenanceRun(name, "ok")
	s.log.Debug("job done", logx.String("job", name), logx.Duration("took", took))
	return nil
}

// JobInfo is a point-in-time view of one job.
type JobInfo struct {
	Name     string        `json:"name"`
	Schedule string        `json:"schedule"`
	Next     time.Time     `json:"next,omitzero"`
	LastRun  time.Time     `json:"last_run,omitzero"`
	LastDur  time.Duration `json:"last_duration"`
	LastErr  string        `json:"last_error,omitempty"`
	Runs     uint64        `json:"runs"`
	Skipped  uint64        `json:"skipped"`
	Running  bool          `json:"running"`
}

// Snapshot lists jobs in registration order.
func (s *Service) Snapshot() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := JobInfo{Name: d.job.Name, Schedule: d.spec.String(), Running: d.running.Load()}
		if s.c != nil && d.entryID != 0 {
			it.Next = s.c.Entry(d.entryID).Next
		}
		d.mu.Lock()
		it.LastRun, it.LastDur, it.LastErr = d.lastRun, d.lastDur, d.lastErr
		it.Runs, it.Skipped = d.runs, d.skipped
		d.mu.Unlock()
		out = append(out, it)
	}
	return out
}

// cronLogger adapts logx to cron.Logger for panic recovery.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
