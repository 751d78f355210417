// Package ossched schedules recordings as POSIX at(1) jobs.
//
// The OS scheduler is the system of record. The adapter keeps only a side
// table of domain id -> at job number, rebuilt from the job bodies by
// Rehydrate (and every List), since job numbers mean nothing to the domain.
package ossched

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"recsched/internal/metrics"
	"recsched/internal/procexec"
	"recsched/internal/recording"
	"recsched/pkg/logx"
)

type Config struct {
	AtPath   string
	AtqPath  string
	AtrmPath string
	// Queue is the at queue letter used for every job.
	Queue string

	CallTimeout     time.Duration
	MaxCallsPerSec  float64
	ListConcurrency int
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.AtPath) == "" {
		c.AtPath = "at"
	}
	if strings.TrimSpace(c.AtqPath) == "" {
		c.AtqPath = "atq"
	}
	if strings.TrimSpace(c.AtrmPath) == "" {
		c.AtrmPath = "atrm"
	}
	if strings.TrimSpace(c.Queue) == "" {
		c.Queue = "a"
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.MaxCallsPerSec <= 0 {
		c.MaxCallsPerSec = 20
	}
	if c.ListConcurrency <= 0 {
		c.ListConcurrency = 4
	}
	return c
}

// Entry is one recognized job together with the intent it carries.
type Entry struct {
	Job    recording.ScheduledJob
	Intent recording.Intent
}

// CorruptEntry is a job carrying our marker whose payload did not decode.
type CorruptEntry struct {
	Handle string
	ID     uuid.UUID // uuid.Nil when the id marker itself was unreadable
	Err    error
}

type ListResult struct {
	// Jobs is sorted by fire time, then id.
	Jobs    []Entry
	Corrupt []CorruptEntry
	// Fired lists ids that were pending before this listing and are gone now.
	Fired []uuid.UUID
}

type slot struct {
	handle string
	epoch  uint64
	gone   bool

	// pending is set while a Schedule, Replace or Cancel owns the slot.
	pending bool
}

type Adapter struct {
	cfg     Config
	runner  procexec.Runner
	log     logx.Logger
	limiter *rate.Limiter
	now     func() time.Time
	loc     *time.Location

	mu    sync.RWMutex
	slots map[uuid.UUID]slot
	epoch uint64
}

type Option func(*Adapter)

// WithClock overrides the clock used to reject past fire times.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLocation sets the zone at(1) interprets -t in. Default time.Local.
func WithLocation(loc *time.Location) Option {
	return func(a *Adapter) {
		if loc != nil {
			a.loc = loc
		}
	}
}

func New(cfg Config, runner procexec.Runner, log logx.Logger, opts ...Option) *Adapter {
	cfg = cfg.withDefaults()
	burst := int(cfg.MaxCallsPerSec)
	if burst < 1 {
		burst = 1
	}
	a := &Adapter{
		cfg:     cfg,
		runner:  runner,
		log:     log.With(logx.String("comp", "ossched")),
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxCallsPerSec), burst),
		now:     time.Now,
		loc:     time.Local,
		slots:   make(map[uuid.UUID]slot),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Schedule submits job to at(1) and records its handle. The returned job
// carries the handle; a later Cancel for the same id observes it. Calls for
// the same id are serialized: while one is in flight, others are rejected.
func (a *Adapter) Schedule(ctx context.Context, job recording.ScheduledJob) (recording.ScheduledJob, error) {
	if err := a.checkJob(job); err != nil {
		return job, err
	}
	r, err := a.reserve(job.ID, false)
	if err != nil {
		return job, err
	}
	handle, err := a.submit(ctx, job)
	if err != nil {
		a.release(r)
		return job, err
	}
	a.settle(r, slot{handle: handle})

	job.Handle = handle
	a.log.Info("recording scheduled",
		logx.String("id", job.ID.String()),
		logx.String("handle", handle),
		logx.Time("fire_at", job.FireAt),
	)
	return job, nil
}

// Replace swaps the pending job for job.ID with job. The new job is
// submitted before the old one is removed, so a replacement that at(1)
// refuses leaves the original job scheduled. Ids with no pending job return
// recording.ErrNotFound.
func (a *Adapter) Replace(ctx context.Context, job recording.ScheduledJob) (recording.ScheduledJob, error) {
	if err := a.checkJob(job); err != nil {
		return job, err
	}
	r, err := a.reserve(job.ID, true)
	if err != nil {
		return job, err
	}
	old := r.prev.handle

	handle, err := a.submit(ctx, job)
	if err != nil {
		a.release(r)
		return job, err
	}
	if err := a.remove(ctx, old); err != nil && !errors.Is(err, recording.ErrNotFound) {
		rbErr := a.remove(ctx, handle)
		if rbErr == nil || errors.Is(rbErr, recording.ErrNotFound) {
			a.release(r)
			return job, fmt.Errorf("replace %s: removing job %s: %w", job.ID, old, err)
		}
		// Both jobs exist now. Track the new one; the old one is orphaned.
		a.log.Error("replaced job could not be removed",
			logx.String("id", job.ID.String()),
			logx.String("old_handle", old),
			logx.String("handle", handle),
			logx.Err(err),
		)
	}
	a.settle(r, slot{handle: handle})

	job.Handle = handle
	a.log.Info("recording replaced",
		logx.String("id", job.ID.String()),
		logx.String("old_handle", old),
		logx.String("handle", handle),
		logx.Time("fire_at", job.FireAt),
	)
	return job, nil
}

// Cancel removes the job for id. Unknown ids, and jobs at(1) no longer
// knows (already fired), return recording.ErrNotFound.
func (a *Adapter) Cancel(ctx context.Context, id uuid.UUID) error {
	r, err := a.reserve(id, true)
	if err != nil {
		return err
	}
	handle := r.prev.handle

	err = a.remove(ctx, handle)
	switch {
	case errors.Is(err, recording.ErrNotFound):
		a.settle(r, slot{handle: handle, gone: true})
		return fmt.Errorf("%w: job %s for %s already gone", recording.ErrNotFound, handle, id)
	case err != nil:
		a.release(r)
		return err
	}
	a.settle(r, slot{handle: handle, gone: true})
	a.log.Info("recording canceled", logx.String("id", id.String()), logx.String("handle", handle))
	return nil
}

func (a *Adapter) checkJob(job recording.ScheduledJob) error {
	if job.ID == uuid.Nil {
		return fmt.Errorf("%w: job id is required", recording.ErrValidation)
	}
	if strings.TrimSpace(job.Command) == "" {
		return fmt.Errorf("%w: job command is required", recording.ErrValidation)
	}
	if now := a.now(); !job.FireAt.After(now) {
		return fmt.Errorf("%w: fire time %s is not in the future", recording.ErrSchedulingRejected, job.FireAt.Format(time.RFC3339))
	}
	return nil
}

// submit runs at(1) for job and returns the new job number.
func (a *Adapter) submit(ctx context.Context, job recording.ScheduledJob) (string, error) {
	res, err := a.call(ctx, "submit", procexec.Command{
		Name:  a.cfg.AtPath,
		Args:  []string{"-q", a.cfg.Queue, "-t", formatAtTime(job.FireAt, a.loc)},
		Stdin: renderScript(job),
	})
	if err != nil {
		return "", err
	}
	out := res.Output()
	if res.ExitCode != 0 {
		return "", exitError("at", res.ExitCode, out)
	}
	handle, ok := parseSubmitHandle(out)
	if !ok {
		return "", fmt.Errorf("%w: no job number in at output %q", recording.ErrSchedulerUnavailable, out)
	}
	return handle, nil
}

// remove runs atrm for handle. A job atrm does not know is
// recording.ErrNotFound.
func (a *Adapter) remove(ctx context.Context, handle string) error {
	res, err := a.call(ctx, "remove", procexec.Command{Name: a.cfg.AtrmPath, Args: []string{handle}})
	if err != nil {
		return err
	}
	out := res.Output()
	switch {
	case res.ExitCode != 0 && looksInfra(out):
		return exitError("atrm", res.ExitCode, out)
	case looksNotFound(out):
		return fmt.Errorf("%w: job %s", recording.ErrNotFound, handle)
	case res.ExitCode != 0:
		return exitError("atrm", res.ExitCode, out)
	}
	return nil
}

// exitError maps a failed at/atrm exit. Spool, lock and permission
// failures are the scheduler being unusable; anything else is a refusal of
// this particular request.
func exitError(tool string, code int, out string) error {
	if looksInfra(out) {
		return fmt.Errorf("%w: %s exited %d: %s", recording.ErrSchedulerUnavailable, tool, code, out)
	}
	return fmt.Errorf("%w: %s exited %d: %s", recording.ErrSchedulingRejected, tool, code, out)
}

// Handle returns the known at job number for id.
func (a *Adapter) Handle(id uuid.UUID) (string, bool) { return a.lookup(id) }

// Pending returns the number of ids in the side table that map to a job.
func (a *Adapter) Pending() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := 0
	for _, s := range a.slots {
		if !s.gone && s.handle != "" {
			n++
		}
	}
	return n
}

// List enumerates our jobs from atq and the job bodies. Corrupt payloads
// are isolated in ListResult.Corrupt; jobs that disappear between atq and
// `at -c` are skipped. The side table is reconciled afterwards.
func (a *Adapter) List(ctx context.Context) (ListResult, error) {
	a.mu.RLock()
	start := a.epoch
	a.mu.RUnlock()

	res, err := a.call(ctx, "list", procexec.Command{Name: a.cfg.AtqPath, Args: []string{"-q", a.cfg.Queue}})
	if err != nil {
		return ListResult{}, err
	}
	if res.ExitCode != 0 {
		return ListResult{}, fmt.Errorf("%w: atq exited %d: %s", recording.ErrSchedulerUnavailable, res.ExitCode, res.Output())
	}
	queued := parseAtq(string(res.Stdout), a.cfg.Queue)

	type fetched struct {
		entry   *Entry
		corrupt *CorruptEntry
	}
	results := make([]fetched, len(queued))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.ListConcurrency)
	for i, q := range queued {
		g.Go(func() error {
			r, err := a.call(gctx, "show", procexec.Command{Name: a.cfg.AtPath, Args: []string{"-c", q.Handle}})
			if err != nil {
				return err
			}
			if r.ExitCode != 0 {
				a.log.Debug("job vanished during listing", logx.String("handle", q.Handle), logx.String("output", r.Output()))
				return nil
			}
			p := parseScript(string(r.Stdout))
			if !p.hasMarker {
				return nil
			}
			if p.payloadErr != nil {
				results[i].corrupt = &CorruptEntry{Handle: q.Handle, ID: p.ID, Err: p.payloadErr}
				return nil
			}
			job := recording.ScheduledJob{ID: p.ID, Handle: q.Handle, Command: p.Command, Payload: p.Payload}
			in, err := recording.FromTask(job)
			if err != nil {
				results[i].corrupt = &CorruptEntry{Handle: q.Handle, ID: p.ID, Err: err}
				return nil
			}
			job.Name = in.Name
			job.FireAt = in.Start
			results[i].entry = &Entry{Job: job, Intent: in}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ListResult{}, err
	}

	var out ListResult
	seen := make(map[uuid.UUID]struct{}, len(results))
	for _, r := range results {
		switch {
		case r.corrupt != nil:
			a.log.Warn("skipping corrupt job",
				logx.String("handle", r.corrupt.Handle),
				logx.String("id", r.corrupt.ID.String()),
				logx.Err(r.corrupt.Err),
			)
			out.Corrupt = append(out.Corrupt, *r.corrupt)
		case r.entry != nil:
			if _, dup := seen[r.entry.Job.ID]; dup {
				a.log.Warn("duplicate job for recording",
					logx.String("id", r.entry.Job.ID.String()),
					logx.String("handle", r.entry.Job.Handle),
				)
				continue
			}
			seen[r.entry.Job.ID] = struct{}{}
			out.Jobs = append(out.Jobs, *r.entry)
		}
	}
	slices.SortFunc(out.Jobs, func(x, y Entry) int {
		if c := x.Job.FireAt.Compare(y.Job.FireAt); c != 0 {
			return c
		}
		return cmp.Compare(x.Job.ID.String(), y.Job.ID.String())
	})

	out.Fired = a.reconcile(start, out.Jobs)
	metrics.AddCorruptPayloads(len(out.Corrupt))
	metrics.SetPendingRecordings(len(out.Jobs))
	return out, nil
}

// Rehydrate rebuilds the side table from the OS scheduler and returns the
// number of recordings recovered.
func (a *Adapter) Rehydrate(ctx context.Context) (int, error) {
	res, err := a.List(ctx)
	if err != nil {
		return 0, err
	}
	a.log.Info("side table rehydrated",
		logx.Int("recordings", len(res.Jobs)),
		logx.Int("corrupt", len(res.Corrupt)),
	)
	return len(res.Jobs), nil
}

// reconcile replaces the side table with the listing taken after epoch
// start. Slots mutated after start, or with a call in flight, were not
// visible to the listing and are left alone.
func (a *Adapter) reconcile(start uint64, jobs []Entry) []uuid.UUID {
	listed := make(map[uuid.UUID]string, len(jobs))
	for _, e := range jobs {
		listed[e.Job.ID] = e.Job.Handle
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var fired []uuid.UUID
	for id, s := range a.slots {
		if s.epoch > start || s.pending {
			continue
		}
		if _, ok := listed[id]; !ok {
			if !s.gone {
				fired = append(fired, id)
			}
			delete(a.slots, id)
		}
	}
	for id, h := range listed {
		if s, ok := a.slots[id]; ok && (s.epoch > start || s.pending) {
			continue
		}
		a.slots[id] = slot{handle: h, epoch: start}
	}
	slices.SortFunc(fired, func(x, y uuid.UUID) int { return cmp.Compare(x.String(), y.String()) })
	return fired
}

func (a *Adapter) lookup(id uuid.UUID) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.slots[id]
	if !ok || s.gone || s.handle == "" {
		return "", false
	}
	return s.handle, true
}

// reservation marks a slot as owned by one in-flight Schedule, Replace or
// Cancel. prev is what the slot held before.
type reservation struct {
	id    uuid.UUID
	prev  slot
	had   bool
	epoch uint64
}

// reserve claims id for one mutating call. existing selects whether the id
// must already map to a pending job (Replace, Cancel) or must not (Schedule).
func (a *Adapter) reserve(id uuid.UUID, existing bool) (reservation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.slots[id]
	switch {
	case ok && s.pending:
		return reservation{}, fmt.Errorf("%w: recording %s has a scheduler call in flight", recording.ErrSchedulingRejected, id)
	case existing && (!ok || s.gone):
		return reservation{}, fmt.Errorf("%w: %s", recording.ErrNotFound, id)
	case !existing && ok && !s.gone:
		return reservation{}, fmt.Errorf("%w: recording %s already scheduled as job %s", recording.ErrSchedulingRejected, id, s.handle)
	}
	a.epoch++
	r := reservation{id: id, prev: s, had: ok, epoch: a.epoch}
	held := slot{epoch: a.epoch, pending: true}
	if existing {
		held.handle = s.handle
	}
	a.slots[id] = held
	return r, nil
}

// settle ends r by storing s.
func (a *Adapter) settle(r reservation, s slot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cur, ok := a.slots[r.id]; !ok || !cur.pending || cur.epoch != r.epoch {
		return
	}
	a.epoch++
	s.epoch = a.epoch
	s.pending = false
	a.slots[r.id] = s
}

// release ends r by restoring what the slot held before.
func (a *Adapter) release(r reservation) {
	if !r.had {
		a.mu.Lock()
		defer a.mu.Unlock()
		if cur, ok := a.slots[r.id]; ok && cur.pending && cur.epoch == r.epoch {
			delete(a.slots, r.id)
		}
		return
	}
	a.settle(r, r.prev)
}

// call runs one OS tool invocation under the rate limiter and call timeout,
// mapping process-level failures onto the recording error taxonomy.
func (a *Adapter) call(ctx context.Context, op string, cmd procexec.Command) (procexec.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	started := time.Now()
	if err := a.limiter.Wait(ctx); err != nil {
		metrics.ObserveSchedulerCall(op, "timeout", time.Since(started))
		return procexec.Result{}, fmt.Errorf("%w: %s: waiting for rate limiter: %w", recording.ErrSchedulerTimeout, op, err)
	}

	res, err := a.runner.Run(ctx, cmd)
	err = classify(op, cmd, err)
	metrics.ObserveSchedulerCall(op, recording.Outcome(err), time.Since(started))
	if err != nil {
		a.log.Debug("scheduler call failed", logx.String("op", op), logx.String("cmd", cmd.Name), logx.Err(err))
	}
	return res, err
}

func classify(op string, cmd procexec.Command, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %s: %w", recording.ErrSchedulerTimeout, op, err)
	case errors.Is(err, procexec.ErrNotFound), errors.Is(err, procexec.ErrStart):
		return fmt.Errorf("%w: %s: %w", recording.ErrSchedulerUnavailable, op, err)
	default:
		return fmt.Errorf("%w: %s %s: %w", recording.ErrSchedulerUnavailable, op, cmd.Name, err)
	}
}
