// Package recorder is the recording orchestrator: it validates intents,
// turns them into OS scheduler jobs and reverses that on cancel. It is the
// API the CLI and any outer surface consume.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"recsched/internal/catalog"
	"recsched/internal/eventbus"
	"recsched/internal/metrics"
	"recsched/internal/ossched"
	"recsched/internal/recording"
	"recsched/pkg/logx"
)

// Scheduler is the OS scheduler adapter surface the orchestrator needs.
type Scheduler interface {
	Schedule(ctx context.Context, job recording.ScheduledJob) (recording.ScheduledJob, error)
	// Replace swaps the pending job for job.ID. On error the previous job
	// stays scheduled; with no previous job it returns recording.ErrNotFound.
	Replace(ctx context.Context, job recording.ScheduledJob) (recording.ScheduledJob, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) (ossched.ListResult, error)
}

// Channels provides the current channel catalog.
type Channels interface {
	Current() *catalog.Catalog
}

// CancelOutcome is the benign result of a cancel.
type CancelOutcome int

const (
	// Canceled means the pending job was removed.
	Canceled CancelOutcome = iota
	// AlreadyCompleted means no pending job exists: it fired, was canceled
	// before, or was never scheduled.
	AlreadyCompleted
)

func (o CancelOutcome) String() string {
	if o == AlreadyCompleted {
		return "already_completed"
	}
	return "canceled"
}

// Listing is the pending recordings at one point in time.
type Listing struct {
	Intents []recording.Intent
	Jobs    []recording.ScheduledJob
	// Corrupt counts our jobs whose payload could not be decoded.
	Corrupt int
	// Fired are ids pending at the previous listing and gone now.
	Fired []uuid.UUID
}

// Capture holds the process-wide capture defaults. It is swapped whole on
// config reload.
type Capture struct {
	Binary   string
	Defaults recording.CaptureSettings
}

type Service struct {
	sched    Scheduler
	channels Channels
	bus      eventbus.Bus
	log      logx.Logger
	capture  atomic.Pointer[Capture]
}

type Option func(*Service)

func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

func WithChannels(c Channels) Option { return func(s *Service) { s.channels = c } }

func New(sched Scheduler, capture Capture, log logx.Logger, opts ...Option) *Service {
	s := &Service{sched: sched, log: log.With(logx.String("comp", "recorder"))}
	s.capture.Store(&capture)
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetCapture replaces the capture defaults used by later schedules.
// Jobs already in the OS scheduler keep the command they were created with.
func (s *Service) SetCapture(c Capture) { s.capture.Store(&c) }

// NewIntent returns an intent with a fresh id.
func (s *Service) NewIntent() recording.Intent { return recording.NewIntent() }

// ScheduleRecording validates in, synthesizes its command and submits it.
// A missing channel name is filled in from the catalog.
func (s *Service) ScheduleRecording(ctx context.Context, in recording.Intent) (recording.ScheduledJob, error) {
	job, err := s.schedule(ctx, in)
	metrics.RecordRecording("schedule", recording.Outcome(err))
	return job, err
}

func (s *Service) schedule(ctx context.Context, in recording.Intent) (recording.ScheduledJob, error) {
	return s.submit(ctx, in, s.sched.Schedule)
}

type submitFunc func(context.Context, recording.ScheduledJob) (recording.ScheduledJob, error)

func (s *Service) submit(ctx context.Context, in recording.Intent, fn submitFunc) (recording.ScheduledJob, error) {
	if err := in.Validate(); err != nil {
		return recording.ScheduledJob{}, err
	}
	in = s.resolveChannel(in)

	c := s.capture.Load()
	job, err := recording.ToTask(in, c.Defaults, recording.TaskOptions{Binary: c.Binary})
	if err != nil {
		return recording.ScheduledJob{}, err
	}
	job, err = fn(ctx, job)
	if errors.Is(err, recording.ErrNotFound) {
		return recording.ScheduledJob{}, err
	}
	if err != nil {
		s.log.Warn("schedule failed",
			logx.String("id", in.ID.String()),
			logx.Bool("retryable", recording.IsRetryable(err)),
			logx.Err(err),
		)
		return recording.ScheduledJob{}, err
	}
	s.publish(eventbus.RecordingScheduled, eventbus.RecordingData{
		ID:      in.ID.String(),
		Name:    in.Name,
		Handle:  job.Handle,
		Channel: in.ChannelName,
		FireAt:  job.FireAt.Format(time.RFC3339),
		Outcome: "ok",
	})
	return job, nil
}

func (s *Service) resolveChannel(in recording.Intent) recording.Intent {
	if strings.TrimSpace(in.ChannelName) != "" || s.channels == nil {
		return in
	}
	if e, ok := s.channels.Current().Lookup(in.ChannelURI); ok {
		in.ChannelName = e.Name
	}
	return in
}

// CancelRecording removes the pending job for id. A job that is not
// pending is reported as AlreadyCompleted, not as an error.
func (s *Service) CancelRecording(ctx context.Context, id uuid.UUID) (CancelOutcome, error) {
	out, err := s.cancel(ctx, id)
	label := recording.Outcome(err)
	if err == nil && out == AlreadyCompleted {
		label = "not_found"
	}
	metrics.RecordRecording("cancel", label)
	return out, err
}

func (s *Service) cancel(ctx context.Context, id uuid.UUID) (CancelOutcome, error) {
	if id == uuid.Nil {
		return 0, fmt.Errorf("%w: id is required", recording.ErrValidation)
	}
	err := s.sched.Cancel(ctx, id)
	switch {
	case errors.Is(err, recording.ErrNotFound):
		s.log.Debug("cancel: recording not pending", logx.String("id", id.String()))
		return AlreadyCompleted, nil
	case err != nil:
		return 0, err
	}
	s.publish(eventbus.RecordingCanceled, eventbus.RecordingData{ID: id.String(), Outcome: "ok"})
	return Canceled, nil
}

// UpdateRecording replaces the pending recording with in (same id). If the
// old job already fired, in is scheduled as a new job. When the new job
// cannot be scheduled the old one is left in place.
func (s *Service) UpdateRecording(ctx context.Context, in recording.Intent) (recording.ScheduledJob, error) {
	job, err := s.update(ctx, in)
	metrics.RecordRecording("update", recording.Outcome(err))
	return job, err
}

func (s *Service) update(ctx context.Context, in recording.Intent) (recording.ScheduledJob, error) {
	job, err := s.submit(ctx, in, s.sched.Replace)
	if errors.Is(err, recording.ErrNotFound) {
		s.log.Debug("update: recording not pending, scheduling anew", logx.String("id", in.ID.String()))
		return s.schedule(ctx, in)
	}
	return job, err
}

// ListScheduledRecordings returns the pending recordings in fire order.
// Corrupt jobs are counted and skipped; ids that left the queue since the
// previous listing are published as recording.fired.
func (s *Service) ListScheduledRecordings(ctx context.Context) (Listing, error) {
	res, err := s.sched.List(ctx)
	if err != nil {
		return Listing{}, err
	}
	l := Listing{Corrupt: len(res.Corrupt), Fired: res.Fired}
	for _, e := range res.Jobs {
		l.Intents = append(l.Intents, e.Intent)
		l.Jobs = append(l.Jobs, e.Job)
	}
	for _, id := range res.Fired {
		s.publish(eventbus.RecordingFired, eventbus.RecordingData{ID: id.String(), Outcome: "fired"})
	}
	return l, nil
}

// Resync refreshes the side table from the OS scheduler.
func (s *Service) Resync(ctx context.Context) error {
	l, err := s.ListScheduledRecordings(ctx)
	if err != nil {
		return err
	}
	s.log.Debug("resync done",
		logx.Int("pending", len(l.Intents)),
		logx.Int("fired", len(l.Fired)),
		logx.Int("corrupt", l.Corrupt),
	)
	return nil
}

// CurrentChannels returns the current catalog; never nil.
func (s *Service) CurrentChannels() *catalog.Catalog {
	if s.channels == nil {
		return catalog.Empty()
	}
	return s.channels.Current()
}

func (s *Service) publish(typ string, data eventbus.RecordingData) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
