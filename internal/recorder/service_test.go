package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"recsched/internal/catalog"
	"recsched/internal/eventbus"
	"recsched/internal/ossched"
	"recsched/internal/recording"
	"recsched/pkg/logx"
)

// fakeScheduler keeps jobs in memory and behaves like the at adapter:
// past fire times are rejected and unknown ids are ErrNotFound.
type fakeScheduler struct {
	mu      sync.Mutex
	now     time.Time
	next    int
	jobs    map[uuid.UUID]recording.ScheduledJob
	corrupt int
	fired   []uuid.UUID
	listErr error
}

func newFakeScheduler(now time.Time) *fakeScheduler {
	return &fakeScheduler{now: now, jobs: map[uuid.UUID]recording.ScheduledJob{}}
}

func (f *fakeScheduler) Schedule(_ context.Context, job recording.ScheduledJob) (recording.ScheduledJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !job.FireAt.After(f.now) {
		return job, fmt.Errorf("%w: past", recording.ErrSchedulingRejected)
	}
	if _, ok := f.jobs[job.ID]; ok {
		return job, fmt.Errorf("%w: duplicate", recording.ErrSchedulingRejected)
	}
	f.next++
	job.Handle = fmt.Sprint(f.next)
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeScheduler) Replace(_ context.Context, job recording.ScheduledJob) (recording.ScheduledJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[job.ID]; !ok {
		return job, fmt.Errorf("%w: %s", recording.ErrNotFound, job.ID)
	}
	if !job.FireAt.After(f.now) {
		return job, fmt.Errorf("%w: past", recording.ErrSchedulingRejected)
	}
	f.next++
	job.Handle = fmt.Sprint(f.next)
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeScheduler) Cancel(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[id]; !ok {
		return fmt.Errorf("%w: %s", recording.ErrNotFound, id)
	}
	delete(f.jobs, id)
	return nil
}

func (f *fakeScheduler) List(context.Context) (ossched.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return ossched.ListResult{}, f.listErr
	}
	var res ossched.ListResult
	for _, job := range f.jobs {
		in, err := recording.FromTask(job)
		if err != nil {
			return res, err
		}
		res.Jobs = append(res.Jobs, ossched.Entry{Job: job, Intent: in})
	}
	for i := 0; i < f.corrupt; i++ {
		res.Corrupt = append(res.Corrupt, ossched.CorruptEntry{Handle: "99", Err: recording.ErrCorruptTaskPayload})
	}
	res.Fired, f.fired = f.fired, nil
	return res, nil
}

// fire simulates at running the job.
func (f *fakeScheduler) fire(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
	f.fired = append(f.fired, id)
}

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const playlist = "#EXTM3U\n#EXTINF:-1 group-title=\"News\",Channel One\nhttp://iptv/1\n"

func newTestService(t *testing.T) (*Service, *fakeScheduler, eventbus.Bus) {
	t.Helper()
	sched := newFakeScheduler(now)
	bus := eventbus.New()
	channels := catalog.NewManager(logx.Nop(), catalog.WithOpener(func(context.Context, string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(playlist)), nil
	}))
	if err := channels.Load(context.Background(), "test.m3u"); err != nil {
		t.Fatal(err)
	}
	svc := New(sched, Capture{Binary: "ffmpeg", Defaults: recording.CaptureSettings{VideoCodec: "copy", AudioCodec: "copy"}},
		logx.Nop(), WithBus(bus), WithChannels(channels))
	return svc, sched, bus
}

func testIntent(svc *Service) recording.Intent {
	in := svc.NewIntent()
	in.Name = "News"
	in.Filename = "/rec/news.mp4"
	in.ChannelURI = "http://iptv/1"
	in.Start = now.Add(time.Hour)
	in.End = now.Add(2 * time.Hour)
	return in
}

func TestScheduleRecordingResolvesChannelAndPublishes(t *testing.T) {
	t.Parallel()
	svc, _, bus := newTestService(t)
	events, unsub := bus.Subscribe(4, eventbus.RecordingScheduled)
	defer unsub()

	in := testIntent(svc)
	job, err := svc.ScheduleRecording(context.Background(), in)
	if err != nil {
		t.Fatalf("ScheduleRecording: %v", err)
	}
	if job.Handle == "" || job.ID != in.ID {
		t.Fatalf("job = %+v", job)
	}
	if !strings.Contains(job.Command, `'-c:v' 'copy'`) {
		t.Fatalf("command does not use defaults: %q", job.Command)
	}

	got, err := recording.FromTask(job)
	if err != nil {
		t.Fatal(err)
	}
	if got.ChannelName != "Channel One" {
		t.Fatalf("ChannelName = %q, want resolved from catalog", got.ChannelName)
	}

	ev := <-events
	data, ok := ev.Data.(eventbus.RecordingData)
	if !ok || data.ID != in.ID.String() || data.Handle != job.Handle {
		t.Fatalf("event = %+v", ev)
	}
}

func TestScheduleRecordingErrors(t *testing.T) {
	t.Parallel()
	svc, sched, _ := newTestService(t)

	bad := testIntent(svc)
	bad.End = bad.Start
	if _, err := svc.ScheduleRecording(context.Background(), bad); !errors.Is(err, recording.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	past := testIntent(svc)
	past.Start = now.Add(-time.Hour)
	past.End = now.Add(time.Hour)
	if _, err := svc.ScheduleRecording(context.Background(), past); !errors.Is(err, recording.ErrSchedulingRejected) {
		t.Fatalf("err = %v, want ErrSchedulingRejected", err)
	}
	if len(sched.jobs) != 0 {
		t.Fatalf("rejected intents left jobs: %d", len(sched.jobs))
	}
}

func TestCancelRecordingOutcomes(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	in := testIntent(svc)
	if _, err := svc.ScheduleRecording(context.Background(), in); err != nil {
		t.Fatal(err)
	}

	out, err := svc.CancelRecording(context.Background(), in.ID)
	if err != nil || out != Canceled {
		t.Fatalf("first cancel = %v, %v", out, err)
	}
	out, err = svc.CancelRecording(context.Background(), in.ID)
	if err != nil || out != AlreadyCompleted {
		t.Fatalf("second cancel = %v, %v", out, err)
	}
	out, err = svc.CancelRecording(context.Background(), uuid.New())
	if err != nil || out != AlreadyCompleted {
		t.Fatalf("never-scheduled cancel = %v, %v", out, err)
	}
	if _, err := svc.CancelRecording(context.Background(), uuid.Nil); !errors.Is(err, recording.ErrValidation) {
		t.Fatalf("nil id cancel err = %v", err)
	}
}

func TestUpdateRecordingReplacesJob(t *testing.T) {
	t.Parallel()
	svc, sched, _ := newTestService(t)
	in := testIntent(svc)
	first, err := svc.ScheduleRecording(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}

	in.Name = "Late News"
	in.End = in.End.Add(30 * time.Minute)
	second, err := svc.UpdateRecording(context.Background(), in)
	if err != nil {
		t.Fatalf("UpdateRecording: %v", err)
	}
	if second.Handle == first.Handle {
		t.Fatal("update kept the old handle")
	}
	if len(sched.jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(sched.jobs))
	}
	got, err := recording.FromTask(sched.jobs[in.ID])
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Late News" || !got.End.Equal(in.End) {
		t.Fatalf("stored intent = %+v", got)
	}
}

func TestUpdateRecordingRejectedKeepsOriginal(t *testing.T) {
	t.Parallel()
	svc, _, bus := newTestService(t)
	in := testIntent(svc)
	first, err := svc.ScheduleRecording(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	canceled, unsub := bus.Subscribe(4, eventbus.RecordingCanceled)
	defer unsub()

	late := in
	late.Start = now.Add(-time.Minute)
	if _, err := svc.UpdateRecording(context.Background(), late); !errors.Is(err, recording.ErrSchedulingRejected) {
		t.Fatalf("err = %v, want ErrSchedulingRejected", err)
	}
	invalid := in
	invalid.End = invalid.Start
	if _, err := svc.UpdateRecording(context.Background(), invalid); !errors.Is(err, recording.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	l, err := svc.ListScheduledRecordings(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(l.Jobs) != 1 || l.Jobs[0].Handle != first.Handle {
		t.Fatalf("pending = %+v, want original job %s", l.Jobs, first.Handle)
	}
	if diff := cmp.Diff(in.Name, l.Intents[0].Name); diff != "" {
		t.Fatalf("intent changed (-want +got):\n%s", diff)
	}
	select {
	case ev := <-canceled:
		t.Fatalf("unexpected cancel event %+v", ev)
	default:
	}
}

func TestUpdateRecordingAfterFireSchedulesAnew(t *testing.T) {
	t.Parallel()
	svc, sched, _ := newTestService(t)
	in := testIntent(svc)
	if _, err := svc.ScheduleRecording(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	sched.fire(in.ID)

	in.Start = in.Start.Add(24 * time.Hour)
	in.End = in.End.Add(24 * time.Hour)
	job, err := svc.UpdateRecording(context.Background(), in)
	if err != nil {
		t.Fatalf("UpdateRecording: %v", err)
	}
	if !job.FireAt.Equal(in.Start) || len(sched.jobs) != 1 {
		t.Fatalf("job = %+v, jobs = %d", job, len(sched.jobs))
	}
}

func TestListScheduledRecordings(t *testing.T) {
	t.Parallel()
	svc, sched, bus := newTestService(t)
	fired, unsub := bus.Subscribe(4, eventbus.RecordingFired)
	defer unsub()

	a, b := testIntent(svc), testIntent(svc)
	for _, in := range []recording.Intent{a, b} {
		if _, err := svc.ScheduleRecording(context.Background(), in); err != nil {
			t.Fatal(err)
		}
	}
	sched.corrupt = 1
	sched.fire(a.ID)

	l, err := svc.ListScheduledRecordings(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(l.Intents) != 1 || l.Intents[0].ID != b.ID || l.Corrupt != 1 {
		t.Fatalf("listing = %+v", l)
	}
	if diff := cmp.Diff([]uuid.UUID{a.ID}, l.Fired); diff != "" {
		t.Fatalf("fired mismatch (-want +got):\n%s", diff)
	}
	ev := <-fired
	if ev.Data.(eventbus.RecordingData).ID != a.ID.String() {
		t.Fatalf("fired event = %+v", ev)
	}

	sched.listErr = fmt.Errorf("%w: atq missing", recording.ErrSchedulerUnavailable)
	if err := svc.Resync(context.Background()); !recording.IsRetryable(err) {
		t.Fatalf("Resync err = %v, want retryable", err)
	}
}

func TestCurrentChannelsAndSetCapture(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	if got := svc.CurrentChannels().Len(); got != 1 {
		t.Fatalf("channels = %d", got)
	}
	if got := New(newFakeScheduler(now), Capture{}, logx.Nop()).CurrentChannels(); got == nil || got.Len() != 0 {
		t.Fatal("service without catalog should report an empty catalog")
	}

	svc.SetCapture(Capture{Binary: "/opt/ffmpeg", Defaults: recording.CaptureSettings{VideoCodec: "libx264"}})
	job, err := svc.ScheduleRecording(context.Background(), testIntent(svc))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(job.Command, `'/opt/ffmpeg' `) || !strings.Contains(job.Command, `'libx264'`) {
		t.Fatalf("command = %q", job.Command)
	}
}
