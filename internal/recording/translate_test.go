package recording

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

var (
	berlin = time.FixedZone("CET", 3600)
	t0     = time.Date(2026, 5, 4, 21, 15, 0, 0, berlin)
)

func sampleIntent() Intent {
	in := NewIntent()
	in.Name = "News"
	in.Description = "evening \"edition\""
	in.Filename = "/rec/news.mp4"
	in.ChannelURI = "http://host/u/p/219885"
	in.ChannelName = "Das Erste"
	in.Start = t0
	in.End = t0.Add(time.Hour)
	return in
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	override := CaptureSettings{VideoCodec: "libx264", AudioBitrate: "128k", FileType: "mkv"}

	tests := []struct {
		name string
		mod  func(*Intent)
	}{
		{name: "defaults", mod: func(*Intent) {}},
		{name: "override", mod: func(in *Intent) { in.Settings = &override }},
		{name: "utc", mod: func(in *Intent) { in.Start, in.End = in.Start.UTC(), in.End.UTC() }},
		{name: "sub-second window", mod: func(in *Intent) { in.End = in.Start.Add(500 * time.Millisecond) }},
		{name: "unicode", mod: func(in *Intent) { in.Name = "Tagesschau – 20 Uhr"; in.Description = "" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := sampleIntent()
			tt.mod(&in)

			job, err := ToTask(in, CaptureSettings{OutputFormat: "mp4"}, TaskOptions{})
			if err != nil {
				t.Fatalf("ToTask error: %v", err)
			}
			if job.ID != in.ID || job.Name != in.Name || !job.FireAt.Equal(in.Start) {
				t.Fatalf("job header mismatch: %+v", job)
			}

			got, err := FromTask(job)
			if err != nil {
				t.Fatalf("FromTask error: %v", err)
			}
			if diff := cmp.Diff(in, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFromTaskWithoutJobID(t *testing.T) {
	t.Parallel()
	in := sampleIntent()
	job, err := ToTask(in, CaptureSettings{}, TaskOptions{})
	if err != nil {
		t.Fatalf("ToTask error: %v", err)
	}
	job.ID = uuid.Nil

	got, err := FromTask(job)
	if err != nil {
		t.Fatalf("FromTask error: %v", err)
	}
	if got.ID != in.ID {
		t.Fatalf("ID = %s, want %s", got.ID, in.ID)
	}
}

func TestFromTaskCorrupt(t *testing.T) {
	t.Parallel()
	valid, err := ToTask(sampleIntent(), CaptureSettings{}, TaskOptions{})
	if err != nil {
		t.Fatalf("ToTask error: %v", err)
	}

	tests := []struct {
		name string
		job  ScheduledJob
	}{
		{name: "empty", job: ScheduledJob{}},
		{name: "whitespace", job: ScheduledJob{Payload: []byte("  \n")}},
		{name: "not json", job: ScheduledJob{Payload: []byte("{nope")}},
		{name: "wrong version", job: ScheduledJob{Payload: []byte(`{"v":2,"recording":{}}`)}},
		{name: "missing recording", job: ScheduledJob{Payload: []byte(`{"v":1}`)}},
		{name: "invalid intent", job: ScheduledJob{Payload: []byte(`{"v":1,"recording":{"name":"x"}}`)}},
		{name: "id mismatch", job: ScheduledJob{ID: uuid.New(), Payload: valid.Payload}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := FromTask(tt.job)
			if !errors.Is(err, ErrCorruptTaskPayload) {
				t.Fatalf("err = %v, want ErrCorruptTaskPayload", err)
			}
		})
	}
}

func TestToTaskRejectsInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mod  func(*Intent)
		want string
	}{
		{name: "end before start", mod: func(in *Intent) { in.End = in.Start.Add(-time.Minute) }, want: "end must be after start"},
		{name: "end equals start", mod: func(in *Intent) { in.End = in.Start }, want: "end must be after start"},
		{name: "no name", mod: func(in *Intent) { in.Name = " " }, want: "name is required"},
		{name: "no channel", mod: func(in *Intent) { in.ChannelURI = "" }, want: "channel uri is required"},
		{name: "no filename", mod: func(in *Intent) { in.Filename = "" }, want: "filename is required"},
		{name: "nil id", mod: func(in *Intent) { in.ID = uuid.Nil }, want: "id is required"},
		{name: "newline in filename", mod: func(in *Intent) { in.Filename = "/rec/a.mp4\nrm -rf /" }, want: "filename contains control characters"},
		{name: "newline in channel", mod: func(in *Intent) { in.ChannelURI = "http://x/1\n" }, want: "channel uri contains control characters"},
		{name: "line break in settings", mod: func(in *Intent) { in.Settings = &CaptureSettings{VideoCodec: "copy\nx"} }, want: "line break"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := sampleIntent()
			tt.mod(&in)
			_, err := ToTask(in, CaptureSettings{}, TaskOptions{})
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestToTaskUsesOverrideWholesale(t *testing.T) {
	t.Parallel()
	in := sampleIntent()
	in.Settings = &CaptureSettings{AudioCodec: "aac"}

	job, err := ToTask(in, CaptureSettings{VideoCodec: "libx265", OutputFormat: "matroska"}, TaskOptions{Binary: "/opt/ffmpeg"})
	if err != nil {
		t.Fatalf("ToTask error: %v", err)
	}
	for _, want := range []string{"'/opt/ffmpeg'", "'-c:v' 'copy'", "'-c:a' 'aac'", "'-f' 'mp4'"} {
		if !strings.Contains(job.Command, want) {
			t.Fatalf("command %q missing %q", job.Command, want)
		}
	}
}

func TestOutcomeAndRetryable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err       error
		outcome   string
		retryable bool
	}{
		{err: nil, outcome: "ok"},
		{err: ErrValidation, outcome: "validation"},
		{err: errors.Join(errors.New("x"), ErrSchedulerUnavailable), outcome: "unavailable", retryable: true},
		{err: ErrSchedulingRejected, outcome: "rejected"},
		{err: ErrSchedulerTimeout, outcome: "timeout", retryable: true},
		{err: ErrCorruptTaskPayload, outcome: "corrupt"},
		{err: ErrNotFound, outcome: "not_found"},
		{err: errors.New("boom"), outcome: "error"},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.outcome {
			t.Fatalf("Outcome(%v) = %q, want %q", tt.err, got, tt.outcome)
		}
		if got := IsRetryable(tt.err); got != tt.retryable {
			t.Fatalf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.retryable)
		}
	}
}
