package capturecmd

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func flagValue(argv []string, flag string) (string, bool) {
	for i := 0; i < len(argv)-1; i++ {
		if argv[i] == flag {
			return argv[i+1], true
		}
	}
	return "", false
}

func TestSynthesizeNewsDefaults(t *testing.T) {
	t.Parallel()
	in := Input{
		Title:     "News",
		SourceURI: "http://host/u/p/219885",
		Start:     t0,
		End:       t0.Add(3600 * time.Second),
		Filename:  "news.mp4",
	}
	cmd := Synthesize(in, Settings{OutputFormat: "mp4"})
	argv := cmd.Argv()

	checks := map[string]string{
		"-t":   "3600",
		"-c:v": "copy",
		"-c:a": "copy",
		"-f":   "mp4",
		"-i":   "http://host/u/p/219885",
	}
	for flag, want := range checks {
		got, ok := flagValue(argv, flag)
		if !ok {
			t.Fatalf("flag %s missing from %v", flag, argv)
		}
		if got != want {
			t.Fatalf("%s = %q, want %q", flag, got, want)
		}
	}
	if argv[0] != DefaultBinary {
		t.Fatalf("argv[0] = %q, want %q", argv[0], DefaultBinary)
	}
	if argv[len(argv)-1] != "news.mp4" {
		t.Fatalf("filename not last: %v", argv)
	}
}

func TestSynthesizeDeterministic(t *testing.T) {
	t.Parallel()
	in := Input{
		Binary:      "/usr/bin/ffmpeg",
		Title:       "Late Show",
		Description: "it's live; rm -rf /",
		SourceURI:   "http://host/u/p/1",
		Start:       t0,
		End:         t0.Add(90*time.Minute + 1500*time.Millisecond),
		Filename:    "/rec/late show.ts",
	}
	s := Settings{VideoCodec: "libx264", VideoBitrate: "2M", FrameRate: "25", FileType: "mpegts"}

	a := Synthesize(in, s)
	b := Synthesize(in, s)
	if a.String() != b.String() {
		t.Fatalf("non-deterministic:\n%s\n%s", a.String(), b.String())
	}
	if diff := cmp.Diff(a.Argv(), b.Argv()); diff != "" {
		t.Fatalf("argv mismatch (-a +b):\n%s", diff)
	}
	if got, _ := flagValue(a.Argv(), "-t"); got != "5401" {
		t.Fatalf("-t = %q, want truncated 5401", got)
	}
}

func TestSynthesizeFlagOrder(t *testing.T) {
	t.Parallel()
	in := Input{Title: "x", SourceURI: "u", Start: t0, End: t0.Add(time.Minute), Filename: "f"}
	s := Settings{
		VideoCodec:   "h264",
		AudioCodec:   "aac",
		VideoBitrate: "3M",
		AudioBitrate: "128k",
		Resolution:   "1280x720",
		FrameRate:    "30",
		AspectRatio:  "16:9",
		OutputFormat: "matroska",
		FileType:     "mp4",
	}
	argv := Synthesize(in, s).Argv()

	order := []string{"-c:v", "-c:a", "-b:v", "-b:a", "-s", "-r", "-aspect", "-metadata", "-f"}
	last := -1
	for _, flag := range order {
		idx := slices.Index(argv, flag)
		if idx < 0 {
			t.Fatalf("flag %s missing from %v", flag, argv)
		}
		if idx <= last {
			t.Fatalf("flag %s out of order in %v", flag, argv)
		}
		last = idx
	}
	if got, _ := flagValue(argv, "-f"); got != "matroska" {
		t.Fatalf("-f = %q, want output format to win over file type", got)
	}
}

func TestSynthesizeOmitsUnsetOptionalFlags(t *testing.T) {
	t.Parallel()
	in := Input{Title: "x", SourceURI: "u", Start: t0, End: t0.Add(time.Minute), Filename: "f"}
	argv := Synthesize(in, Settings{}).Argv()
	for _, flag := range []string{"-b:v", "-b:a", "-s", "-r", "-aspect"} {
		if slices.Contains(argv, flag) {
			t.Fatalf("unexpected %s in %v", flag, argv)
		}
	}
	if got, _ := flagValue(argv, "-f"); got != DefaultFormat {
		t.Fatalf("-f = %q, want fallback %q", got, DefaultFormat)
	}
}

func TestFormatFallback(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		s    Settings
		want string
	}{
		{name: "output format", s: Settings{OutputFormat: "mkv", FileType: "ts"}, want: "mkv"},
		{name: "file type", s: Settings{FileType: "ts"}, want: "ts"},
		{name: "fallback", s: Settings{}, want: "mp4"},
		{name: "blank output format", s: Settings{OutputFormat: "  ", FileType: "ts"}, want: "ts"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.s.Format(); got != tt.want {
				t.Fatalf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMetadataCannotBreakArgumentBoundary(t *testing.T) {
	t.Parallel()
	in := Input{
		Title:       "a'b\" ; echo pwned\n",
		Description: "line1\r\nline2\x00",
		SourceURI:   "u",
		Start:       t0,
		End:         t0.Add(time.Minute),
		Filename:    "f",
	}
	cmd := Synthesize(in, Settings{})
	argv := cmd.Argv()

	want := []string{"title=a'b\" ; echo pwned", "comment=line1 line2"}
	var got []string
	for i, a := range argv {
		if a == "-metadata" {
			got = append(got, argv[i+1])
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("metadata mismatch (-want +got):\n%s", diff)
	}

	s := cmd.String()
	if strings.ContainsAny(s, "\n\r\x00") {
		t.Fatalf("command string contains control characters: %q", s)
	}
	if !strings.Contains(s, `'title=a'\''b" ; echo pwned'`) {
		t.Fatalf("title not quoted as a single token: %s", s)
	}
}

func TestShellQuote(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"":      "''",
		"plain": "'plain'",
		"it's":  `'it'\''s'`,
		"a b":   "'a b'",
	}
	for in, want := range tests {
		if got := ShellQuote(in); got != want {
			t.Fatalf("ShellQuote(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestSanitizeMetadataNormalizesNFC(t *testing.T) {
	t.Parallel()
	// "e" + combining acute accent composes to a single rune.
	if got := SanitizeMetadata("Cafe\u0301  \t news"); got != "Caf\u00e9 news" {
		t.Fatalf("SanitizeMetadata = %q", got)
	}
}
