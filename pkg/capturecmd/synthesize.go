package capturecmd

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	DefaultBinary = "ffmpeg"
	DefaultFormat = "mp4"

	passthrough = "copy"
)

// Settings are the capture parameters. Every field is optional.
type Settings struct {
	VideoCodec   string `json:"video_codec,omitempty" yaml:"video_codec,omitempty"`
	AudioCodec   string `json:"audio_codec,omitempty" yaml:"audio_codec,omitempty"`
	VideoBitrate string `json:"video_bitrate,omitempty" yaml:"video_bitrate,omitempty"`
	AudioBitrate string `json:"audio_bitrate,omitempty" yaml:"audio_bitrate,omitempty"`
	Resolution   string `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	FrameRate    string `json:"frame_rate,omitempty" yaml:"frame_rate,omitempty"`
	AspectRatio  string `json:"aspect_ratio,omitempty" yaml:"aspect_ratio,omitempty"`
	OutputFormat string `json:"output_format,omitempty" yaml:"output_format,omitempty"`
	FileType     string `json:"file_type,omitempty" yaml:"file_type,omitempty"`
}

// Format resolves the output container: OutputFormat, else FileType, else mp4.
func (s Settings) Format() string {
	if v := strings.TrimSpace(s.OutputFormat); v != "" {
		return v
	}
	if v := strings.TrimSpace(s.FileType); v != "" {
		return v
	}
	return DefaultFormat
}

// Input is what to capture. Callers validate it (End after Start) first.
type Input struct {
	Binary      string
	SourceURI   string
	Start       time.Time
	End         time.Time
	Title       string
	Description string
	Filename    string
}

// Duration is End-Start truncated to whole seconds.
func (in Input) Duration() time.Duration {
	return in.End.Sub(in.Start).Truncate(time.Second)
}

// Synthesize builds the capture command. It is pure and deterministic.
//
//	<ffmpeg> -hide_banner -nostdin -y -i URI -t SECS
//	  -c:v V -c:a A [-b:v] [-b:a] [-s] [-r] [-aspect]
//	  -metadata title=T -metadata comment=C -f FMT FILE
func Synthesize(in Input, s Settings) Command {
	secs := int64(in.Duration() / time.Second)

	b := NewBuilder(in.Binary).
		WithFlag("-hide_banner").
		WithFlag("-nostdin").
		WithFlag("-y").
		WithStringFlag("-i", in.SourceURI).
		WithStringFlag("-t", strconv.FormatInt(secs, 10))

	b.WithDefaultFlag("-c:v", strings.TrimSpace(s.VideoCodec), passthrough).
		WithDefaultFlag("-c:a", strings.TrimSpace(s.AudioCodec), passthrough).
		WithStringFlag("-b:v", strings.TrimSpace(s.VideoBitrate)).
		WithStringFlag("-b:a", strings.TrimSpace(s.AudioBitrate)).
		WithStringFlag("-s", strings.TrimSpace(s.Resolution)).
		WithStringFlag("-r", strings.TrimSpace(s.FrameRate)).
		WithStringFlag("-aspect", strings.TrimSpace(s.AspectRatio))

	b.WithStringFlag("-metadata", "title="+SanitizeMetadata(in.Title)).
		WithStringFlag("-metadata", "comment="+SanitizeMetadata(in.Description)).
		WithStringFlag("-f", s.Format()).
		WithString(in.Filename)

	return b.Build()
}

// SanitizeMetadata normalizes s to NFC, replaces control characters with
// spaces and collapses runs of whitespace.
func SanitizeMetadata(s string) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
