package config

import (
	"errors"
	"fmt"
	"strings"

	"recsched/pkg/capturecmd"
	"recsched/pkg/logx"
)

type Config struct {
	// DataDir holds the daemon lock file and the default audit store.
	DataDir string `json:"data_dir,omitempty"`

	Logging   LoggingConfig   `json:"logging"`
	Capture   CaptureConfig   `json:"capture"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Playlist  PlaylistConfig  `json:"playlist"`

	Storage     *StorageConfig    `json:"storage,omitempty"`
	DebugServer DebugServerConfig `json:"debug_server,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	// Format is "auto" (default), "pretty" or "json".
	Format string      `json:"format,omitempty"`
	File   LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// CaptureConfig controls command synthesis.
//
// Defaults apply as a whole to recordings without their own settings.
type CaptureConfig struct {
	FFmpegPath string              `json:"ffmpeg_path,omitempty"` // default: "ffmpeg"
	Defaults   capturecmd.Settings `json:"defaults"`
}

// SchedulerConfig controls the at(1) adapter.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - at_path/atq_path/atrm_path: "at", "atq", "atrm"
//   - queue: "a"
//   - call_timeout: "10s"
//   - max_calls_per_sec: 20
//   - list_concurrency: 4
//   - resync: "@every 5m"
type SchedulerConfig struct {
	AtPath   string `json:"at_path,omitempty"`
	AtqPath  string `json:"atq_path,omitempty"`
	AtrmPath string `json:"atrm_path,omitempty"`
	Queue    string `json:"queue,omitempty"`

	CallTimeout     string  `json:"call_timeout,omitempty"`
	MaxCallsPerSec  float64 `json:"max_calls_per_sec,omitempty"`
	ListConcurrency int     `json:"list_concurrency,omitempty"`

	// Resync is a schedule spec (cron, "@every 5m", "10m", "hh:mm") for
	// periodic side-table reconciliation. "off" disables it.
	Resync string `json:"resync,omitempty"`
	// Timezone for cron triggers. Default: local.
	Timezone string `json:"timezone,omitempty"`
}

// PlaylistConfig names the channel catalog source.
//
// Example:
//
//	"playlist": { "source": "http://provider/get.php?type=m3u", "refresh": "@every 6h" }
type PlaylistConfig struct {
	// Source is a local path or an http(s) URL.
	Source       string `json:"source"`
	Refresh      string `json:"refresh,omitempty"`
	FetchTimeout string `json:"fetch_timeout,omitempty"` // default: "30s"
}

// StorageConfig controls the audit log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/audit.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DebugServerConfig controls the optional debug HTTP server (pprof,
// Prometheus metrics, health).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugServerConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	// Pprof mounts the profiling handlers; metrics and health are always served.
	Pprof bool `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

// Validate checks field syntax. Schedules are checked by the caller that
// owns the cron parser.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if !logx.ValidLevel(c.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "auto", "pretty", "json":
	default:
		add(fmt.Errorf("logging.format: must be auto, pretty or json"))
	}

	if q := strings.TrimSpace(c.Scheduler.Queue); q != "" {
		if len(q) != 1 || !isQueueLetter(q[0]) {
			add(fmt.Errorf("scheduler.queue: must be a single letter, got %q", q))
		}
	}
	if c.Scheduler.MaxCallsPerSec < 0 {
		add(fmt.Errorf("scheduler.max_calls_per_sec: must be >= 0"))
	}
	if c.Scheduler.ListConcurrency < 0 {
		add(fmt.Errorf("scheduler.list_concurrency: must be >= 0"))
	}
	_, err := ParseDurationField("scheduler.call_timeout", c.Scheduler.CallTimeout)
	add(err)
	_, err = ParseDurationField("playlist.fetch_timeout", c.Playlist.FetchTimeout)
	add(err)

	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			add(fmt.Errorf("storage.driver: unsupported driver %q", c.Storage.Driver))
		}
		_, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
		add(err)
	}

	for _, f := range []struct{ path, raw string }{
		{"debug_server.read_timeout", c.DebugServer.ReadTimeout},
		{"debug_server.write_timeout", c.DebugServer.WriteTimeout},
		{"debug_server.idle_timeout", c.DebugServer.IdleTimeout},
	} {
		_, err = ParseDurationField(f.path, f.raw)
		add(err)
	}
	return errors.Join(errs...)
}

func isQueueLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
