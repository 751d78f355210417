package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"recsched/internal/config"
	"recsched/internal/observability/debugsrv"
	"recsched/internal/ossched"
	"recsched/internal/recorder"
	"recsched/internal/storage"
	"recsched/internal/task/scheduler"
	"recsched/pkg/logx"
)

const (
	defaultResync       = "@every 5m"
	defaultFetchTimeout = 30 * time.Second
	defaultDataDir      = "./data"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapCapture(cfg *config.Config) recorder.Capture {
	return recorder.Capture{
		Binary:   strings.TrimSpace(cfg.Capture.FFmpegPath),
		Defaults: cfg.Capture.Defaults,
	}
}

func mapAdapterConfig(cfg *config.Config) ossched.Config {
	s := cfg.Scheduler
	return ossched.Config{
		AtPath:          strings.TrimSpace(s.AtPath),
		AtqPath:         strings.TrimSpace(s.AtqPath),
		AtrmPath:        strings.TrimSpace(s.AtrmPath),
		Queue:           strings.TrimSpace(s.Queue),
		CallTimeout:     s.CallTimeoutOr(0),
		MaxCallsPerSec:  s.MaxCallsPerSec,
		ListConcurrency: s.ListConcurrency,
	}
}

func mapLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func dataDir(cfg *config.Config) string {
	if d := strings.TrimSpace(cfg.DataDir); d != "" {
		return d
	}
	return defaultDataDir
}

// resyncSchedule returns "" when resync is disabled.
func resyncSchedule(cfg *config.Config) string {
	s := strings.TrimSpace(cfg.Scheduler.Resync)
	switch strings.ToLower(s) {
	case "":
		return defaultResync
	case "off", "none", "disabled":
		return ""
	}
	return s
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			path = filepath.Join(dataDir(cfg), "audit.jsonl")
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			path = filepath.Join(dataDir(cfg), "audit.db")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapDebugConfig(cfg *config.Config) (debugsrv.Config, error) {
	d := cfg.DebugServer
	rt, err := config.ParseDurationOrDefault("debug_server.read_timeout", d.ReadTimeout, 10*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	// pprof profile/trace stream for up to 30s by default.
	wt, err := config.ParseDurationOrDefault("debug_server.write_timeout", d.WriteTimeout, 60*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("debug_server.idle_timeout", d.IdleTimeout, 60*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	return debugsrv.Config{
		Enabled:              d.Enabled,
		Addr:                 strings.TrimSpace(d.Addr),
		Prefix:               d.Prefix,
		Token:                strings.TrimSpace(d.Token),
		AllowInsecure:        d.AllowInsecure,
		Pprof:                d.Pprof,
		ReadTimeout:          rt,
		WriteTimeout:         wt,
		IdleTimeout:          it,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
	}, nil
}

// validate runs the checks that need packages config cannot import. It is
// used at startup and as the hot-reload validator.
func validate(cfg *config.Config) error {
	var errs []error
	if _, err := mapLocation(cfg); err != nil {
		errs = append(errs, err)
	}
	if s := resyncSchedule(cfg); s != "" {
		if err := scheduler.Validate(s); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.resync: %w", err))
		}
	}
	if s := strings.TrimSpace(cfg.Playlist.Refresh); s != "" {
		if err := scheduler.Validate(s); err != nil {
			errs = append(errs, fmt.Errorf("playlist.refresh: %w", err))
		}
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
