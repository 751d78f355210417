package config

import (
	"reflect"
	"sort"
	"strings"

	"recsched/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 20)

	if strings.TrimSpace(oldCfg.DataDir) != strings.TrimSpace(newCfg.DataDir) {
		changed = append(changed, "data_dir")
		attrs = append(attrs, logx.String("data_dir", strings.TrimSpace(newCfg.DataDir)))
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Capture, newCfg.Capture) {
		changed = append(changed, "capture")
		d := newCfg.Capture.Defaults
		attrs = append(attrs,
			logx.String("capture.ffmpeg_path", newCfg.Capture.FFmpegPath),
			logx.String("capture.video_codec", d.VideoCodec),
			logx.String("capture.audio_codec", d.AudioCodec),
			logx.String("capture.format", d.Format()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		s := newCfg.Scheduler
		attrs = append(attrs,
			logx.String("scheduler.queue", s.Queue),
			logx.String("scheduler.call_timeout", strings.TrimSpace(s.CallTimeout)),
			logx.Float64("scheduler.max_calls_per_sec", s.MaxCallsPerSec),
			logx.Int("scheduler.list_concurrency", s.ListConcurrency),
			logx.String("scheduler.resync", strings.TrimSpace(s.Resync)),
			logx.String("scheduler.timezone", strings.TrimSpace(s.Timezone)),
		)
	}

	// Playlist URLs often embed provider credentials; log only whether they changed.
	if !reflect.DeepEqual(oldCfg.Playlist, newCfg.Playlist) {
		changed = append(changed, "playlist")
		attrs = append(attrs,
			logx.Bool("playlist.source_changed", strings.TrimSpace(oldCfg.Playlist.Source) != strings.TrimSpace(newCfg.Playlist.Source)),
			logx.Bool("playlist.remote", isRemote(newCfg.Playlist.Source)),
			logx.String("playlist.refresh", strings.TrimSpace(newCfg.Playlist.Refresh)),
		)
	}

	// Storage (nil means disabled)
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if s := oldCfg.Storage; s != nil {
		oDriver, oBusy, oPathSet = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path) != ""
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nBusy, nPathSet = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Debug server (never log token)
	o, n := oldCfg.DebugServer, newCfg.DebugServer
	oTok, nTok := strings.TrimSpace(o.Token) != "", strings.TrimSpace(n.Token) != ""
	o.Token, n.Token = "", ""
	if oTok != nTok || !reflect.DeepEqual(o, n) {
		changed = append(changed, "debug_server")
		attrs = append(attrs,
			logx.Bool("debug_server.enabled", n.Enabled),
			logx.String("debug_server.addr", strings.TrimSpace(n.Addr)),
			logx.Bool("debug_server.pprof", n.Pprof),
			logx.Bool("debug_server.token_set", nTok),
			logx.Bool("debug_server.allow_insecure", n.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func isRemote(source string) bool {
	s := strings.ToLower(strings.TrimSpace(source))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
