// Package app wires the recording engine together: config, logging, the at
// adapter, the channel catalog, the orchestrator and the maintenance jobs.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"recsched/internal/catalog"
	"recsched/internal/config"
	"recsched/internal/eventbus"
	"recsched/internal/observability/debugsrv"
	"recsched/internal/ossched"
	"recsched/internal/procexec"
	"recsched/internal/recorder"
	"recsched/internal/recording"
	rtsup "recsched/internal/runtime/supervisor"
	"recsched/internal/storage"
	"recsched/internal/task/scheduler"
	"recsched/pkg/logx"
)

const (
	jobResync          = "resync"
	jobPlaylistRefresh = "playlist.refresh"

	maintenanceTimeout = 2 * time.Minute
	lockFileName       = "recsched.lock"
)

// ErrLocked is returned by Start when another daemon owns the data dir.
var ErrLocked = errors.New("data dir is locked by another recsched daemon")

type App struct {
	cfgm *config.ConfigManager
	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	store    storage.Store
	adapter  *ossched.Adapter
	channels *catalog.Manager
	rec      *recorder.Service
	maint    *scheduler.Service
	debug    *debugsrv.Service

	lock    *flock.Flock
	sup     *rtsup.Supervisor
	sources chan string
	started time.Time
}

type options struct {
	runner procexec.Runner
	opener catalog.Opener
}

type Option func(*options)

// WithRunner replaces the process runner used for at/atq/atrm.
func WithRunner(r procexec.Runner) Option { return func(o *options) { o.runner = r } }

// WithOpener replaces how playlist sources are opened.
func WithOpener(op catalog.Opener) Option { return func(o *options) { o.opener = op } }

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.runner == nil {
		o.runner = procexec.NewExecRunner()
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logs, log := logx.New(mapLogging(cfg))
	bus := eventbus.New()

	loc, _ := mapLocation(cfg)
	adapter := ossched.New(mapAdapterConfig(cfg), o.runner, log, ossched.WithLocation(loc))

	copts := []catalog.Option{
		catalog.WithBus(bus),
		catalog.WithFetchTimeout(cfg.Playlist.FetchTimeoutOr(defaultFetchTimeout)),
	}
	if o.opener != nil {
		copts = append(copts, catalog.WithOpener(o.opener))
	}
	channels := catalog.NewManager(log, copts...)

	rec := recorder.New(adapter, mapCapture(cfg), log, recorder.WithBus(bus), recorder.WithChannels(channels))

	maint, err := scheduler.New(log, cfg.Scheduler.Timezone)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	var store storage.Store
	if sc, enabled, _ := mapStorageConfig(cfg); enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			_ = logs.Close()
			return nil, err
		}
		store = st
		log.Debug("storage enabled", logx.String("driver", sc.Driver))
	}

	a := &App{
		cfgm:     cfgm,
		logs:     logs,
		log:      log.With(logx.String("comp", "app")),
		bus:      bus,
		store:    store,
		adapter:  adapter,
		channels: channels,
		rec:      rec,
		maint:    maint,
		sources:  make(chan string, 1),
	}
	dcfg, _ := mapDebugConfig(cfg)
	a.debug = debugsrv.New(dcfg, a.status, log)
	return a, nil
}

func (a *App) Recorder() *recorder.Service { return a.rec }
func (a *App) Catalog() *catalog.Manager   { return a.channels }
func (a *App) Logger() logx.Logger         { return a.log }
func (a *App) Config() *config.Config      { return a.cfgm.Get() }

// Store is nil when storage is disabled.
func (a *App) Store() storage.Store { return a.store }

// Rehydrate rebuilds the side table from atq. One-shot commands call it
// before touching pending recordings.
func (a *App) Rehydrate(ctx context.Context) error {
	_, err := a.adapter.Rehydrate(ctx)
	return err
}

// LoadCatalog loads the configured playlist synchronously.
func (a *App) LoadCatalog(ctx context.Context) error {
	src := strings.TrimSpace(a.cfgm.Get().Playlist.Source)
	if src == "" {
		return nil
	}
	return a.channels.Load(ctx, src)
}

// Close releases what New opened. It is for apps that were never started.
func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()

	dir := dataDir(cfg)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	a.lock = flock.New(filepath.Join(dir, lockFileName))
	ok, err := a.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", a.lock.Path(), err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, a.lock.Path())
	}

	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.started = time.Now()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	// An unreachable atd is not fatal; the resync job retries.
	if n, err := a.adapter.Rehydrate(ctx); err != nil {
		a.log.Warn("initial rehydrate failed",
			logx.Bool("retryable", recording.IsRetryable(err)),
			logx.Err(err),
		)
	} else {
		a.log.Debug("initial rehydrate", logx.Int("recordings", n))
	}

	if src := strings.TrimSpace(cfg.Playlist.Source); src != "" {
		catalog.Offer(a.sources, src)
	} else {
		a.log.Warn("playlist.source is empty; channel names will not be resolved")
	}
	a.sup.Go0("catalog.run", func(c context.Context) { a.channels.Run(c, a.sources) })

	if a.store != nil {
		a.sup.Go("audit.sink", func(c context.Context) error {
			return storage.RunAuditSink(c, a.bus, a.store, a.log.With(logx.String("comp", "audit")))
		})
	}

	// debug log of every event
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.applyMaintenance(cfg)
	a.maint.Start(a.sup.Context())

	// A debug server that cannot bind is logged, not fatal.
	_ = a.debug.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("pending", a.adapter.Pending()),
		logx.String("data_dir", dir),
	)
	return nil
}

// applyConfig pushes a validated config into the live components. Sections
// that are only read at startup are reported as needing a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, name := range restartRequired(prev, next) {
		a.log.Warn("config change requires restart to take effect", logx.String("section", name))
	}

	a.logs.Apply(mapLogging(next))
	a.rec.SetCapture(mapCapture(next))
	if dcfg, err := mapDebugConfig(next); err != nil {
		a.log.Warn("invalid debug_server config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(ctx, dcfg)
	}
	a.applyMaintenance(next)

	if src := strings.TrimSpace(next.Playlist.Source); src != strings.TrimSpace(prev.Playlist.Source) && src != "" {
		catalog.Offer(a.sources, src)
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
	a.log.Info("config reloaded", fields...)
}

func restartRequired(prev, next *config.Config) []string {
	var out []string
	if dataDir(prev) != dataDir(next) {
		out = append(out, "data_dir")
	}
	if mapAdapterConfig(prev) != mapAdapterConfig(next) ||
		strings.TrimSpace(prev.Scheduler.Timezone) != strings.TrimSpace(next.Scheduler.Timezone) {
		out = append(out, "scheduler")
	}
	if prev.Playlist.FetchTimeoutOr(defaultFetchTimeout) != next.Playlist.FetchTimeoutOr(defaultFetchTimeout) {
		out = append(out, "playlist.fetch_timeout")
	}
	ps, pon, _ := mapStorageConfig(prev)
	ns, non, _ := mapStorageConfig(next)
	if pon != non || !reflect.DeepEqual(ps, ns) {
		out = append(out, "storage")
	}
	return out
}

// applyMaintenance (re)registers the periodic jobs for cfg.
func (a *App) applyMaintenance(cfg *config.Config) {
	if s := resyncSchedule(cfg); s == "" {
		a.maint.Remove(jobResync)
	} else if err := a.maint.Add(scheduler.Job{
		Name:     jobResync,
		Schedule: s,
		Timeout:  maintenanceTimeout,
		Run:      a.rec.Resync,
	}); err != nil {
		a.log.Warn("resync job not registered", logx.Err(err))
	}

	refresh := a.channels.Refresh
	if src := strings.TrimSpace(cfg.Playlist.Source); src != "" {
		// Retries a source whose startup load failed.
		refresh = func(ctx context.Context) error { return a.channels.Load(ctx, src) }
	}
	if s := strings.TrimSpace(cfg.Playlist.Refresh); s == "" {
		a.maint.Remove(jobPlaylistRefresh)
	} else if err := a.maint.Add(scheduler.Job{
		Name:     jobPlaylistRefresh,
		Schedule: s,
		Timeout:  maintenanceTimeout,
		Run:      refresh,
	}); err != nil {
		a.log.Warn("playlist refresh job not registered", logx.Err(err))
	}
}

// Status is the document served at /status.
type Status struct {
	StartedAt   time.Time           `json:"started_at"`
	Pending     int                 `json:"pending"`
	Catalog     CatalogStatus       `json:"catalog"`
	Maintenance []scheduler.JobInfo `json:"maintenance"`
	Goroutines  rtsup.Counters      `json:"goroutines"`
	BusDropped  uint64              `json:"bus_dropped"`
}

type CatalogStatus struct {
	Channels int       `json:"channels"`
	LoadedAt time.Time `json:"loaded_at,omitzero"`
	Remote   bool      `json:"remote"`
}

func (a *App) status(context.Context) any {
	cur := a.channels.Current()
	st := Status{
		StartedAt:   a.started,
		Pending:     a.adapter.Pending(),
		Maintenance: a.maint.Snapshot(),
		BusDropped:  a.bus.Dropped(),
		Catalog: CatalogStatus{
			Channels: cur.Len(),
			LoadedAt: cur.LoadedAt,
			// the source itself may carry credentials
			Remote: strings.HasPrefix(cur.Source, "http://") || strings.HasPrefix(cur.Source, "https://"),
		},
	}
	if a.sup != nil {
		st.Goroutines = a.sup.Counters()
	}
	slices.SortFunc(st.Maintenance, func(x, y scheduler.JobInfo) int { return strings.Compare(x.Name, y.Name) })
	return st
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				limit = min(limit, max(time.Until(dl), 0))
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("debug_server", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("maintenance", 2*time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })
	// config watch/reload, catalog reloads and the audit sink
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("lock", 0, func(context.Context) error { return a.lock.Unlock() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
