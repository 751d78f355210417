package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"recsched/internal/catalog/m3u"
	"recsched/internal/eventbus"
	"recsched/internal/metrics"
	"recsched/pkg/logx"
)

// Opener returns a reader over a playlist source.
type Opener func(ctx context.Context, source string) (io.ReadCloser, error)

type Manager struct {
	log          logx.Logger
	bus          eventbus.Bus
	open         Opener
	fetchTimeout time.Duration
	now          func() time.Time

	cur atomic.Pointer[Catalog]

	// loadMu serializes loads so swaps never interleave.
	loadMu     sync.Mutex
	lastSource string
}

type Option func(*Manager)

func WithBus(b eventbus.Bus) Option { return func(m *Manager) { m.bus = b } }

func WithOpener(o Opener) Option {
	return func(m *Manager) {
		if o != nil {
			m.open = o
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		m.open = func(ctx context.Context, source string) (io.ReadCloser, error) {
			return m3u.Open(ctx, source, c)
		}
	}
}

// WithFetchTimeout bounds one load. Zero means no extra bound.
func WithFetchTimeout(d time.Duration) Option { return func(m *Manager) { m.fetchTimeout = d } }

func NewManager(log logx.Logger, opts ...Option) *Manager {
	m := &Manager{
		log: log.With(logx.String("comp", "catalog")),
		open: func(ctx context.Context, source string) (io.ReadCloser, error) {
			return m3u.Open(ctx, source, nil)
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cur.Store(empty)
	return m
}

// Current returns the live snapshot. It is never nil.
func (m *Manager) Current() *Catalog { return m.cur.Load() }

// Lookup resolves a stream URI against the live snapshot.
func (m *Manager) Lookup(uri string) (ChannelEntry, bool) { return m.Current().Lookup(uri) }

// LookupName resolves a channel name against the live snapshot.
func (m *Manager) LookupName(name string) (ChannelEntry, bool) { return m.Current().LookupName(name) }

// Load parses source and swaps it in. On failure the previous catalog stays.
func (m *Manager) Load(ctx context.Context, source string) error {
	source = strings.TrimSpace(source)

	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	c, err := m.parse(ctx, source)
	if err != nil {
		result := "error"
		switch {
		case errors.Is(err, ErrSourceNotFound):
			result = "not_found"
		case errors.Is(err, ErrMalformedSource):
			result = "malformed"
		}
		metrics.RecordCatalogReload(result, 0)
		m.publish(eventbus.CatalogReloadFailed, eventbus.CatalogData{Source: source, Error: err.Error()})
		m.log.Warn("catalog reload failed; keeping previous catalog",
			logx.String("source", source),
			logx.Int("current_channels", m.Current().Len()),
			logx.Err(err),
		)
		return err
	}

	m.cur.Store(c)
	m.lastSource = source
	metrics.RecordCatalogReload("success", c.Len())
	m.publish(eventbus.CatalogReloaded, eventbus.CatalogData{Source: source, Channels: c.Len()})
	m.log.Info("catalog loaded", logx.String("source", source), logx.Int("channels", c.Len()))
	return nil
}

// Refresh reloads the source of the current catalog. A source that failed
// to load is never refreshed.
func (m *Manager) Refresh(ctx context.Context) error {
	m.loadMu.Lock()
	source := m.lastSource
	m.loadMu.Unlock()
	if source == "" {
		return nil
	}
	return m.Load(ctx, source)
}

func (m *Manager) parse(ctx context.Context, source string) (*Catalog, error) {
	if m.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.fetchTimeout)
		defer cancel()
	}

	rc, err := m.open(ctx, source)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var entries []ChannelEntry
	for e, err := range m3u.Parse(rc) {
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s has no channels", ErrMalformedSource, source)
	}
	return newCatalog(source, m.now(), entries), nil
}

// Run reloads on every source received from sources until ctx is done or
// sources is closed. Only this goroutine performs reactive loads, so they
// never overlap; a burst received during a load collapses to its latest
// value.
func (m *Manager) Run(ctx context.Context, sources <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case src, ok := <-sources:
			if !ok {
				return
			}
			src, open := latest(sources, src)
			_ = m.Load(ctx, src)
			if !open {
				return
			}
		}
	}
}

// latest drains whatever is already queued and returns the newest value.
func latest(sources <-chan string, cur string) (string, bool) {
	for {
		select {
		case s, ok := <-sources:
			if !ok {
				return cur, false
			}
			cur = s
		default:
			return cur, true
		}
	}
}

// Offer delivers source on ch without blocking. When ch is full the oldest
// pending value is discarded so the newest always gets through.
func Offer(ch chan string, source string) {
	if cap(ch) == 0 {
		select {
		case ch <- source:
		default:
		}
		return
	}
	for {
		select {
		case ch <- source:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (m *Manager) publish(typ string, data eventbus.CatalogData) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
