// Package catalog holds the live channel catalog.
//
// A Catalog is an immutable snapshot. The Manager swaps whole snapshots
// through an atomic pointer, so readers never take a lock and never see a
// half-loaded list.
package catalog

import (
	"strings"
	"time"

	"recsched/internal/catalog/m3u"
)

type ChannelEntry = m3u.Entry

var (
	ErrSourceNotFound  = m3u.ErrSourceNotFound
	ErrMalformedSource = m3u.ErrMalformedSource
)

type Catalog struct {
	Source   string
	LoadedAt time.Time

	entries []ChannelEntry
	byURI   map[string]int
	byName  map[string]int
}

var empty = newCatalog("", time.Time{}, nil)

// Empty is the catalog before the first successful load.
func Empty() *Catalog { return empty }

func newCatalog(source string, at time.Time, entries []ChannelEntry) *Catalog {
	c := &Catalog{
		Source:   source,
		LoadedAt: at,
		entries:  entries,
		byURI:    make(map[string]int, len(entries)),
		byName:   make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		if _, ok := c.byURI[e.URI]; !ok {
			c.byURI[e.URI] = i
		}
		key := nameKey(e.Name)
		if _, ok := c.byName[key]; !ok {
			c.byName[key] = i
		}
	}
	return c
}

func nameKey(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Len is the number of entries.
func (c *Catalog) Len() int { return len(c.entries) }

// Entries returns a copy of the ordered entries.
func (c *Catalog) Entries() []ChannelEntry {
	out := make([]ChannelEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Lookup finds the first entry with the given stream URI.
func (c *Catalog) Lookup(uri string) (ChannelEntry, bool) {
	i, ok := c.byURI[strings.TrimSpace(uri)]
	if !ok {
		return ChannelEntry{}, false
	}
	return c.entries[i], true
}

// LookupName finds the first entry whose name matches, ignoring case.
func (c *Catalog) LookupName(name string) (ChannelEntry, bool) {
	i, ok := c.byName[nameKey(name)]
	if !ok {
		return ChannelEntry{}, false
	}
	return c.entries[i], true
}

// Filter returns entries whose name or group contains q, ignoring case.
func (c *Catalog) Filter(q string) []ChannelEntry {
	q = nameKey(q)
	if q == "" {
		return c.Entries()
	}
	var out []ChannelEntry
	for _, e := range c.entries {
		if strings.Contains(strings.ToLower(e.Name), q) || strings.Contains(strings.ToLower(e.Group), q) {
			out = append(out, e)
		}
	}
	return out
}
