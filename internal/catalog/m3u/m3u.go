// Package m3u reads extended M3U playlists into channel entries.
package m3u

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"regexp"
	"strings"
)

var (
	ErrSourceNotFound  = errors.New("playlist source not found")
	ErrMalformedSource = errors.New("malformed playlist")
)

const maxLine = 1 << 20

// Entry is one playlist channel.
type Entry struct {
	Name          string
	URI           string
	LogoURI       string
	Group         string
	TvgID         string
	ChannelNumber string
}

var attrRe = regexp.MustCompile(`([A-Za-z0-9_-]+)="([^"]*)"`)

// Parse returns a lazy, single-use sequence over the entries of r. A
// malformed playlist yields one error wrapping ErrMalformedSource and ends
// the sequence.
func Parse(r io.Reader) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLine)

		var (
			lineNo    int
			sawHeader bool
			pending   *Entry
		)
		for sc.Scan() {
			lineNo++
			line := strings.TrimSpace(sc.Text())
			if lineNo == 1 {
				line = strings.TrimPrefix(line, "\ufeff")
			}
			if line == "" {
				continue
			}
			if !sawHeader {
				if !strings.HasPrefix(line, "#EXTM3U") {
					yield(Entry{}, fmt.Errorf("%w: line %d: missing #EXTM3U header", ErrMalformedSource, lineNo))
					return
				}
				sawHeader = true
				continue
			}

			switch {
			case strings.HasPrefix(line, "#EXTINF:"):
				if pending != nil {
					yield(Entry{}, fmt.Errorf("%w: line %d: #EXTINF for %q has no uri", ErrMalformedSource, lineNo, pending.Name))
					return
				}
				e := parseExtInf(strings.TrimPrefix(line, "#EXTINF:"))
				pending = &e
			case strings.HasPrefix(line, "#EXTGRP:"):
				if pending != nil && pending.Group == "" {
					pending.Group = strings.TrimSpace(strings.TrimPrefix(line, "#EXTGRP:"))
				}
			case strings.HasPrefix(line, "#"):
				// other directives and comments
			default:
				e := Entry{}
				if pending != nil {
					e = *pending
					pending = nil
				}
				e.URI = line
				if e.Name == "" {
					e.Name = line
				}
				if !yield(e, nil) {
					return
				}
			}
		}
		if err := sc.Err(); err != nil {
			yield(Entry{}, fmt.Errorf("%w: line %d: %v", ErrMalformedSource, lineNo+1, err))
			return
		}
		if !sawHeader {
			yield(Entry{}, fmt.Errorf("%w: empty playlist", ErrMalformedSource))
			return
		}
		if pending != nil {
			yield(Entry{}, fmt.Errorf("%w: #EXTINF for %q has no uri", ErrMalformedSource, pending.Name))
		}
	}
}

// parseExtInf parses `-1 key="v" ...,Display Name`. Commas inside quoted
// attribute values do not end the attribute list.
func parseExtInf(s string) Entry {
	split := -1
	inQuote := false
	for i, r := range s {
		switch r {
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				split = i
			}
		}
		if split >= 0 {
			break
		}
	}

	attrs, name := s, ""
	if split >= 0 {
		attrs, name = s[:split], strings.TrimSpace(s[split+1:])
	}

	var e Entry
	for _, m := range attrRe.FindAllStringSubmatch(attrs, -1) {
		v := strings.TrimSpace(m[2])
		switch strings.ToLower(m[1]) {
		case "tvg-id":
			e.TvgID = v
		case "tvg-logo":
			e.LogoURI = v
		case "group-title":
			e.Group = v
		case "tvg-chno":
			e.ChannelNumber = v
		case "tvg-name":
			if name == "" {
				name = v
			}
		}
	}
	e.Name = name
	return e
}
