package filter

import (
	"errors"
	"strings"
)

// ErrNoResult marks a search that produced nothing usable.
var ErrNoResult = errors.New("search: no result")

const (
	SecurePrefix = "https://"
	DefaultMax   = 5
)

// Links filters candidate result links: https only, first occurrence wins, excluded
// prefixes dropped, at most Max kept. Max outside 1..DefaultMax means DefaultMax.
type Links struct {
	Excluded []string
	Max      int
}

func (l Links) Apply(raw []string) []string {
	max := l.Max
	if max <= 0 || max > DefaultMax {
		max = DefaultMax
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, max)
	for _, link := range raw {
		link = strings.TrimSpace(link)
		if !strings.HasPrefix(link, SecurePrefix) {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		if l.excluded(link) {
			continue
		}
		out = append(out, link)
		if len(out) == max {
			break
		}
	}
	return out
}

func (l Links) excluded(link string) bool {
	for _, prefix := range l.Excluded {
		if prefix != "" && strings.HasPrefix(link, prefix) {
			return true
		}
	}
	return false
}
