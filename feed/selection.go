package feed

import (
	"fmt"
	"slices"
	"strings"
)

// Tag names a feed filter as clients send it.
type Tag string

const (
	Popular    Tag = "populares"
	Nearby     Tag = "cercanos"
	MostViewed Tag = "vistos"
	Discover   Tag = "descubre"
)

// Tags lists every filter in the order Apply narrows by them.
var Tags = []Tag{Popular, MostViewed, Discover, Nearby}

var compatible = map[Tag][]Tag{
	Popular:    {MostViewed, Nearby},
	MostViewed: {Popular, Nearby},
	Discover:   {Nearby},
	Nearby:     {Popular, MostViewed, Discover},
}

// Valid reports whether t is a known filter tag.
func (t Tag) Valid() bool {
	_, ok := compatible[t]
	return ok
}

// Compatible reports whether a and b may be active at the same time.
func Compatible(a, b Tag) bool {
	return slices.Contains(compatible[a], b)
}

// Selection is the set of active filter tags, in activation order.
type Selection []Tag

func (s Selection) Has(t Tag) bool {
	return slices.Contains(s, t)
}

// Toggle returns the selection that results from clicking t.
// An active tag is removed. A tag compatible with every active tag is added;
// any other tag replaces the whole selection.
func (s Selection) Toggle(t Tag) Selection {
	if s.Has(t) {
		out := make(Selection, 0, len(s)-1)
		for _, active := range s {
			if active != t {
				out = append(out, active)
			}
		}
		return out
	}

	for _, active := range s {
		if !Compatible(active, t) {
			return Selection{t}
		}
	}
	return append(slices.Clone(s), t)
}

func (s Selection) String() string {
	parts := make([]string, len(s))
	for i, t := range s {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

// ParseSelection builds a selection from a comma separated list by toggling
// each tag in turn, so "populares,descubre" yields just descubre.
func ParseSelection(raw string) (Selection, error) {
	sel := Selection{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		tag := Tag(part)
		if !tag.Valid() {
			return nil, fmt.Errorf("unknown filter %q", part)
		}
		sel = sel.Toggle(tag)
	}
	return sel, nil
}
