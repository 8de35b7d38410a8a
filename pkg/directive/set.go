package directive

import (
	"fmt"

	"github.com/polisai/kvcopy/pkg/domain"
)

// Set is an immutable, validated, ordered list of directives. The zero Set
// holds no directives and applies as a no-op.
type Set struct {
	directives []Directive
}

// Stats counts what a single Apply did to an entry.
type Stats struct {
	Written int
	Deleted int
	Skipped int
}

// NewSet validates typed directives and returns them as a Set.
func NewSet(directives ...Directive) (Set, error) {
	if len(directives) == 0 {
		return Set{}, ErrNoDirectives
	}

	seen := make(map[string]struct{}, len(directives))
	out := make([]Directive, 0, len(directives))
	for idx, d := range directives {
		if d == nil {
			return Set{}, newError(idx, "", fmt.Errorf("%w: got nil", ErrInvalidCandidate))
		}
		if _, dup := seen[d.Destination()]; dup {
			return Set{}, newError(idx, KeyTo, ErrDuplicateDestination)
		}
		seen[d.Destination()] = struct{}{}
		out = append(out, d)
	}
	return Set{directives: out}, nil
}

// MustSet is like NewSet but panics on invalid input. Intended for tests and
// package-level declarations.
func MustSet(directives ...Directive) Set {
	s, err := NewSet(directives...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of directives in the set.
func (s Set) Len() int { return len(s.directives) }

// Directives returns a copy of the directives in application order.
func (s Set) Directives() []Directive {
	out := make([]Directive, len(s.directives))
	copy(out, s.directives)
	return out
}

// Destinations returns the destination fields in application order.
func (s Set) Destinations() []string {
	out := make([]string, 0, len(s.directives))
	for _, d := range s.directives {
		out = append(out, d.Destination())
	}
	return out
}

// Apply runs every directive in order against entry, mutating it in place,
// and returns the entry. Later directives observe fields written by earlier
// ones. A nil entry is replaced by an empty one.
func (s Set) Apply(entry domain.Entry) (domain.Entry, Stats) {
	var stats Stats
	if entry == nil {
		entry = domain.Entry{}
	}

	for _, d := range s.directives {
		to := d.Destination()
		value, present := d.source(entry)
		if !present {
			if d.AllowsOverwrite() && entry.Has(to) {
				delete(entry, to)
				stats.Deleted++
				continue
			}
			stats.Skipped++
			continue
		}

		if !d.AllowsOverwrite() && entry.Has(to) {
			stats.Skipped++
			continue
		}

		entry[to] = d.produce(value)
		stats.Written++
	}

	return entry, stats
}
