package directive

import (
	"fmt"

	"github.com/polisai/kvcopy/pkg/domain"
)

// Candidate keys recognised by Parse.
const (
	KeyFrom      = "from"
	KeyWrite     = "write"
	KeyTo        = "to"
	KeyFn        = "fn"
	KeyOverwrite = "overwrite"
)

// Parse validates raw directive candidates and compiles them into a Set.
//
// raw may be a single candidate or a list of candidates. A candidate is either
// a map as decoded from configuration or an already typed Directive. Parse
// returns the first violation in directive order and never mutates raw.
func Parse(raw any) (Set, error) {
	candidates, err := normalize(raw)
	if err != nil {
		return Set{}, err
	}
	if len(candidates) == 0 {
		return Set{}, ErrNoDirectives
	}

	directives := make([]Directive, 0, len(candidates))
	destinations := make(map[string]struct{}, len(candidates))
	for idx, candidate := range candidates {
		d, err := parseCandidate(idx, candidate)
		if err != nil {
			return Set{}, err
		}
		if _, seen := destinations[d.Destination()]; seen {
			return Set{}, newError(idx, KeyTo, ErrDuplicateDestination)
		}
		destinations[d.Destination()] = struct{}{}
		directives = append(directives, d)
	}

	return Set{directives: directives}, nil
}

// normalize turns the accepted input shapes into a flat candidate list.
func normalize(raw any) ([]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case Set:
		out := make([]any, 0, len(v.directives))
		for _, d := range v.directives {
			out = append(out, d)
		}
		return out, nil
	case []any:
		return v, nil
	case []map[string]any:
		out := make([]any, 0, len(v))
		for _, m := range v {
			out = append(out, m)
		}
		return out, nil
	case []Directive:
		out := make([]any, 0, len(v))
		for _, d := range v {
			out = append(out, d)
		}
		return out, nil
	case map[string]any, domain.Entry, Directive, *Copy, *Write:
		return []any{v}, nil
	default:
		return nil, newError(0, "", fmt.Errorf("%w: got %T", ErrInvalidCandidate, raw))
	}
}

func parseCandidate(idx int, candidate any) (Directive, error) {
	switch c := candidate.(type) {
	case map[string]any:
		return parseMap(idx, c)
	case domain.Entry:
		return parseMap(idx, c)
	case *Copy:
		if c == nil {
			break
		}
		return *c, nil
	case *Write:
		if c == nil {
			break
		}
		return *c, nil
	case Directive:
		return c, nil
	}
	return nil, newError(idx, "", fmt.Errorf("%w: got %T", ErrInvalidCandidate, candidate))
}

func parseMap(idx int, c map[string]any) (Directive, error) {
	fromRaw, hasFrom := c[KeyFrom]
	literal, hasWrite := c[KeyWrite]
	switch {
	case hasFrom && hasWrite:
		return nil, newError(idx, KeyFrom, ErrAmbiguousSource)
	case !hasFrom && !hasWrite:
		return nil, newError(idx, KeyFrom, ErrMissingSource)
	}

	var from string
	if hasFrom {
		s, ok := fromRaw.(string)
		if !ok {
			return nil, newError(idx, KeyFrom, fmt.Errorf("%w: got %T", ErrInvalidFromType, fromRaw))
		}
		from = s
	}

	to, ok := c[KeyTo].(string)
	if !ok {
		return nil, newError(idx, KeyTo, fmt.Errorf("%w: got %T", ErrInvalidToType, c[KeyTo]))
	}

	var fn Func
	if raw, present := c[KeyFn]; present {
		f, ok := asFunc(raw)
		if !ok {
			return nil, newError(idx, KeyFn, fmt.Errorf("%w: got %T", ErrInvalidFnType, raw))
		}
		fn = f
	}

	var overwrite bool
	if raw, present := c[KeyOverwrite]; present {
		b, ok := raw.(bool)
		if !ok {
			return nil, newError(idx, KeyOverwrite, fmt.Errorf("%w: got %T", ErrInvalidOverwriteType, raw))
		}
		overwrite = b
	}

	if hasWrite {
		// fn only ever applies to values read from the entry.
		return Write{Value: literal, To: to, Overwrite: overwrite}, nil
	}
	return Copy{From: from, To: to, Fn: fn, Overwrite: overwrite}, nil
}

func asFunc(raw any) (Func, bool) {
	switch f := raw.(type) {
	case Func:
		return f, f != nil
	case func(any) any:
		return Func(f), f != nil
	default:
		return nil, false
	}
}
