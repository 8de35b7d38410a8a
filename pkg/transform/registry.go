// Package transform provides named value transforms that configuration files
// can reference in place of an in-process function.
package transform

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/polisai/kvcopy/pkg/directive"
)

// Registry maps transform names to functions. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	transforms map[string]directive.Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{transforms: make(map[string]directive.Func)}
}

// Default returns a registry populated with the built-in transforms.
func Default() *Registry {
	r := NewRegistry()
	r.MustRegister("upper", Upper)
	r.MustRegister("lower", Lower)
	r.MustRegister("title", Title)
	r.MustRegister("trim", Trim)
	r.MustRegister("string", String)
	r.MustRegister("number", Number)
	r.MustRegister("bool", Bool)
	return r
}

// Register adds fn under name. Names are case-insensitive and must be unique.
func (r *Registry) Register(name string, fn directive.Func) error {
	key := normalize(name)
	if key == "" {
		return fmt.Errorf("transform name is required")
	}
	if fn == nil {
		return fmt.Errorf("transform %q: function is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.transforms[key]; exists {
		return fmt.Errorf("transform %q already registered", name)
	}
	r.transforms[key] = fn
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, fn directive.Func) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the transform registered under name.
func (r *Registry) Lookup(name string) (directive.Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.transforms[normalize(name)]
	return fn, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transforms))
	for name := range r.transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Upper upper-cases strings. Other values pass through unchanged.
func Upper(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return cases.Upper(language.Und).String(s)
}

// Lower lower-cases strings. Other values pass through unchanged.
func Lower(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return cases.Lower(language.Und).String(s)
}

// Title title-cases strings. Other values pass through unchanged.
func Title(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return cases.Title(language.Und).String(s)
}

// Trim removes leading and trailing white space from strings.
func Trim(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return strings.TrimSpace(s)
}

// String formats any non-nil value as a string.
func String(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Number parses numeric strings into float64. Values that are already numbers
// are widened to float64; anything else passes through unchanged.
func Number(v any) any {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return v
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return v
		}
		return f
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

// Bool parses boolean strings ("true", "1", "no", ...). Anything else passes
// through unchanged.
func Bool(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "on":
		return true
	case "no", "n", "off":
		return false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return v
	}
	return b
}
