package directive

import "github.com/polisai/kvcopy/pkg/domain"

// Func transforms a source value before it is written to the destination.
// Implementations must be pure.
type Func func(any) any

// Directive is one field-mapping rule. The concrete types are Copy and Write.
type Directive interface {
	// Destination returns the field the directive writes to.
	Destination() string
	// AllowsOverwrite reports whether an existing destination may be replaced
	// or removed.
	AllowsOverwrite() bool

	source(entry domain.Entry) (any, bool)
	produce(value any) any
}

// Copy reads From and stores it, optionally transformed by Fn, under To.
type Copy struct {
	From      string
	To        string
	Fn        Func
	Overwrite bool
}

// Destination implements Directive.
func (c Copy) Destination() string { return c.To }

// AllowsOverwrite implements Directive.
func (c Copy) AllowsOverwrite() bool { return c.Overwrite }

func (c Copy) source(entry domain.Entry) (any, bool) {
	return entry.Get(c.From)
}

func (c Copy) produce(value any) any {
	if c.Fn != nil {
		return c.Fn(value)
	}
	return value
}

// Write stores the literal Value under To. A nil Value is a valid literal.
type Write struct {
	Value     any
	To        string
	Overwrite bool
}

// Destination implements Directive.
func (w Write) Destination() string { return w.To }

// AllowsOverwrite implements Directive.
func (w Write) AllowsOverwrite() bool { return w.Overwrite }

func (w Write) source(domain.Entry) (any, bool) {
	return w.Value, true
}

func (w Write) produce(value any) any {
	return value
}
