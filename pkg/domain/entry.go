package domain

// Entry is the record flowing through a pipeline. Field names map to arbitrary
// values; a field is present when its key exists, even if the value is nil.
type Entry map[string]any

// Has reports whether field is present in the entry.
func (e Entry) Has(field string) bool {
	_, ok := e[field]
	return ok
}

// Get returns the value stored under field and whether it was present.
func (e Entry) Get(field string) (any, bool) {
	v, ok := e[field]
	return v, ok
}

// Clone returns a shallow copy of the entry.
func (e Entry) Clone() Entry {
	if e == nil {
		return nil
	}
	out := make(Entry, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}
