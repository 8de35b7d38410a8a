// Package directive implements the field-mapping rules applied to entries by a
// copy stage.
//
// A directive reads a value from one field of an entry (Copy) or carries a
// literal (Write) and stores it under a destination field. Directives are
// grouped in an ordered Set that is validated once and then applied to many
// entries.
//
// # Overwrite policy
//
// Without Overwrite a directive never replaces an existing destination value.
// With Overwrite the destination is always replaced, and a Copy whose source
// field is absent deletes the destination instead:
//
//	source present, destination absent   -> write
//	source present, destination present  -> write only with Overwrite
//	source absent                        -> delete destination only with Overwrite
//
// # Untyped candidates
//
// Configuration arrives as loosely typed maps. Parse checks each candidate's
// shape in a fixed field order (from/write exclusivity, from, to, fn,
// overwrite, duplicate to) and reports the first violation, so error
// precedence is deterministic.
package directive
