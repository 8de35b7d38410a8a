package domain

// StageConfig is the construction input of a single pipeline stage.
type StageConfig struct {
	ID string
	// Match carries filter criteria for the entry-filtering collaborator.
	// The directive engine never interprets it.
	Match map[string]any
	// Directives holds a single directive candidate or an ordered list of
	// candidates. Candidates are untyped maps from configuration or typed
	// directive values.
	Directives any
}
