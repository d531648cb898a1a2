package process

// Scope selects what a termination signal reaches.
type Scope int

const (
	// ScopeProcess signals only the given pid.
	ScopeProcess Scope = iota
	// ScopeGroup signals the process group led by the pid.
	ScopeGroup
)
