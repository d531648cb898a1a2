//go:build !linux && !windows

package processstate

// Inspect has no backend on this platform; callers must not guess identity
// from a bare pid.
func Inspect(pid int) (*ProcessInfo, error) {
	if err := validatePID(pid); err != nil {
		return nil, err
	}
	return nil, ErrUnsupported
}

func Environ(pid int) ([]string, error) {
	return nil, ErrUnsupported
}
