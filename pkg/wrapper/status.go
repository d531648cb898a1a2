package wrapper

import (
	"time"
)

// Status is a point-in-time view of the wrapper.
type Status struct {
	ServiceID  string
	Name       string
	Phase      Phase
	RunID      string
	PID        int
	Exited     bool
	StartedAt  time.Time
	Extensions []string
	Warnings   []string
	LastError  string
}

func (w *Wrapper) Status() Status {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	status := Status{
		ServiceID: w.desc.ID(),
		Name:      w.desc.Name(),
		Phase:     w.phase,
		RunID:     w.runID,
		StartedAt: w.startedAt,
	}
	if w.process != nil {
		status.PID = w.process.Pid()
		select {
		case <-w.process.Done():
			status.Exited = true
		default:
		}
	}
	if w.extensions != nil {
		for _, ext := range w.extensions.Extensions() {
			status.Extensions = append(status.Extensions, ext.ID())
		}
	}
	for _, warning := range w.warnings {
		status.Warnings = append(status.Warnings, warning.Error())
	}
	if w.lastErr != nil {
		status.LastError = w.lastErr.Error()
	}
	return status
}
