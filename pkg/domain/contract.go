package domain

import (
	"context"
)

// StatusInfo is the wire form of the wrapper status.
type StatusInfo struct {
	ServiceID  string   `json:"service_id"`
	Name       string   `json:"name,omitempty"`
	Phase      string   `json:"phase"`
	RunID      string   `json:"run_id,omitempty"`
	PID        int      `json:"pid,omitempty"`
	Exited     bool     `json:"exited,omitempty"`
	StartedAt  string   `json:"started_at,omitempty"`
	Extensions []string `json:"extensions,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	LastError  string   `json:"last_error,omitempty"`
}

type Contract interface {
	Status(ctx context.Context) (*StatusInfo, error)
}
