// Package extension defines the hooks an extension can take part in during
// a service lifecycle.
package extension

import (
	"context"
	"fmt"

	"github.com/core-tools/hsu-service-wrapper/pkg/descriptor"
	"github.com/core-tools/hsu-service-wrapper/pkg/logging"
	"github.com/core-tools/hsu-service-wrapper/pkg/metrics"
)

// Hook names a lifecycle point.
type Hook string

const (
	HookPreStart  Hook = "pre-start"
	HookPostStart Hook = "post-start"
	HookPreStop   Hook = "pre-stop"
	HookPostStop  Hook = "post-stop"
	HookClose     Hook = "close"
)

// Started describes the wrapped process after launch.
type Started struct {
	PID int
}

// Extension is one instantiated, enabled extension declaration.
//
// An error returned from PreStart or PostStart aborts the start. Problems
// that must not block the service are passed to Env.Warn instead. Errors
// from the stop hooks and Close are always logged and never stop the
// sequence.
type Extension interface {
	ID() string
	Kind() descriptor.Kind
	PreStart(ctx context.Context) error
	PostStart(ctx context.Context, started Started) error
	PreStop(ctx context.Context) error
	PostStop(ctx context.Context) error
	Close() error
}

// Env is what the wrapper hands to every extension constructor.
type Env struct {
	ServiceID  string
	Executable string
	Logger     logging.Logger
	Metrics    *metrics.Metrics

	// Warn records a non-fatal problem for the operator. Never nil after
	// WithDefaults.
	Warn func(err error)
}

// WithDefaults fills unset fields with no-op implementations.
func (e Env) WithDefaults() Env {
	if e.Logger == nil {
		e.Logger = logging.NewNopLogger()
	}
	if e.Warn == nil {
		e.Warn = func(error) {}
	}
	return e
}

// Base provides identity and no-op hooks for embedding.
type Base struct {
	id   string
	kind descriptor.Kind
}

func NewBase(id string, kind descriptor.Kind) Base {
	return Base{id: id, kind: kind}
}

func (b Base) ID() string                                     { return b.id }
func (b Base) Kind() descriptor.Kind                          { return b.kind }
func (b Base) PreStart(ctx context.Context) error             { return nil }
func (b Base) PostStart(ctx context.Context, _ Started) error { return nil }
func (b Base) PreStop(ctx context.Context) error              { return nil }
func (b Base) PostStop(ctx context.Context) error             { return nil }
func (b Base) Close() error                                   { return nil }

// HookError attributes a hook failure to the extension that produced it.
type HookError struct {
	ExtensionID string
	Hook        Hook
	Err         error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("extension %s %s: %v", e.ExtensionID, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}
