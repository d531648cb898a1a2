package registry

import (
	"context"

	"github.com/core-tools/hsu-service-wrapper/pkg/descriptor"
	"github.com/core-tools/hsu-service-wrapper/pkg/errors"
	"github.com/core-tools/hsu-service-wrapper/pkg/extension"
	"github.com/core-tools/hsu-service-wrapper/pkg/logging"
)

// Set holds the loaded extensions in load order and fans hooks out to
// them: start hooks in load order, stop hooks and disposal in reverse.
type Set struct {
	extensions []extension.Extension
	disabled   []descriptor.ExtensionDeclaration
	logger     logging.Logger
}

// NewSet wraps already constructed extensions.
func NewSet(logger logging.Logger, extensions ...extension.Extension) *Set {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Set{extensions: extensions, logger: logger}
}

func (s *Set) Extensions() []extension.Extension {
	return append([]extension.Extension(nil), s.extensions...)
}

func (s *Set) Disabled() []descriptor.ExtensionDeclaration {
	return append([]descriptor.ExtensionDeclaration(nil), s.disabled...)
}

func (s *Set) Len() int {
	return len(s.extensions)
}

// PreStart stops at the first failing extension.
func (s *Set) PreStart(ctx context.Context) error {
	for _, ext := range s.extensions {
		s.logger.Debugf("Running hook, extension: %s, hook: %s", ext.ID(), extension.HookPreStart)
		if err := ext.PreStart(ctx); err != nil {
			return &extension.HookError{ExtensionID: ext.ID(), Hook: extension.HookPreStart, Err: err}
		}
	}
	return nil
}

// PostStart stops at the first failing extension.
func (s *Set) PostStart(ctx context.Context, started extension.Started) error {
	for _, ext := range s.extensions {
		s.logger.Debugf("Running hook, extension: %s, hook: %s", ext.ID(), extension.HookPostStart)
		if err := ext.PostStart(ctx, started); err != nil {
			return &extension.HookError{ExtensionID: ext.ID(), Hook: extension.HookPostStart, Err: err}
		}
	}
	return nil
}

// PreStop runs every extension in reverse order and collects failures.
func (s *Set) PreStop(ctx context.Context) error {
	return s.reverse(extension.HookPreStop, func(ext extension.Extension) error {
		return ext.PreStop(ctx)
	})
}

// PostStop runs every extension in reverse order and collects failures.
func (s *Set) PostStop(ctx context.Context) error {
	return s.reverse(extension.HookPostStop, func(ext extension.Extension) error {
		return ext.PostStop(ctx)
	})
}

// Close disposes every extension in reverse order.
func (s *Set) Close() error {
	return s.reverse(extension.HookClose, func(ext extension.Extension) error {
		return ext.Close()
	})
}

func (s *Set) reverse(hook extension.Hook, fn func(extension.Extension) error) error {
	collection := errors.NewErrorCollection()
	for i := len(s.extensions) - 1; i >= 0; i-- {
		ext := s.extensions[i]
		s.logger.Debugf("Running hook, extension: %s, hook: %s", ext.ID(), hook)
		if err := fn(ext); err != nil {
			s.logger.Warnf("Hook failed, extension: %s, hook: %s, error: %v", ext.ID(), hook, err)
			collection.Add(&extension.HookError{ExtensionID: ext.ID(), Hook: hook, Err: err})
		}
	}
	return collection.ToError()
}
