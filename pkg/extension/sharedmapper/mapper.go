// Package sharedmapper implements the SharedDirectoryMapper extension: it
// maps network shares to local labels before the wrapped executable starts
// and removes them when the service stops.
package sharedmapper

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/core-tools/hsu-service-wrapper/pkg/descriptor"
	"github.com/core-tools/hsu-service-wrapper/pkg/errors"
	"github.com/core-tools/hsu-service-wrapper/pkg/extension"
	"github.com/core-tools/hsu-service-wrapper/pkg/logging"
)

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Option customizes a Mapper.
type Option func(*Mapper)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(m *Mapper) { m.runner = r }
}

// Mapper is the SharedDirectoryMapper extension.
type Mapper struct {
	extension.Base

	mappings []descriptor.DriveMapping
	runner   Runner
	logger   logging.Logger
	warn     func(error)

	mapped []descriptor.DriveMapping
}

// New creates a mapper for the enabled mappings of config.
func New(id string, config descriptor.SharedDirectoryMapperConfig, env extension.Env, opts ...Option) *Mapper {
	env = env.WithDefaults()
	m := &Mapper{
		Base:   extension.NewBase(id, descriptor.KindSharedDirectoryMapper),
		runner: execRunner{},
		logger: logging.WithPrefix(env.Logger, fmt.Sprintf("extension: %s , ", id)),
		warn:   env.Warn,
	}
	for _, mapping := range config.Mappings {
		if mapping.Enabled {
			m.mappings = append(m.mappings, mapping)
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PreStart maps every enabled share. The service cannot run without its
// shares, so a failure is fatal and already mapped shares are released.
func (m *Mapper) PreStart(ctx context.Context) error {
	for _, mapping := range m.mappings {
		m.logger.Infof("Mapping network share, label: %s, path: %s", mapping.Label, mapping.UNCPath)
		output, err := m.runner.Run(ctx, "net", "use", mapping.Label, mapping.UNCPath)
		if err != nil {
			m.logger.Errorf("Failed to map network share, label: %s, output: %s, error: %v",
				mapping.Label, strings.TrimSpace(string(output)), err)
			m.unmapAll(ctx)
			return errors.NewExtensionRuntimeError("failed to map "+mapping.Label, err).
				WithContext("extension", m.ID()).
				WithContext("label", mapping.Label).
				WithContext("output", strings.TrimSpace(string(output)))
		}
		m.mapped = append(m.mapped, mapping)
	}
	return nil
}

// PreStop releases the mapped shares in reverse order.
func (m *Mapper) PreStop(ctx context.Context) error {
	m.unmapAll(ctx)
	return nil
}

func (m *Mapper) unmapAll(ctx context.Context) {
	for i := len(m.mapped) - 1; i >= 0; i-- {
		mapping := m.mapped[i]
		m.logger.Infof("Unmapping network share, label: %s", mapping.Label)
		output, err := m.runner.Run(ctx, "net", "use", mapping.Label, "/DELETE", "/Y")
		if err != nil {
			m.logger.Warnf("Failed to unmap network share, label: %s, output: %s, error: %v",
				mapping.Label, strings.TrimSpace(string(output)), err)
			m.warn(errors.NewExtensionRuntimeError("failed to unmap "+mapping.Label, err).
				WithContext("extension", m.ID()).WithContext("label", mapping.Label))
		}
	}
	m.mapped = nil
}
