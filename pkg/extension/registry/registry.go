// Package registry instantiates extensions from their declarations using a
// closed table of constructors, one per supported kind.
package registry

import (
	"github.com/core-tools/hsu-service-wrapper/pkg/descriptor"
	"github.com/core-tools/hsu-service-wrapper/pkg/errors"
	"github.com/core-tools/hsu-service-wrapper/pkg/extension"
	"github.com/core-tools/hsu-service-wrapper/pkg/extension/runaway"
	"github.com/core-tools/hsu-service-wrapper/pkg/extension/sharedmapper"
)

// Constructor builds one extension from a validated declaration.
type Constructor func(decl descriptor.ExtensionDeclaration, env extension.Env) (extension.Extension, error)

// Constructors maps every supported kind to its constructor.
type Constructors map[descriptor.Kind]Constructor

// Default returns the constructors of all built-in kinds.
func Default() Constructors {
	return Constructors{
		descriptor.KindRunawayProcessKiller:  newRunawayProcessKiller,
		descriptor.KindSharedDirectoryMapper: newSharedDirectoryMapper,
	}
}

func newRunawayProcessKiller(decl descriptor.ExtensionDeclaration, env extension.Env) (extension.Extension, error) {
	if decl.RunawayProcessKiller == nil {
		return nil, errors.NewValidationError("missing RunawayProcessKiller configuration", nil)
	}
	return runaway.New(decl.ID, *decl.RunawayProcessKiller, env), nil
}

func newSharedDirectoryMapper(decl descriptor.ExtensionDeclaration, env extension.Env) (extension.Extension, error) {
	if decl.SharedDirectoryMapper == nil {
		return nil, errors.NewValidationError("missing SharedDirectoryMapper configuration", nil)
	}
	return sharedmapper.New(decl.ID, *decl.SharedDirectoryMapper, env), nil
}

// LoadAll instantiates the enabled declarations in order with the default
// constructors.
func LoadAll(decls []descriptor.ExtensionDeclaration, env extension.Env) (*Set, error) {
	return Default().LoadAll(decls, env)
}

// LoadAll checks every declaration before instantiating any: ids must be
// unique across enabled and disabled entries, and every enabled kind must
// have a constructor. Disabled declarations are recorded but never built.
func (c Constructors) LoadAll(decls []descriptor.ExtensionDeclaration, env extension.Env) (*Set, error) {
	env = env.WithDefaults()

	seen := make(map[string]bool, len(decls))
	for _, decl := range decls {
		if seen[decl.ID] {
			return nil, errors.NewExtensionLoadError(errors.ReasonDuplicateExtension, "duplicate extension id: "+decl.ID, nil).
				WithContext("extension", decl.ID)
		}
		seen[decl.ID] = true

		if decl.Enabled {
			if _, ok := c[decl.Kind]; !ok {
				return nil, errors.NewExtensionLoadError(errors.ReasonUnsupportedExtension, "unsupported extension kind: "+string(decl.Kind), nil).
					WithContext("extension", decl.ID).
					WithContext("kind", string(decl.Kind))
			}
		}
	}

	set := &Set{logger: env.Logger}
	for _, decl := range decls {
		if !decl.Enabled {
			env.Logger.Infof("Extension is disabled, id: %s, kind: %s", decl.ID, decl.Kind)
			set.disabled = append(set.disabled, decl)
			continue
		}

		ext, err := c[decl.Kind](decl, env)
		if err != nil {
			set.Close()
			return nil, errors.NewExtensionLoadError(errors.ReasonExtensionConstruction, "failed to construct extension "+decl.ID, err).
				WithContext("extension", decl.ID)
		}
		env.Logger.Infof("Extension loaded, id: %s, kind: %s", decl.ID, decl.Kind)
		set.extensions = append(set.extensions, ext)
	}
	return set, nil
}

