package registry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-service-wrapper/pkg/descriptor"
	"github.com/core-tools/hsu-service-wrapper/pkg/errors"
	"github.com/core-tools/hsu-service-wrapper/pkg/extension"
	"github.com/core-tools/hsu-service-wrapper/pkg/extension/runaway"
	"github.com/core-tools/hsu-service-wrapper/pkg/extension/sharedmapper"
)

// MockExtension records hook calls into a shared journal.
type MockExtension struct {
	mock.Mock
	extension.Base
	journal *[]string
}

func newMockExtension(id string, journal *[]string) *MockExtension {
	return &MockExtension{Base: extension.NewBase(id, "Mock"), journal: journal}
}

func (m *MockExtension) record(hook extension.Hook) {
	*m.journal = append(*m.journal, fmt.Sprintf("%s:%s", m.ID(), hook))
}

func (m *MockExtension) PreStart(ctx context.Context) error {
	m.record(extension.HookPreStart)
	return m.Called(ctx).Error(0)
}

func (m *MockExtension) PostStart(ctx context.Context, started extension.Started) error {
	m.record(extension.HookPostStart)
	return m.Called(ctx, started).Error(0)
}

func (m *MockExtension) PreStop(ctx context.Context) error {
	m.record(extension.HookPreStop)
	return m.Called(ctx).Error(0)
}

func (m *MockExtension) PostStop(ctx context.Context) error {
	m.record(extension.HookPostStop)
	return m.Called(ctx).Error(0)
}

func (m *MockExtension) Close() error {
	m.record(extension.HookClose)
	return m.Called().Error(0)
}

func killerDecl(id string, enabled bool) descriptor.ExtensionDeclaration {
	return descriptor.ExtensionDeclaration{
		ID:      id,
		Kind:    descriptor.KindRunawayProcessKiller,
		Enabled: enabled,
		RunawayProcessKiller: &descriptor.RunawayProcessKillerConfig{
			Pidfile:                       "/tmp/" + id + ".pid",
			StopTimeout:                   time.Second,
			CheckEnvironmentVariable:      true,
		},
	}
}

func mapperDecl(id string, enabled bool) descriptor.ExtensionDeclaration {
	return descriptor.ExtensionDeclaration{
		ID:      id,
		Kind:    descriptor.KindSharedDirectoryMapper,
		Enabled: enabled,
		SharedDirectoryMapper: &descriptor.SharedDirectoryMapperConfig{
			Mappings: []descriptor.DriveMapping{{Enabled: true, Label: "N:", UNCPath: `\\server\n`}},
		},
	}
}

func TestLoadAll_InstantiatesInDeclarationOrder(t *testing.T) {
	set, err := LoadAll([]descriptor.ExtensionDeclaration{
		killerDecl("killer", true),
		mapperDecl("maps", true),
	}, extension.Env{ServiceID: "svc"})
	require.NoError(t, err)

	exts := set.Extensions()
	require.Len(t, exts, 2)
	assert.Equal(t, "killer", exts[0].ID())
	assert.IsType(t, &runaway.Killer{}, exts[0])
	assert.Equal(t, "maps", exts[1].ID())
	assert.IsType(t, &sharedmapper.Mapper{}, exts[1])
	assert.Empty(t, set.Disabled())
}

func TestLoadAll_DisabledAreNotInstantiated(t *testing.T) {
	built := 0
	constructors := Constructors{
		descriptor.KindRunawayProcessKiller: func(decl descriptor.ExtensionDeclaration, env extension.Env) (extension.Extension, error) {
			built++
			return extension.NewBase(decl.ID, decl.Kind), nil
		},
	}

	set, err := constructors.LoadAll([]descriptor.ExtensionDeclaration{
		killerDecl("a", false),
		killerDecl("b", true),
	}, extension.Env{})
	require.NoError(t, err)

	assert.Equal(t, 1, built)
	assert.Equal(t, 1, set.Len())
	require.Len(t, set.Disabled(), 1)
	assert.Equal(t, "a", set.Disabled()[0].ID)
}

func TestLoadAll_Errors(t *testing.T) {
	unknown := descriptor.ExtensionDeclaration{ID: "x", Kind: "SomethingElse", Enabled: true}
	unknownDisabled := unknown
	unknownDisabled.Enabled = false
	missingPayload := descriptor.ExtensionDeclaration{ID: "k", Kind: descriptor.KindRunawayProcessKiller, Enabled: true}

	tests := []struct {
		name   string
		decls  []descriptor.ExtensionDeclaration
		reason errors.Reason
	}{
		{"duplicate_ids", []descriptor.ExtensionDeclaration{killerDecl("a", true), mapperDecl("a", true)}, errors.ReasonDuplicateExtension},
		{"duplicate_with_disabled", []descriptor.ExtensionDeclaration{killerDecl("a", false), killerDecl("a", true)}, errors.ReasonDuplicateExtension},
		{"unsupported_kind", []descriptor.ExtensionDeclaration{killerDecl("a", true), unknown}, errors.ReasonUnsupportedExtension},
		{"missing_payload", []descriptor.ExtensionDeclaration{missingPayload}, errors.ReasonExtensionConstruction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := LoadAll(tt.decls, extension.Env{})
			require.Error(t, err)
			assert.Nil(t, set)
			assert.True(t, errors.IsExtensionLoadError(err))
			assert.Equal(t, tt.reason, errors.ReasonOf(err))
		})
	}

	t.Run("unsupported_but_disabled", func(t *testing.T) {
		set, err := LoadAll([]descriptor.ExtensionDeclaration{unknownDisabled}, extension.Env{})
		require.NoError(t, err)
		assert.Equal(t, 0, set.Len())
		assert.Len(t, set.Disabled(), 1)
	})
}

func TestLoadAll_UnsupportedDetectedBeforeConstruction(t *testing.T) {
	built := 0
	constructors := Constructors{
		descriptor.KindRunawayProcessKiller: func(decl descriptor.ExtensionDeclaration, env extension.Env) (extension.Extension, error) {
			built++
			return extension.NewBase(decl.ID, decl.Kind), nil
		},
	}

	_, err := constructors.LoadAll([]descriptor.ExtensionDeclaration{
		killerDecl("a", true),
		{ID: "b", Kind: descriptor.KindSharedDirectoryMapper, Enabled: true},
	}, extension.Env{})

	require.Error(t, err)
	assert.Equal(t, 0, built)
}

func TestSet_HookOrdering(t *testing.T) {
	var journal []string
	a := newMockExtension("a", &journal)
	b := newMockExtension("b", &journal)
	for _, m := range []*MockExtension{a, b} {
		m.On("PreStart", mock.Anything).Return(nil)
		m.On("PostStart", mock.Anything, extension.Started{PID: 7}).Return(nil)
		m.On("PreStop", mock.Anything).Return(nil)
		m.On("PostStop", mock.Anything).Return(nil)
		m.On("Close").Return(nil)
	}
	set := NewSet(nil, a, b)
	ctx := context.Background()

	require.NoError(t, set.PreStart(ctx))
	require.NoError(t, set.PostStart(ctx, extension.Started{PID: 7}))
	require.NoError(t, set.PreStop(ctx))
	require.NoError(t, set.PostStop(ctx))
	require.NoError(t, set.Close())

	assert.Equal(t, []string{
		"a:pre-start", "b:pre-start",
		"a:post-start", "b:post-start",
		"b:pre-stop", "a:pre-stop",
		"b:post-stop", "a:post-stop",
		"b:close", "a:close",
	}, journal)
	a.AssertExpectations(t)
	b.AssertExpectations(t)
}

func TestSet_PreStartStopsAtFirstFailure(t *testing.T) {
	var journal []string
	a := newMockExtension("a", &journal)
	b := newMockExtension("b", &journal)
	a.On("PreStart", mock.Anything).Return(fmt.Errorf("map failed"))

	err := NewSet(nil, a, b).PreStart(context.Background())
	require.Error(t, err)

	var hookErr *extension.HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, "a", hookErr.ExtensionID)
	assert.Equal(t, extension.HookPreStart, hookErr.Hook)
	assert.Equal(t, []string{"a:pre-start"}, journal)
	b.AssertNotCalled(t, "PreStart", mock.Anything)
}

func TestSet_StopHooksContinueAndAggregate(t *testing.T) {
	var journal []string
	a := newMockExtension("a", &journal)
	b := newMockExtension("b", &journal)
	c := newMockExtension("c", &journal)
	a.On("PreStop", mock.Anything).Return(fmt.Errorf("a failed"))
	b.On("PreStop", mock.Anything).Return(nil)
	c.On("PreStop", mock.Anything).Return(fmt.Errorf("c failed"))

	err := NewSet(nil, a, b, c).PreStop(context.Background())
	require.Error(t, err)

	var collection *errors.ErrorCollection
	require.ErrorAs(t, err, &collection)
	require.Len(t, collection.Errors, 2)
	assert.Contains(t, collection.Errors[0].Error(), "extension c pre-stop")
	assert.Contains(t, collection.Errors[1].Error(), "extension a pre-stop")
	assert.Equal(t, []string{"c:pre-stop", "b:pre-stop", "a:pre-stop"}, journal)
}
