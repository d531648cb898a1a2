package sharedmapper

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-service-wrapper/pkg/descriptor"
	"github.com/core-tools/hsu-service-wrapper/pkg/errors"
	"github.com/core-tools/hsu-service-wrapper/pkg/extension"
)

type recordingRunner struct {
	commands []string
	failOn   string
}

func (r *recordingRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := name + " " + strings.Join(args, " ")
	r.commands = append(r.commands, cmd)
	if r.failOn != "" && strings.Contains(cmd, r.failOn) {
		return []byte("System error 53 has occurred."), fmt.Errorf("exit status 2")
	}
	return nil, nil
}

func config() descriptor.SharedDirectoryMapperConfig {
	return descriptor.SharedDirectoryMapperConfig{Mappings: []descriptor.DriveMapping{
		{Enabled: true, Label: "N:", UNCPath: `\\server\n`},
		{Enabled: false, Label: "X:", UNCPath: `\\server\x`},
		{Enabled: true, Label: "M:", UNCPath: `\\server\m`},
	}}
}

func TestMapper_MapAndUnmap(t *testing.T) {
	runner := &recordingRunner{}
	m := New("maps", config(), extension.Env{}, WithRunner(runner))

	require.NoError(t, m.PreStart(context.Background()))
	require.NoError(t, m.PreStop(context.Background()))

	assert.Equal(t, []string{
		`net use N: \\server\n`,
		`net use M: \\server\m`,
		`net use M: /DELETE /Y`,
		`net use N: /DELETE /Y`,
	}, runner.commands)
}

func TestMapper_PreStartFailureIsFatalAndRollsBack(t *testing.T) {
	runner := &recordingRunner{failOn: "M:"}
	m := New("maps", config(), extension.Env{}, WithRunner(runner))

	err := m.PreStart(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsExtensionRuntimeError(err))

	assert.Equal(t, []string{
		`net use N: \\server\n`,
		`net use M: \\server\m`,
		`net use N: /DELETE /Y`,
	}, runner.commands)
}

func TestMapper_UnmapFailureIsWarning(t *testing.T) {
	var warnings []error
	runner := &recordingRunner{}
	m := New("maps", config(), extension.Env{Warn: func(err error) { warnings = append(warnings, err) }}, WithRunner(runner))
	require.NoError(t, m.PreStart(context.Background()))

	runner.failOn = "/DELETE"
	require.NoError(t, m.PreStop(context.Background()))

	assert.Len(t, warnings, 2)
	assert.Len(t, runner.commands, 4, "every share is attempted")
}
