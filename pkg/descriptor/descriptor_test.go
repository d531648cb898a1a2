package descriptor

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-service-wrapper/pkg/errors"
)

const runawayClassName = "winsw.Plugins.RunawayProcessKiller.RunawayProcessKillerExtension, WinSWCore"

// sampleXML mirrors the documents produced by the historic test builder.
func sampleXML(body string) string {
	return `<?xml version="1.0" encoding="utf-8"?>
<!--Just a sample configuration file generated by the test suite-->
<service>
  <id>myapp</id>
  <name>MyApp Service</name>
  <description>MyApp Service (powered by WinSW)</description>
  <executable>%BASE%\myExecutable.exe</executable>
` + body + `</service>
`
}

func runawayExtensionXML(id string, enabled bool) string {
	enabledAttr := "False"
	if enabled {
		enabledAttr = "True"
	}
	return fmt.Sprintf(`    <extension enabled="%s" className="%s" id="%s">
      <pidfile>foo/bar/pid.txt</pidfile>
      <stopTimeout>5000</stopTimeout>
      <stopParentFirst>True</stopParentFirst>
      <checkWinSWEnvironmentVariable>False</checkWinSWEnvironmentVariable>
    </extension>
`, enabledAttr, runawayClassName, id)
}

func TestParse_XML(t *testing.T) {
	xml := sampleXML(`  <arguments>-Xrs "C:\Program Files\app.jar"</arguments>
  <env name="JAVA_HOME" value="%BASE%\jre"/>
  <stoptimeout>15 sec</stoptimeout>
  <delayedAutoStart/>
  <download from="https://example.com/a.zip" to="%BASE%\a.zip" failOnError="True" auth="basic" user="u" password="p"/>
  <download from="http://example.com/b.zip" to="b.zip" failOnError="false"/>
  <extensions>
` + runawayExtensionXML("killRunawayProcess", true) + `    <extension enabled="true" kind="SharedDirectoryMapper" id="mapNetworkDirs">
      <mapping>
        <map enabled="false" label="N:" uncpath="\\UNC"/>
        <map label="M:" uncpath="\\UNC2"/>
      </mapping>
    </extension>
  </extensions>
`)

	d, err := Parse([]byte(xml), FormatXML, "/srv/base")
	require.NoError(t, err)

	assert.Equal(t, "myapp", d.ID())
	assert.Equal(t, "MyApp Service", d.Name())
	assert.Equal(t, "MyApp Service (powered by WinSW)", d.Description())
	assert.Equal(t, `/srv/base\myExecutable.exe`, d.Executable())
	assert.Equal(t, []string{"-Xrs", `C:\Program Files\app.jar`}, d.Arguments())
	assert.Equal(t, []EnvVar{{Name: "JAVA_HOME", Value: `/srv/base\jre`}}, d.Environment())
	assert.Equal(t, 15*time.Second, d.StopTimeout())
	assert.True(t, d.DelayedAutoStart())
	assert.Equal(t, "/srv/base", d.BaseDir())

	downloads := d.Downloads()
	require.Len(t, downloads, 2)
	assert.Equal(t, Download{
		From: "https://example.com/a.zip", To: `/srv/base\a.zip`, FailOnError: true,
		Auth: AuthBasic, Username: "u", Password: "p",
	}, downloads[0])
	assert.Equal(t, AuthNone, downloads[1].Auth)
	assert.False(t, downloads[1].FailOnError)

	extensions := d.Extensions()
	require.Len(t, extensions, 2)
	assert.Equal(t, KindRunawayProcessKiller, extensions[0].Kind)
	assert.Equal(t, runawayClassName, extensions[0].ClassName)
	assert.Equal(t, &RunawayProcessKillerConfig{
		Pidfile:                  "foo/bar/pid.txt",
		StopTimeout:              5 * time.Second,
		StopParentFirst:          true,
		CheckEnvironmentVariable: false,
	}, extensions[0].RunawayProcessKiller)

	assert.Equal(t, KindSharedDirectoryMapper, extensions[1].Kind)
	assert.Equal(t, []DriveMapping{
		{Enabled: false, Label: "N:", UNCPath: `\\UNC`},
		{Enabled: true, Label: "M:", UNCPath: `\\UNC2`},
	}, extensions[1].SharedDirectoryMapper.Mappings)
}

func TestParse_Defaults(t *testing.T) {
	d, err := Parse([]byte(`<service><id>svc</id><executable>/bin/true</executable></service>`), FormatXML, "/base")
	require.NoError(t, err)

	assert.Equal(t, "svc", d.Name())
	assert.Equal(t, DefaultStopTimeout, d.StopTimeout())
	assert.Empty(t, d.Downloads())
	assert.Empty(t, d.Extensions())
	assert.False(t, d.DelayedAutoStart())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		raw    string
		reason errors.Reason
	}{
		{
			name:   "malformed_document",
			raw:    `<service><id>x</id>`,
			reason: errors.ReasonMalformedDocument,
		},
		{
			name:   "missing_id",
			raw:    `<service><executable>a</executable></service>`,
			reason: errors.ReasonMissingRequiredField,
		},
		{
			name:   "invalid_id",
			raw:    `<service><id>my app</id><executable>a</executable></service>`,
			reason: errors.ReasonInvalidValue,
		},
		{
			name:   "missing_executable",
			raw:    `<service><id>a</id></service>`,
			reason: errors.ReasonMissingRequiredField,
		},
		{
			name:   "invalid_stoptimeout",
			body:   `<stoptimeout>soon</stoptimeout>`,
			reason: errors.ReasonInvalidValue,
		},
		{
			name:   "unknown_auth",
			body:   `<download from="https://h/a" to="a" auth="kerberos"/>`,
			reason: errors.ReasonInvalidEnumValue,
		},
		{
			name:   "invalid_fail_on_error",
			body:   `<download from="https://h/a" to="a" failOnError="yes"/>`,
			reason: errors.ReasonInvalidEnumValue,
		},
		{
			name:   "basic_without_password",
			body:   `<download from="https://h/a" to="a" auth="basic" user="u"/>`,
			reason: errors.ReasonMissingRequiredField,
		},
		{
			name:   "basic_over_http",
			body:   `<download from="http://h/a" to="a" auth="basic" user="u" password="p"/>`,
			reason: errors.ReasonInvalidValue,
		},
		{
			name:   "relative_from",
			body:   `<download from="h/a" to="a"/>`,
			reason: errors.ReasonInvalidValue,
		},
		{
			name:   "missing_to",
			body:   `<download from="https://h/a"/>`,
			reason: errors.ReasonMissingRequiredField,
		},
		{
			name: "duplicate_extension_id",
			body: "<extensions>\n" + runawayExtensionXML("dup", true) + runawayExtensionXML("dup", true) + "</extensions>",
			reason: errors.ReasonDuplicateExtensionID,
		},
		{
			name: "duplicate_extension_id_disabled",
			body: "<extensions>\n" + runawayExtensionXML("dup", true) + runawayExtensionXML("dup", false) + "</extensions>",
			reason: errors.ReasonDuplicateExtensionID,
		},
		{
			name:   "disabled_extension_still_validated",
			body:   `<extensions><extension enabled="false" kind="RunawayProcessKiller" id="k"><stopTimeout>1</stopTimeout></extension></extensions>`,
			reason: errors.ReasonMissingRequiredField,
		},
		{
			name:   "negative_extension_timeout",
			body:   `<extensions><extension kind="RunawayProcessKiller" id="k"><pidfile>p</pidfile><stopTimeout>-1s</stopTimeout></extension></extensions>`,
			reason: errors.ReasonInvalidValue,
		},
		{
			name:   "stoptimeout_overflows",
			body:   `<stoptimeout>9223372036855 sec</stoptimeout>`,
			reason: errors.ReasonInvalidValue,
		},
		{
			name:   "extension_timeout_overflows",
			body:   `<extensions><extension kind="RunawayProcessKiller" id="k"><pidfile>p</pidfile><stopTimeout>106752 days</stopTimeout></extension></extensions>`,
			reason: errors.ReasonInvalidValue,
		},
		{
			name:   "extension_without_kind",
			body:   `<extensions><extension id="k"/></extensions>`,
			reason: errors.ReasonMissingRequiredField,
		},
		{
			name:   "map_without_uncpath",
			body:   `<extensions><extension kind="SharedDirectoryMapper" id="m"><mapping><map label="N:"/></mapping></extension></extensions>`,
			reason: errors.ReasonMissingRequiredField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := tt.raw
			if doc == "" {
				doc = sampleXML(tt.body)
			}
			d, err := Parse([]byte(doc), FormatXML, "/base")
			require.Error(t, err)
			assert.Nil(t, d, "no partial descriptor")
			assert.True(t, errors.IsConfigurationError(err), "got %v", err)
			assert.Equal(t, tt.reason, errors.ReasonOf(err))
		})
	}
}

func TestParseTimeout(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"bare_milliseconds", "5000", 5 * time.Second, false},
		{"seconds", "15 sec", 15 * time.Second, false},
		{"go_duration", "1m30s", 90 * time.Second, false},
		{"largest_day_count", "106751 days", 106751 * 24 * time.Hour, false},
		{"days_overflow", "106752 days", 0, true},
		{"seconds_overflow", "9223372036855 sec", 0, true},
		{"milliseconds_overflow", "9223372036855 ms", 0, true},
		{"digits_overflow_int64", "99999999999999999999", 0, true},
		{"unknown_unit", "5 fortnights", 0, true},
		{"negative", "-1s", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := parseTimeout(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d)
			assert.Positive(t, d)
		})
	}
}

func TestParse_UnsecureAuthOptIn(t *testing.T) {
	doc := sampleXML(`<download from="http://h/a" to="a" auth="basic" user="u" password="p" unsecureAuth="true"/>`)
	d, err := Parse([]byte(doc), FormatXML, "/base")
	require.NoError(t, err)
	assert.True(t, d.Downloads()[0].UnsecureAuth)
}

func TestParse_UnknownKindKept(t *testing.T) {
	doc := sampleXML(`<extensions><extension enabled="true" className="acme.Plugins.Custom, Acme" id="c"/></extensions>`)
	d, err := Parse([]byte(doc), FormatXML, "/base")
	require.NoError(t, err)

	ext := d.Extensions()[0]
	assert.Equal(t, Kind("Custom"), ext.Kind)
	assert.False(t, ext.Known())
}

func TestResolveKind(t *testing.T) {
	tests := []struct {
		className string
		expected  Kind
	}{
		{runawayClassName, KindRunawayProcessKiller},
		{"winsw.Plugins.RunawayProcessKiller.RunawayProcessKillerExtension", KindRunawayProcessKiller},
		{"winsw.Plugins.SharedDirectoryMapper.SharedDirectoryMapper, SharedDirectoryMapper", KindSharedDirectoryMapper},
		{"RunawayProcessKiller", KindRunawayProcessKiller},
		{"acme.Other, Acme", Kind("Other")},
		{"", Kind("")},
	}

	for _, tt := range tests {
		t.Run(tt.className, func(t *testing.T) {
			assert.Equal(t, tt.expected, ResolveKind(tt.className))
		})
	}
}

func TestExpansion(t *testing.T) {
	t.Setenv("WRAPPER_TEST_ROOT", "/opt/root")

	doc := `<service>
  <id>svc</id>
  <executable>%WRAPPER_TEST_ROOT%/bin/%SERVICE_ID%</executable>
  <workingdirectory>%BASE%</workingdirectory>
  <logpath>%UNKNOWN_WRAPPER_VAR%/logs</logpath>
  <extensions><extension kind="RunawayProcessKiller" id="k"><pidfile>%BASE%/%SERVICE_ID%.pid</pidfile><stopTimeout>0</stopTimeout></extension></extensions>
</service>`

	d, err := Parse([]byte(doc), FormatXML, "/cfg")
	require.NoError(t, err)

	assert.Equal(t, "/opt/root/bin/svc", d.Executable())
	assert.Equal(t, "/cfg", d.WorkingDirectory())
	assert.Equal(t, "%UNKNOWN_WRAPPER_VAR%/logs", d.LogPath())
	assert.Equal(t, "/cfg/svc.pid", d.Extensions()[0].RunawayProcessKiller.Pidfile)
	assert.Equal(t, time.Duration(0), d.Extensions()[0].RunawayProcessKiller.StopTimeout)
}

func TestParse_YAML(t *testing.T) {
	doc := `
id: svc
name: Service
executable: /usr/bin/app
env:
  - name: MODE
    value: prod
stoptimeout: 2 min
download:
  - from: https://example.com/a
    to: /tmp/a
    failonerror: true
extensions:
  - id: kill
    kind: RunawayProcessKiller
    enabled: TRUE
    pidfile: /run/svc.pid
    stoptimeout: 2500
    stopparentfirst: false
`
	d, err := Parse([]byte(doc), FormatYAML, "/base")
	require.NoError(t, err)

	assert.Equal(t, "Service", d.Name())
	assert.Equal(t, 2*time.Minute, d.StopTimeout())
	assert.Equal(t, []EnvVar{{Name: "MODE", Value: "prod"}}, d.Environment())
	assert.True(t, d.Downloads()[0].FailOnError)

	ext := d.Extensions()[0]
	assert.True(t, ext.Enabled)
	assert.Equal(t, 2500*time.Millisecond, ext.RunawayProcessKiller.StopTimeout)
	assert.True(t, ext.RunawayProcessKiller.CheckEnvironmentVariable, "env check defaults to on")
}

func TestRoundTrip(t *testing.T) {
	doc := sampleXML(`  <arguments>--port 8080</arguments>
  <workingdirectory>/srv</workingdirectory>
  <env name="A" value="1"/>
  <env name="B" value=""/>
  <stoptimeout>2500</stoptimeout>
  <logpath>/var/log/myapp</logpath>
  <delayedAutoStart/>
  <download from="https://example.com/a" to="/tmp/a" failOnError="true" auth="basic" user="u" password="p"/>
  <download from="http://example.com/b" to="/tmp/b" auth="basic" user="u" password="p" unsecureAuth="true"/>
  <download from="https://example.com/c" to="/tmp/c" auth="sspi"/>
  <extensions>
` + runawayExtensionXML("killRunawayProcess", true) + runawayExtensionXML("disabledKiller", false) + `    <extension kind="SharedDirectoryMapper" id="maps" enabled="false">
      <mapping><map enabled="true" label="N:" uncpath="\\server\share"/></mapping>
    </extension>
    <extension className="acme.Custom, Acme" id="custom" enabled="false"/>
  </extensions>
`)

	original, err := Parse([]byte(doc), FormatXML, "/base")
	require.NoError(t, err)

	for _, format := range []Format{FormatXML, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			data, err := Serialize(original, format)
			require.NoError(t, err)

			reparsed, err := Parse(data, format, "/base")
			require.NoError(t, err, string(data))
			assert.Equal(t, original, reparsed)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	xmlPath := filepath.Join(dir, "svc.xml")
	require.NoError(t, os.WriteFile(xmlPath, []byte(`<service><id>svc</id><executable>%BASE%/app</executable></service>`), 0644))
	d, err := LoadFile(xmlPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "app"), filepath.Clean(d.Executable()))
	assert.Equal(t, dir, d.BaseDir())

	yamlPath := filepath.Join(dir, "svc.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("id: svc\nexecutable: app\n"), 0644))
	d, err = LoadFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "app", d.Executable())

	_, err = LoadFile(filepath.Join(dir, "svc.ini"))
	assert.True(t, errors.IsConfigurationError(err))

	_, err = LoadFile(filepath.Join(dir, "missing.xml"))
	assert.True(t, errors.IsIOError(err))
}

func TestAccessorsReturnCopies(t *testing.T) {
	doc := sampleXML(`<download from="https://h/a" to="a"/>
<extensions>` + runawayExtensionXML("k", true) + `</extensions>`)
	d, err := Parse([]byte(doc), FormatXML, "/base")
	require.NoError(t, err)

	downloads := d.Downloads()
	downloads[0].To = "changed"
	extensions := d.Extensions()
	extensions[0].RunawayProcessKiller.Pidfile = "changed"

	assert.Equal(t, "a", d.Downloads()[0].To)
	assert.Equal(t, "foo/bar/pid.txt", d.Extensions()[0].RunawayProcessKiller.Pidfile)
}

func TestSplitArguments(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty", "", nil},
		{"simple", "-a -b value", []string{"-a", "-b", "value"}},
		{"quoted", `--path "C:\Program Files\x" end`, []string{"--path", `C:\Program Files\x`, "end"}},
		{"escaped_quote", `say \"hi\"`, []string{"say", `"hi"`}},
		{"empty_quoted", `a "" b`, []string{"a", "", "b"}},
		{"extra_whitespace", "  a\t\tb  ", []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitArguments(tt.input))
		})
	}
}

func TestDownloadValidate(t *testing.T) {
	assert.NoError(t, Download{From: "https://h/a", To: "a", Auth: AuthSSPI}.Validate())
	assert.NoError(t, Download{From: "HTTPS://h/a", To: "a", Auth: AuthBasic, Username: "u", Password: "p"}.Validate())

	err := Download{From: "https://h/a", To: "a", Auth: AuthBasic, Username: "u"}.Validate()
	assert.Equal(t, errors.ReasonMissingRequiredField, errors.ReasonOf(err))

	err = Download{From: "ftp://h/a", To: "a"}.Validate()
	assert.Equal(t, errors.ReasonInvalidValue, errors.ReasonOf(err))
}
