package descriptor

import (
	"bytes"
	"encoding/xml"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-service-wrapper/pkg/errors"
)

var (
	idPattern       = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
	variablePattern = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_]*)%`)
	timeoutPattern  = regexp.MustCompile(`^(\d+)\s*([A-Za-z]*)$`)
)

// LoadFile reads a descriptor from disk. The format follows the file
// extension and BASE expands to the file's directory.
func LoadFile(path string) (*ServiceDescriptor, error) {
	var format Format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		format = FormatXML
	case ".yml", ".yaml":
		format = FormatYAML
	default:
		return nil, errors.NewConfigurationError(errors.ReasonMalformedDocument,
			"unsupported descriptor file extension", nil).WithContext("path", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIOError("failed to read descriptor", err).WithContext("path", path)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.NewIOError("failed to resolve descriptor path", err).WithContext("path", path)
	}

	d, err := Parse(data, format, filepath.Dir(absPath))
	if err != nil {
		if de, ok := err.(*errors.DomainError); ok {
			de.WithContext("path", path)
		}
		return nil, err
	}
	return d, nil
}

// Parse decodes and validates a document. It either returns a complete
// descriptor or a configuration error; nothing is partially built.
func Parse(data []byte, format Format, baseDir string) (*ServiceDescriptor, error) {
	var doc Document
	switch format {
	case FormatXML:
		decoder := xml.NewDecoder(bytes.NewReader(data))
		if err := decoder.Decode(&doc); err != nil {
			return nil, errors.NewConfigurationError(errors.ReasonMalformedDocument, "failed to parse XML descriptor", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, errors.NewConfigurationError(errors.ReasonMalformedDocument, "failed to parse YAML descriptor", err)
		}
	default:
		return nil, errors.NewConfigurationError(errors.ReasonInvalidEnumValue, "unknown descriptor format: "+string(format), nil)
	}
	return FromDocument(&doc, baseDir)
}

// FromDocument validates a raw document and builds the descriptor.
func FromDocument(doc *Document, baseDir string) (*ServiceDescriptor, error) {
	id := strings.TrimSpace(doc.ID)
	if id == "" {
		return nil, errors.NewConfigurationError(errors.ReasonMissingRequiredField, "service id is required", nil)
	}
	if len(id) > maxIDLength || !idPattern.MatchString(id) {
		return nil, errors.NewConfigurationError(errors.ReasonInvalidValue,
			"service id must be at most 64 letters, digits, '-', '_' or '.'", nil).WithContext("id", id)
	}

	x := newExpander(id, baseDir)

	d := &ServiceDescriptor{
		id:               id,
		name:             strings.TrimSpace(doc.Name),
		description:      strings.TrimSpace(doc.Description),
		executable:       x.expand(strings.TrimSpace(doc.Executable)),
		arguments:        x.expand(strings.TrimSpace(doc.Arguments)),
		workingDirectory: x.expand(strings.TrimSpace(doc.WorkingDirectory)),
		logPath:          x.expand(strings.TrimSpace(doc.LogPath)),
		delayedAutoStart: bool(doc.DelayedAutoStart),
		stopTimeout:      DefaultStopTimeout,
		baseDir:          baseDir,
	}
	if d.name == "" {
		d.name = id
	}
	if d.executable == "" {
		return nil, errors.NewConfigurationError(errors.ReasonMissingRequiredField, "service executable is required", nil).
			WithContext("id", id)
	}

	if s := strings.TrimSpace(doc.StopTimeout); s != "" {
		timeout, err := parseTimeout(s)
		if err != nil {
			return nil, errors.NewConfigurationError(errors.ReasonInvalidValue, "invalid stoptimeout", err).
				WithContext("value", s)
		}
		d.stopTimeout = timeout
	}

	for _, e := range doc.Env {
		name := strings.TrimSpace(e.Name)
		if name == "" || strings.Contains(name, "=") {
			return nil, errors.NewConfigurationError(errors.ReasonInvalidValue, "env name must be non-empty and contain no '='", nil).
				WithContext("name", e.Name)
		}
		d.environment = append(d.environment, EnvVar{Name: name, Value: x.expand(e.Value)})
	}

	for i, raw := range doc.Downloads {
		download, err := buildDownload(raw, x)
		if err != nil {
			return nil, withEntry(err, "download", i)
		}
		d.downloads = append(d.downloads, download)
	}

	seen := make(map[string]bool, len(doc.Extensions))
	for i, raw := range doc.Extensions {
		decl, err := buildExtension(raw, x)
		if err != nil {
			return nil, withEntry(err, "extension", i)
		}
		if seen[decl.ID] {
			return nil, errors.NewConfigurationError(errors.ReasonDuplicateExtensionID, "duplicate extension id: "+decl.ID, nil).
				WithContext("extension", decl.ID)
		}
		seen[decl.ID] = true
		d.extensions = append(d.extensions, decl)
	}

	return d, nil
}

func buildDownload(raw DownloadDocument, x expander) (Download, error) {
	failOnError, err := parseBool(raw.FailOnError, false)
	if err != nil {
		return Download{}, invalidBool("failOnError", raw.FailOnError, err)
	}
	unsecureAuth, err := parseBool(raw.UnsecureAuth, false)
	if err != nil {
		return Download{}, invalidBool("unsecureAuth", raw.UnsecureAuth, err)
	}

	auth := AuthType(strings.ToLower(strings.TrimSpace(raw.Auth)))
	if auth == "" {
		auth = AuthNone
	}

	download := Download{
		From:         x.expand(strings.TrimSpace(raw.From)),
		To:           x.expand(strings.TrimSpace(raw.To)),
		FailOnError:  failOnError,
		Auth:         auth,
		UnsecureAuth: unsecureAuth,
	}
	if auth == AuthBasic {
		download.Username = raw.User
		download.Password = raw.Password
	}

	if err := download.Validate(); err != nil {
		return Download{}, err
	}
	return download, nil
}

func buildExtension(raw ExtensionDocument, x expander) (ExtensionDeclaration, error) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return ExtensionDeclaration{}, errors.NewConfigurationError(errors.ReasonMissingRequiredField, "extension id is required", nil)
	}

	enabled, err := parseBool(raw.Enabled, true)
	if err != nil {
		return ExtensionDeclaration{}, invalidBool("enabled", raw.Enabled, err).WithContext("extension", id)
	}

	className := strings.TrimSpace(raw.ClassName)
	kind := Kind(strings.TrimSpace(raw.Kind))
	if kind == "" {
		kind = ResolveKind(className)
	}
	if kind == "" {
		return ExtensionDeclaration{}, errors.NewConfigurationError(errors.ReasonMissingRequiredField,
			"extension requires a kind or className", nil).WithContext("extension", id)
	}

	decl := ExtensionDeclaration{
		ID:        id,
		Kind:      kind,
		ClassName: className,
		Enabled:   enabled,
	}

	switch kind {
	case KindRunawayProcessKiller:
		cfg, err := buildRunawayProcessKiller(raw, x)
		if err != nil {
			return ExtensionDeclaration{}, withExtension(err, id)
		}
		decl.RunawayProcessKiller = cfg
	case KindSharedDirectoryMapper:
		cfg, err := buildSharedDirectoryMapper(raw)
		if err != nil {
			return ExtensionDeclaration{}, withExtension(err, id)
		}
		decl.SharedDirectoryMapper = cfg
	}
	return decl, nil
}

func buildRunawayProcessKiller(raw ExtensionDocument, x expander) (*RunawayProcessKillerConfig, error) {
	pidfile := x.expand(strings.TrimSpace(raw.Pidfile))
	if pidfile == "" {
		return nil, errors.NewConfigurationError(errors.ReasonMissingRequiredField, "pidfile is required", nil)
	}

	s := strings.TrimSpace(raw.StopTimeout)
	if s == "" {
		return nil, errors.NewConfigurationError(errors.ReasonMissingRequiredField, "stopTimeout is required", nil)
	}
	timeout, err := parseTimeout(s)
	if err != nil {
		return nil, errors.NewConfigurationError(errors.ReasonInvalidValue, "invalid stopTimeout", err).WithContext("value", s)
	}

	stopParentFirst, err := parseBool(raw.StopParentFirst, false)
	if err != nil {
		return nil, invalidBool("stopParentFirst", raw.StopParentFirst, err)
	}
	checkEnv, err := parseBool(raw.CheckWinSWEnvironmentVariable, true)
	if err != nil {
		return nil, invalidBool("checkWinSWEnvironmentVariable", raw.CheckWinSWEnvironmentVariable, err)
	}

	return &RunawayProcessKillerConfig{
		Pidfile:                  pidfile,
		StopTimeout:              timeout,
		StopParentFirst:          stopParentFirst,
		CheckEnvironmentVariable: checkEnv,
	}, nil
}

func buildSharedDirectoryMapper(raw ExtensionDocument) (*SharedDirectoryMapperConfig, error) {
	cfg := &SharedDirectoryMapperConfig{}
	for _, m := range raw.Mappings {
		enabled, err := parseBool(m.Enabled, true)
		if err != nil {
			return nil, invalidBool("map enabled", m.Enabled, err)
		}
		label := strings.TrimSpace(m.Label)
		uncPath := strings.TrimSpace(m.UNCPath)
		if label == "" || uncPath == "" {
			return nil, errors.NewConfigurationError(errors.ReasonMissingRequiredField, "map requires label and uncpath", nil).
				WithContext("label", label)
		}
		cfg.Mappings = append(cfg.Mappings, DriveMapping{Enabled: enabled, Label: label, UNCPath: uncPath})
	}
	return cfg, nil
}

// ResolveKind maps a legacy className to a kind. The type segment (before
// the first comma, after the last dot) either equals a known kind or is the
// kind followed by "Extension". Anything else is returned verbatim so the
// registry can report it as unsupported.
func ResolveKind(className string) Kind {
	typeName := className
	if i := strings.Index(typeName, ","); i >= 0 {
		typeName = typeName[:i]
	}
	typeName = strings.TrimSpace(typeName)
	if i := strings.LastIndex(typeName, "."); i >= 0 {
		typeName = typeName[i+1:]
	}
	for _, k := range KnownKinds {
		if typeName == string(k) || typeName == string(k)+"Extension" {
			return k
		}
	}
	return Kind(typeName)
}

func parseBool(s string, def bool) (bool, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return def, nil
	case strings.EqualFold(s, "true"):
		return true, nil
	case strings.EqualFold(s, "false"):
		return false, nil
	default:
		return false, errors.NewValidationError("expected true or false", nil)
	}
}

// parseTimeout accepts bare milliseconds ("5000"), a number with a unit
// ("15 sec", "500ms", "1 min", "2 hours") or a Go duration ("1m30s").
func parseTimeout(s string) (time.Duration, error) {
	if m := timeoutPattern.FindStringSubmatch(s); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, err
		}
		var unit time.Duration
		switch strings.ToLower(m[2]) {
		case "", "ms":
			unit = time.Millisecond
		case "s", "sec", "secs", "second", "seconds":
			unit = time.Second
		case "m", "min", "mins", "minute", "minutes":
			unit = time.Minute
		case "h", "hour", "hours":
			unit = time.Hour
		case "d", "day", "days":
			unit = 24 * time.Hour
		default:
			return 0, errors.NewValidationError("unknown time unit: "+m[2], nil)
		}
		if n > math.MaxInt64/int64(unit) {
			return 0, errors.NewValidationError("timeout is out of range", nil)
		}
		return time.Duration(n) * unit, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.NewValidationError("timeout cannot be negative", nil)
	}
	return d, nil
}

func invalidBool(field, value string, cause error) *errors.DomainError {
	return errors.NewConfigurationError(errors.ReasonInvalidEnumValue, field+" must be true or false", cause).
		WithContext("value", value)
}

func withEntry(err error, kind string, index int) error {
	if de, ok := err.(*errors.DomainError); ok {
		return de.WithContext(kind+"_index", index)
	}
	return err
}

func withExtension(err error, id string) error {
	if de, ok := err.(*errors.DomainError); ok {
		return de.WithContext("extension", id)
	}
	return err
}

// expander substitutes %NAME% references. BASE and SERVICE_ID take
// precedence over the process environment; unknown names are left as is.
type expander struct {
	vars map[string]string
}

func newExpander(serviceID, baseDir string) expander {
	return expander{vars: map[string]string{
		"BASE":       baseDir,
		"SERVICE_ID": serviceID,
	}}
}

func (x expander) expand(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	return variablePattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := ref[1 : len(ref)-1]
		if v, ok := x.vars[name]; ok {
			return v
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return ref
	})
}
