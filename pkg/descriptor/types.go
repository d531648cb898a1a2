package descriptor

import (
	"net/url"
	"strings"
	"time"

	"github.com/core-tools/hsu-service-wrapper/pkg/errors"
)

// Format selects the document syntax.
type Format string

const (
	FormatXML  Format = "xml"
	FormatYAML Format = "yaml"
)

// AuthType is the authentication scheme of a download.
type AuthType string

const (
	AuthNone  AuthType = "none"
	AuthBasic AuthType = "basic"
	AuthSSPI  AuthType = "sspi"
)

// Kind names one member of the closed set of extension kinds.
type Kind string

const (
	KindRunawayProcessKiller  Kind = "RunawayProcessKiller"
	KindSharedDirectoryMapper Kind = "SharedDirectoryMapper"
)

// KnownKinds lists every kind the wrapper can instantiate.
var KnownKinds = []Kind{KindRunawayProcessKiller, KindSharedDirectoryMapper}

const (
	// DefaultStopTimeout bounds the wrapper's own stop of the wrapped process.
	DefaultStopTimeout = 15 * time.Second

	maxIDLength = 64
)

// EnvVar is one name/value pair added to the wrapped process environment.
type EnvVar struct {
	Name  string
	Value string
}

// Download is one artifact fetched before the wrapped process starts.
type Download struct {
	From         string
	To           string
	FailOnError  bool
	Auth         AuthType
	Username     string
	Password     string
	UnsecureAuth bool
}

// Encrypted reports whether From uses a transport-encrypted scheme.
func (d Download) Encrypted() bool {
	u, err := url.Parse(d.From)
	return err == nil && strings.EqualFold(u.Scheme, "https")
}

// Validate checks the download invariants. Every violation is a
// configuration error so it can be reported before any network activity.
func (d Download) Validate() error {
	if d.From == "" {
		return errors.NewConfigurationError(errors.ReasonMissingRequiredField, "download 'from' is required", nil).
			WithContext("to", d.To)
	}
	if d.To == "" {
		return errors.NewConfigurationError(errors.ReasonMissingRequiredField, "download 'to' is required", nil).
			WithContext("from", d.From)
	}

	u, err := url.Parse(d.From)
	if err != nil || !u.IsAbs() || (!strings.EqualFold(u.Scheme, "http") && !strings.EqualFold(u.Scheme, "https")) {
		return errors.NewConfigurationError(errors.ReasonInvalidValue, "download 'from' must be an absolute http or https URL", err).
			WithContext("from", d.From)
	}

	switch d.Auth {
	case AuthNone, AuthSSPI, "":
	case AuthBasic:
		if d.Username == "" || d.Password == "" {
			return errors.NewConfigurationError(errors.ReasonMissingRequiredField, "basic auth requires both user and password", nil).
				WithContext("from", d.From)
		}
		if !d.Encrypted() && !d.UnsecureAuth {
			return errors.NewConfigurationError(errors.ReasonInvalidValue,
				"refusing to send basic credentials over an unencrypted transport without unsecureAuth", nil).
				WithContext("from", d.From)
		}
	default:
		return errors.NewConfigurationError(errors.ReasonInvalidEnumValue, "unknown download auth type: "+string(d.Auth), nil).
			WithContext("from", d.From)
	}
	return nil
}

// RunawayProcessKillerConfig configures orphan cleanup from a prior run.
type RunawayProcessKillerConfig struct {
	Pidfile                  string
	StopTimeout              time.Duration
	StopParentFirst          bool
	CheckEnvironmentVariable bool
}

// DriveMapping maps one network share to a local label.
type DriveMapping struct {
	Enabled bool
	Label   string
	UNCPath string
}

// SharedDirectoryMapperConfig configures network share mapping.
type SharedDirectoryMapperConfig struct {
	Mappings []DriveMapping
}

// ExtensionDeclaration is one entry of the extensions block. Exactly one
// payload is set for a known kind; both are nil for an unknown kind.
type ExtensionDeclaration struct {
	ID        string
	Kind      Kind
	ClassName string
	Enabled   bool

	RunawayProcessKiller  *RunawayProcessKillerConfig
	SharedDirectoryMapper *SharedDirectoryMapperConfig
}

// Known reports whether the declaration names a kind the wrapper supports.
func (e ExtensionDeclaration) Known() bool {
	for _, k := range KnownKinds {
		if e.Kind == k {
			return true
		}
	}
	return false
}

func (e ExtensionDeclaration) clone() ExtensionDeclaration {
	out := e
	if e.RunawayProcessKiller != nil {
		cfg := *e.RunawayProcessKiller
		out.RunawayProcessKiller = &cfg
	}
	if e.SharedDirectoryMapper != nil {
		cfg := SharedDirectoryMapperConfig{Mappings: append([]DriveMapping(nil), e.SharedDirectoryMapper.Mappings...)}
		out.SharedDirectoryMapper = &cfg
	}
	return out
}
