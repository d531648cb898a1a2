package descriptor

import (
	"encoding/xml"
)

// Document is the raw, unvalidated shape shared by the XML and YAML forms.
// Scalar values are kept as text so that validation can report the
// offending field instead of a decoder error.
type Document struct {
	XMLName          xml.Name            `xml:"service" yaml:"-"`
	ID               string              `xml:"id" yaml:"id"`
	Name             string              `xml:"name,omitempty" yaml:"name,omitempty"`
	Description      string              `xml:"description,omitempty" yaml:"description,omitempty"`
	Executable       string              `xml:"executable" yaml:"executable"`
	Arguments        string              `xml:"arguments,omitempty" yaml:"arguments,omitempty"`
	WorkingDirectory string              `xml:"workingdirectory,omitempty" yaml:"workingdirectory,omitempty"`
	Env              []EnvDocument       `xml:"env" yaml:"env,omitempty"`
	StopTimeout      string              `xml:"stoptimeout,omitempty" yaml:"stoptimeout,omitempty"`
	LogPath          string              `xml:"logpath,omitempty" yaml:"logpath,omitempty"`
	DelayedAutoStart Marker              `xml:"delayedAutoStart" yaml:"delayedautostart,omitempty"`
	Downloads        []DownloadDocument  `xml:"download" yaml:"download,omitempty"`
	Extensions       []ExtensionDocument `xml:"extensions>extension" yaml:"extensions,omitempty"`
}

type EnvDocument struct {
	Name  string `xml:"name,attr" yaml:"name"`
	Value string `xml:"value,attr" yaml:"value"`
}

type DownloadDocument struct {
	From         string `xml:"from,attr" yaml:"from"`
	To           string `xml:"to,attr" yaml:"to"`
	FailOnError  string `xml:"failOnError,attr,omitempty" yaml:"failonerror,omitempty"`
	Auth         string `xml:"auth,attr,omitempty" yaml:"auth,omitempty"`
	User         string `xml:"user,attr,omitempty" yaml:"user,omitempty"`
	Password     string `xml:"password,attr,omitempty" yaml:"password,omitempty"`
	UnsecureAuth string `xml:"unsecureAuth,attr,omitempty" yaml:"unsecureauth,omitempty"`
}

type ExtensionDocument struct {
	Enabled   string `xml:"enabled,attr,omitempty" yaml:"enabled,omitempty"`
	ClassName string `xml:"className,attr,omitempty" yaml:"classname,omitempty"`
	Kind      string `xml:"kind,attr,omitempty" yaml:"kind,omitempty"`
	ID        string `xml:"id,attr" yaml:"id"`

	// RunawayProcessKiller
	Pidfile                       string `xml:"pidfile,omitempty" yaml:"pidfile,omitempty"`
	StopTimeout                   string `xml:"stopTimeout,omitempty" yaml:"stoptimeout,omitempty"`
	StopParentFirst               string `xml:"stopParentFirst,omitempty" yaml:"stopparentfirst,omitempty"`
	CheckWinSWEnvironmentVariable string `xml:"checkWinSWEnvironmentVariable,omitempty" yaml:"checkwinswenvironmentvariable,omitempty"`

	// SharedDirectoryMapper
	Mappings []MapDocument `xml:"mapping>map" yaml:"mapping,omitempty"`
}

type MapDocument struct {
	Enabled string `xml:"enabled,attr,omitempty" yaml:"enabled,omitempty"`
	Label   string `xml:"label,attr" yaml:"label"`
	UNCPath string `xml:"uncpath,attr" yaml:"uncpath"`
}

// Marker is a flag expressed in XML by the mere presence of an empty element.
type Marker bool

func (m *Marker) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	*m = true
	return d.Skip()
}

func (m Marker) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if !m {
		return nil
	}
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}
