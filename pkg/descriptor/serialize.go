package descriptor

import (
	"bytes"
	"encoding/xml"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-service-wrapper/pkg/errors"
)

// ToDocument converts a descriptor back into its raw document shape.
func (d *ServiceDescriptor) ToDocument() *Document {
	doc := &Document{
		ID:               d.id,
		Name:             d.name,
		Description:      d.description,
		Executable:       d.executable,
		Arguments:        d.arguments,
		WorkingDirectory: d.workingDirectory,
		LogPath:          d.logPath,
		DelayedAutoStart: Marker(d.delayedAutoStart),
		StopTimeout:      formatMillis(d.stopTimeout.Milliseconds()),
	}

	for _, e := range d.environment {
		doc.Env = append(doc.Env, EnvDocument{Name: e.Name, Value: e.Value})
	}

	for _, dl := range d.downloads {
		raw := DownloadDocument{
			From:        dl.From,
			To:          dl.To,
			FailOnError: strconv.FormatBool(dl.FailOnError),
		}
		if dl.Auth != AuthNone && dl.Auth != "" {
			raw.Auth = string(dl.Auth)
			if dl.Auth == AuthBasic {
				raw.User = dl.Username
				raw.Password = dl.Password
			}
			if dl.UnsecureAuth {
				raw.UnsecureAuth = "true"
			}
		}
		doc.Downloads = append(doc.Downloads, raw)
	}

	for _, e := range d.extensions {
		raw := ExtensionDocument{
			Enabled:   strconv.FormatBool(e.Enabled),
			ClassName: e.ClassName,
			Kind:      string(e.Kind),
			ID:        e.ID,
		}
		if cfg := e.RunawayProcessKiller; cfg != nil {
			raw.Pidfile = cfg.Pidfile
			raw.StopTimeout = formatMillis(cfg.StopTimeout.Milliseconds())
			raw.StopParentFirst = strconv.FormatBool(cfg.StopParentFirst)
			raw.CheckWinSWEnvironmentVariable = strconv.FormatBool(cfg.CheckEnvironmentVariable)
		}
		if cfg := e.SharedDirectoryMapper; cfg != nil {
			for _, m := range cfg.Mappings {
				raw.Mappings = append(raw.Mappings, MapDocument{
					Enabled: strconv.FormatBool(m.Enabled),
					Label:   m.Label,
					UNCPath: m.UNCPath,
				})
			}
		}
		doc.Extensions = append(doc.Extensions, raw)
	}

	return doc
}

// Serialize renders the descriptor in the given format. Parsing the output
// with the same base directory yields an equal descriptor.
func Serialize(d *ServiceDescriptor, format Format) ([]byte, error) {
	doc := d.ToDocument()
	switch format {
	case FormatXML:
		var buf bytes.Buffer
		buf.WriteString(xml.Header)
		encoder := xml.NewEncoder(&buf)
		encoder.Indent("", "  ")
		if err := encoder.Encode(doc); err != nil {
			return nil, errors.NewInternalError("failed to encode XML descriptor", err)
		}
		buf.WriteByte('\n')
		return buf.Bytes(), nil
	case FormatYAML:
		data, err := yaml.Marshal(doc)
		if err != nil {
			return nil, errors.NewInternalError("failed to encode YAML descriptor", err)
		}
		return data, nil
	default:
		return nil, errors.NewConfigurationError(errors.ReasonInvalidEnumValue, "unknown descriptor format: "+string(format), nil)
	}
}

func formatMillis(ms int64) string {
	return strconv.FormatInt(ms, 10)
}
