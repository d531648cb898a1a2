// Package descriptor turns a service configuration document into an
// immutable ServiceDescriptor.
package descriptor

import (
	"time"
)

// ServiceDescriptor is the parsed configuration of one wrapped service.
// It is never modified after construction; accessors return copies.
type ServiceDescriptor struct {
	id               string
	name             string
	description      string
	executable       string
	arguments        string
	workingDirectory string
	environment      []EnvVar
	stopTimeout      time.Duration
	logPath          string
	delayedAutoStart bool
	downloads        []Download
	extensions       []ExtensionDeclaration
	baseDir          string
}

func (d *ServiceDescriptor) ID() string               { return d.id }
func (d *ServiceDescriptor) Name() string             { return d.name }
func (d *ServiceDescriptor) Description() string      { return d.description }
func (d *ServiceDescriptor) Executable() string       { return d.executable }
func (d *ServiceDescriptor) WorkingDirectory() string { return d.workingDirectory }
func (d *ServiceDescriptor) StopTimeout() time.Duration {
	return d.stopTimeout
}
func (d *ServiceDescriptor) LogPath() string        { return d.logPath }
func (d *ServiceDescriptor) DelayedAutoStart() bool { return d.delayedAutoStart }
func (d *ServiceDescriptor) BaseDir() string        { return d.baseDir }

// RawArguments returns the argument string as written in the document.
func (d *ServiceDescriptor) RawArguments() string { return d.arguments }

// Arguments returns the argument string split into words.
func (d *ServiceDescriptor) Arguments() []string {
	return SplitArguments(d.arguments)
}

func (d *ServiceDescriptor) Environment() []EnvVar {
	return append([]EnvVar(nil), d.environment...)
}

func (d *ServiceDescriptor) Downloads() []Download {
	return append([]Download(nil), d.downloads...)
}

func (d *ServiceDescriptor) Extensions() []ExtensionDeclaration {
	out := make([]ExtensionDeclaration, len(d.extensions))
	for i, e := range d.extensions {
		out[i] = e.clone()
	}
	return out
}

// SplitArguments splits a command line into words. Whitespace separates
// words, double quotes group, and a backslash escapes only a double quote so
// Windows paths survive unchanged.
func SplitArguments(s string) []string {
	var (
		args    []string
		current []rune
		inWord  bool
		quoted  bool
	)
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\\' && i+1 < len(runes) && runes[i+1] == '"':
			current = append(current, '"')
			inWord = true
			i++
		case r == '"':
			quoted = !quoted
			inWord = true
		case (r == ' ' || r == '\t' || r == '\n' || r == '\r') && !quoted:
			if inWord {
				args = append(args, string(current))
				current = current[:0]
				inWord = false
			}
		default:
			current = append(current, r)
			inWord = true
		}
	}
	if inWord {
		args = append(args, string(current))
	}
	return args
}
