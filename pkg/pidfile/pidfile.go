// Package pidfile reads and writes the persisted identity of a wrapped
// process.
//
// Format, version 1:
//
//	<pid>\n
//	start:<token>\n
//
// The token is the platform start time reported by processstate.Inspect.
// Readers ignore surrounding whitespace, blank lines and unknown trailing
// lines. A file with only a pid line is accepted and yields an empty token;
// such an identity never matches a live process.
package pidfile

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-service-wrapper/pkg/errors"
	"github.com/core-tools/hsu-service-wrapper/pkg/processstate"
)

const startPrefix = "start:"

// Format encodes an identity in the version 1 layout.
func Format(id processstate.Identity) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%d\n", id.PID)
	if id.StartToken != "" {
		fmt.Fprintf(&b, "%s%s\n", startPrefix, id.StartToken)
	}
	return b.Bytes()
}

// Parse decodes pidfile content.
func Parse(data []byte) (processstate.Identity, error) {
	var id processstate.Identity

	scanner := bufio.NewScanner(bytes.NewReader(data))
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			pid, err := strconv.Atoi(line)
			if err != nil || pid <= 0 {
				return processstate.Identity{}, errors.NewValidationError("invalid pid in pidfile", err).
					WithContext("content", line)
			}
			id.PID = pid
			first = false
			continue
		}
		if strings.HasPrefix(line, startPrefix) && id.StartToken == "" {
			id.StartToken = strings.TrimSpace(strings.TrimPrefix(line, startPrefix))
		}
	}
	if err := scanner.Err(); err != nil {
		return processstate.Identity{}, errors.NewIOError("failed to scan pidfile", err)
	}
	if first {
		return processstate.Identity{}, errors.NewValidationError("pidfile is empty", nil)
	}
	return id, nil
}

// Read loads the identity stored at path. A missing file is reported as a
// not found error.
func Read(path string) (processstate.Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return processstate.Identity{}, errors.NewNotFoundError("pidfile does not exist", err).
				WithContext("pidfile", path)
		}
		return processstate.Identity{}, errors.NewIOError("failed to read pidfile", err).
			WithContext("pidfile", path)
	}

	id, err := Parse(data)
	if err != nil {
		return processstate.Identity{}, errors.NewValidationError("malformed pidfile", err).
			WithContext("pidfile", path)
	}
	return id, nil
}

// Write stores id at path. The file is written next to its destination and
// renamed into place so readers never observe a partial identity.
func Write(path string, id processstate.Identity) error {
	if id.PID <= 0 {
		return errors.NewValidationError("cannot write pidfile for invalid pid", nil).WithContext("pid", id.PID)
	}
	if err := ValidateDirectory(path); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.NewIOError("failed to create pidfile", err).WithContext("pidfile", path)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(Format(id)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.NewIOError("failed to write pidfile", err).WithContext("pidfile", path).WithContext("pid", id.PID)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.NewIOError("failed to close pidfile", err).WithContext("pidfile", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.NewIOError("failed to move pidfile into place", err).WithContext("pidfile", path)
	}
	return nil
}

// Remove deletes the pidfile. A file that is already gone is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove pidfile", err).WithContext("pidfile", path)
	}
	return nil
}

// ValidateDirectory makes sure the directory of pidFilePath exists and is
// a directory, creating it if needed.
func ValidateDirectory(pidFilePath string) error {
	dir := filepath.Dir(pidFilePath)

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.NewIOError("failed to access pidfile directory", err).WithContext("directory", dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewIOError("failed to create pidfile directory", err).WithContext("directory", dir)
		}
		return nil
	}
	if !info.IsDir() {
		return errors.NewValidationError("pidfile parent is not a directory", nil).WithContext("path", dir)
	}
	return nil
}
