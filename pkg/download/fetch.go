package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/core-tools/hsu-service-wrapper/pkg/descriptor"
	"github.com/core-tools/hsu-service-wrapper/pkg/errors"
	"github.com/core-tools/hsu-service-wrapper/pkg/logging"
)

// HTTPFetcher transfers entries over HTTP(S).
type HTTPFetcher struct {
	client *http.Client
	logger logging.Logger
}

// NewHTTPFetcher creates a fetcher. A nil client uses a client without an
// overall timeout; the caller's context bounds each transfer.
func NewHTTPFetcher(client *http.Client, logger logging.Logger) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPFetcher{client: client, logger: logger}
}

// Fetch downloads d.From into d.To. An existing destination is sent as
// If-Modified-Since and left untouched on 304. The body is written to a
// temporary file in the destination directory and renamed over d.To only
// once complete.
func (f *HTTPFetcher) Fetch(ctx context.Context, d descriptor.Download) (Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.From, nil)
	if err != nil {
		return OutcomeFailed, errors.NewValidationError("failed to build request", err).WithContext("from", d.From)
	}

	if info, err := os.Stat(d.To); err == nil && info.Mode().IsRegular() {
		req.Header.Set("If-Modified-Since", info.ModTime().UTC().Format(http.TimeFormat))
	}

	resp, err := f.do(req, d)
	if err != nil {
		return OutcomeFailed, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		f.logger.Debugf("Destination is up to date, to: %s", d.To)
		return OutcomeNotModified, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return OutcomeFailed, errors.NewNetworkError(fmt.Sprintf("unexpected status %d", resp.StatusCode), nil).
			WithContext("from", d.From).WithContext("status", resp.StatusCode)
	}

	if err := writeAtomically(d.To, resp.Body); err != nil {
		return OutcomeFailed, err
	}

	if lastModified, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		if err := os.Chtimes(d.To, time.Now(), lastModified); err != nil {
			f.logger.Debugf("Failed to set modification time, to: %s, error: %v", d.To, err)
		}
	}
	return OutcomeDownloaded, nil
}

func (f *HTTPFetcher) do(req *http.Request, d descriptor.Download) (*http.Response, error) {
	var (
		resp *http.Response
		err  error
	)
	switch d.Auth {
	case descriptor.AuthBasic:
		req.SetBasicAuth(d.Username, d.Password)
		resp, err = f.client.Do(req)
	case descriptor.AuthSSPI:
		resp, err = doNegotiate(f.client, req)
	default:
		resp, err = f.client.Do(req)
	}
	if err != nil {
		if errors.IsDownloadError(err) {
			return nil, err
		}
		return nil, errors.NewNetworkError("request failed", err).WithContext("from", d.From)
	}
	return resp, nil
}

// writeAtomically streams body into a sibling temporary file, syncs it and
// renames it over path. The temporary file is removed on any failure.
func writeAtomically(path string, body io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewIOError("failed to create destination directory", err).WithContext("directory", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.NewIOError("failed to create temporary file", err).WithContext("to", path)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := io.Copy(tmp, body); err != nil {
		cleanup()
		return errors.NewNetworkError("transfer interrupted", err).WithContext("to", path)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return errors.NewIOError("failed to sync temporary file", err).WithContext("to", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.NewIOError("failed to close temporary file", err).WithContext("to", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.NewIOError("failed to move download into place", err).WithContext("to", path)
	}
	return nil
}
