//go:build !windows

package download

import (
	"net/http"

	"github.com/core-tools/hsu-service-wrapper/pkg/errors"
)

// doNegotiate needs the Windows security support provider.
func doNegotiate(client *http.Client, req *http.Request) (*http.Response, error) {
	return nil, errors.NewDownloadError("sspi authentication is only available on Windows", nil).
		WithContext("from", req.URL.String())
}
