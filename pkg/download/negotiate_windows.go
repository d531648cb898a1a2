//go:build windows

package download

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/alexbrainman/sspi/negotiate"

	"github.com/core-tools/hsu-service-wrapper/pkg/errors"
)

const maxNegotiateLegs = 5

// doNegotiate performs an SPNEGO handshake with the credentials of the user
// running the wrapper.
func doNegotiate(client *http.Client, req *http.Request) (*http.Response, error) {
	cred, err := negotiate.AcquireCurrentUserCredentials()
	if err != nil {
		return nil, errors.NewDownloadError("failed to acquire current user credentials", err)
	}
	defer cred.Release()

	secctx, token, err := negotiate.NewClientContext(cred, "HTTP/"+req.URL.Hostname())
	if err != nil {
		return nil, errors.NewDownloadError("failed to create negotiate context", err)
	}
	defer secctx.Release()

	for leg := 0; ; leg++ {
		attempt := req.Clone(req.Context())
		attempt.Header.Set("Authorization", "Negotiate "+base64.StdEncoding.EncodeToString(token))

		resp, err := client.Do(attempt)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized || leg >= maxNegotiateLegs {
			return resp, nil
		}

		challenge, ok := negotiateChallenge(resp.Header)
		if !ok {
			return resp, nil
		}
		resp.Body.Close()

		completed, next, err := secctx.Update(challenge)
		if err != nil {
			return nil, errors.NewDownloadError("negotiate handshake failed", err)
		}
		if completed && len(next) == 0 {
			return nil, errors.NewDownloadError("server rejected negotiated credentials", nil)
		}
		token = next
	}
}

func negotiateChallenge(h http.Header) ([]byte, bool) {
	for _, v := range h.Values("WWW-Authenticate") {
		if strings.HasPrefix(v, "Negotiate ") {
			data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(strings.TrimPrefix(v, "Negotiate ")))
			if err != nil {
				return nil, false
			}
			return data, true
		}
	}
	return nil, false
}
