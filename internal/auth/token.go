// SPDX-License-Identifier: MIT

package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// HeaderToken is the fallback header the CRUD app sends when a proxy strips
// Authorization.
const HeaderToken = "X-Larder-Token"

// TokenFromRequest pulls the service token off a request, in order of trust:
// the Authorization bearer scheme, the X-Larder-Token header, and, when
// allowQuery is set, a ?token= parameter. The query form exists for the
// websocket handshake; browsers cannot attach headers to a dial.
func TokenFromRequest(r *http.Request, allowQuery bool) string {
	if scheme, rest, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && scheme == "Bearer" {
		return strings.TrimSpace(rest)
	}
	if t := r.Header.Get(HeaderToken); t != "" {
		return t
	}
	if allowQuery {
		return r.URL.Query().Get("token")
	}
	return ""
}

// TokenMatches compares tokens in constant time. Empty on either side
// never authorizes: a daemon with no token configured accepts nothing
// rather than everything.
func TokenMatches(got, expected string) bool {
	if got == "" || strings.TrimSpace(expected) == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}
