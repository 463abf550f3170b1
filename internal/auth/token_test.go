// SPDX-License-Identifier: MIT

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenFromRequestPrefersBearer(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://larder.local/ws?token=query", nil)
	r.Header.Set("Authorization", "Bearer bearer-token ")
	r.Header.Set(HeaderToken, "header-token")

	assert.Equal(t, "bearer-token", TokenFromRequest(r, true))
}

func TestTokenFromRequestFallsBackToHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://larder.local/api/events", nil)
	r.Header.Set(HeaderToken, "header-token")

	assert.Equal(t, "header-token", TokenFromRequest(r, false))
}

func TestTokenFromRequestIgnoresOtherSchemes(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://larder.local/api/events", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	r.Header.Set(HeaderToken, "header-token")

	assert.Equal(t, "header-token", TokenFromRequest(r, false))
}

func TestTokenFromRequestQueryOnlyWhenAllowed(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://larder.local/ws?token=query-token", nil)

	assert.Empty(t, TokenFromRequest(r, false))
	assert.Equal(t, "query-token", TokenFromRequest(r, true))
}

func TestTokenMatches(t *testing.T) {
	assert.True(t, TokenMatches("secret", "secret"))
	assert.False(t, TokenMatches("secret", "other"))
	assert.False(t, TokenMatches("", "secret"))
	assert.False(t, TokenMatches("secret", ""))
	assert.False(t, TokenMatches("secret", "   "))
}
