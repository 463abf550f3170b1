// SPDX-License-Identifier: MIT

// Package netguard normalizes and polices outbound URLs before the import
// workers fetch them. Normalization is also what makes URL-keyed job
// identities deterministic: two spellings of the same address must admit as
// one job.
package netguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ErrBlockedAddress indicates the URL resolves to an address the fetch
// policy refuses (loopback, private, link-local).
var ErrBlockedAddress = errors.New("netguard: address blocked by fetch policy")

// Policy defines the outbound fetch policy.
type Policy struct {
	// AllowPrivate permits loopback and private-range targets. Meant for
	// development and tests; production imports fetch public hosts only.
	AllowPrivate bool
}

// permits reports whether the policy tolerates fetching from ip. With
// AllowPrivate unset, only public unicast addresses pass.
func (p Policy) permits(ip net.IP) bool {
	if ip == nil || ip.IsUnspecified() {
		return false
	}
	if p.AllowPrivate {
		return true
	}
	local := ip.IsLoopback() || ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast()
	return !local
}

// schemePorts doubles as the scheme allowlist and the default-port table
// for elision.
var schemePorts = map[string]string{"http": "80", "https": "443"}

// NormalizeHost returns the canonical comparison form of a bare host:
// lowercase, IDNA ASCII, trailing dot removed. IP literals come back in
// their canonical textual form, IPv6 without brackets.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSuffix(strings.TrimSpace(raw), ".")
	if inner, ok := strings.CutPrefix(host, "["); ok {
		if v6, ok := strings.CutSuffix(inner, "]"); ok {
			host = v6
		}
	}
	if host == "" {
		return "", errors.New("empty host")
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}
	if reason := bareHostProblem(host); reason != "" {
		return "", fmt.Errorf("%q is not a bare host: %s", raw, reason)
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("host %q: %w", raw, err)
	}
	return strings.ToLower(ascii), nil
}

// bareHostProblem names the first reason host cannot be a plain hostname.
// IP literals were handled before this point, so a lone colon means a port.
func bareHostProblem(host string) string {
	switch {
	case strings.Contains(host, "://"):
		return "scheme present"
	case strings.ContainsRune(host, '/'):
		return "path present"
	case strings.ContainsRune(host, '@'):
		return "userinfo present"
	case strings.ContainsRune(host, '%'):
		return "zone present"
	case strings.ContainsRune(host, ':'):
		return "port present"
	}
	return ""
}

// NormalizeURL canonicalizes an import URL: lowercase scheme and host
// (IDNA ASCII form), default ports elided, empty path rewritten to "/",
// fragment dropped. The result is the identity key for URL-keyed jobs.
func NormalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("url empty")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.User != nil {
		return "", errors.New("userinfo not allowed")
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		return "", errors.New("missing url scheme")
	}
	if _, ok := schemePorts[scheme]; !ok {
		return "", fmt.Errorf("unsupported url scheme %q", scheme)
	}

	host, err := NormalizeHost(u.Hostname())
	if err != nil {
		return "", err
	}
	port := u.Port()
	if port == schemePorts[scheme] {
		port = ""
	}

	u.Scheme = scheme
	u.Host = hostport(host, port)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// ValidateURL normalizes the URL and verifies every address it resolves to
// against the policy. The returned string is the normalized URL.
func ValidateURL(ctx context.Context, raw string, policy Policy) (string, error) {
	normalized, err := NormalizeURL(raw)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return "", fmt.Errorf("reparse normalized url: %w", err)
	}

	ips, err := hostAddrs(ctx, u.Hostname())
	if err != nil {
		return "", err
	}
	for _, ip := range ips {
		if !policy.permits(ip) {
			return "", fmt.Errorf("%w: %s resolves to %s", ErrBlockedAddress, u.Hostname(), ip)
		}
	}
	return normalized, nil
}

func hostAddrs(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("lookup %s: empty answer", host)
	}
	return ips, nil
}

// hostport renders a normalized host with an optional port, re-bracketing
// IPv6 literals.
func hostport(host, port string) string {
	if port != "" {
		return net.JoinHostPort(host, port)
	}
	if strings.ContainsRune(host, ':') {
		return "[" + host + "]"
	}
	return host
}
