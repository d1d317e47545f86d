// SPDX-License-Identifier: MIT

// Package gateway implements the client-facing edge: request sanitizing,
// CORS, routing, response caching and the streaming proxy.
package gateway

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrBadURL is returned for any request URL the sanitizer refuses.
var ErrBadURL = errors.New("gateway: malformed request url")

var schemeRe = regexp.MustCompile(`(?i)^[a-z][a-z0-9+.-]*:`)

// bannedFragments are rejected in a path suffix and every decoding of it.
var bannedFragments = []string{"..", `\`, "//", "%2e%2e", "%2e%2f", "%2f%2e", "%5c", "%2f%2f"}

// ParseRequestURL parses a raw request-target against a synthetic base and
// rejects absolute-form, userinfo, ports and control characters.
func ParseRequestURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, ErrBadURL
	}
	for _, r := range raw {
		if r < 0x20 || r == 0x7f || r == '\\' {
			return nil, ErrBadURL
		}
	}
	if schemeRe.MatchString(raw) {
		return nil, ErrBadURL
	}
	if strings.HasPrefix(raw, "//") {
		return nil, ErrBadURL
	}

	base := &url.URL{Scheme: "http", Host: "localhost"}
	u, err := base.Parse(raw)
	if err != nil {
		return nil, ErrBadURL
	}
	if u.Hostname() != "localhost" || u.Port() != "" || u.User != nil {
		return nil, ErrBadURL
	}
	return u, nil
}

// SanitizePathSuffix validates the path remainder behind a route prefix.
// The suffix is percent-decoded up to three times until stable; the raw
// form and every decoding must be free of traversal material. The result
// has collapsed slashes and exactly one leading slash.
func SanitizePathSuffix(rawSuffix string) (string, error) {
	forms := []string{rawSuffix}
	current := rawSuffix
	for i := 0; i < 3; i++ {
		decoded, err := url.PathUnescape(current)
		if err != nil {
			return "", ErrBadURL
		}
		if decoded == current {
			break
		}
		forms = append(forms, decoded)
		current = decoded
	}

	for _, form := range forms {
		lower := strings.ToLower(form)
		for _, frag := range bannedFragments {
			if strings.Contains(lower, frag) {
				return "", ErrBadURL
			}
		}
		for _, r := range form {
			if r < 0x20 || r == 0x7f {
				return "", ErrBadURL
			}
		}
	}

	clean := rawSuffix
	if !strings.HasPrefix(clean, "/") {
		clean = "/" + clean
	}
	return clean, nil
}
