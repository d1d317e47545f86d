// SPDX-License-Identifier: MIT

package gateway

import (
	"fmt"
	"net/url"
	"strings"
)

// Target is one configured upstream service.
type Target struct {
	Name string
	Base *url.URL
}

// Router maps the two fixed path prefixes onto upstream targets and pins
// resolved URLs to the configured hosts.
type Router struct {
	targets      map[string]*Target // prefix (without slash) -> target
	allowedHosts map[string]struct{}
}

// NewRouter parses the service base URLs. extraHosts widens the SSRF pin.
func NewRouter(radioURL, terminalURL string, extraHosts []string) (*Router, error) {
	r := &Router{
		targets:      make(map[string]*Target),
		allowedHosts: make(map[string]struct{}),
	}
	for name, raw := range map[string]string{"radio": radioURL, "terminal": terminalURL} {
		base, err := url.Parse(raw)
		if err != nil || base.Host == "" {
			return nil, fmt.Errorf("invalid %s service url %q", name, raw)
		}
		if base.Scheme != "http" && base.Scheme != "https" {
			return nil, fmt.Errorf("%s service url %q: unsupported scheme", name, raw)
		}
		r.targets[name] = &Target{Name: name, Base: base}
		r.allowedHosts[strings.ToLower(base.Host)] = struct{}{}
	}
	for _, h := range extraHosts {
		r.allowedHosts[strings.ToLower(h)] = struct{}{}
	}
	return r, nil
}

// Route splits the sanitized request path into service and suffix.
// Only /radio and /terminal are routable.
func (r *Router) Route(path string) (*Target, string, bool) {
	trimmed := strings.TrimPrefix(path, "/")
	name, rest, _ := strings.Cut(trimmed, "/")
	t, ok := r.targets[name]
	if !ok {
		return nil, "", false
	}
	return t, "/" + rest, true
}

// Resolve builds the full upstream URL from the target origin, sanitized
// suffix and original query, and enforces the SSRF pin.
func (r *Router) Resolve(t *Target, suffix, rawQuery string) (*url.URL, error) {
	u := &url.URL{
		Scheme:   t.Base.Scheme,
		Host:     t.Base.Host,
		Path:     suffix,
		RawQuery: rawQuery,
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("resolved url scheme %q not allowed", u.Scheme)
	}
	if _, ok := r.allowedHosts[strings.ToLower(u.Host)]; !ok {
		return nil, fmt.Errorf("resolved host %q not pinned to a configured service", u.Host)
	}
	return u, nil
}

// Cacheable reports whether a request qualifies for the response cache:
// GET on the radio stations read surface.
func Cacheable(method string, t *Target, suffix string) bool {
	return method == "GET" && t != nil && t.Name == "radio" && strings.HasPrefix(suffix, "/stations")
}

// CacheKey builds "service:path?sortedQuery". url.Values.Encode sorts by
// key and percent-encodes, which keeps keys canonical.
func CacheKey(service, path, rawQuery string) string {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return service + ":" + path
	}
	encoded := values.Encode()
	if encoded == "" {
		return service + ":" + path
	}
	return service + ":" + path + "?" + encoded
}
