// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Gateway holds the API gateway configuration.
type Gateway struct {
	Port            int
	UpstreamTimeout time.Duration

	CORSAllowOrigins []string
	TrustProxy       bool

	RadioServiceURL    string
	TerminalServiceURL string
	// AllowedServiceHostnames optionally widens the SSRF pin beyond the
	// hosts of the configured service URLs.
	AllowedServiceHostnames []string
	ServiceAuthToken        string

	SessionCookieName string
	SessionSecret     string
	SessionMaxAge     time.Duration
	SessionRedisURL   string

	RedisURL string

	// AllowInsecureTransport permits http:// upstream service URLs.
	AllowInsecureTransport bool

	MaxBodyBytes int64
}

// GatewayFromEnv builds the gateway configuration from the environment.
func GatewayFromEnv() Gateway {
	return Gateway{
		Port:                    ParseInt("PORT", 8080),
		UpstreamTimeout:         ParseDurationMS("UPSTREAM_TIMEOUT_MS", 10*time.Second),
		CORSAllowOrigins:        ParseCSV("CORS_ALLOW_ORIGINS"),
		TrustProxy:              ParseBool("TRUST_PROXY", false),
		RadioServiceURL:         ParseString("RADIO_SERVICE_URL", ""),
		TerminalServiceURL:      ParseString("TERMINAL_SERVICE_URL", ""),
		AllowedServiceHostnames: ParseCSV("ALLOWED_SERVICE_HOSTNAMES"),
		ServiceAuthToken:        ParseString("SERVICE_AUTH_TOKEN", ""),
		SessionCookieName:       ParseString("SESSION_COOKIE_NAME", "wavegate_session"),
		SessionSecret:           ParseString("SESSION_SECRET", ""),
		SessionMaxAge:           time.Duration(ParseInt("SESSION_MAX_AGE_SECONDS", 43200)) * time.Second,
		SessionRedisURL:         ParseString("SESSION_REDIS_URL", ""),
		RedisURL:                ParseString("REDIS_URL", ""),
		AllowInsecureTransport:  ParseBool("ALLOW_INSECURE_TRANSPORT", false),
		MaxBodyBytes:            2048,
	}
}

// Validate checks fatal misconfiguration at startup.
func (c Gateway) Validate() error {
	if c.RadioServiceURL == "" {
		return fmt.Errorf("RADIO_SERVICE_URL is required")
	}
	if c.TerminalServiceURL == "" {
		return fmt.Errorf("TERMINAL_SERVICE_URL is required")
	}
	for _, raw := range []string{c.RadioServiceURL, c.TerminalServiceURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid service URL %q", raw)
		}
		if u.Scheme != "https" && !c.AllowInsecureTransport {
			return fmt.Errorf("service URL %q must use https (set ALLOW_INSECURE_TRANSPORT=true to override)", raw)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("service URL %q has unsupported scheme", raw)
		}
	}
	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE_SECONDS must be positive")
	}
	if !c.AllowInsecureTransport && c.SessionSecret != "" && len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 bytes in strict mode")
	}
	return nil
}

// ServiceHosts returns the set of hosts the proxy may dial, keyed lowercase.
func (c Gateway) ServiceHosts() map[string]struct{} {
	hosts := make(map[string]struct{})
	for _, raw := range []string{c.RadioServiceURL, c.TerminalServiceURL} {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			hosts[strings.ToLower(u.Host)] = struct{}{}
		}
	}
	for _, h := range c.AllowedServiceHostnames {
		hosts[strings.ToLower(h)] = struct{}{}
	}
	return hosts
}
