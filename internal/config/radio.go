// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"time"
)

// Radio holds the radio service configuration.
type Radio struct {
	Port int

	CORSAllowOrigins []string

	RedisURL        string
	StationsDBPath  string
	StationsBlobDir string

	StationsCacheKey string
	StationsCacheTTL time.Duration
	RefreshToken     string

	DirectoryBaseURL string
	DirectoryLimit   int

	ValidationEnabled     bool
	ValidationTimeout     time.Duration
	ValidationConcurrency int

	StreamProxyTimeout time.Duration

	DefaultPageSize int
	MaxPageSize     int

	AllowInsecureTransport bool
}

// RadioFromEnv builds the radio service configuration from the environment.
func RadioFromEnv() Radio {
	return Radio{
		Port:                   ParseInt("PORT", 8081),
		CORSAllowOrigins:       ParseCSV("CORS_ALLOW_ORIGINS"),
		RedisURL:               ParseString("REDIS_URL", ""),
		StationsDBPath:         ParseString("STATIONS_DB_PATH", ""),
		StationsBlobDir:        ParseString("STATIONS_BLOB_DIR", ""),
		StationsCacheKey:       ParseString("STATIONS_CACHE_KEY", "radio:stations:v2"),
		StationsCacheTTL:       time.Duration(ParseInt("STATIONS_CACHE_TTL", 21600)) * time.Second,
		RefreshToken:           ParseString("STATIONS_REFRESH_TOKEN", ""),
		DirectoryBaseURL:       ParseString("RADIO_BROWSER_URL", "https://de1.api.radio-browser.info"),
		DirectoryLimit:         ParseInt("RADIO_BROWSER_LIMIT", 0),
		ValidationEnabled:      ParseBool("STREAM_VALIDATION_ENABLED", true),
		ValidationTimeout:      ParseDurationMS("STREAM_VALIDATION_TIMEOUT_MS", 8*time.Second),
		ValidationConcurrency:  ParseInt("STREAM_VALIDATION_CONCURRENCY", 16),
		StreamProxyTimeout:     ParseDurationMS("STREAM_PROXY_TIMEOUT_MS", 12*time.Second),
		DefaultPageSize:        ParseInt("API_DEFAULT_PAGE_SIZE", 60),
		MaxPageSize:            ParseInt("API_MAX_PAGE_SIZE", 500),
		AllowInsecureTransport: ParseBool("ALLOW_INSECURE_TRANSPORT", false),
	}
}

// Validate checks fatal misconfiguration at startup.
func (c Radio) Validate() error {
	if c.RefreshToken == "" && !c.AllowInsecureTransport {
		return fmt.Errorf("STATIONS_REFRESH_TOKEN is required in strict mode")
	}
	if c.ValidationConcurrency <= 0 {
		return fmt.Errorf("STREAM_VALIDATION_CONCURRENCY must be positive")
	}
	if c.MaxPageSize <= 0 || c.DefaultPageSize <= 0 {
		return fmt.Errorf("page sizes must be positive")
	}
	if c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("API_DEFAULT_PAGE_SIZE exceeds API_MAX_PAGE_SIZE")
	}
	return nil
}
