// SPDX-License-Identifier: MIT

// Package radio implements the station catalog service: directory
// ingestion, stream validation, querying, HLS proxying and favorites.
package radio

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// SchemaVersion is the current StationsPayload schema. Older persisted
// payloads are rewritten on first read.
const SchemaVersion = 2

// Coordinates is an optional station location.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Station is the normalized catalog record. StreamURL is always https
// and IsOnline is always true for persisted records.
type Station struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	StreamURL     string       `json:"streamUrl"`
	Homepage      string       `json:"homepage,omitempty"`
	Favicon       string       `json:"favicon,omitempty"`
	Country       string       `json:"country,omitempty"`
	CountryCode   string       `json:"countryCode,omitempty"`
	State         string       `json:"state,omitempty"`
	Languages     []string     `json:"languages"`
	Tags          []string     `json:"tags"`
	Coordinates   *Coordinates `json:"coordinates,omitempty"`
	Bitrate       int          `json:"bitrate,omitempty"`
	Codec         string       `json:"codec,omitempty"`
	HLS           bool         `json:"hls"`
	IsOnline      bool         `json:"isOnline"`
	LastCheckedAt string       `json:"lastCheckedAt,omitempty"`
	LastChangedAt string       `json:"lastChangedAt,omitempty"`
	ClickCount    int          `json:"clickCount"`
	ClickTrend    int          `json:"clickTrend"`
	Votes         int          `json:"votes"`
}

// StationView is the client-facing projection: server-only fields are
// dropped and tags are capped.
type StationView struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	StreamURL     string   `json:"streamUrl"`
	Homepage      string   `json:"homepage,omitempty"`
	Favicon       string   `json:"favicon,omitempty"`
	Country       string   `json:"country,omitempty"`
	CountryCode   string   `json:"countryCode,omitempty"`
	State         string   `json:"state,omitempty"`
	Languages     []string `json:"languages"`
	Tags          []string `json:"tags"`
	Bitrate       int      `json:"bitrate,omitempty"`
	Codec         string   `json:"codec,omitempty"`
	HLS           bool     `json:"hls"`
	LastChangedAt string   `json:"lastChangedAt,omitempty"`
	ClickCount    int      `json:"clickCount"`
}

const maxProjectedTags = 12

// Project builds the client-facing view of a station.
func Project(s Station) StationView {
	tags := s.Tags
	if len(tags) > maxProjectedTags {
		tags = tags[:maxProjectedTags]
	}
	return StationView{
		ID:            s.ID,
		Name:          s.Name,
		StreamURL:     s.StreamURL,
		Homepage:      s.Homepage,
		Favicon:       s.Favicon,
		Country:       s.Country,
		CountryCode:   s.CountryCode,
		State:         s.State,
		Languages:     s.Languages,
		Tags:          tags,
		Bitrate:       s.Bitrate,
		Codec:         s.Codec,
		HLS:           s.HLS,
		LastChangedAt: s.LastChangedAt,
		ClickCount:    s.ClickCount,
	}
}

// StationsPayload is the persisted unit of catalog state.
type StationsPayload struct {
	SchemaVersion int       `json:"schemaVersion"`
	UpdatedAt     string    `json:"updatedAt"`
	Source        string    `json:"source"`
	Requests      []string  `json:"requests"`
	Total         int       `json:"total"`
	Fingerprint   string    `json:"fingerprint"`
	Stations      []Station `json:"stations"`
}

// Fingerprint hashes the ordered stations list: SHA-256 over the JSON
// serialization of each station, newline-separated. Equal fingerprints
// imply byte-equal payload content.
func Fingerprint(stations []Station) string {
	h := sha256.New()
	for i, s := range stations {
		if i > 0 {
			h.Write([]byte("\n"))
		}
		data, err := json.Marshal(s)
		if err != nil {
			continue
		}
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// blockedStreamHosts are domains whose streams are never served. Matched
// by exact host or subdomain suffix.
var blockedStreamHosts = []string{
	"mediaiptv.com",
	"reklamtumturkiyeninsesi.com",
}

// HostBlocked reports whether host is on the stream blocklist.
func HostBlocked(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, blocked := range blockedStreamHosts {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}

// flexInt tolerates numeric fields that arrive as strings or floats.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		*f = flexInt(int(v))
		return nil
	}
	*f = 0
	return nil
}

// flexFloat tolerates floats that arrive as strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		*f = flexFloat(v)
		return nil
	}
	*f = 0
	return nil
}

// directoryStation is the loose upstream row. Numeric fields arrive as
// numbers or strings depending on the mirror.
type directoryStation struct {
	StationUUID   string    `json:"stationuuid"`
	Name          string    `json:"name"`
	URL           string    `json:"url"`
	URLResolved   string    `json:"url_resolved"`
	Homepage      string    `json:"homepage"`
	Favicon       string    `json:"favicon"`
	Country       string    `json:"country"`
	CountryCode   string    `json:"countrycode"`
	State         string    `json:"state"`
	Language      string    `json:"language"`
	Tags          string    `json:"tags"`
	GeoLat        *flexFloat `json:"geo_lat"`
	GeoLong       *flexFloat `json:"geo_long"`
	Bitrate       flexInt   `json:"bitrate"`
	Codec         string    `json:"codec"`
	HLS           flexInt   `json:"hls"`
	LastCheckOK   flexInt   `json:"lastcheckok"`
	LastCheckTime string    `json:"lastchecktime_iso8601"`
	LastChange    string    `json:"lastchangetime_iso8601"`
	ClickCount    flexInt   `json:"clickcount"`
	ClickTrend    flexInt   `json:"clicktrend"`
	Votes         flexInt   `json:"votes"`
}

// Normalize converts directory rows into catalog stations. Rows without a
// usable https stream, with a blocklisted host, or not passing the
// upstream check are dropped. http URLs are upgraded in place.
func Normalize(rows []directoryStation) []Station {
	out := make([]Station, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if row.StationUUID == "" || row.Name == "" {
			continue
		}
		if _, dup := seen[row.StationUUID]; dup {
			continue
		}
		if row.LastCheckOK != 1 {
			continue
		}

		streamURL := row.URLResolved
		if streamURL == "" {
			streamURL = row.URL
		}
		u, err := url.Parse(strings.TrimSpace(streamURL))
		if err != nil || u.Host == "" {
			continue
		}
		switch u.Scheme {
		case "https":
		case "http":
			u.Scheme = "https"
		default:
			continue
		}
		if HostBlocked(u.Hostname()) {
			continue
		}

		s := Station{
			ID:            row.StationUUID,
			Name:          strings.TrimSpace(row.Name),
			StreamURL:     u.String(),
			Homepage:      row.Homepage,
			Favicon:       row.Favicon,
			Country:       row.Country,
			CountryCode:   strings.ToUpper(row.CountryCode),
			State:         row.State,
			Languages:     splitList(row.Language),
			Tags:          splitList(row.Tags),
			Bitrate:       int(row.Bitrate),
			Codec:         row.Codec,
			HLS:           row.HLS == 1,
			IsOnline:      true,
			LastCheckedAt: row.LastCheckTime,
			LastChangedAt: row.LastChange,
			ClickCount:    int(row.ClickCount),
			ClickTrend:    int(row.ClickTrend),
			Votes:         int(row.Votes),
		}
		if row.GeoLat != nil && row.GeoLong != nil {
			s.Coordinates = &Coordinates{Lat: float64(*row.GeoLat), Lon: float64(*row.GeoLong)}
		}
		seen[row.StationUUID] = struct{}{}
		out = append(out, s)
	}
	return out
}

// splitList splits a comma-separated field, trims entries and drops
// duplicates case-insensitively while preserving the original case.
func splitList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		key := strings.ToLower(p)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}
